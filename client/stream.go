package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/songstream/catalog"
)

// ErrNotPlayResponse is returned by ParsePlay for anything but a play success.
var ErrNotPlayResponse = errors.New("not a play response")

// PlayInfo is a decoded play response.
type PlayInfo struct {
	Format catalog.AudioFormat
	Port   int
}

// ParsePlay decodes "ok <encoding> <rate> <bits> <channels> <frame size>
// <frame rate> <big endian> <port>".
//
// Returns:
//   - The audio format and data port
//   - ErrNotPlayResponse wrapping the response text when resp is an error
func ParsePlay(resp string) (PlayInfo, error) {
	fields := strings.Fields(resp)
	if len(fields) != 9 || fields[0] != "ok" {
		return PlayInfo{}, fmt.Errorf("%w: %s", ErrNotPlayResponse, resp)
	}

	var (
		info PlayInfo
		errs []error
	)

	parseFloat := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		return v
	}
	parseInt := func(s string) int {
		v, err := strconv.Atoi(s)
		errs = append(errs, err)
		return v
	}

	info.Format.Encoding = fields[1]
	info.Format.SampleRate = parseFloat(fields[2])
	info.Format.Bits = parseInt(fields[3])
	info.Format.Channels = parseInt(fields[4])
	info.Format.FrameSize = parseInt(fields[5])
	info.Format.FrameRate = parseFloat(fields[6])
	bigEndian, err := strconv.ParseBool(fields[7])
	errs = append(errs, err)
	info.Format.BigEndian = bigEndian
	info.Port = parseInt(fields[8])

	if err := errors.Join(errs...); err != nil {
		return PlayInfo{}, fmt.Errorf("%w: %s: %w", ErrNotPlayResponse, resp, err)
	}

	return info, nil
}

// Stream connects to a data port and copies everything the server sends
// into w until the server closes the connection or ctx is done.
//
// Parameters:
//   - ctx: Cancels the dial and the transfer
//   - host: Server host
//   - port: Data port from the play response
//   - w: Destination of the raw song bytes
//
// Returns:
//   - The number of bytes copied
//   - The dial or copy error, or ctx.Err() when cancelled
func Stream(ctx context.Context, host string, port int, w io.Writer) (int64, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return 0, fmt.Errorf("failed to open data connection: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	n, err := io.Copy(w, conn)
	if ctx.Err() != nil {
		return n, ctx.Err()
	}

	return n, err
}
