package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Encoding names reported in play responses.
const (
	EncodingPCMSigned   = "PCM_SIGNED"
	EncodingPCMUnsigned = "PCM_UNSIGNED"
	EncodingPCMFloat    = "PCM_FLOAT"
	EncodingALaw        = "ALAW"
	EncodingULaw        = "ULAW"
)

// WAV fmt chunk format tags.
const (
	wavTagPCM        = 0x0001
	wavTagFloat      = 0x0003
	wavTagALaw       = 0x0006
	wavTagULaw       = 0x0007
	wavTagExtensible = 0xFFFE
)

var ErrUnsupportedFormat = errors.New("unsupported audio file")

// AudioFormat describes how the bytes of a song are laid out. It is sent to
// clients so they can configure playback before opening the data connection.
type AudioFormat struct {
	Encoding   string  `json:"encoding"`
	SampleRate float64 `json:"sample_rate"`
	Bits       int     `json:"bits"`
	Channels   int     `json:"channels"`
	FrameSize  int     `json:"frame_size"`
	FrameRate  float64 `json:"frame_rate"`
	BigEndian  bool    `json:"big_endian"`
}

// String renders the format as the space-separated fields of a play response,
// e.g. "PCM_SIGNED 44100.0 16 2 4 44100.0 false".
func (f AudioFormat) String() string {
	return fmt.Sprintf("%s %.1f %d %d %d %.1f %t",
		f.Encoding, f.SampleRate, f.Bits, f.Channels, f.FrameSize, f.FrameRate, f.BigEndian)
}

// ProbeFile reads the header of a WAV file and returns its format.
func ProbeFile(path string) (AudioFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return AudioFormat{}, err
	}
	defer f.Close()

	return ProbeWAV(f)
}

// ProbeWAV parses a RIFF (little-endian) or RIFX (big-endian) WAVE header
// from r. Only the chunks up to and including "fmt " are read.
//
// Parameters:
//   - r: Reader positioned at the start of the file
//
// Returns:
//   - The audio format described by the fmt chunk
//   - ErrUnsupportedFormat if r is not a WAVE stream or uses an unknown codec
func ProbeWAV(r io.Reader) (AudioFormat, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return AudioFormat{}, fmt.Errorf("%w: short header", ErrUnsupportedFormat)
	}

	var order binary.ByteOrder
	switch string(header[0:4]) {
	case "RIFF":
		order = binary.LittleEndian
	case "RIFX":
		order = binary.BigEndian
	default:
		return AudioFormat{}, fmt.Errorf("%w: not a RIFF container", ErrUnsupportedFormat)
	}

	if string(header[8:12]) != "WAVE" {
		return AudioFormat{}, fmt.Errorf("%w: not a WAVE file", ErrUnsupportedFormat)
	}

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return AudioFormat{}, fmt.Errorf("%w: missing fmt chunk", ErrUnsupportedFormat)
		}

		size := int64(order.Uint32(chunk[4:8]))
		if string(chunk[0:4]) != "fmt " {
			// chunks are word aligned
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return AudioFormat{}, fmt.Errorf("%w: truncated chunk", ErrUnsupportedFormat)
			}
			continue
		}

		if size < 16 || size > 1024 {
			return AudioFormat{}, fmt.Errorf("%w: bad fmt chunk size %d", ErrUnsupportedFormat, size)
		}

		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return AudioFormat{}, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedFormat)
		}

		return decodeFmtChunk(body, order, order == binary.BigEndian)
	}
}

func decodeFmtChunk(body []byte, order binary.ByteOrder, bigEndian bool) (AudioFormat, error) {
	tag := order.Uint16(body[0:2])
	channels := int(order.Uint16(body[2:4]))
	sampleRate := float64(order.Uint32(body[4:8]))
	blockAlign := int(order.Uint16(body[12:14]))
	bits := int(order.Uint16(body[14:16]))

	if tag == wavTagExtensible && len(body) >= 26 {
		tag = order.Uint16(body[24:26])
	}

	var encoding string
	switch tag {
	case wavTagPCM:
		encoding = EncodingPCMSigned
		if bits == 8 {
			encoding = EncodingPCMUnsigned
		}
	case wavTagFloat:
		encoding = EncodingPCMFloat
	case wavTagALaw:
		encoding = EncodingALaw
	case wavTagULaw:
		encoding = EncodingULaw
	default:
		return AudioFormat{}, fmt.Errorf("%w: codec 0x%04x", ErrUnsupportedFormat, tag)
	}

	if channels == 0 || blockAlign == 0 {
		return AudioFormat{}, fmt.Errorf("%w: zero channels or frame size", ErrUnsupportedFormat)
	}

	return AudioFormat{
		Encoding:   encoding,
		SampleRate: sampleRate,
		Bits:       bits,
		Channels:   channels,
		FrameSize:  blockAlign,
		FrameRate:  sampleRate,
		BigEndian:  bigEndian && bits > 8,
	}, nil
}
