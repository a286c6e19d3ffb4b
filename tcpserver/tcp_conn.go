package tcpserver

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/session"
)

// ErrIdentityAttached is returned by Attach when the connection is already logged in.
var ErrIdentityAttached = errors.New("connection already has an identity attached")

// Conn is one control connection. Its identity binding is only read and
// changed by the dispatch goroutine, so it needs no locking.
type Conn struct {
	id     uint32
	conn   net.Conn
	log    logger.Logger
	closed atomic.Bool

	identity *session.Identity
}

func newConn(id uint32, c net.Conn, log logger.Logger) *Conn {
	return &Conn{
		id:   id,
		conn: c,
		log: log.With(
			logger.Field{Key: "conn_id", Value: id},
			logger.Field{Key: "remote", Value: c.RemoteAddr().String()},
		),
	}
}

// ID returns the connection handle assigned by the server.
func (c *Conn) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Logger returns a logger scoped to this connection.
func (c *Conn) Logger() logger.Logger {
	return c.log
}

// Identity returns the attached identity, if any.
func (c *Conn) Identity() (session.Identity, bool) {
	if c.identity == nil {
		return session.Identity{}, false
	}
	return *c.identity, true
}

// Authenticated reports whether an identity is attached.
func (c *Conn) Authenticated() bool {
	return c.identity != nil
}

// Attach binds id to the connection after a successful login.
//
// Returns:
//   - ErrIdentityAttached if another identity is already bound
func (c *Conn) Attach(id session.Identity) error {
	if c.identity != nil {
		return fmt.Errorf("%w: %s", ErrIdentityAttached, c.identity.Name)
	}

	c.identity = &id
	return nil
}

// Detach clears the identity binding and returns what was bound.
func (c *Conn) Detach() (session.Identity, bool) {
	id, ok := c.Identity()
	c.identity = nil
	return id, ok
}

// Close closes the underlying socket. It is safe to call multiple times.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// send writes one framed response, bounded by timeout when positive.
func (c *Conn) send(data []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	_, err := c.conn.Write(data)
	return err
}

// readLoop splits the byte stream into request lines and hands them to emit
// in order. It returns the reason reading stopped: nil on a clean EOF,
// bufio.ErrTooLong for an oversized line, or the read error.
func (c *Conn) readLoop(maxLine int, idle time.Duration, emit func(line string) bool) error {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)

	for {
		if idle > 0 {
			c.conn.SetReadDeadline(time.Now().Add(idle))
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		if !emit(scanner.Text()) {
			return nil
		}
	}
}

// Frame terminates a response body with an empty line. Empty lines inside
// body are dropped so the terminator stays unambiguous.
func Frame(body string) []byte {
	var b strings.Builder

	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	return []byte(b.String())
}
