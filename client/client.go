// Package client is a control-channel client for the song server. It sends
// one request line at a time, reads the blank-line terminated response and
// reports connection state changes to a registered handler. Stream drains
// the data connection a play response points at.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	ErrClosed       = errors.New("client is closed")
	ErrNotConnected = errors.New("not connected")
)

// ConnectionState represents the current state of the control connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Ready for requests
	Closed                              // Close was called; the client is unusable
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The server address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// ConnectionStateHandler is called from its own goroutine for every state change.
type ConnectionStateHandler func(event ConnectionStateEvent)

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the control listener.
	Address string
	// WriteTimeout bounds writing one request; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config with default timeouts for address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with WriteTimeout 10s and ConnectionTimeout 10s
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client is a request/response control client. Do may be called from
// several goroutines; requests are sent one at a time.
type Client struct {
	config Config

	mu                sync.RWMutex
	conn              net.Conn
	state             ConnectionState
	closed            bool
	onConnectionState ConnectionStateHandler

	// reqMu serializes Do so responses pair with requests. pending counts
	// requests whose caller gave up before the response arrived.
	reqMu     sync.Mutex
	pending   int
	responses chan string
	readDone  chan struct{}
	readErr   error
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New creates a Client in Disconnected state.
func New(config Config) *Client {
	return &Client{
		config: config,
		state:  Disconnected,
		stop:   make(chan struct{}),
	}
}

// OnConnectionState registers the handler for connection state changes,
// replacing any previous one. Pass nil to clear it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// Connect dials the server and starts reading responses.
//
// Returns:
//   - ErrClosed after Close, an error if already connected, or the dial error
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return err
	}

	c.reqMu.Lock()
	c.pending = 0
	c.reqMu.Unlock()

	c.mu.Lock()
	c.conn = conn
	c.responses = make(chan string, 1)
	c.readDone = make(chan struct{})
	c.readErr = nil
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn, c.responses, c.readDone)

	return nil
}

// Do sends line and waits for its response.
//
// Parameters:
//   - ctx: Bounds the wait for the response
//   - line: One request line without terminator
//
// Returns:
//   - The response body without its blank-line terminator
//   - ErrNotConnected, a write error, or the reason the connection ended
func (c *Client) Do(ctx context.Context, line string) (string, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.RLock()
	conn, state := c.conn, c.state
	responses, readDone := c.responses, c.readDone
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return "", ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return "", err
		}
	}

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	// Responses of abandoned requests arrive first and are discarded.
	for {
		resp, err := c.receive(ctx, responses, readDone)
		if err != nil {
			if ctx.Err() != nil {
				c.pending++
			}
			return "", err
		}

		if c.pending == 0 {
			return resp, nil
		}
		c.pending--
	}
}

// receive waits for the next response frame.
func (c *Client) receive(ctx context.Context, responses <-chan string, readDone <-chan struct{}) (string, error) {
	select {
	case resp := <-responses:
		return resp, nil
	case <-readDone:
		// The last response can be buffered behind the close.
		select {
		case resp := <-responses:
			return resp, nil
		default:
		}

		c.mu.RLock()
		err := c.readErr
		c.mu.RUnlock()
		if err == nil {
			err = io.EOF
		}
		return "", fmt.Errorf("connection ended: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close closes the connection and waits for the reader to exit. It is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
	c.setState(Closed, nil)

	return err
}

func (c *Client) readLoop(conn net.Conn, responses chan<- string, done chan<- struct{}) {
	defer c.wg.Done()
	defer close(done)

	r := bufio.NewReader(conn)
	var body []string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			c.connectionLost(conn, err)
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			body = append(body, line)
			continue
		}

		select {
		case responses <- strings.Join(body, "\n"):
		case <-c.stop:
			return
		}
		body = body[:0]
	}
}

// connectionLost records why the reader stopped and moves to Disconnected
// unless Close is in progress.
func (c *Client) connectionLost(conn net.Conn, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.readErr = err

	if c.conn == conn {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.setState(Disconnected, err)
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		event := ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}
