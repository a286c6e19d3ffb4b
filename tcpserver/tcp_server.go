// Package tcpserver is the control-channel reactor. Blocking reads happen in
// one goroutine per connection, but every request line is validated,
// executed and answered by a single dispatch goroutine, so command handlers
// never run concurrently with each other.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/songstream/idgenerator"
	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/metrics"
	"github.com/cyberinferno/songstream/safemap"
)

// DefaultMaxLineLength is used when Options.MaxLineLength is not positive.
const DefaultMaxLineLength = 4096

// Handler executes request lines. Both methods are only ever called from the
// dispatch goroutine.
type Handler interface {
	// HandleLine executes one request line and returns the response body.
	// Errors are expected to be rendered into the body.
	HandleLine(ctx context.Context, conn *Conn, line string) string

	// HandleClose runs once for every connection that goes away, before its
	// socket is closed. It must tear down any session bound to conn.
	HandleClose(ctx context.Context, conn *Conn)
}

// Options configures a TCPServer.
type Options struct {
	Name string
	Addr string
	// IdleTimeout closes connections that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
	// WriteTimeout bounds writing one response. Zero disables it.
	WriteTimeout time.Duration
	// MaxLineLength closes connections that send longer request lines.
	MaxLineLength int
	Logger        logger.Logger
	Metrics       *metrics.Metrics
}

type eventKind int

const (
	eventAccepted eventKind = iota
	eventLine
	eventClosed
)

type event struct {
	kind eventKind
	id   uint32
	conn net.Conn
	line string
	err  error
}

// TCPServer accepts control connections and feeds their request lines to a
// Handler one at a time.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	Listener    net.Listener
	Sessions    *safemap.SafeMap[uint32, *Conn]
	Running     atomic.Bool
	Handler     Handler
	IdGenerator *idgenerator.IdGenerator

	opts   Options
	events chan event
	wake   chan struct{}
	ready  chan struct{}
	once   sync.Once
	io     sync.WaitGroup
}

// New creates a TCPServer that dispatches to h.
//
// Parameters:
//   - opts: Listen address, timeouts and limits
//   - h: Executes request lines
//
// Returns:
//   - A TCPServer ready to Run
func New(opts Options, h Handler) *TCPServer {
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &TCPServer{
		Logger:      log,
		Name:        opts.Name,
		Addr:        opts.Addr,
		Sessions:    safemap.NewSafeMap[uint32, *Conn](),
		Handler:     h,
		IdGenerator: idgenerator.NewIdGenerator(0),
		opts:        opts,
		events:      make(chan event),
		wake:        make(chan struct{}),
		ready:       make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *TCPServer) Ready() <-chan struct{} {
	return s.ready
}

// ListenAddr returns the bound address. Only valid after Ready is closed.
func (s *TCPServer) ListenAddr() net.Addr {
	return s.Listener.Addr()
}

// Run binds Addr and dispatches events until Stop is called or ctx is
// cancelled. Before returning it closes the listener and every connection,
// running HandleClose for each.
//
// Returns:
//   - An error if the server is already running or Addr cannot be bound
func (s *TCPServer) Run(ctx context.Context) error {
	if !s.Running.CompareAndSwap(false, true) {
		return fmt.Errorf("server %s already running", s.Name)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		s.Running.Store(false)
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	close(s.ready)
	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.io.Add(1)
	go s.acceptLoop()

	stopOnCancel := context.AfterFunc(ctx, s.Stop)
	defer stopOnCancel()

	for {
		select {
		case <-s.wake:
			s.shutdown(ctx)
			return nil
		case ev := <-s.events:
			// Stop wins over events that were ready at the same time.
			select {
			case <-s.wake:
				if ev.conn != nil {
					ev.conn.Close()
				}
				s.shutdown(ctx)
				return nil
			default:
			}
			s.dispatch(ctx, ev)
		}
	}
}

// Stop makes Run return. It does not wait, so it is safe to call from a
// Handler; Run finishes the current response first.
func (s *TCPServer) Stop() {
	s.once.Do(func() {
		s.Running.Store(false)
		close(s.wake)
	})
}

// emit delivers ev to the dispatch goroutine unless the server is stopping.
func (s *TCPServer) emit(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.wake:
		return false
	}
}

func (s *TCPServer) acceptLoop() {
	defer s.io.Done()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			continue
		}

		if !s.emit(event{kind: eventAccepted, conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (s *TCPServer) readLoop(c *Conn) {
	defer s.io.Done()

	err := c.readLoop(s.opts.MaxLineLength, s.opts.IdleTimeout, func(line string) bool {
		return s.emit(event{kind: eventLine, id: c.ID(), line: line})
	})

	s.emit(event{kind: eventClosed, id: c.ID(), err: err})
}

func (s *TCPServer) dispatch(ctx context.Context, ev event) {
	switch ev.kind {
	case eventAccepted:
		c := newConn(s.IdGenerator.Id(), ev.conn, s.Logger)
		s.Sessions.Store(c.ID(), c)
		s.opts.Metrics.ConnectionOpened()
		c.Logger().Debug("connection accepted")

		s.io.Add(1)
		go s.readLoop(c)

	case eventLine:
		c, ok := s.Sessions.Load(ev.id)
		if !ok {
			return
		}

		resp := s.Handler.HandleLine(ctx, c, ev.line)
		if err := c.send(Frame(resp), s.opts.WriteTimeout); err != nil {
			c.Logger().Warn("failed to write response", logger.Err(err))
			s.closeConn(ctx, c)
		}

	case eventClosed:
		c, ok := s.Sessions.Load(ev.id)
		if !ok {
			return
		}

		if ev.err != nil && !errors.Is(ev.err, net.ErrClosed) {
			c.Logger().Debug("connection read ended", logger.Err(ev.err))
		}
		s.closeConn(ctx, c)
	}
}

// closeConn deregisters c, runs the handler's close path and closes the socket.
func (s *TCPServer) closeConn(ctx context.Context, c *Conn) {
	if _, ok := s.Sessions.LoadAndDelete(c.ID()); !ok {
		return
	}

	s.Handler.HandleClose(ctx, c)
	c.Close()
	s.opts.Metrics.ConnectionClosed()
	c.Logger().Debug("connection closed")
}

func (s *TCPServer) shutdown(ctx context.Context) {
	_ = s.Listener.Close()

	// Sessions are still torn down when Run was stopped by cancelling ctx.
	ctx = context.WithoutCancel(ctx)

	s.Sessions.Range(func(_ uint32, c *Conn) bool {
		s.closeConn(ctx, c)
		return true
	})

	s.io.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}
