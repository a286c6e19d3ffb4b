// Package streamer delivers songs over single-use data connections. Each
// play request gets a worker that listens on the session's streaming port,
// sends the file to the first peer that connects and then releases the port.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/songstream/catalog"
	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/metrics"
	"github.com/cyberinferno/songstream/safemap"
)

var ErrShuttingDown = errors.New("streaming is shutting down")

// PortReserver claims and releases streaming ports.
type PortReserver interface {
	Reserve(port int) error
	Free(port int)
}

// PlayRecorder is told about every finished stream.
type PlayRecorder interface {
	IncrementPlays(ctx context.Context, song *catalog.Song)
}

// Options configures a Supervisor.
type Options struct {
	// Host is the address data listeners bind to. Empty means all interfaces.
	Host string
	// AcceptTimeout bounds the wait for the peer to connect. Zero waits until
	// the stream is cancelled.
	AcceptTimeout time.Duration
	// FramesPerChunk sets the write size as a multiple of the song's frame size.
	FramesPerChunk int
	// MaxBytesPerSecond throttles each stream. Zero disables throttling.
	MaxBytesPerSecond int
	Logger            logger.Logger
	Metrics           *metrics.Metrics
}

// Job is one play request.
type Job struct {
	Port int
	Song *catalog.Song
}

// Supervisor starts streaming workers and keeps track of them by port so
// they can be cancelled individually or all together on shutdown.
type Supervisor struct {
	opts  Options
	log   logger.Logger
	ports PortReserver
	plays PlayRecorder

	base       context.Context
	cancelBase context.CancelFunc
	closed     atomic.Bool

	workers *safemap.SafeMap[int, *worker]
	wg      sync.WaitGroup
}

type worker struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a Supervisor.
//
// Parameters:
//   - ports: Registry used to reserve and free streaming ports
//   - plays: Receives a play for every finished stream
//   - opts: Listener, chunking and throttling settings
//
// Returns:
//   - A Supervisor ready to Start streams
func NewSupervisor(ports PortReserver, plays PlayRecorder, opts Options) *Supervisor {
	if opts.FramesPerChunk <= 0 {
		opts.FramesPerChunk = 1024
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	base, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		opts:       opts,
		log:        log.With(logger.Field{Key: "component", Value: "streamer"}),
		ports:      ports,
		plays:      plays,
		base:       base,
		cancelBase: cancel,
		workers:    safemap.NewSafeMap[int, *worker](),
	}
}

// Start reserves job.Port, binds the data listener and hands the rest of the
// transfer to a background worker. When Start returns without error the
// port is already accepting connections.
//
// Parameters:
//   - ctx: Bounds the listener bind only; the worker outlives it
//   - job: Port and song to stream
//
// Returns:
//   - The stream id used in log lines
//   - The reservation error (session.ErrCurrentlyStreaming) or a bind error
func (s *Supervisor) Start(ctx context.Context, job Job) (string, error) {
	if s.closed.Load() {
		return "", ErrShuttingDown
	}

	if err := s.ports.Reserve(job.Port); err != nil {
		return "", err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(job.Port)))
	if err != nil {
		s.ports.Free(job.Port)
		return "", fmt.Errorf("failed to open streaming port %d: %w", job.Port, err)
	}

	wctx, cancel := context.WithCancel(s.base)
	w := &worker{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	s.workers.Store(job.Port, w)
	s.wg.Add(1)
	s.opts.Metrics.StreamStarted()

	go s.run(wctx, w, ln.(*net.TCPListener), job)

	return w.id, nil
}

// Cancel force-closes the stream on port, if any. It does not wait for the
// worker to return.
func (s *Supervisor) Cancel(port int) bool {
	w, ok := s.workers.Load(port)
	if !ok {
		return false
	}

	w.cancel()
	return true
}

// Wait blocks until the stream on port has finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context, port int) error {
	w, ok := s.workers.Load(port)
	if !ok {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running workers.
func (s *Supervisor) Active() int {
	return s.workers.Len()
}

// Shutdown rejects new streams, cancels every running one and waits for the
// workers to return.
//
// Returns:
//   - ctx.Err() if the workers did not finish before ctx was done
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
