package streamer

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/metrics"
	"github.com/cyberinferno/songstream/perfmonitor"
)

// run owns ln and the port reservation for the lifetime of one stream.
func (s *Supervisor) run(ctx context.Context, w *worker, ln *net.TCPListener, job Job) {
	log := s.log.With(
		logger.Field{Key: "stream_id", Value: w.id},
		logger.Field{Key: "port", Value: job.Port},
		logger.Field{Key: "song", Value: job.Song.FullName()},
	)

	perf := perfmonitor.NewPerformanceMonitor()
	outcome := metrics.OutcomeNoPeer
	var sent int64

	stopListener := context.AfterFunc(ctx, func() { ln.Close() })

	defer func() {
		stopListener()
		ln.Close()
		perf.Stop()

		s.plays.IncrementPlays(context.Background(), job.Song)
		s.opts.Metrics.ObserveStream(outcome, sent, perf.Elapsed())
		log.Info("stream finished",
			logger.Field{Key: "outcome", Value: outcome},
			logger.Field{Key: "bytes", Value: sent},
			logger.Field{Key: "elapsed_ms", Value: perf.ElapsedMilliseconds()},
		)

		// A new stream may claim the port as soon as it is freed, so only
		// drop our own entry.
		s.ports.Free(job.Port)
		s.workers.CompareAndDelete(job.Port, w)
		w.cancel()
		close(w.done)
		s.wg.Done()
	}()

	if s.opts.AcceptTimeout > 0 {
		ln.SetDeadline(time.Now().Add(s.opts.AcceptTimeout))
	}

	conn, err := ln.Accept()
	if err != nil {
		log.Debug("no peer connected", logger.Err(err))
		return
	}
	defer conn.Close()

	// One peer per stream.
	ln.Close()

	stopConn := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopConn()

	perf.Start()
	log.Debug("peer connected", logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})

	f, err := os.Open(job.Song.Path)
	if err != nil {
		outcome = metrics.OutcomeFailed
		log.Error("failed to open song file", logger.Err(err))
		return
	}
	defer f.Close()

	sent, err = s.pump(ctx, conn, f, job.Song.Format.FrameSize)
	switch {
	case err == nil:
		outcome = metrics.OutcomeCompleted
	case ctx.Err() != nil || isPeerGone(err):
		outcome = metrics.OutcomeAborted
		log.Debug("stream aborted", logger.Err(err))
	default:
		outcome = metrics.OutcomeFailed
		log.Warn("stream failed", logger.Err(err))
	}
}

// pump copies src to dst in chunks of frameSize*FramesPerChunk bytes until
// EOF, optionally throttled.
func (s *Supervisor) pump(ctx context.Context, dst io.Writer, src io.Reader, frameSize int) (int64, error) {
	if frameSize <= 0 {
		frameSize = 1
	}

	chunk := frameSize * s.opts.FramesPerChunk
	buf := make([]byte, chunk)

	var limiter *rate.Limiter
	if s.opts.MaxBytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MaxBytesPerSecond), max(s.opts.MaxBytesPerSecond, chunk))
	}

	var sent int64
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return sent, err
				}
			}

			written, err := dst.Write(buf[:n])
			sent += int64(written)
			if err != nil {
				return sent, err
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return sent, nil
		}
		if readErr != nil {
			return sent, readErr
		}
	}
}

// isPeerGone reports whether err means the data connection was closed or
// reset by either side.
func isPeerGone(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
