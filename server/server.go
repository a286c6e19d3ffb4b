// Package server assembles the catalog, session registry, stream supervisor
// and control reactor into the running song server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/songstream/cacher"
	"github.com/cyberinferno/songstream/catalog"
	"github.com/cyberinferno/songstream/config"
	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/metrics"
	"github.com/cyberinferno/songstream/session"
	"github.com/cyberinferno/songstream/streamer"
	"github.com/cyberinferno/songstream/tcpserver"
)

const cacheNamespace = "songstream"

// Server is one song server instance.
type Server struct {
	cfg *config.Config
	log logger.Logger

	store    *catalog.Store
	registry *session.Registry
	streams  *streamer.Supervisor
	reactor  *tcpserver.TCPServer

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	redis    *redis.Client
}

// New builds a Server from cfg and loads the catalog from disk.
//
// Parameters:
//   - ctx: Bounds loading the catalog
//   - cfg: Validated configuration
//   - log: Base logger; components derive scoped loggers from it
//
// Returns:
//   - A Server ready to Run
//   - An error if the cache backend cannot be built or the catalog cannot be read
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	cache, redisClient, err := cacher.New[[]catalog.SongInfo](cacher.Options{
		Backend:   cfg.Cache.Backend,
		RedisURL:  cfg.Cache.RedisURL,
		Namespace: cacheNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	store := catalog.NewStore(catalog.Options{
		SongsDir: cfg.Catalog.SongsDir,
		DataDir:  cfg.Catalog.DataDir,
		Cache:    cache,
		CacheTTL: cfg.Cache.TTL,
		Logger:   log,
	})

	if err := store.Load(ctx); err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := session.NewRegistry(cfg.Streaming.BasePort, store)

	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: registry,
		metrics:  m,
		gatherer: reg,
		redis:    redisClient,
	}

	s.streams = streamer.NewSupervisor(registry, store, streamer.Options{
		Host:              cfg.Server.Host,
		AcceptTimeout:     cfg.Streaming.AcceptTimeout,
		FramesPerChunk:    cfg.Streaming.FramesPerChunk,
		MaxBytesPerSecond: cfg.Streaming.MaxBytesPerSecond,
		Logger:            log,
		Metrics:           m,
	})

	s.reactor = tcpserver.New(tcpserver.Options{
		Name:          "control",
		Addr:          cfg.ControlAddr(),
		IdleTimeout:   cfg.Server.IdleTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MaxLineLength: cfg.Server.MaxLineLength,
		Logger:        log,
		Metrics:       m,
	}, s)

	users, songs, playlists := store.Counts()
	log.Info("catalog loaded",
		logger.Field{Key: "users", Value: users},
		logger.Field{Key: "songs", Value: songs},
		logger.Field{Key: "playlists", Value: playlists},
	)

	return s, nil
}

// Ready is closed once the control listener accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.reactor.Ready()
}

// Addr returns the bound control address. Only valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.reactor.ListenAddr()
}

// Registry exposes the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Store exposes the catalog.
func (s *Server) Store() *catalog.Store {
	return s.store
}

// Stop asks Run to return. It does not wait.
func (s *Server) Stop() {
	s.reactor.Stop()
}

// Run serves control connections, and the metrics endpoint when enabled,
// until ctx is cancelled or a client issues terminate. Afterwards it drains
// active streams, saves the catalog and releases the cache client.
//
// Returns:
//   - The first error from the reactor or the metrics endpoint, joined with
//     any shutdown error
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return s.reactor.Run(gctx)
	})

	if s.cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              s.cfg.Metrics.Addr,
			Handler:           metrics.Handler(s.gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			s.log.Info("metrics endpoint started", logger.Field{Key: "addr", Value: srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	return errors.Join(err, s.shutdown(context.WithoutCancel(ctx)))
}

func (s *Server) shutdown(ctx context.Context) error {
	var errs []error

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Streaming.DrainTimeout)
	defer cancel()

	if err := s.streams.Shutdown(drainCtx); err != nil {
		s.log.Warn("streams did not finish before the drain timeout", logger.Err(err))
		errs = append(errs, fmt.Errorf("failed to drain streams: %w", err))
	}

	if err := s.store.Save(ctx); err != nil {
		s.log.Error("failed to save catalog", logger.Err(err))
		errs = append(errs, fmt.Errorf("failed to save catalog: %w", err))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	s.log.Info("server shut down")
	return errors.Join(errs...)
}
