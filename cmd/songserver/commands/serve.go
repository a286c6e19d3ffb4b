package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/songstream/config"
	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the song server in the foreground",
	Long: `Run the song server until it receives SIGINT/SIGTERM or a client
issues terminate. Users and playlists are saved on the way out.

Examples:
  # Start with defaults (control port 6999, streaming ports from 7000)
  songserver serve

  # Start with a config file and debug logging
  SONGSTREAM_LOGGING_LEVEL=debug songserver serve --config songstream.toml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		ServiceName: "songserver",
		Level:       cfg.Logging.Level,
		Dir:         cfg.Logging.Dir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info("starting song server",
		logger.Field{Key: "addr", Value: cfg.ControlAddr()},
		logger.Field{Key: "base_port", Value: cfg.Streaming.BasePort},
		logger.Field{Key: "cache", Value: cfg.Cache.Backend},
	)

	return srv.Run(ctx)
}
