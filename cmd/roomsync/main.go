// Command roomsync keeps a local view of the chat service in sync: one open
// room over WebSocket, the conversation list by polling, and a loopback API
// plus stream for a UI.
//
//	roomsync login alice
//	roomsync rooms
//	roomsync tail 7
//	roomsync serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hilthontt/roomsync/internal/engine"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const appName = "roomsync"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the root pre-run has loaded
// configuration. Each command closes it when done.
type app struct {
	configPath string

	cfg        *configs.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	components *engine.Components
	shutdown   tracing.ShutdownFunc
}

func (a *app) bootstrap(ctx context.Context) error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := configs.Load(configs.DetermineConfigPath(a.configPath))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logger, appName)
	if err != nil {
		return err
	}

	shutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: appName,
		Environment: cfg.Tracing.Environment,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.shutdown = shutdown
	a.metrics = metrics.New()
	a.components = engine.Build(cfg, logger, a.metrics)

	logging.For(logger, logging.Config, logging.Startup).Debug("configuration loaded",
		zap.String("apiBaseUrl", cfg.API.BaseURL),
		zap.String("sessionPath", a.components.Sessions.Path()),
	)
	return nil
}

func (a *app) close() {
	if a.components != nil {
		a.components.Engine.Close()
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
