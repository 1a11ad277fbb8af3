// Package app provides the top-level application lifecycle: it wires the
// stores, caches, oracle, engine, keeper, and HTTP server together and starts
// the goroutines the configured operating mode requires.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/updownbet/updown/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// cleanup functions that run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, builds the engine, starts the goroutines for
// the configured mode, and blocks until the context is cancelled or a
// subsystem fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: build engine: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "full", "memory":
		a.startServer(ctx, g, eng, deps)
		a.startKeeper(ctx, g, eng, deps)
	case "server":
		a.startServer(ctx, g, eng, deps)
	case "keeper":
		a.startKeeper(ctx, g, eng, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
