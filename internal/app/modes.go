package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/updownbet/updown/internal/engine"
	"github.com/updownbet/updown/internal/keeper"
	"github.com/updownbet/updown/internal/server"
	"github.com/updownbet/updown/internal/server/handler"
	"github.com/updownbet/updown/internal/server/ws"
)

// buildEngine assembles the settlement engine, registers the configured
// markets, and reloads persisted state.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	eng := engine.New(engine.Config{
		BetWindow:  a.cfg.Engine.BetWindow.Duration,
		LiveWindow: a.cfg.Engine.LiveWindow.Duration,
		MinStake:   a.cfg.Engine.MinStake,
		FeeBps:     a.cfg.Engine.FeeBps,
	}, engine.Deps{
		Rounds:   deps.Rounds,
		Bets:     deps.Bets,
		Treasury: deps.Treasury,
		Oracle:   deps.Oracle,
		Prices:   deps.Prices,
		Bus:      deps.Bus,
		Audit:    deps.Audit,
	}, a.logger)

	for _, m := range a.cfg.Markets {
		eng.AddMarket(m.Name, m.Symbol)
	}

	if err := eng.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// startServer adds the HTTP server (and the websocket hub when the signal bus
// is wired) to the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, eng *engine.Engine, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Rounds:   handler.NewRoundHandler(eng, a.logger),
		Bets:     handler.NewBetHandler(eng, deps.Bets, a.logger),
		Prices:   handler.NewPriceHandler(eng, a.logger),
		Accounts: handler.NewAccountHandler(deps.Treasury, a.logger),
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger)
		g.Go(func() error {
			err := hub.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws hub: %w", err)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper adds the lifecycle scheduler to the errgroup.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, eng *engine.Engine, deps *Dependencies) {
	if !a.cfg.Keeper.Enabled {
		a.logger.InfoContext(ctx, "keeper disabled")
		return
	}

	k := keeper.New(eng, deps.Locks, deps.Archiver, deps.Notifier, keeper.Config{
		Tick:         a.cfg.Keeper.Tick.Duration,
		LockTTL:      a.cfg.Keeper.LockTTL.Duration,
		ArchiveEvery: a.cfg.Keeper.ArchiveEvery.Duration,
		Retention:    time.Duration(a.cfg.Keeper.RetentionDays) * 24 * time.Hour,
	}, a.logger)

	g.Go(func() error {
		return k.Run(ctx)
	})

	a.logger.InfoContext(ctx, "keeper started",
		slog.Duration("tick", a.cfg.Keeper.Tick.Duration),
	)
}
