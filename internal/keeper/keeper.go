// Package keeper drives round lifecycle transitions on a schedule. The engine
// only moves when told to; the keeper is the component that tells it, issuing
// idempotent lock / close / create-next commands per market on every tick.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/updownbet/updown/internal/domain"
	"github.com/updownbet/updown/internal/engine"
	"github.com/updownbet/updown/internal/notify"
)

// Config holds keeper scheduling parameters.
type Config struct {
	// Tick is the poll interval per market.
	Tick time.Duration
	// LockTTL is the distributed keeper-lock lifetime; it should exceed the
	// worst-case duration of one tick's work.
	LockTTL time.Duration
	// ArchiveEvery is the interval between archival sweeps; zero disables
	// archival even when an Archiver is wired.
	ArchiveEvery time.Duration
	// Retention is how long closed rounds stay in hot storage before the
	// archiver exports them.
	Retention time.Duration
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Keeper polls every market and issues the lifecycle transitions that are
// due. Locks, the archiver, and the notifier are all optional.
type Keeper struct {
	engine   *engine.Engine
	locks    domain.LockManager
	archiver domain.Archiver
	notifier *notify.Notifier
	cfg      Config
	logger   *slog.Logger
}

// New creates a Keeper. locks, archiver, and notifier may be nil.
func New(eng *engine.Engine, locks domain.LockManager, archiver domain.Archiver, notifier *notify.Notifier, cfg Config, logger *slog.Logger) *Keeper {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Keeper{
		engine:   eng,
		locks:    locks,
		archiver: archiver,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run starts one goroutine per market plus the archival sweep and blocks until
// the context is cancelled or a loop fails.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper starting",
		slog.Duration("tick", k.cfg.Tick),
		slog.Int("markets", len(k.engine.Markets())),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, market := range k.engine.Markets() {
		g.Go(func() error {
			err := k.runMarket(ctx, market)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("keeper %s: %w", market, err)
		})
	}

	if k.archiver != nil && k.cfg.ArchiveEvery > 0 {
		g.Go(func() error {
			err := k.runArchiver(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("keeper archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		k.logger.Error("keeper stopped with error", slog.String("error", err.Error()))
		return err
	}

	k.logger.Info("keeper stopped cleanly")
	return nil
}

// runMarket ticks one market until the context is cancelled.
func (k *Keeper) runMarket(ctx context.Context, market string) error {
	ticker := time.NewTicker(k.cfg.Tick)
	defer ticker.Stop()

	// Catch up immediately on start rather than waiting a full tick.
	k.tickMarket(ctx, market)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.tickMarket(ctx, market)
		}
	}
}

// tickMarket takes the keeper lock for one market (when configured) and runs
// whatever transition is due.
func (k *Keeper) tickMarket(ctx context.Context, market string) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, "keeper:"+market, k.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				k.logger.Debug("keeper lock held elsewhere", slog.String("market", market))
				return
			}
			k.logger.Warn("keeper lock acquire failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	if err := k.Step(ctx, market); err != nil {
		k.logger.Warn("keeper step failed",
			slog.String("market", market),
			slog.String("error", err.Error()),
		)
	}
}

// Step inspects a market's current round and issues at most one transition.
// Precondition errors are normal operation (another instance got there first,
// or the transition is simply not due yet) and are swallowed at debug level.
func (k *Keeper) Step(ctx context.Context, market string) error {
	round, err := k.engine.CurrentRound(ctx, market)
	if err != nil {
		return fmt.Errorf("current round: %w", err)
	}

	now := k.cfg.Clock()

	// Lock advances the market pointer to the successor, so the round whose
	// close is due is usually the predecessor of the current one.
	if round.ID > 1 {
		prev, err := k.engine.RoundSnapshot(ctx, market, round.ID-1)
		if err == nil && prev.Phase == domain.PhaseLocked && !now.Before(prev.CloseTime) {
			if err := k.engine.Close(ctx, market, prev.ID); err != nil {
				if terr := k.transitionErr(ctx, market, prev.ID, "close", err); terr != nil {
					return terr
				}
			} else {
				k.logger.Info("round closed",
					slog.String("market", market),
					slog.Int64("round", prev.ID),
				)
				k.notifyEvent(ctx, domain.EventRoundClosed,
					fmt.Sprintf("Round closed: %s #%d", market, prev.ID),
					fmt.Sprintf("Market %s round %d has closed and is claimable.", market, prev.ID))
			}
		}
	}

	switch round.Phase {
	case domain.PhaseOpen:
		if now.Before(round.LockTime) {
			return nil
		}
		if err := k.engine.Lock(ctx, market, round.ID); err != nil {
			return k.transitionErr(ctx, market, round.ID, "lock", err)
		}
		k.logger.Info("round locked",
			slog.String("market", market),
			slog.Int64("round", round.ID),
		)

	case domain.PhaseLocked:
		if now.Before(round.CloseTime) {
			return nil
		}
		if err := k.engine.Close(ctx, market, round.ID); err != nil {
			return k.transitionErr(ctx, market, round.ID, "close", err)
		}
		k.logger.Info("round closed",
			slog.String("market", market),
			slog.Int64("round", round.ID),
		)
		k.notifyEvent(ctx, domain.EventRoundClosed,
			fmt.Sprintf("Round closed: %s #%d", market, round.ID),
			fmt.Sprintf("Market %s round %d has closed and is claimable.", market, round.ID))

	case domain.PhaseClosed:
		// Lock normally chains the successor; this path unsticks a market
		// whose successor creation was lost.
		next, err := k.engine.CreateNext(ctx, market)
		if err != nil {
			return k.transitionErr(ctx, market, round.ID, "create next", err)
		}
		k.logger.Info("round created",
			slog.String("market", market),
			slog.Int64("round", next.ID),
		)
	}

	return nil
}

// transitionErr classifies a transition failure: expected preconditions are
// logged at debug and dropped, oracle failures are surfaced to the notifier,
// everything else propagates.
func (k *Keeper) transitionErr(ctx context.Context, market string, roundID int64, op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTooEarly),
		errors.Is(err, domain.ErrAlreadyLocked),
		errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrRoundNotLocked),
		errors.Is(err, domain.ErrRoundNotClosed):
		k.logger.Debug("transition not applicable",
			slog.String("market", market),
			slog.Int64("round", roundID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil
	case errors.Is(err, domain.ErrOraclePriceInvalid):
		k.logger.Warn("oracle failure, will retry next tick",
			slog.String("market", market),
			slog.Int64("round", roundID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		k.notifyEvent(ctx, "oracle_failure",
			fmt.Sprintf("Oracle failure: %s", market),
			fmt.Sprintf("Could not %s round %d of %s: %v", op, roundID, market, err))
		return nil
	default:
		return fmt.Errorf("%s round %d: %w", op, roundID, err)
	}
}

func (k *Keeper) notifyEvent(ctx context.Context, event, title, message string) {
	if k.notifier == nil {
		return
	}
	if err := k.notifier.Notify(ctx, event, title, message); err != nil {
		k.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// runArchiver periodically exports settled history older than the retention
// window to cold storage.
func (k *Keeper) runArchiver(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.ArchiveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := k.cfg.Clock().Add(-k.cfg.Retention)
			n, err := k.archiver.ArchiveRounds(ctx, cutoff)
			if err != nil {
				k.logger.Error("archive sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				k.logger.Info("archived rounds",
					slog.Int("count", n),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}
