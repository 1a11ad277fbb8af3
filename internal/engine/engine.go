// Package engine implements the round lifecycle and settlement engine: the
// per-market round registry, the bet ledger, the lifecycle state machine, the
// settlement calculator, and the idempotent claim processor.
//
// Each market is an independently-locked aggregate. Every public operation
// takes the market's mutex, validates its preconditions, mutates in-memory
// state, write-through persists, and finally publishes a notification. A
// persistence failure rolls the in-memory mutation back so no operation ever
// partially applies.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/updownbet/updown/internal/domain"
)

// FeeSinkAccount is the treasury account receiving the fee cut of each payout.
const FeeSinkAccount = "treasury"

// PoolAccount returns the escrow account holding a market's staked funds.
func PoolAccount(market string) string {
	return "pool:" + market
}

// Config holds the engine's tunable parameters. Every round's lock time is
// StartTime+BetWindow and its close time is LockTime+LiveWindow; both are
// fixed at creation.
type Config struct {
	BetWindow  time.Duration
	LiveWindow time.Duration
	MinStake   uint64
	FeeBps     uint64
	// Clock is the time source; defaults to time.Now. Tests substitute it.
	Clock func() time.Time
}

// Deps bundles the engine's collaborators. Rounds, Bets, and Treasury are
// required; Oracle is required for Lock/Close/CurrentPrice; Prices, Bus, and
// Audit are optional and skipped when nil.
type Deps struct {
	Rounds   domain.RoundStore
	Bets     domain.BetStore
	Treasury domain.Treasury
	Oracle   domain.PriceOracle
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Audit    domain.AuditStore
}

// roundState is one round plus its bets, keyed by bettor.
type roundState struct {
	round domain.Round
	bets  map[string]*domain.Bet
}

// marketState is the per-market aggregate. Its mutex serialises every
// operation against the market; markets never share mutable state.
type marketState struct {
	mu      sync.Mutex
	market  string
	symbol  string // oracle symbol, e.g. "BTCUSDT"
	current int64  // market pointer: id of the latest created round
	rounds  map[int64]*roundState
}

// Engine drives the round lifecycle for a set of markets.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	markets map[string]*marketState
}

// New creates an Engine. Markets are registered with AddMarket and existing
// state is reloaded with Bootstrap before the engine serves traffic.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With(slog.String("component", "engine")),
		now:     now,
		markets: make(map[string]*marketState),
	}
}

// AddMarket registers a market and the oracle symbol backing it. It must be
// called before Bootstrap or any operation touching the market.
func (e *Engine) AddMarket(market, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.markets[market]; ok {
		return
	}
	e.markets[market] = &marketState{
		market: market,
		symbol: symbol,
		rounds: make(map[int64]*roundState),
	}
}

// Markets returns the registered market names.
func (e *Engine) Markets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.markets))
	for m := range e.markets {
		out = append(out, m)
	}
	return out
}

// market returns the aggregate for a market name.
func (e *Engine) market(name string) (*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.markets[name]
	if !ok {
		return nil, fmt.Errorf("engine: market %q: %w", name, domain.ErrNotFound)
	}
	return ms, nil
}

// Bootstrap reloads rounds, market pointers, and bets from the stores into
// memory. Markets with no persisted rounds get a fresh genesis round. It must
// run before the engine serves traffic.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.mu.RLock()
	markets := make([]*marketState, 0, len(e.markets))
	for _, ms := range e.markets {
		markets = append(markets, ms)
	}
	e.mu.RUnlock()

	for _, ms := range markets {
		ms.mu.Lock()
		err := e.bootstrapMarket(ctx, ms)
		ms.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) bootstrapMarket(ctx context.Context, ms *marketState) error {
	if e.deps.Rounds == nil {
		// Memory-only mode: just start the genesis round.
		if ms.current == 0 {
			return e.startGenesis(ctx, ms)
		}
		return nil
	}

	rounds, err := e.deps.Rounds.ListByMarket(ctx, ms.market, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("engine: bootstrap %s: list rounds: %w", ms.market, err)
	}
	if len(rounds) == 0 {
		return e.startGenesis(ctx, ms)
	}

	for _, r := range rounds {
		rs := &roundState{round: r, bets: make(map[string]*domain.Bet)}
		bets, err := e.deps.Bets.ListByRound(ctx, ms.market, r.ID)
		if err != nil {
			return fmt.Errorf("engine: bootstrap %s: list bets for round %d: %w", ms.market, r.ID, err)
		}
		for i := range bets {
			b := bets[i]
			rs.bets[b.Bettor] = &b
		}
		ms.rounds[r.ID] = rs
	}

	current, err := e.deps.Rounds.CurrentRound(ctx, ms.market)
	if err != nil {
		return fmt.Errorf("engine: bootstrap %s: current round: %w", ms.market, err)
	}
	ms.current = current

	e.logger.InfoContext(ctx, "market restored",
		slog.String("market", ms.market),
		slog.Int("rounds", len(rounds)),
		slog.Int64("current", current),
	)
	return nil
}

// startGenesis creates round 1 for a market that has no history. Caller holds
// the market mutex.
func (e *Engine) startGenesis(ctx context.Context, ms *marketState) error {
	round := e.newRound(ms.market, 1, e.now())
	rs := &roundState{round: round, bets: make(map[string]*domain.Bet)}

	if err := e.persistRound(ctx, round); err != nil {
		return fmt.Errorf("engine: genesis %s: %w", ms.market, err)
	}
	if err := e.persistPointer(ctx, ms.market, round.ID); err != nil {
		return fmt.Errorf("engine: genesis %s: pointer: %w", ms.market, err)
	}

	ms.rounds[round.ID] = rs
	ms.current = round.ID

	e.logger.InfoContext(ctx, "genesis round created",
		slog.String("market", ms.market),
		slog.Int64("round", round.ID),
	)
	e.publish(ctx, domain.Event{
		Type:      domain.EventRoundCreated,
		Market:    ms.market,
		RoundID:   round.ID,
		Timestamp: round.StartTime,
	})
	return nil
}

// newRound builds a fresh Open round with timestamps derived from start.
func (e *Engine) newRound(market string, id int64, start time.Time) domain.Round {
	lock := start.Add(e.cfg.BetWindow)
	return domain.Round{
		Market:    market,
		ID:        id,
		Phase:     domain.PhaseOpen,
		StartTime: start,
		LockTime:  lock,
		CloseTime: lock.Add(e.cfg.LiveWindow),
	}
}

// persistRound write-through persists a round; a nil store is a no-op.
func (e *Engine) persistRound(ctx context.Context, round domain.Round) error {
	if e.deps.Rounds == nil {
		return nil
	}
	return e.deps.Rounds.Upsert(ctx, round)
}

// persistPointer write-through persists the market pointer.
func (e *Engine) persistPointer(ctx context.Context, market string, id int64) error {
	if e.deps.Rounds == nil {
		return nil
	}
	return e.deps.Rounds.SetCurrentRound(ctx, market, id)
}

// publish sends an event to the signal bus and the audit log. Both are best
// effort: failures are logged, never propagated, and the authoritative state
// has already been committed by the time publish runs.
func (e *Engine) publish(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if e.deps.Bus != nil {
		if err := e.deps.Bus.Publish(ctx, domain.RoundsChannel, payload); err != nil {
			e.logger.WarnContext(ctx, "publish event failed",
				slog.String("type", evt.Type),
				slog.String("market", evt.Market),
				slog.String("error", err.Error()),
			)
		}
		if err := e.deps.Bus.StreamAppend(ctx, domain.RoundsStream(evt.Market), payload); err != nil {
			e.logger.WarnContext(ctx, "stream append failed",
				slog.String("type", evt.Type),
				slog.String("market", evt.Market),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.deps.Audit != nil {
		var detail map[string]any
		if err := json.Unmarshal(payload, &detail); err == nil {
			if err := e.deps.Audit.Log(ctx, evt.Type, detail); err != nil {
				e.logger.WarnContext(ctx, "audit log failed",
					slog.String("type", evt.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
