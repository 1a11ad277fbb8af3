package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/updownbet/updown/internal/domain"
)

// Read-only queries. All serve from the in-memory aggregate, which is the
// authoritative state; the read-side aggregator uses these plus the signal
// bus for push updates.

// RoundSnapshot returns the full record of one round.
func (e *Engine) RoundSnapshot(ctx context.Context, market string, roundID int64) (domain.Round, error) {
	ms, err := e.market(market)
	if err != nil {
		return domain.Round{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[roundID]
	if !ok {
		return domain.Round{}, fmt.Errorf("engine: round %s/%d: %w", market, roundID, domain.ErrNotFound)
	}
	return rs.round, nil
}

// CurrentRound returns the round at the market pointer.
func (e *Engine) CurrentRound(ctx context.Context, market string) (domain.Round, error) {
	ms, err := e.market(market)
	if err != nil {
		return domain.Round{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[ms.current]
	if !ok {
		return domain.Round{}, fmt.Errorf("engine: current round %s: %w", market, domain.ErrNotFound)
	}
	return rs.round, nil
}

// ListRounds returns a market's rounds, newest first, honouring Limit/Offset.
func (e *Engine) ListRounds(ctx context.Context, market string, opts domain.ListOpts) ([]domain.Round, error) {
	ms, err := e.market(market)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	rounds := make([]domain.Round, 0, len(ms.rounds))
	for _, rs := range ms.rounds {
		rounds = append(rounds, rs.round)
	}
	ms.mu.Unlock()

	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID > rounds[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(rounds) {
			return []domain.Round{}, nil
		}
		rounds = rounds[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(rounds) {
		rounds = rounds[:opts.Limit]
	}
	return rounds, nil
}

// BetOf returns bettor's stake in a round.
func (e *Engine) BetOf(ctx context.Context, market string, roundID int64, bettor string) (domain.Bet, error) {
	ms, err := e.market(market)
	if err != nil {
		return domain.Bet{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[roundID]
	if !ok {
		return domain.Bet{}, fmt.Errorf("engine: bet %s/%d: %w", market, roundID, domain.ErrNotFound)
	}
	bet, ok := rs.bets[bettor]
	if !ok {
		return domain.Bet{}, fmt.Errorf("engine: bet %s/%d/%s: %w", market, roundID, bettor, domain.ErrNotFound)
	}
	return *bet, nil
}

// SideTotals returns the per-side pool totals of a round.
func (e *Engine) SideTotals(ctx context.Context, market string, roundID int64) (bull, bear uint64, err error) {
	round, err := e.RoundSnapshot(ctx, market, roundID)
	if err != nil {
		return 0, 0, err
	}
	return round.BullTotal, round.BearTotal, nil
}

// CurrentPrice returns the latest oracle reading for a market, serving from
// the price cache when possible and falling through to the live feed.
func (e *Engine) CurrentPrice(ctx context.Context, market string) (domain.Quote, error) {
	ms, err := e.market(market)
	if err != nil {
		return domain.Quote{}, err
	}

	if e.deps.Prices != nil {
		if quote, err := e.deps.Prices.GetQuote(ctx, market); err == nil {
			return quote, nil
		}
	}

	quote, err := e.deps.Oracle.LatestPrice(ctx, ms.symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("engine: current price %s: %w", market, err)
	}
	if !quote.Valid() {
		return domain.Quote{}, fmt.Errorf("engine: current price %s: %w", market, domain.ErrOraclePriceInvalid)
	}

	if e.deps.Prices != nil {
		if cacheErr := e.deps.Prices.SetQuote(ctx, market, quote); cacheErr != nil {
			e.logger.WarnContext(ctx, "price cache backfill failed",
				slog.String("market", market),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return quote, nil
}
