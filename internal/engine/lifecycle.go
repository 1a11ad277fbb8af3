package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/updownbet/updown/internal/domain"
)

// PlaceStake records a stake for bettor on the given side of the market's
// current round. The bettor's account is debited into the market's pool
// escrow before any ledger mutation, so a failed debit leaves no trace.
func (e *Engine) PlaceStake(ctx context.Context, market, bettor string, side domain.Side, amount uint64) (domain.Bet, error) {
	if !side.Valid() {
		return domain.Bet{}, fmt.Errorf("engine: place stake: invalid side %q", side)
	}
	ms, err := e.market(market)
	if err != nil {
		return domain.Bet{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[ms.current]
	if !ok {
		return domain.Bet{}, fmt.Errorf("engine: place stake %s: %w", market, domain.ErrNotFound)
	}
	round := rs.round

	if round.Phase != domain.PhaseOpen {
		return domain.Bet{}, domain.ErrRoundNotOpen
	}
	// Wall-clock check, independent of the phase field: a stake arriving
	// after lock time but before the keeper has run Lock is still rejected.
	now := e.now()
	if !now.Before(round.LockTime) {
		return domain.Bet{}, domain.ErrRoundLocked
	}
	if amount == 0 || amount < e.cfg.MinStake {
		return domain.Bet{}, domain.ErrStakeTooSmall
	}
	if _, exists := rs.bets[bettor]; exists {
		return domain.Bet{}, domain.ErrAlreadyStaked
	}

	if err := e.deps.Treasury.Transfer(ctx, bettor, PoolAccount(market), amount); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place stake %s/%s: debit: %w", market, bettor, err)
	}

	bet := domain.Bet{
		Market:    market,
		RoundID:   round.ID,
		Bettor:    bettor,
		Side:      side,
		Amount:    amount,
		CreatedAt: now,
	}
	rs.bets[bettor] = &bet
	if side == domain.SideBull {
		rs.round.BullTotal += amount
	} else {
		rs.round.BearTotal += amount
	}

	if err := e.persistStake(ctx, rs, bet); err != nil {
		// Roll back the ledger mutation and refund the escrowed stake so the
		// operation has no effect.
		delete(rs.bets, bettor)
		rs.round = round
		if refundErr := e.deps.Treasury.Transfer(ctx, PoolAccount(market), bettor, amount); refundErr != nil {
			e.logger.ErrorContext(ctx, "stake refund after persist failure failed",
				slog.String("market", market),
				slog.String("bettor", bettor),
				slog.Uint64("amount", amount),
				slog.String("error", refundErr.Error()),
			)
		}
		return domain.Bet{}, fmt.Errorf("engine: place stake %s/%s: persist: %w", market, bettor, err)
	}

	e.logger.InfoContext(ctx, "stake placed",
		slog.String("market", market),
		slog.Int64("round", round.ID),
		slog.String("bettor", bettor),
		slog.String("side", string(side)),
		slog.Uint64("amount", amount),
	)
	e.publish(ctx, domain.Event{
		Type:      domain.EventBetPlaced,
		Market:    market,
		RoundID:   round.ID,
		Timestamp: now,
		Bettor:    bettor,
		Side:      side,
		Amount:    amount,
	})
	return bet, nil
}

func (e *Engine) persistStake(ctx context.Context, rs *roundState, bet domain.Bet) error {
	if e.deps.Bets == nil {
		return nil
	}
	if err := e.deps.Bets.Insert(ctx, bet); err != nil {
		return err
	}
	return e.persistRound(ctx, rs.round)
}

// Lock transitions a round Open -> Locked: it samples the oracle, stores the
// lock price, chain-creates the successor round, and advances the market
// pointer. An invalid oracle reading leaves the round Open so the keeper can
// retry.
func (e *Engine) Lock(ctx context.Context, market string, roundID int64) error {
	ms, err := e.market(market)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[roundID]
	if !ok {
		return fmt.Errorf("engine: lock %s/%d: %w", market, roundID, domain.ErrNotFound)
	}
	if rs.round.Phase != domain.PhaseOpen {
		return domain.ErrAlreadyLocked
	}
	now := e.now()
	if now.Before(rs.round.LockTime) {
		return domain.ErrTooEarly
	}

	quote, err := e.fetchPrice(ctx, ms)
	if err != nil {
		return err
	}

	prev := rs.round
	rs.round.LockPrice = quote.Price
	rs.round.Phase = domain.PhaseLocked

	next := e.newRound(market, roundID+1, now)
	nextState := &roundState{round: next, bets: make(map[string]*domain.Bet)}

	if err := e.persistLock(ctx, rs.round, next); err != nil {
		rs.round = prev
		return fmt.Errorf("engine: lock %s/%d: persist: %w", market, roundID, err)
	}

	ms.rounds[next.ID] = nextState
	ms.current = next.ID

	e.logger.InfoContext(ctx, "round locked",
		slog.String("market", market),
		slog.Int64("round", roundID),
		slog.Int64("lock_price", quote.Price),
		slog.Int64("next_round", next.ID),
	)
	e.publish(ctx, domain.Event{
		Type:      domain.EventRoundLocked,
		Market:    market,
		RoundID:   roundID,
		Timestamp: now,
		Price:     quote.Price,
	})
	e.publish(ctx, domain.Event{
		Type:      domain.EventRoundCreated,
		Market:    market,
		RoundID:   next.ID,
		Timestamp: next.StartTime,
	})
	return nil
}

func (e *Engine) persistLock(ctx context.Context, locked, next domain.Round) error {
	if err := e.persistRound(ctx, locked); err != nil {
		return err
	}
	if err := e.persistRound(ctx, next); err != nil {
		return err
	}
	return e.persistPointer(ctx, next.Market, next.ID)
}

// Close transitions a round Locked -> Closed, sampling the close price. The
// round is terminal afterwards; claims become possible.
func (e *Engine) Close(ctx context.Context, market string, roundID int64) error {
	ms, err := e.market(market)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[roundID]
	if !ok {
		return fmt.Errorf("engine: close %s/%d: %w", market, roundID, domain.ErrNotFound)
	}
	switch rs.round.Phase {
	case domain.PhaseClosed:
		return domain.ErrAlreadyClosed
	case domain.PhaseOpen:
		return domain.ErrRoundNotLocked
	}
	now := e.now()
	if now.Before(rs.round.CloseTime) {
		return domain.ErrTooEarly
	}
	if rs.round.PriceFetched {
		return domain.ErrAlreadyClosed
	}

	quote, err := e.fetchPrice(ctx, ms)
	if err != nil {
		return err
	}

	prev := rs.round
	rs.round.ClosePrice = quote.Price
	rs.round.PriceFetched = true
	rs.round.Phase = domain.PhaseClosed

	if err := e.persistRound(ctx, rs.round); err != nil {
		rs.round = prev
		return fmt.Errorf("engine: close %s/%d: persist: %w", market, roundID, err)
	}

	e.logger.InfoContext(ctx, "round closed",
		slog.String("market", market),
		slog.Int64("round", roundID),
		slog.Int64("close_price", quote.Price),
	)
	e.publish(ctx, domain.Event{
		Type:      domain.EventRoundClosed,
		Market:    market,
		RoundID:   roundID,
		Timestamp: now,
		Price:     quote.Price,
	})
	return nil
}

// CreateNext creates the successor round when the current round is Closed and
// no successor exists. Lock normally chain-creates rounds; this is the
// fallback that un-stalls a market after a keeper outage long enough for the
// current round to close without a successor.
func (e *Engine) CreateNext(ctx context.Context, market string) (domain.Round, error) {
	ms, err := e.market(market)
	if err != nil {
		return domain.Round{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[ms.current]
	if !ok {
		return domain.Round{}, fmt.Errorf("engine: create next %s: %w", market, domain.ErrNotFound)
	}
	if rs.round.Phase != domain.PhaseClosed {
		return domain.Round{}, domain.ErrRoundNotClosed
	}
	if _, exists := ms.rounds[ms.current+1]; exists {
		return domain.Round{}, domain.ErrRoundExists
	}

	now := e.now()
	next := e.newRound(market, ms.current+1, now)
	if err := e.persistRound(ctx, next); err != nil {
		return domain.Round{}, fmt.Errorf("engine: create next %s: persist: %w", market, err)
	}
	if err := e.persistPointer(ctx, market, next.ID); err != nil {
		return domain.Round{}, fmt.Errorf("engine: create next %s: pointer: %w", market, err)
	}

	ms.rounds[next.ID] = &roundState{round: next, bets: make(map[string]*domain.Bet)}
	ms.current = next.ID

	e.logger.InfoContext(ctx, "successor round created",
		slog.String("market", market),
		slog.Int64("round", next.ID),
	)
	e.publish(ctx, domain.Event{
		Type:      domain.EventRoundCreated,
		Market:    market,
		RoundID:   next.ID,
		Timestamp: next.StartTime,
	})
	return next, nil
}

// fetchPrice samples the oracle for the market's symbol, validates the
// reading against the oracle contract, and caches it. Any violation surfaces
// as ErrOraclePriceInvalid and the caller leaves the round phase unchanged.
func (e *Engine) fetchPrice(ctx context.Context, ms *marketState) (domain.Quote, error) {
	quote, err := e.deps.Oracle.LatestPrice(ctx, ms.symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%w: %w", domain.ErrOraclePriceInvalid, err)
	}
	if !quote.Valid() {
		return domain.Quote{}, fmt.Errorf("%w: price=%d observed_at=%s",
			domain.ErrOraclePriceInvalid, quote.Price, quote.ObservedAt)
	}

	if e.deps.Prices != nil {
		if err := e.deps.Prices.SetQuote(ctx, ms.market, quote); err != nil {
			e.logger.WarnContext(ctx, "price cache update failed",
				slog.String("market", ms.market),
				slog.String("error", err.Error()),
			)
		}
	}
	return quote, nil
}
