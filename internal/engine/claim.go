package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/updownbet/updown/internal/domain"
)

// Claim settles a bettor's stake in a closed round and pays out winnings (or
// the full refund on a tie). The paid flag is written before funds move;
// should the transfer then fail, the flag is reverted so the whole claim
// fails as one atomic unit and can be retried safely. Losing bettors get
// ErrNotAWinner with no state change; a second claim gets ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, market string, roundID int64, bettor string) (domain.Outcome, error) {
	ms, err := e.market(market)
	if err != nil {
		return domain.Outcome{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rs, ok := ms.rounds[roundID]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("engine: claim %s/%d: %w", market, roundID, domain.ErrNotFound)
	}
	if rs.round.Phase != domain.PhaseClosed {
		return domain.Outcome{}, domain.ErrRoundNotClosed
	}

	bet, ok := rs.bets[bettor]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("engine: claim %s/%d/%s: %w", market, roundID, bettor, domain.ErrNotFound)
	}
	if bet.Paid {
		return domain.Outcome{}, domain.ErrAlreadyClaimed
	}

	outcome, err := Settle(rs.round, *bet, e.cfg.FeeBps)
	if err != nil {
		return domain.Outcome{}, err
	}

	// Write-before-transfer: flip the paid flag (memory and durable state)
	// first so a re-entrant claim cannot pay twice, then move funds. A failed
	// transfer reverts the flag, making the claim retryable.
	bet.Paid = true
	if err := e.persistPaid(ctx, market, roundID, bettor, true); err != nil {
		bet.Paid = false
		return domain.Outcome{}, fmt.Errorf("engine: claim %s/%d/%s: persist: %w", market, roundID, bettor, err)
	}

	if err := e.transferPayout(ctx, market, bettor, outcome); err != nil {
		bet.Paid = false
		if revertErr := e.persistPaid(ctx, market, roundID, bettor, false); revertErr != nil {
			// Durable state now disagrees with the failed transfer; surface
			// loudly so an operator reconciles it.
			e.logger.ErrorContext(ctx, "paid flag revert failed after transfer failure",
				slog.String("market", market),
				slog.Int64("round", roundID),
				slog.String("bettor", bettor),
				slog.String("error", revertErr.Error()),
			)
		}
		return domain.Outcome{}, fmt.Errorf("engine: claim %s/%d/%s: transfer: %w", market, roundID, bettor, err)
	}

	e.logger.InfoContext(ctx, "reward claimed",
		slog.String("market", market),
		slog.Int64("round", roundID),
		slog.String("bettor", bettor),
		slog.Uint64("payout", outcome.Net),
		slog.Uint64("fee", outcome.Fee),
		slog.Bool("tie", outcome.Tie),
	)
	e.publish(ctx, domain.Event{
		Type:      domain.EventRewardClaimed,
		Market:    market,
		RoundID:   roundID,
		Timestamp: e.now(),
		Bettor:    bettor,
		Amount:    bet.Amount,
		Payout:    outcome.Net,
		Fee:       outcome.Fee,
		Tie:       outcome.Tie,
	})
	return outcome, nil
}

func (e *Engine) persistPaid(ctx context.Context, market string, roundID int64, bettor string, paid bool) error {
	if e.deps.Bets == nil {
		return nil
	}
	return e.deps.Bets.SetPaid(ctx, market, roundID, bettor, paid)
}

// transferPayout moves the settled funds out of the market pool. Ties refund
// the stake with no fee; wins pay net to the bettor and fee to the treasury
// sink in one atomic treasury operation.
func (e *Engine) transferPayout(ctx context.Context, market, bettor string, outcome domain.Outcome) error {
	pool := PoolAccount(market)
	if outcome.Tie {
		return e.deps.Treasury.Transfer(ctx, pool, bettor, outcome.Net)
	}
	return e.deps.Treasury.PayoutWithFee(ctx, pool, bettor, FeeSinkAccount, outcome.Net, outcome.Fee)
}
