package engine

import (
	"math/bits"

	"github.com/updownbet/updown/internal/domain"
)

// Settle computes the outcome of one bet against a closed round. It is a pure
// function: it never mutates state and may be called any number of times.
//
// Winner rule: close above lock pays bull, close below lock pays bear, close
// equal to lock is a tie and refunds the bet in full with no fee. For a
// winning bet the payout is the bet's proportional share of the total pool,
// floor-divided, minus the fee (also floor-divided). Rounding loss therefore
// stays inside the pool; aggregate payouts can never exceed it.
func Settle(round domain.Round, bet domain.Bet, feeBps uint64) (domain.Outcome, error) {
	if round.Phase != domain.PhaseClosed {
		return domain.Outcome{}, domain.ErrRoundNotClosed
	}

	winner, ok := round.Winner()
	if !ok {
		return domain.Outcome{
			Tie:   true,
			Gross: bet.Amount,
			Net:   bet.Amount,
		}, nil
	}

	if bet.Side != winner {
		return domain.Outcome{}, domain.ErrNotAWinner
	}

	winningPool := round.BullTotal
	if winner == domain.SideBear {
		winningPool = round.BearTotal
	}
	// Defensive: a winning bet implies a non-empty winning pool under the
	// ledger's conservation invariant, but fail closed rather than divide by
	// zero.
	if winningPool == 0 {
		return domain.Outcome{}, domain.ErrNoWinningPool
	}

	gross := mulDiv(round.TotalPool(), bet.Amount, winningPool)
	fee := mulDiv(gross, feeBps, domain.BasisPoints)
	return domain.Outcome{
		Winner: winner,
		Gross:  gross,
		Fee:    fee,
		Net:    gross - fee,
	}, nil
}

// mulDiv returns floor(a*b/div) using 128-bit intermediate arithmetic so pool
// sizes near the uint64 ceiling do not overflow. Callers guarantee the
// quotient itself fits in a uint64 (b <= div in both call sites).
func mulDiv(a, b, div uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, div)
	return q
}
