// Package domain defines the core entities of the prediction-round engine and
// the interfaces its collaborators must implement.
package domain

import "time"

// Phase represents the lifecycle state of a round. Phases only move forward:
// Open -> Locked -> Closed.
type Phase string

const (
	PhaseOpen   Phase = "open"
	PhaseLocked Phase = "locked"
	PhaseClosed Phase = "closed"
)

// Side is the binary outcome a bettor stakes on.
type Side string

const (
	SideBull Side = "bull" // price rises
	SideBear Side = "bear" // price falls
)

// Valid reports whether s is one of the two recognised sides.
func (s Side) Valid() bool {
	return s == SideBull || s == SideBear
}

// BasisPoints is the denominator for fee calculations.
const BasisPoints = 10000

// Round is one bounded betting-and-resolution cycle of a market. Amounts are
// unsigned integer micro-units; prices are signed integer minor units from the
// price oracle. LockPrice and ClosePrice are zero until sampled (the oracle
// contract guarantees accepted prices are strictly positive).
type Round struct {
	Market       string    `json:"market"`
	ID           int64     `json:"id"`
	Phase        Phase     `json:"phase"`
	StartTime    time.Time `json:"start_time"`
	LockTime     time.Time `json:"lock_time"`
	CloseTime    time.Time `json:"close_time"`
	LockPrice    int64     `json:"lock_price"`
	ClosePrice   int64     `json:"close_price"`
	BullTotal    uint64    `json:"bull_total"`
	BearTotal    uint64    `json:"bear_total"`
	PriceFetched bool      `json:"price_fetched"`
}

// TotalPool returns the combined stake on both sides.
func (r Round) TotalPool() uint64 {
	return r.BullTotal + r.BearTotal
}

// Winner returns the winning side of a closed round, or false when the round
// tied (close price equal to lock price). Calling it on a round that has not
// sampled both prices is meaningless; callers check Phase first.
func (r Round) Winner() (Side, bool) {
	switch {
	case r.ClosePrice > r.LockPrice:
		return SideBull, true
	case r.ClosePrice < r.LockPrice:
		return SideBear, true
	default:
		return "", false
	}
}

// Quote is a single price observation from the oracle.
type Quote struct {
	Price      int64     `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Valid reports whether the quote satisfies the oracle contract: a strictly
// positive price with a real observation timestamp.
func (q Quote) Valid() bool {
	return q.Price > 0 && !q.ObservedAt.IsZero() && q.ObservedAt.Unix() > 0
}
