package domain

import "time"

// Bet is a single bettor's stake in one round. At most one bet exists per
// (market, round, bettor); Paid flips false -> true exactly once, when the
// claim processor pays the bettor out.
type Bet struct {
	Market    string    `json:"market"`
	RoundID   int64     `json:"round_id"`
	Bettor    string    `json:"bettor"`
	Side      Side      `json:"side"`
	Amount    uint64    `json:"amount"`
	Paid      bool      `json:"paid"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the result of settling one bet against a closed round.
type Outcome struct {
	// Tie is true when the round closed at exactly the lock price; the bet is
	// refunded in full with no fee.
	Tie bool `json:"tie"`
	// Winner is the winning side for a non-tie round.
	Winner Side `json:"winner,omitempty"`
	// Gross is the proportional share of the total pool before the fee.
	Gross uint64 `json:"gross"`
	// Fee is the treasury cut taken from Gross.
	Fee uint64 `json:"fee"`
	// Net is the amount actually transferred to the bettor (Gross - Fee).
	Net uint64 `json:"net"`
}
