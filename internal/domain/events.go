package domain

import "time"

// Event types published on the signal bus after every state-changing engine
// operation. Consumers must treat them as hints and re-read authoritative
// state; delivery is best effort.
const (
	EventRoundCreated  = "round_created"
	EventBetPlaced     = "bet_placed"
	EventRoundLocked   = "round_locked"
	EventRoundClosed   = "round_closed"
	EventRewardClaimed = "reward_claimed"
)

// RoundsChannel is the pub/sub channel carrying all engine events.
const RoundsChannel = "rounds"

// RoundsStream returns the durable per-market stream name for engine events.
func RoundsStream(market string) string {
	return "stream:rounds:" + market
}

// Event is the envelope for every engine notification.
type Event struct {
	Type      string    `json:"type"`
	Market    string    `json:"market"`
	RoundID   int64     `json:"round_id"`
	Timestamp time.Time `json:"timestamp"`

	// Set on bet_placed and reward_claimed.
	Bettor string `json:"bettor,omitempty"`
	Side   Side   `json:"side,omitempty"`
	Amount uint64 `json:"amount,omitempty"`

	// Set on round_locked and round_closed.
	Price int64 `json:"price,omitempty"`

	// Set on reward_claimed.
	Payout uint64 `json:"payout,omitempty"`
	Fee    uint64 `json:"fee,omitempty"`
	Tie    bool   `json:"tie,omitempty"`
}
