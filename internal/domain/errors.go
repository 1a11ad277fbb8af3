package domain

import "errors"

// Precondition violations: rejected before any mutation, recoverable by the
// caller once conditions change.
var (
	ErrRoundNotOpen   = errors.New("round is not open")
	ErrRoundLocked    = errors.New("round is past its lock time")
	ErrStakeTooSmall  = errors.New("stake below minimum")
	ErrAlreadyStaked  = errors.New("bettor already staked in this round")
	ErrTooEarly       = errors.New("too early for transition")
	ErrAlreadyLocked  = errors.New("round already locked")
	ErrAlreadyClosed  = errors.New("round already closed")
	ErrRoundNotLocked = errors.New("round is not locked")
	ErrRoundNotClosed = errors.New("round is not closed")
	ErrNotAWinner     = errors.New("bet is not on the winning side")
	ErrAlreadyClaimed = errors.New("reward already claimed")
	ErrRoundExists    = errors.New("successor round already exists")
)

// External dependency and invariant failures.
var (
	ErrOraclePriceInvalid = errors.New("oracle returned an invalid price")
	ErrNoWinningPool      = errors.New("winning pool is empty")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

// Generic storage errors.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
