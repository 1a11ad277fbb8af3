package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RoundStore persists rounds and the per-market current-round pointer.
type RoundStore interface {
	Upsert(ctx context.Context, round Round) error
	Get(ctx context.Context, market string, id int64) (Round, error)
	ListByMarket(ctx context.Context, market string, opts ListOpts) ([]Round, error)
	// ListClosedBefore returns closed rounds whose close time is strictly
	// before the cutoff, for archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Round, error)
	CurrentRound(ctx context.Context, market string) (int64, error)
	SetCurrentRound(ctx context.Context, market string, id int64) error
}

// BetStore persists individual stakes.
type BetStore interface {
	Insert(ctx context.Context, bet Bet) error
	SetPaid(ctx context.Context, market string, roundID int64, bettor string, paid bool) error
	Get(ctx context.Context, market string, roundID int64, bettor string) (Bet, error)
	ListByRound(ctx context.Context, market string, roundID int64) ([]Bet, error)
	ListByBettor(ctx context.Context, bettor string, opts ListOpts) ([]Bet, error)
}

// Treasury is the atomic value-transfer primitive. Implementations guarantee
// each call either fully applies or leaves all balances untouched.
type Treasury interface {
	// Transfer moves amount from one account to another, failing with
	// ErrInsufficientFunds when the source balance is too low.
	Transfer(ctx context.Context, from, to string, amount uint64) error
	// PayoutWithFee moves net to the winner and fee to the fee sink from the
	// same pool account as a single atomic unit.
	PayoutWithFee(ctx context.Context, pool, winner, feeSink string, net, fee uint64) error
	// Deposit credits an account out of thin air (top-ups, faucets).
	Deposit(ctx context.Context, account string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
}

// PriceOracle supplies the external price reference for a market symbol.
type PriceOracle interface {
	LatestPrice(ctx context.Context, symbol string) (Quote, error)
}

// PriceCache stores the most recent accepted oracle reading per market.
type PriceCache interface {
	SetQuote(ctx context.Context, market string, q Quote) error
	GetQuote(ctx context.Context, market string) (Quote, error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub messaging for ephemeral delivery and append-only
// streams for durable, ordered delivery. The read-side aggregator and the
// websocket hub consume it; the engine never depends on it for correctness.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed mutual exclusion so only one keeper
// instance drives a market's transitions at a time.
type LockManager interface {
	// Acquire obtains the lock or fails with ErrLockHeld. The returned
	// function releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver exports settled history to cold storage.
type Archiver interface {
	// ArchiveRounds exports closed rounds (and their bets) older than the
	// cutoff and returns the number of rounds archived.
	ArchiveRounds(ctx context.Context, before time.Time) (int, error)
}
