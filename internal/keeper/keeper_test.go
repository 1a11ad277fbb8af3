package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownbet/updown/internal/domain"
	"github.com/updownbet/updown/internal/engine"
)

type fakeOracle struct {
	mu    sync.Mutex
	price int64
	err   error
	calls int
}

func (o *fakeOracle) LatestPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return domain.Quote{}, o.err
	}
	return domain.Quote{Price: o.price, ObservedAt: time.Now()}, nil
}

func (o *fakeOracle) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeLocks struct {
	held     bool
	acquires int
}

func (l *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.acquires++
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeArchiver) ArchiveRounds(ctx context.Context, before time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return 1, nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

const testMarket = "BTC-USD"

func newTestKeeper(t *testing.T, cfg Config) (*Keeper, *engine.Engine, *fakeOracle, *fakeClock) {
	t.Helper()

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	oracle := &fakeOracle{price: 100_000}
	logger := slog.New(slog.DiscardHandler)

	eng := engine.New(engine.Config{
		BetWindow:  5 * time.Minute,
		LiveWindow: 5 * time.Minute,
		MinStake:   1000,
		FeeBps:     300,
		Clock:      clock.Now,
	}, engine.Deps{Oracle: oracle}, logger)
	eng.AddMarket(testMarket, "BTCUSDT")
	require.NoError(t, eng.Bootstrap(context.Background()))

	cfg.Clock = clock.Now
	k := New(eng, nil, nil, nil, cfg, logger)
	return k, eng, oracle, clock
}

func TestStep_NothingDue(t *testing.T) {
	k, eng, oracle, _ := newTestKeeper(t, Config{})
	ctx := context.Background()

	require.NoError(t, k.Step(ctx, testMarket))

	round, err := eng.CurrentRound(ctx, testMarket)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOpen, round.Phase)
	assert.Equal(t, int64(1), round.ID)
	assert.Equal(t, 0, oracle.calls)
}

func TestStep_LocksWhenDue(t *testing.T) {
	k, eng, _, clock := newTestKeeper(t, Config{})
	ctx := context.Background()

	clock.Advance(5 * time.Minute)
	require.NoError(t, k.Step(ctx, testMarket))

	locked, err := eng.RoundSnapshot(ctx, testMarket, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLocked, locked.Phase)

	current, err := eng.CurrentRound(ctx, testMarket)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.ID)
	assert.Equal(t, domain.PhaseOpen, current.Phase)
}

func TestStep_ClosesPredecessorWhenDue(t *testing.T) {
	k, eng, _, clock := newTestKeeper(t, Config{})
	ctx := context.Background()

	clock.Advance(5 * time.Minute)
	require.NoError(t, k.Step(ctx, testMarket))

	// Round 1 closes at start+10m, which is also round 2's lock time. One
	// step handles both transitions.
	clock.Advance(5 * time.Minute)
	require.NoError(t, k.Step(ctx, testMarket))

	closed, err := eng.RoundSnapshot(ctx, testMarket, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, closed.Phase)

	second, err := eng.RoundSnapshot(ctx, testMarket, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLocked, second.Phase)

	current, err := eng.CurrentRound(ctx, testMarket)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current.ID)
}

func TestStep_IsIdempotent(t *testing.T) {
	k, _, oracle, clock := newTestKeeper(t, Config{})
	ctx := context.Background()

	clock.Advance(5 * time.Minute)
	require.NoError(t, k.Step(ctx, testMarket))
	fetches := oracle.calls

	// A second step in the same state must not re-lock or re-fetch.
	require.NoError(t, k.Step(ctx, testMarket))
	assert.Equal(t, fetches, oracle.calls)
}

func TestStep_OracleFailureRetriedNextTick(t *testing.T) {
	k, eng, oracle, clock := newTestKeeper(t, Config{})
	ctx := context.Background()

	oracle.setErr(errors.New("feed down"))
	clock.Advance(5 * time.Minute)

	// Oracle failures are logged, not fatal; the round stays open.
	require.NoError(t, k.Step(ctx, testMarket))
	round, err := eng.CurrentRound(ctx, testMarket)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOpen, round.Phase)

	oracle.setErr(nil)
	require.NoError(t, k.Step(ctx, testMarket))
	round, err = eng.RoundSnapshot(ctx, testMarket, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLocked, round.Phase)
}

func TestTickMarket_SkipsWhenLockHeld(t *testing.T) {
	k, eng, _, clock := newTestKeeper(t, Config{})
	locks := &fakeLocks{held: true}
	k.locks = locks
	ctx := context.Background()

	clock.Advance(5 * time.Minute)
	k.tickMarket(ctx, testMarket)

	assert.Equal(t, 1, locks.acquires)
	round, err := eng.CurrentRound(ctx, testMarket)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseOpen, round.Phase, "held lock must prevent transitions")

	locks.held = false
	k.tickMarket(ctx, testMarket)
	round, err = eng.RoundSnapshot(ctx, testMarket, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLocked, round.Phase)
}

func TestRun_DrivesTransitionsAndArchiver(t *testing.T) {
	k, eng, _, clock := newTestKeeper(t, Config{
		Tick:         5 * time.Millisecond,
		ArchiveEvery: 5 * time.Millisecond,
		Retention:    time.Hour,
	})
	archiver := &fakeArchiver{}
	k.archiver = archiver

	clock.Advance(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, k.Run(ctx))

	round, err := eng.RoundSnapshot(context.Background(), testMarket, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLocked, round.Phase)
	assert.Greater(t, archiver.count(), 0)
}
