package engine

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
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeOracle struct {
	mu    sync.Mutex
	quote domain.Quote
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
	return o.quote, nil
}

func (o *fakeOracle) setPrice(price int64, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = nil
	o.quote = domain.Quote{Price: price, ObservedAt: at}
}

type fakeTreasury struct {
	mu       sync.Mutex
	balances map[string]uint64
	failNext bool
}

func newFakeTreasury() *fakeTreasury {
	return &fakeTreasury{balances: make(map[string]uint64)}
}

func (ft *fakeTreasury) checkFail() error {
	if ft.failNext {
		ft.failNext = false
		return errors.New("treasury unavailable")
	}
	return nil
}

func (ft *fakeTreasury) Transfer(ctx context.Context, from, to string, amount uint64) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if err := ft.checkFail(); err != nil {
		return err
	}
	if ft.balances[from] < amount {
		return domain.ErrInsufficientFunds
	}
	ft.balances[from] -= amount
	ft.balances[to] += amount
	return nil
}

func (ft *fakeTreasury) PayoutWithFee(ctx context.Context, pool, winner, feeSink string, net, fee uint64) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if err := ft.checkFail(); err != nil {
		return err
	}
	if ft.balances[pool] < net+fee {
		return domain.ErrInsufficientFunds
	}
	ft.balances[pool] -= net + fee
	ft.balances[winner] += net
	ft.balances[feeSink] += fee
	return nil
}

func (ft *fakeTreasury) Deposit(ctx context.Context, account string, amount uint64) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.balances[account] += amount
	return nil
}

func (ft *fakeTreasury) Balance(ctx context.Context, account string) (uint64, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.balances[account], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const (
	testBetWindow  = 5 * time.Minute
	testLiveWindow = 5 * time.Minute
	testMinStake   = 1_000
)

func newTestEngine(t *testing.T, oracle *fakeOracle, treasury *fakeTreasury) (*Engine, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	eng := New(Config{
		BetWindow:  testBetWindow,
		LiveWindow: testLiveWindow,
		MinStake:   testMinStake,
		FeeBps:     300,
		Clock:      clock.Now,
	}, Deps{
		Treasury: treasury,
		Oracle:   oracle,
	}, slog.New(slog.DiscardHandler))

	eng.AddMarket("BTC", "BTCUSDT")
	require.NoError(t, eng.Bootstrap(context.Background()))
	return eng, clock
}

func fund(t *testing.T, treasury *fakeTreasury, account string, amount uint64) {
	t.Helper()
	require.NoError(t, treasury.Deposit(context.Background(), account, amount))
}

// ---------------------------------------------------------------------------
// PlaceStake
// ---------------------------------------------------------------------------

func TestPlaceStake_AccumulatesSideTotals(t *testing.T) {
	ctx := context.Background()
	treasury := newFakeTreasury()
	eng, _ := newTestEngine(t, &fakeOracle{}, treasury)

	fund(t, treasury, "alice", 10_000)
	fund(t, treasury, "bob", 10_000)
	fund(t, treasury, "carol", 10_000)

	_, err := eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 4_000)
	require.NoError(t, err)
	_, err = eng.PlaceStake(ctx, "BTC", "bob", domain.SideBull, 2_000)
	require.NoError(t, err)
	_, err = eng.PlaceStake(ctx, "BTC", "carol", domain.SideBear, 5_000)
	require.NoError(t, err)

	bull, bear, err := eng.SideTotals(ctx, "BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(6_000), bull)
	assert.Equal(t, uint64(5_000), bear)

	// Conservation: the pool escrow holds exactly the sum of all stakes.
	escrow, err := treasury.Balance(ctx, PoolAccount("BTC"))
	require.NoError(t, err)
	assert.Equal(t, bull+bear, escrow)

	aliceBal, _ := treasury.Balance(ctx, "alice")
	assert.Equal(t, uint64(6_000), aliceBal)
}

func TestPlaceStake_SecondStakeAlwaysRejected(t *testing.T) {
	ctx := context.Background()
	treasury := newFakeTreasury()
	eng, _ := newTestEngine(t, &fakeOracle{}, treasury)
	fund(t, treasury, "alice", 100_000)

	_, err := eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 2_000)
	require.NoError(t, err)

	// Same side, other side, different amount: all rejected.
	_, err = eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 2_000)
	assert.ErrorIs(t, err, domain.ErrAlreadyStaked)
	_, err = eng.PlaceStake(ctx, "BTC", "alice", domain.SideBear, 9_000)
	assert.ErrorIs(t, err, domain.ErrAlreadyStaked)

	bull, bear, err := eng.SideTotals(ctx, "BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), bull+bear)
}

func TestPlaceStake_BelowMinimum(t *testing.T) {
	ctx := context.Background()
	treasury := newFakeTreasury()
	eng, _ := newTestEngine(t, &fakeOracle{}, treasury)
	fund(t, treasury, "alice", 10_000)

	_, err := eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, testMinStake-1)
	assert.ErrorIs(t, err, domain.ErrStakeTooSmall)
	_, err = eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 0)
	assert.ErrorIs(t, err, domain.ErrStakeTooSmall)

	bal, _ := treasury.Balance(ctx, "alice")
	assert.Equal(t, uint64(10_000), bal)
}

func TestPlaceStake_AfterLockTimeRejectedOnWallClock(t *testing.T) {
	// The lock time has passed but the keeper has not run Lock yet: the round
	// phase is still Open, so the rejection must come from the clock, not the
	// phase field.
	ctx := context.Background()
	treasury := newFakeTreasury()
	eng, clock := newTestEngine(t, &fakeOracle{}, treasury)
	fund(t, treasury, "alice", 10_000)

	clock.Advance(testBetWindow)

	round, err := eng.CurrentRound(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseOpen, round.Phase)

	_, err = eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 2_000)
	assert.ErrorIs(t, err, domain.ErrRoundLocked)

	bal, _ := treasury.Balance(ctx, "alice")
	assert.Equal(t, uint64(10_000), bal)
}

func TestPlaceStake_InsufficientFundsHasNoEffect(t *testing.T) {
	ctx := context.Background()
	treasury := newFakeTreasury()
	eng, _ := newTestEngine(t, &fakeOracle{}, treasury)
	fund(t, treasury, "alice", 1_500)

	_, err := eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 2_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bull, bear, err := eng.SideTotals(ctx, "BTC", 1)
	require.NoError(t, err)
	assert.Zero(t, bull+bear)

	// A later, affordable stake still goes through.
	_, err = eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 1_200)
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Lock / Close / CreateNext
// ---------------------------------------------------------------------------

func TestLock_TooEarly(t *testing.T) {
	oracle := &fakeOracle{}
	eng, _ := newTestEngine(t, oracle, newFakeTreasury())

	err := eng.Lock(context.Background(), "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrTooEarly)
	assert.Zero(t, oracle.calls)
}

func TestLock_TransitionsAndChainsSuccessor(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	eng, clock := newTestEngine(t, oracle, newFakeTreasury())

	clock.Advance(testBetWindow)
	oracle.setPrice(42_000_00, clock.Now())

	require.NoError(t, eng.Lock(ctx, "BTC", 1))

	locked, err := eng.RoundSnapshot(ctx, "BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLocked, locked.Phase)
	assert.Equal(t, int64(42_000_00), locked.LockPrice)

	// The successor opened at the market pointer with timestamps from "now".
	next, err := eng.CurrentRound(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)
	assert.Equal(t, domain.PhaseOpen, next.Phase)
	assert.Equal(t, clock.Now(), next.StartTime)
	assert.Equal(t, clock.Now().Add(testBetWindow), next.LockTime)
	assert.Equal(t, clock.Now().Add(testBetWindow+testLiveWindow), next.CloseTime)
}

func TestLock_SecondCallIsRejectedWithoutSecondFetch(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	eng, clock := newTestEngine(t, oracle, newFakeTreasury())

	clock.Advance(testBetWindow)
	oracle.setPrice(42_000_00, clock.Now())

	require.NoError(t, eng.Lock(ctx, "BTC", 1))
	err := eng.Lock(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyLocked)

	assert.Equal(t, 1, oracle.calls)

	// The market pointer advanced exactly once.
	current, err := eng.CurrentRound(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.ID)
}

func TestLock_OracleFailureLeavesRoundOpen(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{err: errors.New("feed down")}
	eng, clock := newTestEngine(t, oracle, newFakeTreasury())

	clock.Advance(testBetWindow)

	err := eng.Lock(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrOraclePriceInvalid)

	round, snapErr := eng.RoundSnapshot(ctx, "BTC", 1)
	require.NoError(t, snapErr)
	assert.Equal(t, domain.PhaseOpen, round.Phase)
	assert.Zero(t, round.LockPrice)

	// The keeper retries once the feed recovers.
	oracle.setPrice(42_000_00, clock.Now())
	assert.NoError(t, eng.Lock(ctx, "BTC", 1))
}

func TestLock_RejectsNonPositivePrice(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	eng, clock := newTestEngine(t, oracle, newFakeTreasury())

	clock.Advance(testBetWindow)
	oracle.setPrice(0, clock.Now())

	err := eng.Lock(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrOraclePriceInvalid)

	oracle.quote = domain.Quote{Price: 100, ObservedAt: time.Time{}}
	err = eng.Lock(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrOraclePriceInvalid)
}

func TestClose_LifecycleGuards(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	eng, clock := newTestEngine(t, oracle, newFakeTreasury())

	// Closing an open round skips a phase.
	err := eng.Close(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrRoundNotLocked)

	clock.Advance(testBetWindow)
	oracle.setPrice(42_000_00, clock.Now())
	require.NoError(t, eng.Lock(ctx, "BTC", 1))

	// Locked but before close time.
	err = eng.Close(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrTooEarly)

	clock.Advance(testLiveWindow)
	oracle.setPrice(43_000_00, clock.Now())
	require.NoError(t, eng.Close(ctx, "BTC", 1))

	round, err := eng.RoundSnapshot(ctx, "BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, round.Phase)
	assert.Equal(t, int64(43_000_00), round.ClosePrice)
	assert.True(t, round.PriceFetched)

	// Terminal: a second close is rejected, no second fetch.
	fetches := oracle.calls
	err = eng.Close(ctx, "BTC", 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	assert.Equal(t, fetches, oracle.calls)
}

func TestCreateNext_RequiresClosedCurrentRound(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &fakeOracle{}, newFakeTreasury())

	_, err := eng.CreateNext(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrRoundNotClosed)
}

func TestCreateNext_UnstallsMarket(t *testing.T) {
	// After a long keeper outage a market can be left with its pointer on a
	// closed round and no successor. CreateNext is the fallback that restores
	// an open round.
	ctx := context.Background()
	eng, clock := newTestEngine(t, &fakeOracle{}, newFakeTreasury())

	ms, err := eng.market("BTC")
	require.NoError(t, err)
	ms.mu.Lock()
	ms.rounds[1].round.Phase = domain.PhaseClosed
	ms.rounds[1].round.PriceFetched = true
	ms.mu.Unlock()

	next, err := eng.CreateNext(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)
	assert.Equal(t, domain.PhaseOpen, next.Phase)
	assert.Equal(t, clock.Now(), next.StartTime)

	_, err = eng.CreateNext(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrRoundNotClosed)
}

// ---------------------------------------------------------------------------
// Claim
// ---------------------------------------------------------------------------

// runRound stakes the given bets on round 1, locks at lockPrice, and closes
// at closePrice.
func runRound(t *testing.T, eng *Engine, clock *fakeClock, oracle *fakeOracle, treasury *fakeTreasury,
	bets map[string]domain.Bet, lockPrice, closePrice int64) {
	t.Helper()
	ctx := context.Background()

	for bettor, bet := range bets {
		fund(t, treasury, bettor, bet.Amount)
		_, err := eng.PlaceStake(ctx, "BTC", bettor, bet.Side, bet.Amount)
		require.NoError(t, err)
	}

	clock.Advance(testBetWindow)
	oracle.setPrice(lockPrice, clock.Now())
	require.NoError(t, eng.Lock(ctx, "BTC", 1))

	clock.Advance(testLiveWindow)
	oracle.setPrice(closePrice, clock.Now())
	require.NoError(t, eng.Close(ctx, "BTC", 1))
}

func TestClaim_WinnerPaidOnce(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	treasury := newFakeTreasury()
	eng, clock := newTestEngine(t, oracle, treasury)

	runRound(t, eng, clock, oracle, treasury, map[string]domain.Bet{
		"alice": {Side: domain.SideBull, Amount: 6_000_000},
		"bob":   {Side: domain.SideBear, Amount: 4_000_000},
	}, 100, 150)

	out, err := eng.Claim(ctx, "BTC", 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), out.Gross)
	assert.Equal(t, uint64(300_000), out.Fee)
	assert.Equal(t, uint64(9_700_000), out.Net)

	aliceBal, _ := treasury.Balance(ctx, "alice")
	assert.Equal(t, uint64(9_700_000), aliceBal)
	feeBal, _ := treasury.Balance(ctx, FeeSinkAccount)
	assert.Equal(t, uint64(300_000), feeBal)

	// Idempotence: the second claim pays nothing.
	_, err = eng.Claim(ctx, "BTC", 1, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	aliceBal, _ = treasury.Balance(ctx, "alice")
	assert.Equal(t, uint64(9_700_000), aliceBal)
}

func TestClaim_LoserRejected(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	treasury := newFakeTreasury()
	eng, clock := newTestEngine(t, oracle, treasury)

	runRound(t, eng, clock, oracle, treasury, map[string]domain.Bet{
		"alice": {Side: domain.SideBull, Amount: 6_000_000},
		"bob":   {Side: domain.SideBear, Amount: 4_000_000},
	}, 100, 150)

	_, err := eng.Claim(ctx, "BTC", 1, "bob")
	assert.ErrorIs(t, err, domain.ErrNotAWinner)

	bobBal, _ := treasury.Balance(ctx, "bob")
	assert.Zero(t, bobBal)
}

func TestClaim_TieRefundsEveryBettor(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	treasury := newFakeTreasury()
	eng, clock := newTestEngine(t, oracle, treasury)

	runRound(t, eng, clock, oracle, treasury, map[string]domain.Bet{
		"alice": {Side: domain.SideBull, Amount: 6_000_000},
		"bob":   {Side: domain.SideBear, Amount: 4_000_000},
	}, 150, 150)

	for bettor, staked := range map[string]uint64{"alice": 6_000_000, "bob": 4_000_000} {
		out, err := eng.Claim(ctx, "BTC", 1, bettor)
		require.NoError(t, err)
		assert.True(t, out.Tie)
		assert.Equal(t, staked, out.Net)
		assert.Zero(t, out.Fee)

		bal, _ := treasury.Balance(ctx, bettor)
		assert.Equal(t, staked, bal)
	}

	// No fee was taken and the pool emptied exactly.
	feeBal, _ := treasury.Balance(ctx, FeeSinkAccount)
	assert.Zero(t, feeBal)
	escrow, _ := treasury.Balance(ctx, PoolAccount("BTC"))
	assert.Zero(t, escrow)
}

func TestClaim_BeforeCloseRejected(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	treasury := newFakeTreasury()
	eng, clock := newTestEngine(t, oracle, treasury)

	fund(t, treasury, "alice", 2_000_000)
	_, err := eng.PlaceStake(ctx, "BTC", "alice", domain.SideBull, 2_000_000)
	require.NoError(t, err)

	clock.Advance(testBetWindow)
	oracle.setPrice(100, clock.Now())
	require.NoError(t, eng.Lock(ctx, "BTC", 1))

	_, err = eng.Claim(ctx, "BTC", 1, "alice")
	assert.ErrorIs(t, err, domain.ErrRoundNotClosed)
}

func TestClaim_TransferFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	treasury := newFakeTreasury()
	eng, clock := newTestEngine(t, oracle, treasury)

	runRound(t, eng, clock, oracle, treasury, map[string]domain.Bet{
		"alice": {Side: domain.SideBull, Amount: 6_000_000},
		"bob":   {Side: domain.SideBear, Amount: 4_000_000},
	}, 100, 150)

	treasury.failNext = true
	_, err := eng.Claim(ctx, "BTC", 1, "alice")
	require.Error(t, err)

	// paid stayed false and no funds moved, so the retry pays exactly once.
	bet, err := eng.BetOf(ctx, "BTC", 1, "alice")
	require.NoError(t, err)
	assert.False(t, bet.Paid)
	aliceBal, _ := treasury.Balance(ctx, "alice")
	assert.Zero(t, aliceBal)

	out, err := eng.Claim(ctx, "BTC", 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(9_700_000), out.Net)
}

// ---------------------------------------------------------------------------
// Phase monotonicity
// ---------------------------------------------------------------------------

func TestPhases_NeverMoveBackward(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	eng, clock := newTestEngine(t, oracle, newFakeTreasury())

	clock.Advance(testBetWindow)
	oracle.setPrice(100, clock.Now())
	require.NoError(t, eng.Lock(ctx, "BTC", 1))
	clock.Advance(testLiveWindow)
	require.NoError(t, eng.Close(ctx, "BTC", 1))

	// Every transition against the terminal round is rejected.
	assert.ErrorIs(t, eng.Lock(ctx, "BTC", 1), domain.ErrAlreadyLocked)
	assert.ErrorIs(t, eng.Close(ctx, "BTC", 1), domain.ErrAlreadyClosed)

	round, err := eng.RoundSnapshot(ctx, "BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, round.Phase)
}
