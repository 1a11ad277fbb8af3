// Package memory provides in-memory store implementations for running
// without durable infrastructure, used by the development "memory" mode and
// by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/updownbet/updown/internal/domain"
)

// Treasury is an in-memory domain.Treasury. All balance mutations happen
// under one mutex, so every call is atomic.
type Treasury struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewTreasury creates an empty Treasury. Accounts spring into existence with
// a zero balance on first use.
func NewTreasury() *Treasury {
	return &Treasury{balances: make(map[string]uint64)}
}

// Transfer moves amount from one account to another.
func (t *Treasury) Transfer(ctx context.Context, from, to string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[from] < amount {
		return fmt.Errorf("memory: transfer %d from %s: %w", amount, from, domain.ErrInsufficientFunds)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// PayoutWithFee moves net to the winner and fee to the fee sink from the same
// pool account as one atomic unit.
func (t *Treasury) PayoutWithFee(ctx context.Context, pool, winner, feeSink string, net, fee uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := net + fee
	if t.balances[pool] < total {
		return fmt.Errorf("memory: payout %d from %s: %w", total, pool, domain.ErrInsufficientFunds)
	}
	t.balances[pool] -= total
	t.balances[winner] += net
	t.balances[feeSink] += fee
	return nil
}

// Deposit credits an account.
func (t *Treasury) Deposit(ctx context.Context, account string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] += amount
	return nil
}

// Balance returns an account's balance; unknown accounts report zero.
func (t *Treasury) Balance(ctx context.Context, account string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

var _ domain.Treasury = (*Treasury)(nil)
