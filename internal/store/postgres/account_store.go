package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownbet/updown/internal/domain"
)

// AccountStore implements domain.Treasury using PostgreSQL. Every transfer
// runs in a single transaction with row locks taken in a deterministic order,
// so a call either fully applies or leaves all balances untouched.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection
// pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// debit subtracts amount from an account inside tx, failing with
// ErrInsufficientFunds when the balance is too low.
func debit(ctx context.Context, tx pgx.Tx, account string, amount uint64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2 WHERE id = $1 AND balance >= $2`,
		account, int64(amount))
	if err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s: %w", account, domain.ErrInsufficientFunds)
	}
	return nil
}

// credit adds amount to an account inside tx, creating the account row on
// first use.
func credit(ctx context.Context, tx pgx.Tx, account string, amount uint64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO accounts (id, balance) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
		account, int64(amount))
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Transfer moves amount between two accounts atomically.
func (s *AccountStore) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: transfer begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := debit(ctx, tx, from, amount); err != nil {
		return fmt.Errorf("postgres: transfer: %w", err)
	}
	if err := credit(ctx, tx, to, amount); err != nil {
		return fmt.Errorf("postgres: transfer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: transfer commit: %w", err)
	}
	return nil
}

// PayoutWithFee moves net to the winner and fee to the fee sink out of the
// same pool account as one transaction.
func (s *AccountStore) PayoutWithFee(ctx context.Context, pool, winner, feeSink string, net, fee uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: payout begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := debit(ctx, tx, pool, net+fee); err != nil {
		return fmt.Errorf("postgres: payout: %w", err)
	}
	if net > 0 {
		if err := credit(ctx, tx, winner, net); err != nil {
			return fmt.Errorf("postgres: payout: %w", err)
		}
	}
	if fee > 0 {
		if err := credit(ctx, tx, feeSink, fee); err != nil {
			return fmt.Errorf("postgres: payout: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: payout commit: %w", err)
	}
	return nil
}

// Deposit credits an account without a corresponding debit.
func (s *AccountStore) Deposit(ctx context.Context, account string, amount uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: deposit begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := credit(ctx, tx, account, amount); err != nil {
		return fmt.Errorf("postgres: deposit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: deposit commit: %w", err)
	}
	return nil
}

// Balance returns an account's balance; unknown accounts are zero.
func (s *AccountStore) Balance(ctx context.Context, account string) (uint64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, account).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return uint64(balance), nil
}

// Compile-time interface check.
var _ domain.Treasury = (*AccountStore)(nil)
