package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownbet/updown/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `market, round_id, bettor, side, amount, paid, created_at`

// Insert records a new stake. The primary key enforces at most one bet per
// (market, round, bettor).
func (s *BetStore) Insert(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (market, round_id, bettor, side, amount, paid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		b.Market, b.RoundID, b.Bettor,
		string(b.Side), int64(b.Amount), b.Paid, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s/%d/%s: %w", b.Market, b.RoundID, b.Bettor, err)
	}
	return nil
}

// SetPaid updates the paid flag of one bet.
func (s *BetStore) SetPaid(ctx context.Context, market string, roundID int64, bettor string, paid bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET paid = $4 WHERE market = $1 AND round_id = $2 AND bettor = $3`,
		market, roundID, bettor, paid)
	if err != nil {
		return fmt.Errorf("postgres: set paid %s/%d/%s: %w", market, roundID, bettor, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var b domain.Bet
	var side string
	var amount int64
	err := row.Scan(&b.Market, &b.RoundID, &b.Bettor, &side, &amount, &b.Paid, &b.CreatedAt)
	if err != nil {
		return domain.Bet{}, err
	}
	b.Side = domain.Side(side)
	b.Amount = uint64(amount)
	return b, nil
}

// Get retrieves one bet by its composite key.
func (s *BetStore) Get(ctx context.Context, market string, roundID int64, bettor string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE market = $1 AND round_id = $2 AND bettor = $3`,
		market, roundID, bettor)
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s/%d/%s: %w", market, roundID, bettor, err)
	}
	return b, nil
}

// ListByRound returns every bet recorded against one round.
func (s *BetStore) ListByRound(ctx context.Context, market string, roundID int64) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE market = $1 AND round_id = $2 ORDER BY created_at`,
		market, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s/%d: %w", market, roundID, err)
	}
	defer rows.Close()

	return collectBets(rows)
}

// ListByBettor returns a bettor's stake history, newest first.
func (s *BetStore) ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE bettor = $1 ORDER BY created_at DESC`
	args := []any{bettor}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", bettor, err)
	}
	defer rows.Close()

	return collectBets(rows)
}

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
