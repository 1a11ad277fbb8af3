package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownbet/updown/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL. It also owns the
// market_pointers table holding each market's current round id.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a new RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundCols = `market, id, phase, start_time, lock_time, close_time,
	lock_price, close_price, bull_total, bear_total, price_fetched`

// Upsert inserts or updates a round.
func (s *RoundStore) Upsert(ctx context.Context, r domain.Round) error {
	const query = `
		INSERT INTO rounds (
			market, id, phase, start_time, lock_time, close_time,
			lock_price, close_price, bull_total, bear_total, price_fetched
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (market, id) DO UPDATE SET
			phase         = EXCLUDED.phase,
			lock_price    = EXCLUDED.lock_price,
			close_price   = EXCLUDED.close_price,
			bull_total    = EXCLUDED.bull_total,
			bear_total    = EXCLUDED.bear_total,
			price_fetched = EXCLUDED.price_fetched`

	_, err := s.pool.Exec(ctx, query,
		r.Market, r.ID, string(r.Phase),
		r.StartTime, r.LockTime, r.CloseTime,
		r.LockPrice, r.ClosePrice,
		int64(r.BullTotal), int64(r.BearTotal),
		r.PriceFetched,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert round %s/%d: %w", r.Market, r.ID, err)
	}
	return nil
}

// scanRound scans a single round row into a domain.Round.
func scanRound(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	var phase string
	var bull, bear int64
	err := row.Scan(
		&r.Market, &r.ID, &phase,
		&r.StartTime, &r.LockTime, &r.CloseTime,
		&r.LockPrice, &r.ClosePrice,
		&bull, &bear,
		&r.PriceFetched,
	)
	if err != nil {
		return domain.Round{}, err
	}
	r.Phase = domain.Phase(phase)
	r.BullTotal = uint64(bull)
	r.BearTotal = uint64(bear)
	return r, nil
}

// Get retrieves a round by its composite key.
func (s *RoundStore) Get(ctx context.Context, market string, id int64) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundCols+` FROM rounds WHERE market = $1 AND id = $2`, market, id)
	r, err := scanRound(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: get round %s/%d: %w", market, id, err)
	}
	return r, nil
}

// ListByMarket returns a market's rounds, newest first, with pagination and
// optional time filtering on start_time.
func (s *RoundStore) ListByMarket(ctx context.Context, market string, opts domain.ListOpts) ([]domain.Round, error) {
	query := `SELECT ` + roundCols + ` FROM rounds WHERE market = $1`
	args := []any{market}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND start_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND start_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id DESC"

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
		return nil, fmt.Errorf("postgres: list rounds %s: %w", market, err)
	}
	defer rows.Close()

	return collectRounds(rows)
}

// ListClosedBefore returns closed rounds across all markets whose close time
// is strictly before the cutoff.
func (s *RoundStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundCols+` FROM rounds
		 WHERE phase = 'closed' AND close_time < $1
		 ORDER BY market, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed rounds before %s: %w", before, err)
	}
	defer rows.Close()

	return collectRounds(rows)
}

func collectRounds(rows pgx.Rows) ([]domain.Round, error) {
	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: round rows: %w", err)
	}
	return rounds, nil
}

// CurrentRound returns the market pointer.
func (s *RoundStore) CurrentRound(ctx context.Context, market string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT current_round FROM market_pointers WHERE market = $1`, market).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: current round %s: %w", market, err)
	}
	return id, nil
}

// SetCurrentRound advances the market pointer.
func (s *RoundStore) SetCurrentRound(ctx context.Context, market string, id int64) error {
	const query = `
		INSERT INTO market_pointers (market, current_round) VALUES ($1, $2)
		ON CONFLICT (market) DO UPDATE SET current_round = EXCLUDED.current_round`
	if _, err := s.pool.Exec(ctx, query, market, id); err != nil {
		return fmt.Errorf("postgres: set current round %s=%d: %w", market, id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
