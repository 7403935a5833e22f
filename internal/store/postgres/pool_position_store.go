package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// PoolPositionStore implements domain.PoolPositionStore using PostgreSQL.
type PoolPositionStore struct {
	pool *pgxpool.Pool
}

// NewPoolPositionStore creates a new PoolPositionStore backed by the given connection pool.
func NewPoolPositionStore(pool *pgxpool.Pool) *PoolPositionStore {
	return &PoolPositionStore{pool: pool}
}

const poolPositionCols = `id, pool_id, ticker, side, size, entry_price, market_type, opened_at, closed_at`

func scanPoolPositionRows(rows pgx.Rows) ([]domain.PoolPosition, error) {
	defer rows.Close()
	var out []domain.PoolPosition
	for rows.Next() {
		var p domain.PoolPosition
		var side string
		if err := rows.Scan(&p.ID, &p.PoolID, &p.Ticker, &side, &p.Size,
			&p.EntryPrice, &p.MarketType, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		p.Side = domain.PerpSide(side)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Open inserts a new open position.
func (s *PoolPositionStore) Open(ctx context.Context, p domain.PoolPosition) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO pool_positions (`+poolPositionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)`,
		p.ID, p.PoolID, p.Ticker, string(p.Side), p.Size, p.EntryPrice, p.MarketType, p.OpenedAt,
	); err != nil {
		return fmt.Errorf("postgres: open pool position %s: %w", p.ID, err)
	}
	return nil
}

// ListOpen returns all open positions across every pool.
func (s *PoolPositionStore) ListOpen(ctx context.Context) ([]domain.PoolPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolPositionCols+` FROM pool_positions WHERE closed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open pool positions: %w", err)
	}
	out, err := scanPoolPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pool positions: %w", err)
	}
	return out, nil
}

// ListOpenByPool returns the open positions of one pool.
func (s *PoolPositionStore) ListOpenByPool(ctx context.Context, poolID string) ([]domain.PoolPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolPositionCols+` FROM pool_positions
		 WHERE closed_at IS NULL AND pool_id = $1 ORDER BY opened_at`, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open pool positions %s: %w", poolID, err)
	}
	out, err := scanPoolPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pool positions %s: %w", poolID, err)
	}
	return out, nil
}

// Close marks every open position of the pool on ticker as closed and returns
// the rows it closed.
func (s *PoolPositionStore) Close(ctx context.Context, poolID, ticker string, at time.Time) ([]domain.PoolPosition, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE pool_positions SET closed_at = $3
		WHERE pool_id = $1 AND ticker = $2 AND closed_at IS NULL
		RETURNING `+poolPositionCols, poolID, ticker, at)
	if err != nil {
		return nil, fmt.Errorf("postgres: close pool positions %s/%s: %w", poolID, ticker, err)
	}
	out, err := scanPoolPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed pool positions: %w", err)
	}
	return out, nil
}

var _ domain.PoolPositionStore = (*PoolPositionStore)(nil)
