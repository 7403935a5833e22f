package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// ListByMarket returns every holding of the given market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, market_id, side, shares, avg_price, created_at, updated_at
		FROM positions WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side string
		if err := rows.Scan(&p.ID, &p.UserID, &p.MarketID, &side,
			&p.Shares, &p.AvgPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position row: %w", err)
		}
		p.Side = domain.OutcomeSide(side)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// AddShares upserts the (user, market, side) holding, keeping a
// share-weighted average price.
func (s *PositionStore) AddShares(ctx context.Context, userID, marketID string, side domain.OutcomeSide, shares, price float64) error {
	const query = `
		INSERT INTO positions (id, user_id, market_id, side, shares, avg_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id, market_id, side) DO UPDATE SET
			avg_price  = (positions.shares * positions.avg_price + EXCLUDED.shares * EXCLUDED.avg_price)
			             / NULLIF(positions.shares + EXCLUDED.shares, 0),
			shares     = positions.shares + EXCLUDED.shares,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query,
		uuid.NewString(), userID, marketID, string(side), shares, price,
	); err != nil {
		return fmt.Errorf("postgres: add position shares %s/%s: %w", userID, marketID, err)
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
