package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert records one executed trade. Replays of the same id are ignored.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, actor_id, action, ticker, market_id, amount, price, pnl, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.ActorID, string(t.Action), t.Ticker, t.MarketID,
		t.Amount, t.Price, t.PnL, t.ExecutedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// MarketVolumes sums traded amount per prediction market since the given time.
func (s *TradeStore) MarketVolumes(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, SUM(amount) FROM trades
		WHERE market_id <> '' AND executed_at >= $1
		GROUP BY market_id`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: market volumes: %w", err)
	}
	return scanSums(rows)
}

// RealizedPnL sums realized PnL per actor.
func (s *TradeStore) RealizedPnL(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT actor_id, SUM(pnl) FROM trades GROUP BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: realized pnl: %w", err)
	}
	return scanSums(rows)
}

type sumRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func scanSums(rows sumRows) (map[string]float64, error) {
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var key string
		var sum float64
		if err := rows.Scan(&key, &sum); err != nil {
			return nil, fmt.Errorf("postgres: scan sum row: %w", err)
		}
		out[key] = sum
	}
	return out, rows.Err()
}

var _ domain.TradeStore = (*TradeStore)(nil)
