package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Balance returns the owner's balance, or zero when the owner has none.
func (s *BalanceStore) Balance(ctx context.Context, ownerID string) (float64, error) {
	var b float64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM balances WHERE owner_id = $1`, ownerID).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", ownerID, err)
	}
	return b, nil
}

// Debit subtracts amount only when the balance covers it.
func (s *BalanceStore) Debit(ctx context.Context, ownerID string, amount float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balances SET balance = balance - $2, updated_at = NOW()
		WHERE owner_id = $1 AND balance >= $2`, ownerID, amount)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", ownerID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// Credit adds amount, creating the balance row on first use.
func (s *BalanceStore) Credit(ctx context.Context, ownerID string, amount float64) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO balances (owner_id, balance, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			balance = balances.balance + EXCLUDED.balance,
			updated_at = NOW()`, ownerID, amount,
	); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", ownerID, err)
	}
	return nil
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
