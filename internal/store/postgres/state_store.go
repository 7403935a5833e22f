package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// WidgetStore implements domain.WidgetStore using PostgreSQL.
type WidgetStore struct {
	pool *pgxpool.Pool
}

// NewWidgetStore creates a new WidgetStore backed by the given connection pool.
func NewWidgetStore(pool *pgxpool.Pool) *WidgetStore {
	return &WidgetStore{pool: pool}
}

// Upsert overwrites the cached blob for w.Widget.
func (s *WidgetStore) Upsert(ctx context.Context, w domain.WidgetCache) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO widget_caches (widget, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (widget) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		w.Widget, w.Data, w.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert widget %s: %w", w.Widget, err)
	}
	return nil
}

// Get returns the cached blob for widget.
func (s *WidgetStore) Get(ctx context.Context, widget string) (domain.WidgetCache, error) {
	w := domain.WidgetCache{Widget: widget}
	err := s.pool.QueryRow(ctx,
		`SELECT data, updated_at FROM widget_caches WHERE widget = $1`, widget,
	).Scan(&w.Data, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WidgetCache{}, domain.ErrNotFound
		}
		return domain.WidgetCache{}, fmt.Errorf("postgres: get widget %s: %w", widget, err)
	}
	return w, nil
}

// StateStore implements domain.StateStore using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// GetTime returns the timestamp stored under key.
func (s *StateStore) GetTime(ctx context.Context, key string) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_state WHERE key = $1`, key).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("postgres: get state %s: %w", key, err)
	}
	return t, nil
}

// SetTime stores t under key.
func (s *StateStore) SetTime(ctx context.Context, key string, t time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, t,
	); err != nil {
		return fmt.Errorf("postgres: set state %s: %w", key, err)
	}
	return nil
}

var (
	_ domain.WidgetStore = (*WidgetStore)(nil)
	_ domain.StateStore  = (*StateStore)(nil)
)
