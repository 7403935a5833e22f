package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// OrganizationStore implements domain.OrganizationStore using PostgreSQL.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a new OrganizationStore backed by the given connection pool.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{pool: pool}
}

// List returns every organization ordered by id.
func (s *OrganizationStore) List(ctx context.Context) ([]domain.Organization, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, type, description, initial_price, current_price, updated_at
		FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, &o.Description,
			&o.InitialPrice, &o.CurrentPrice, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan organization row: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// Count returns the number of organizations.
func (s *OrganizationStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count organizations: %w", err)
	}
	return n, nil
}

// Upsert inserts an organization or refreshes its descriptive fields. Prices
// of an existing row are left alone.
func (s *OrganizationStore) Upsert(ctx context.Context, o domain.Organization) error {
	const query = `
		INSERT INTO organizations (id, name, type, description, initial_price, current_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			type        = EXCLUDED.type,
			description = EXCLUDED.description,
			updated_at  = NOW()`
	if _, err := s.pool.Exec(ctx, query,
		o.ID, o.Name, o.Type, o.Description, o.InitialPrice, o.CurrentPrice,
	); err != nil {
		return fmt.Errorf("postgres: upsert organization %s: %w", o.ID, err)
	}
	return nil
}

// UpdatePrice writes the new current price and appends the history row in
// one transaction.
func (s *OrganizationStore) UpdatePrice(ctx context.Context, p domain.PricePoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin price update %s: %w", p.OrganizationID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE organizations SET current_price = $2, updated_at = $3 WHERE id = $1`,
		p.OrganizationID, p.Price, p.RecordedAt)
	if err != nil {
		return fmt.Errorf("postgres: update price %s: %w", p.OrganizationID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO price_history (organization_id, price, change, change_percent, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.OrganizationID, p.Price, p.Change, p.ChangePercent, p.RecordedAt,
	); err != nil {
		return fmt.Errorf("postgres: append price history %s: %w", p.OrganizationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit price update %s: %w", p.OrganizationID, err)
	}
	return nil
}

// PriceHistory returns up to limit history points, newest first.
func (s *OrganizationStore) PriceHistory(ctx context.Context, orgID string, limit int) ([]domain.PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT organization_id, price, change, change_percent, recorded_at
		FROM price_history WHERE organization_id = $1
		ORDER BY recorded_at DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: price history %s: %w", orgID, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.OrganizationID, &p.Price, &p.Change, &p.ChangePercent, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

var _ domain.OrganizationStore = (*OrganizationStore)(nil)
