package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// ActorStore implements domain.ActorStore using PostgreSQL. Balances live in
// the balances table and are joined in on read.
type ActorStore struct {
	pool *pgxpool.Pool
}

// NewActorStore creates a new ActorStore backed by the given connection pool.
func NewActorStore(pool *pgxpool.Pool) *ActorStore {
	return &ActorStore{pool: pool}
}

const actorSelect = `
	SELECT a.id, a.name, a.role, a.persona, COALESCE(b.balance, 0),
		a.reputation, a.alpha, a.group_id, a.created_at
	FROM actors a LEFT JOIN balances b ON b.owner_id = a.id`

func scanActor(row pgx.Row) (domain.Actor, error) {
	var a domain.Actor
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Persona, &a.Balance,
		&a.Reputation, &a.Alpha, &a.GroupID, &a.CreatedAt)
	return a, err
}

// List returns every actor ordered by id.
func (s *ActorStore) List(ctx context.Context) ([]domain.Actor, error) {
	rows, err := s.pool.Query(ctx, actorSelect+` ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actors: %w", err)
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan actor row: %w", err)
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

// Get retrieves one actor by id.
func (s *ActorStore) Get(ctx context.Context, id string) (domain.Actor, error) {
	a, err := scanActor(s.pool.QueryRow(ctx, actorSelect+` WHERE a.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Actor{}, domain.ErrNotFound
		}
		return domain.Actor{}, fmt.Errorf("postgres: get actor %s: %w", id, err)
	}
	return a, nil
}

// Count returns the number of actors.
func (s *ActorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM actors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count actors: %w", err)
	}
	return n, nil
}

// Upsert inserts an actor and seeds its balance. An existing balance is never
// reset.
func (s *ActorStore) Upsert(ctx context.Context, a domain.Actor) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert actor %s: %w", a.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO actors (id, name, role, persona, reputation, alpha, group_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name    = EXCLUDED.name,
			role    = EXCLUDED.role,
			persona = EXCLUDED.persona`,
		a.ID, a.Name, a.Role, a.Persona, a.Reputation, a.Alpha, a.GroupID, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert actor %s: %w", a.ID, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (owner_id, balance) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO NOTHING`, a.ID, a.Balance,
	); err != nil {
		return fmt.Errorf("postgres: seed balance %s: %w", a.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit actor %s: %w", a.ID, err)
	}
	return nil
}

// UpdateReputation overwrites an actor's reputation score.
func (s *ActorStore) UpdateReputation(ctx context.Context, id string, reputation float64) error {
	return s.exec(ctx, "update reputation", id,
		`UPDATE actors SET reputation = $2 WHERE id = $1`, id, reputation)
}

// SetAlpha flags the actor as an alpha member.
func (s *ActorStore) SetAlpha(ctx context.Context, id string) error {
	return s.exec(ctx, "set alpha", id, `UPDATE actors SET alpha = TRUE WHERE id = $1`, id)
}

// SetGroup moves the actor into groupID; an empty id removes it from its group.
func (s *ActorStore) SetGroup(ctx context.Context, id, groupID string) error {
	return s.exec(ctx, "set group", id, `UPDATE actors SET group_id = $2 WHERE id = $1`, id, groupID)
}

func (s *ActorStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.ActorStore = (*ActorStore)(nil)
