package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// ContentStore implements domain.ContentStore using PostgreSQL.
type ContentStore struct {
	pool *pgxpool.Pool
}

// NewContentStore creates a new ContentStore backed by the given connection pool.
func NewContentStore(pool *pgxpool.Pool) *ContentStore {
	return &ContentStore{pool: pool}
}

// CreatePost inserts a post or article.
func (s *ContentStore) CreatePost(ctx context.Context, p domain.Post) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, author_id, author_kind, kind, content, title, summary, question_number, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.AuthorID, string(p.AuthorKind), string(p.Kind), p.Content,
		p.Title, p.Summary, p.QuestionNumber, p.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: create post %s: %w", p.ID, err)
	}
	return nil
}

// ListPostsSince returns up to limit posts newer than since, newest first.
func (s *ContentStore) ListPostsSince(ctx context.Context, since time.Time, limit int) ([]domain.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, author_id, author_kind, kind, content, title, summary, question_number, ts
		FROM posts WHERE ts >= $1 ORDER BY ts DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		var authorKind, kind string
		if err := rows.Scan(&p.ID, &p.AuthorID, &authorKind, &kind, &p.Content,
			&p.Title, &p.Summary, &p.QuestionNumber, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan post row: %w", err)
		}
		p.AuthorKind = domain.AuthorKind(authorKind)
		p.Kind = domain.PostKind(kind)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CreateEvent inserts a world event.
func (s *ContentStore) CreateEvent(ctx context.Context, e domain.WorldEvent) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO world_events (id, type, description, related_question, visibility, day, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Type, e.Description, e.RelatedQuestion, e.Visibility, e.Day, e.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: create event %s: %w", e.ID, err)
	}
	return nil
}

// ListEventsSince returns up to limit events newer than since, newest first.
func (s *ContentStore) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]domain.WorldEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, description, related_question, visibility, day, ts
		FROM world_events WHERE ts >= $1 ORDER BY ts DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.WorldEvent
	for rows.Next() {
		var e domain.WorldEvent
		if err := rows.Scan(&e.ID, &e.Type, &e.Description, &e.RelatedQuestion,
			&e.Visibility, &e.Day, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ domain.ContentStore = (*ContentStore)(nil)
