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

// QuestionStore implements domain.QuestionStore using PostgreSQL.
type QuestionStore struct {
	pool *pgxpool.Pool
}

// NewQuestionStore creates a new QuestionStore backed by the given connection pool.
func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

const questionCols = `id, number, text, resolution_criteria, category,
	resolution_date, status, outcome, market_id,
	oracle_session_id, oracle_commitment, oracle_commit_tx_hash, oracle_commit_block,
	oracle_reveal_tx_hash, oracle_reveal_block, created_at, resolved_at`

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var q domain.Question
	var status string
	err := row.Scan(
		&q.ID, &q.Number, &q.Text, &q.ResolutionCriteria, &q.Category,
		&q.ResolutionDate, &status, &q.Outcome, &q.MarketID,
		&q.OracleSessionID, &q.OracleCommitment, &q.OracleCommitTxHash, &q.OracleCommitBlock,
		&q.OracleRevealTxHash, &q.OracleRevealBlock, &q.CreatedAt, &q.ResolvedAt,
	)
	if err != nil {
		return domain.Question{}, err
	}
	q.Status = domain.QuestionStatus(status)
	return q, nil
}

func scanQuestionRows(rows pgx.Rows) ([]domain.Question, error) {
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// NextNumber draws from question_number_seq, so concurrent creators never
// observe the same number.
func (s *QuestionStore) NextNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('question_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: next question number: %w", err)
	}
	return n, nil
}

// CreateWithMarket inserts a question and its market in one transaction.
func (s *QuestionStore) CreateWithMarket(ctx context.Context, q domain.Question, m domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create question %s: %w", q.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The market row references the question, so the question goes first.
	const insertQuestion = `
		INSERT INTO questions (
			id, number, text, resolution_criteria, category,
			resolution_date, status, outcome, market_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.Exec(ctx, insertQuestion,
		q.ID, q.Number, q.Text, q.ResolutionCriteria, q.Category,
		q.ResolutionDate, string(q.Status), q.Outcome, q.MarketID, q.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert question %s: %w", q.ID, err)
	}

	const insertMarket = `
		INSERT INTO markets (
			id, question_id, question, liquidity, yes_shares, no_shares,
			end_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	if _, err := tx.Exec(ctx, insertMarket,
		m.ID, m.QuestionID, m.Question, m.Liquidity, m.YesShares, m.NoShares,
		m.EndDate, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit question %s: %w", q.ID, err)
	}
	return nil
}

// ListActive returns every active question ordered by number.
func (s *QuestionStore) ListActive(ctx context.Context) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionCols+` FROM questions WHERE status = 'active' ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active questions: %w", err)
	}
	out, err := scanQuestionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active questions: %w", err)
	}
	return out, nil
}

// CountActive returns the number of active questions.
func (s *QuestionStore) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE status = 'active'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count active questions: %w", err)
	}
	return n, nil
}

// ResolveExpired transitions expired active questions in a single conditional
// update. RETURNING only yields rows this statement moved, so two concurrent
// callers never both see the same question.
func (s *QuestionStore) ResolveExpired(ctx context.Context, now time.Time) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE questions
		SET status = 'resolved', resolved_at = $1
		WHERE status = 'active' AND resolution_date <= $1
		RETURNING `+questionCols, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: resolve expired questions: %w", err)
	}
	out, err := scanQuestionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved questions: %w", err)
	}
	return out, nil
}

// GetByNumber retrieves a question by its sequence number.
func (s *QuestionStore) GetByNumber(ctx context.Context, number int64) (domain.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT `+questionCols+` FROM questions WHERE number = $1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Question{}, domain.ErrNotFound
		}
		return domain.Question{}, fmt.Errorf("postgres: get question %d: %w", number, err)
	}
	return q, nil
}

// UpdateOracleCommit records the oracle receipt for a commitment.
func (s *QuestionStore) UpdateOracleCommit(ctx context.Context, c domain.OracleCommit) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET
			oracle_session_id = $2, oracle_commitment = $3,
			oracle_commit_tx_hash = $4, oracle_commit_block = $5
		WHERE id = $1`,
		c.QuestionID, c.SessionID, c.Commitment, c.TxHash, c.BlockNumber)
	if err != nil {
		return fmt.Errorf("postgres: update oracle commit %s: %w", c.QuestionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateOracleReveal records the oracle receipt for a reveal.
func (s *QuestionStore) UpdateOracleReveal(ctx context.Context, r domain.OracleReveal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET oracle_reveal_tx_hash = $2, oracle_reveal_block = $3
		WHERE id = $1`,
		r.QuestionID, r.TxHash, r.BlockNumber)
	if err != nil {
		return fmt.Errorf("postgres: update oracle reveal %s: %w", r.QuestionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.QuestionStore = (*QuestionStore)(nil)
