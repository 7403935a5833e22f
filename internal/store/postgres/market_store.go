package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question_id, question, liquidity, yes_shares, no_shares,
	on_chain_id, on_chain_resolved, resolution_tx_hash, outcome_hash,
	resolved, outcome, end_date, created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ID, &m.QuestionID, &m.Question, &m.Liquidity, &m.YesShares, &m.NoShares,
		&m.OnChainID, &m.OnChainResolved, &m.ResolutionTxHash, &m.OutcomeHash,
		&m.Resolved, &m.Outcome, &m.EndDate, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns unresolved markets, newest first.
func (s *MarketStore) ListActive(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE NOT resolved ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market row: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// SetOnChainID records the ledger identifier once the market is mirrored.
func (s *MarketStore) SetOnChainID(ctx context.Context, id, onChainID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET on_chain_id = $2, updated_at = NOW() WHERE id = $1`, id, onChainID)
	if err != nil {
		return fmt.Errorf("postgres: set on-chain id %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddShares increments the outstanding shares on one side of a market.
func (s *MarketStore) AddShares(ctx context.Context, id string, side domain.OutcomeSide, shares float64) error {
	col := "yes_shares"
	if side == domain.OutcomeNo {
		col = "no_shares"
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET `+col+` = `+col+` + $2, updated_at = NOW()
		 WHERE id = $1 AND NOT resolved`, id, shares)
	if err != nil {
		return fmt.Errorf("postgres: add shares %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkResolved closes the market with its outcome. Ledger fields are only
// overwritten when non-empty.
func (s *MarketStore) MarkResolved(ctx context.Context, id string, outcome bool, txHash, outcomeHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets SET
			resolved = TRUE,
			outcome = $2,
			resolution_tx_hash = COALESCE(NULLIF($3, ''), resolution_tx_hash),
			outcome_hash = COALESCE(NULLIF($4, ''), outcome_hash),
			on_chain_resolved = on_chain_resolved OR $3 <> '',
			updated_at = NOW()
		WHERE id = $1`,
		id, outcome, txHash, outcomeHash)
	if err != nil {
		return fmt.Errorf("postgres: mark market resolved %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
