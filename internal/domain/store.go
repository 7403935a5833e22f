package domain

import (
	"context"
	"time"
)

// QuestionStore persists questions and creates their twin markets.
type QuestionStore interface {
	// NextNumber atomically reserves the next question sequence number.
	NextNumber(ctx context.Context) (int64, error)
	CreateWithMarket(ctx context.Context, q Question, m Market) error
	ListActive(ctx context.Context) ([]Question, error)
	CountActive(ctx context.Context) (int, error)
	// ResolveExpired moves every active question whose resolution date is
	// at or before now to resolved and returns only the rows it moved.
	ResolveExpired(ctx context.Context, now time.Time) ([]Question, error)
	GetByNumber(ctx context.Context, number int64) (Question, error)
	UpdateOracleCommit(ctx context.Context, c OracleCommit) error
	UpdateOracleReveal(ctx context.Context, r OracleReveal) error
}

// MarketStore persists prediction markets.
type MarketStore interface {
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context) ([]Market, error)
	SetOnChainID(ctx context.Context, id, onChainID string) error
	AddShares(ctx context.Context, id string, side OutcomeSide, shares float64) error
	MarkResolved(ctx context.Context, id string, outcome bool, txHash, outcomeHash string) error
}

// PositionStore persists prediction-market share holdings.
type PositionStore interface {
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	AddShares(ctx context.Context, userID, marketID string, side OutcomeSide, shares, price float64) error
}

// PoolPositionStore persists perpetual pool positions.
type PoolPositionStore interface {
	Open(ctx context.Context, p PoolPosition) error
	ListOpen(ctx context.Context) ([]PoolPosition, error)
	ListOpenByPool(ctx context.Context, poolID string) ([]PoolPosition, error)
	Close(ctx context.Context, poolID, ticker string, at time.Time) ([]PoolPosition, error)
}

// OrganizationStore persists organizations and their price history.
type OrganizationStore interface {
	List(ctx context.Context) ([]Organization, error)
	Count(ctx context.Context) (int, error)
	Upsert(ctx context.Context, o Organization) error
	// UpdatePrice sets the current price and appends point in one unit.
	UpdatePrice(ctx context.Context, point PricePoint) error
	// PriceHistory returns up to limit points, newest first.
	PriceHistory(ctx context.Context, orgID string, limit int) ([]PricePoint, error)
}

// ActorStore persists NPC identities.
type ActorStore interface {
	List(ctx context.Context) ([]Actor, error)
	Get(ctx context.Context, id string) (Actor, error)
	Count(ctx context.Context) (int, error)
	Upsert(ctx context.Context, a Actor) error
	UpdateReputation(ctx context.Context, id string, reputation float64) error
	SetAlpha(ctx context.Context, id string) error
	SetGroup(ctx context.Context, id, groupID string) error
}

// BalanceStore holds spendable balances for NPCs and users alike.
type BalanceStore interface {
	Balance(ctx context.Context, ownerID string) (float64, error)
	// Debit returns ErrInsufficientBalance instead of going negative.
	Debit(ctx context.Context, ownerID string, amount float64) error
	Credit(ctx context.Context, ownerID string, amount float64) error
}

// ContentStore persists posts, articles and world events.
type ContentStore interface {
	CreatePost(ctx context.Context, p Post) error
	ListPostsSince(ctx context.Context, since time.Time, limit int) ([]Post, error)
	CreateEvent(ctx context.Context, e WorldEvent) error
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]WorldEvent, error)
}

// TradeStore persists executed NPC trades.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	// MarketVolumes sums traded amount per prediction market since the given time.
	MarketVolumes(ctx context.Context, since time.Time) (map[string]float64, error)
	// RealizedPnL sums realized PnL per actor over all time.
	RealizedPnL(ctx context.Context) (map[string]float64, error)
}

// WidgetStore persists precomputed widget caches.
type WidgetStore interface {
	Upsert(ctx context.Context, w WidgetCache) error
	Get(ctx context.Context, widget string) (WidgetCache, error)
}

// StateStore persists named timestamps that survive across ticks.
type StateStore interface {
	// GetTime returns ErrNotFound when the key was never set.
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}
