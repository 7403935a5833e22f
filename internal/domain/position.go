package domain

import "time"

// OutcomeSide is the side of a prediction-market position.
type OutcomeSide string

const (
	OutcomeYes OutcomeSide = "yes"
	OutcomeNo  OutcomeSide = "no"
)

// Wins reports whether a holder of this side is paid for the given outcome.
func (s OutcomeSide) Wins(outcome bool) bool {
	return (s == OutcomeYes) == outcome
}

// Position is a holding of prediction-market shares.
type Position struct {
	ID        string
	UserID    string
	MarketID  string
	Side      OutcomeSide
	Shares    float64
	AvgPrice  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PerpSide is the direction of a perpetual pool position.
type PerpSide string

const (
	PerpLong  PerpSide = "long"
	PerpShort PerpSide = "short"
)

// MarketTypePerp marks pool positions on organization instruments.
const MarketTypePerp = "perp"

// PoolPosition is a perpetual holding on an organization instrument, managed
// by an NPC pool. Size is dollar notional.
type PoolPosition struct {
	ID         string
	PoolID     string
	Ticker     string
	Side       PerpSide
	Size       float64
	EntryPrice float64
	MarketType string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// Open reports whether the position has not been closed.
func (p PoolPosition) Open() bool {
	return p.ClosedAt == nil
}

// UnrealizedPnL marks the position against the given price.
func (p PoolPosition) UnrealizedPnL(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == PerpShort {
		move = -move
	}
	return p.Size * move
}
