package domain

import "time"

// TradeAction is what an NPC decided to do with one instrument or market.
type TradeAction string

const (
	ActionHold      TradeAction = "hold"
	ActionOpenLong  TradeAction = "open_long"
	ActionOpenShort TradeAction = "open_short"
	ActionClose     TradeAction = "close_position"
	ActionBuyYes    TradeAction = "buy_yes"
	ActionBuyNo     TradeAction = "buy_no"
)

// IsPerp reports whether the action targets an organization instrument.
func (a TradeAction) IsPerp() bool {
	return a == ActionOpenLong || a == ActionOpenShort || a == ActionClose
}

// IsPrediction reports whether the action targets a prediction market.
func (a TradeAction) IsPrediction() bool {
	return a == ActionBuyYes || a == ActionBuyNo
}

// TradeDecision is one NPC's intent for this tick.
type TradeDecision struct {
	ActorID    string
	Action     TradeAction
	Ticker     string
	MarketID   string
	Amount     float64
	Confidence float64
	Reasoning  string
}

// Trade is the persisted record of an executed decision.
type Trade struct {
	ID         string
	ActorID    string
	Action     TradeAction
	Ticker     string
	MarketID   string
	Amount     float64
	Price      float64
	PnL        float64
	ExecutedAt time.Time
}

// ExecutionResult summarizes one executed decision batch. It is never
// persisted; price recalculation consumes it immediately.
type ExecutionResult struct {
	ExecutedTrades   []Trade
	SuccessfulTrades int
	FailedTrades     int
	HoldDecisions    int
}

// Merge folds another result into r.
func (r *ExecutionResult) Merge(o ExecutionResult) {
	r.ExecutedTrades = append(r.ExecutedTrades, o.ExecutedTrades...)
	r.SuccessfulTrades += o.SuccessfulTrades
	r.FailedTrades += o.FailedTrades
	r.HoldDecisions += o.HoldDecisions
}
