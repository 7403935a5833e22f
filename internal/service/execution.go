package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Stores bundles the persistence collaborators the tick services share.
type Stores struct {
	Questions     domain.QuestionStore
	Markets       domain.MarketStore
	Positions     domain.PositionStore
	PoolPositions domain.PoolPositionStore
	Organizations domain.OrganizationStore
	Actors        domain.ActorStore
	Balances      domain.BalanceStore
	Content       domain.ContentStore
	Trades        domain.TradeStore
	Widgets       domain.WidgetStore
	State         domain.StateStore
}

// TradeExecutor applies NPC trade decisions to balances and positions.
type TradeExecutor struct {
	st     Stores
	clock  Clock
	logger *slog.Logger

	baselineInvestors int
	baselineAmount    float64
}

// NewTradeExecutor creates a TradeExecutor. Baseline investment sizes come
// from the tick configuration.
func NewTradeExecutor(st Stores, baselineInvestors int, baselineAmount float64, logger *slog.Logger) *TradeExecutor {
	return &TradeExecutor{
		st:                st,
		clock:             wallClock,
		logger:            logger.With(slog.String("component", "execution")),
		baselineInvestors: baselineInvestors,
		baselineAmount:    baselineAmount,
	}
}

// WithClock replaces the executor's clock.
func (x *TradeExecutor) WithClock(c Clock) *TradeExecutor {
	x.clock = c
	return x
}

// ExecuteDecisionBatch executes decisions in order. Each decision succeeds
// or fails on its own; the batch always completes.
func (x *TradeExecutor) ExecuteDecisionBatch(ctx context.Context, decisions []domain.TradeDecision) domain.ExecutionResult {
	var res domain.ExecutionResult
	if len(decisions) == 0 {
		return res
	}

	prices := x.priceIndex(ctx)
	for _, d := range decisions {
		if d.Action == domain.ActionHold {
			res.HoldDecisions++
			continue
		}
		trade, err := x.execute(ctx, d, prices)
		if err != nil {
			res.FailedTrades++
			x.logger.DebugContext(ctx, "decision not executed",
				slog.String("actor", d.ActorID),
				slog.String("action", string(d.Action)),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.SuccessfulTrades++
		res.ExecutedTrades = append(res.ExecutedTrades, trade)
	}

	x.logger.InfoContext(ctx, "decision batch executed",
		slog.Int("decisions", len(decisions)),
		slog.Int("successful", res.SuccessfulTrades),
		slog.Int("failed", res.FailedTrades),
		slog.Int("hold", res.HoldDecisions),
	)
	return res
}

// ExecuteBaselineInvestments opens a small long for up to baselineInvestors
// NPCs that hold no open perpetual position, so every tick carries some
// trading activity. It goes through the regular execution path.
func (x *TradeExecutor) ExecuteBaselineInvestments(ctx context.Context) (domain.ExecutionResult, error) {
	actors, err := x.st.Actors.List(ctx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("execution: list actors: %w", err)
	}
	orgs, err := x.st.Organizations.List(ctx)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("execution: list organizations: %w", err)
	}
	if len(actors) == 0 || len(orgs) == 0 {
		return domain.ExecutionResult{}, nil
	}

	rand.Shuffle(len(actors), func(i, j int) { actors[i], actors[j] = actors[j], actors[i] })

	var decisions []domain.TradeDecision
	for _, a := range actors {
		if len(decisions) >= x.baselineInvestors {
			break
		}
		open, err := x.st.PoolPositions.ListOpenByPool(ctx, a.ID)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("execution: list positions of %s: %w", a.ID, err)
		}
		if len(open) > 0 || a.Balance <= 0 {
			continue
		}
		amount := ClampToBalance(x.baselineAmount, a.Balance)
		if amount <= 0 {
			continue
		}
		decisions = append(decisions, domain.TradeDecision{
			ActorID:   a.ID,
			Action:    domain.ActionOpenLong,
			Ticker:    orgs[rand.IntN(len(orgs))].ID,
			Amount:    amount,
			Reasoning: "baseline investment",
		})
	}
	return x.ExecuteDecisionBatch(ctx, decisions), nil
}

func (x *TradeExecutor) priceIndex(ctx context.Context) map[string]float64 {
	orgs, err := x.st.Organizations.List(ctx)
	if err != nil {
		x.logger.WarnContext(ctx, "load prices for execution failed", slog.String("error", err.Error()))
		return nil
	}
	out := make(map[string]float64, len(orgs))
	for _, o := range orgs {
		out[o.ID] = o.CurrentPrice
	}
	return out
}

func (x *TradeExecutor) execute(ctx context.Context, d domain.TradeDecision, prices map[string]float64) (domain.Trade, error) {
	switch {
	case d.Action == domain.ActionClose:
		return x.closePerp(ctx, d, prices)
	case d.Action.IsPerp():
		return x.openPerp(ctx, d, prices)
	case d.Action.IsPrediction():
		return x.buyShares(ctx, d)
	default:
		return domain.Trade{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidDecision, d.Action)
	}
}

func (x *TradeExecutor) openPerp(ctx context.Context, d domain.TradeDecision, prices map[string]float64) (domain.Trade, error) {
	price, ok := prices[d.Ticker]
	if !ok || price <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: unknown ticker %q", domain.ErrInvalidDecision, d.Ticker)
	}
	if d.Amount <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: amount %.2f", domain.ErrInvalidDecision, d.Amount)
	}
	if err := x.st.Balances.Debit(ctx, d.ActorID, d.Amount); err != nil {
		return domain.Trade{}, err
	}

	side := domain.PerpLong
	if d.Action == domain.ActionOpenShort {
		side = domain.PerpShort
	}
	now := x.clock()
	pos := domain.PoolPosition{
		ID:         uuid.NewString(),
		PoolID:     d.ActorID,
		Ticker:     d.Ticker,
		Side:       side,
		Size:       d.Amount,
		EntryPrice: price,
		MarketType: domain.MarketTypePerp,
		OpenedAt:   now,
	}
	if err := x.st.PoolPositions.Open(ctx, pos); err != nil {
		x.refund(ctx, d.ActorID, d.Amount)
		return domain.Trade{}, fmt.Errorf("open position: %w", err)
	}
	return x.record(ctx, domain.Trade{
		ID:         uuid.NewString(),
		ActorID:    d.ActorID,
		Action:     d.Action,
		Ticker:     d.Ticker,
		Amount:     d.Amount,
		Price:      price,
		ExecutedAt: now,
	}), nil
}

func (x *TradeExecutor) closePerp(ctx context.Context, d domain.TradeDecision, prices map[string]float64) (domain.Trade, error) {
	price, ok := prices[d.Ticker]
	if !ok || price <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: unknown ticker %q", domain.ErrInvalidDecision, d.Ticker)
	}
	now := x.clock()
	closed, err := x.st.PoolPositions.Close(ctx, d.ActorID, d.Ticker, now)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("close positions: %w", err)
	}
	if len(closed) == 0 {
		return domain.Trade{}, fmt.Errorf("%w: no open position on %s", domain.ErrInvalidDecision, d.Ticker)
	}

	var size, pnl float64
	for _, p := range closed {
		size += p.Size
		pnl += p.UnrealizedPnL(price)
	}
	if payout := size + pnl; payout > 0 {
		if err := x.st.Balances.Credit(ctx, d.ActorID, payout); err != nil {
			return domain.Trade{}, fmt.Errorf("credit close proceeds: %w", err)
		}
	}
	return x.record(ctx, domain.Trade{
		ID:         uuid.NewString(),
		ActorID:    d.ActorID,
		Action:     d.Action,
		Ticker:     d.Ticker,
		Amount:     size,
		Price:      price,
		PnL:        pnl,
		ExecutedAt: now,
	}), nil
}

func (x *TradeExecutor) buyShares(ctx context.Context, d domain.TradeDecision) (domain.Trade, error) {
	if d.Amount <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: amount %.2f", domain.ErrInvalidDecision, d.Amount)
	}
	m, err := x.st.Markets.GetByID(ctx, d.MarketID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("load market %q: %w", d.MarketID, err)
	}
	if m.Resolved {
		return domain.Trade{}, fmt.Errorf("%w: market %s resolved", domain.ErrInvalidDecision, m.ID)
	}

	side := domain.OutcomeYes
	if d.Action == domain.ActionBuyNo {
		side = domain.OutcomeNo
	}
	price := m.PriceOf(side)
	if price <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: zero price on %s", domain.ErrInvalidDecision, m.ID)
	}
	shares := d.Amount / price

	if err := x.st.Balances.Debit(ctx, d.ActorID, d.Amount); err != nil {
		return domain.Trade{}, err
	}
	if err := x.st.Positions.AddShares(ctx, d.ActorID, m.ID, side, shares, price); err != nil {
		x.refund(ctx, d.ActorID, d.Amount)
		return domain.Trade{}, fmt.Errorf("add position shares: %w", err)
	}
	if err := x.st.Markets.AddShares(ctx, m.ID, side, shares); err != nil {
		// The holding exists; only the market's implied price lags.
		x.logger.WarnContext(ctx, "market share update failed",
			slog.String("market", m.ID),
			slog.String("error", err.Error()),
		)
	}
	return x.record(ctx, domain.Trade{
		ID:         uuid.NewString(),
		ActorID:    d.ActorID,
		Action:     d.Action,
		MarketID:   m.ID,
		Amount:     d.Amount,
		Price:      price,
		ExecutedAt: x.clock(),
	}), nil
}

// record persists t. The trade already happened, so a failed insert is
// logged and the trade still returned.
func (x *TradeExecutor) record(ctx context.Context, t domain.Trade) domain.Trade {
	if err := x.st.Trades.Insert(ctx, t); err != nil {
		x.logger.WarnContext(ctx, "trade record insert failed",
			slog.String("trade", t.ID),
			slog.String("error", err.Error()),
		)
	}
	return t
}

func (x *TradeExecutor) refund(ctx context.Context, actorID string, amount float64) {
	if err := x.st.Balances.Credit(ctx, actorID, amount); err != nil && !errors.Is(err, context.Canceled) {
		x.logger.ErrorContext(ctx, "refund failed",
			slog.String("actor", actorID),
			slog.Float64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}
