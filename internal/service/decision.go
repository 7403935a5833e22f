package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// MaxPositionFraction caps a single decision at this share of the NPC's
// balance.
const MaxPositionFraction = 0.10

// ClampToBalance limits amount to MaxPositionFraction of balance.
func ClampToBalance(amount, balance float64) float64 {
	if balance <= 0 || amount <= 0 {
		return 0
	}
	if limit := balance * MaxPositionFraction; amount > limit {
		return limit
	}
	return amount
}

const decisionSystemPrompt = `You run the trading desk for a group of NPC traders in a simulated market.
For each NPC listed, decide one action: open_long, open_short, close_position (perpetual
instruments, by ticker), buy_yes, buy_no (prediction markets, by marketId) or hold.
Stay in character for each NPC. Answer with JSON: {"decisions":[{"npcId","action",
"ticker","marketId","amount","confidence","reasoning"}]}.`

type decisionContext struct {
	Instruments []instrumentView `json:"instruments"`
	Markets     []marketView     `json:"markets"`
	Traders     []traderView     `json:"traders"`
}

type instrumentView struct {
	Ticker string  `json:"ticker"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
}

type marketView struct {
	ID       string  `json:"marketId"`
	Question string  `json:"question"`
	YesPrice float64 `json:"yesPrice"`
}

type traderView struct {
	ID       string   `json:"npcId"`
	Name     string   `json:"name"`
	Persona  string   `json:"persona"`
	Balance  float64  `json:"balance"`
	Holdings []string `json:"openPositions,omitempty"`
}

// DecisionEngine asks the generation collaborator for a batch of NPC trade
// decisions and filters them against current market state.
type DecisionEngine struct {
	st        Stores
	gen       domain.Generator
	batchSize int
	logger    *slog.Logger
}

// NewDecisionEngine creates a DecisionEngine consulting up to batchSize NPCs
// per call.
func NewDecisionEngine(st Stores, gen domain.Generator, batchSize int, logger *slog.Logger) *DecisionEngine {
	if batchSize <= 0 {
		batchSize = 12
	}
	return &DecisionEngine{
		st:        st,
		gen:       gen,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "decisions")),
	}
}

// GenerateBatchDecisions returns validated decisions for a random sample of
// NPCs. Store failures are returned; a failed or malformed generation yields
// an empty batch.
func (e *DecisionEngine) GenerateBatchDecisions(ctx context.Context) ([]domain.TradeDecision, error) {
	actors, err := e.st.Actors.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("decisions: list actors: %w", err)
	}
	orgs, err := e.st.Organizations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("decisions: list organizations: %w", err)
	}
	markets, err := e.st.Markets.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("decisions: list markets: %w", err)
	}
	if len(actors) == 0 || (len(orgs) == 0 && len(markets) == 0) {
		return nil, nil
	}

	rand.Shuffle(len(actors), func(i, j int) { actors[i], actors[j] = actors[j], actors[i] })
	if len(actors) > e.batchSize {
		actors = actors[:e.batchSize]
	}

	dc := decisionContext{}
	for _, o := range orgs {
		dc.Instruments = append(dc.Instruments, instrumentView{Ticker: o.ID, Name: o.Name, Price: o.CurrentPrice})
	}
	for _, m := range markets {
		dc.Markets = append(dc.Markets, marketView{ID: m.ID, Question: m.Question, YesPrice: m.YesPrice()})
	}
	for _, a := range actors {
		tv := traderView{ID: a.ID, Name: a.Name, Persona: a.Persona, Balance: a.Balance}
		open, err := e.st.PoolPositions.ListOpenByPool(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("decisions: positions of %s: %w", a.ID, err)
		}
		for _, p := range open {
			tv.Holdings = append(tv.Holdings, fmt.Sprintf("%s %s $%.0f", p.Side, p.Ticker, p.Size))
		}
		dc.Traders = append(dc.Traders, tv)
	}

	payload, _ := json.Marshal(dc)
	g, err := e.gen.Generate(ctx, domain.GenerationRequest{
		Shape:     domain.ShapeDecisions,
		System:    decisionSystemPrompt,
		Prompt:    "Market state:\n" + string(payload),
		MaxTokens: 1500,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "decision generation failed", slog.String("error", err.Error()))
		return nil, nil
	}

	return e.validate(g.Decisions, actors, orgs, markets), nil
}

// validate drops decisions for unknown NPCs, tickers or markets and clamps
// amounts to the NPC's balance.
func (e *DecisionEngine) validate(in []domain.TradeDecision, actors []domain.Actor, orgs []domain.Organization, markets []domain.Market) []domain.TradeDecision {
	balances := make(map[string]float64, len(actors))
	for _, a := range actors {
		balances[a.ID] = a.Balance
	}
	// Tickers are matched case-insensitively and rewritten to the stored id.
	tickers := make(map[string]string, len(orgs))
	for _, o := range orgs {
		tickers[strings.ToUpper(o.ID)] = o.ID
	}
	canonical := func(d *domain.TradeDecision) bool {
		id, ok := tickers[strings.ToUpper(strings.TrimSpace(d.Ticker))]
		d.Ticker = id
		return ok
	}
	active := make(map[string]bool, len(markets))
	for _, m := range markets {
		active[m.ID] = true
	}

	seen := make(map[string]bool)
	out := make([]domain.TradeDecision, 0, len(in))
	for _, d := range in {
		bal, known := balances[d.ActorID]
		if !known || seen[d.ActorID] {
			continue
		}
		switch {
		case d.Action == domain.ActionHold:
		case d.Action == domain.ActionClose:
			if !canonical(&d) {
				continue
			}
		case d.Action.IsPerp():
			if !canonical(&d) {
				continue
			}
			if d.Amount = ClampToBalance(d.Amount, bal); d.Amount <= 0 {
				continue
			}
		case d.Action.IsPrediction():
			if !active[d.MarketID] {
				continue
			}
			if d.Amount = ClampToBalance(d.Amount, bal); d.Amount <= 0 {
				continue
			}
		default:
			continue
		}
		seen[d.ActorID] = true
		out = append(out, d)
	}

	if dropped := len(in) - len(out); dropped > 0 {
		e.logger.Debug("decisions dropped in validation", slog.Int("dropped", dropped))
	}
	return out
}
