package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

func decisionsGenerator(ds ...domain.TradeDecision) *fakeGenerator {
	return &fakeGenerator{fn: func(req domain.GenerationRequest) (domain.Generation, error) {
		return domain.Generation{Shape: req.Shape, Decisions: ds}, nil
	}}
}

func TestClampToBalance(t *testing.T) {
	assert.InDelta(t, 50, ClampToBalance(50, 1000), 1e-9)
	assert.InDelta(t, 100, ClampToBalance(500, 1000), 1e-9)
	assert.Zero(t, ClampToBalance(50, 0))
	assert.Zero(t, ClampToBalance(-5, 1000))
}

func TestGenerateBatchDecisions_ValidatesAndClamps(t *testing.T) {
	db := memory.New()
	seedOrg(t, db, "AAA", 100)
	seedActor(t, db, "npc-1", 1000, 50)
	seedActor(t, db, "npc-2", 1000, 50)
	seedActor(t, db, "npc-3", 1000, 50)
	seedActor(t, db, "npc-4", 1000, 50)
	q := seedMarket(t, db, "q1", true, testNow.Add(24*time.Hour))

	gen := decisionsGenerator(
		domain.TradeDecision{ActorID: "npc-1", Action: domain.ActionOpenLong, Ticker: "aaa", Amount: 5000},
		domain.TradeDecision{ActorID: "npc-1", Action: domain.ActionOpenShort, Ticker: "AAA", Amount: 10},
		domain.TradeDecision{ActorID: "npc-2", Action: domain.ActionBuyYes, MarketID: q.MarketID, Amount: 40},
		domain.TradeDecision{ActorID: "npc-3", Action: domain.ActionBuyNo, MarketID: "missing", Amount: 40},
		domain.TradeDecision{ActorID: "npc-4", Action: domain.ActionOpenLong, Ticker: "NOPE", Amount: 40},
		domain.TradeDecision{ActorID: "ghost", Action: domain.ActionOpenLong, Ticker: "AAA", Amount: 40},
		domain.TradeDecision{ActorID: "npc-3", Action: domain.ActionHold},
	)
	engine := NewDecisionEngine(storesOf(db), gen, 12, discardLogger())

	ds, err := engine.GenerateBatchDecisions(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 3)

	assert.Equal(t, "npc-1", ds[0].ActorID)
	assert.Equal(t, "AAA", ds[0].Ticker)
	assert.InDelta(t, 100, ds[0].Amount, 1e-9)

	assert.Equal(t, domain.ActionBuyYes, ds[1].Action)
	assert.InDelta(t, 40, ds[1].Amount, 1e-9)

	assert.Equal(t, "npc-3", ds[2].ActorID)
	assert.Equal(t, domain.ActionHold, ds[2].Action)
	assert.Equal(t, 1, gen.count(domain.ShapeDecisions))
}

func TestGenerateBatchDecisions_GenerationFailureYieldsEmptyBatch(t *testing.T) {
	db := memory.New()
	seedOrg(t, db, "AAA", 100)
	seedActor(t, db, "npc-1", 1000, 50)
	gen := &fakeGenerator{fn: func(domain.GenerationRequest) (domain.Generation, error) {
		return domain.Generation{}, errors.New("upstream 500")
	}}

	ds, err := NewDecisionEngine(storesOf(db), gen, 12, discardLogger()).GenerateBatchDecisions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestGenerateBatchDecisions_StoreFailurePropagates(t *testing.T) {
	db := memory.New()
	db.Fail = func(op string) error {
		if op == "actors.list" {
			return assert.AnError
		}
		return nil
	}

	_, err := NewDecisionEngine(storesOf(db), decisionsGenerator(), 12, discardLogger()).GenerateBatchDecisions(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGenerateBatchDecisions_EmptyWorldSkipsGeneration(t *testing.T) {
	db := memory.New()
	seedActor(t, db, "npc-1", 1000, 50)
	gen := decisionsGenerator()

	ds, err := NewDecisionEngine(storesOf(db), gen, 12, discardLogger()).GenerateBatchDecisions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.Zero(t, gen.count(domain.ShapeDecisions))
}
