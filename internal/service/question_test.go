package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

func TestGenerateNewQuestions_CreatesLinkedMarkets(t *testing.T) {
	db := memory.New()
	ledger := &fakeLedger{}
	m := NewQuestionManager(storesOf(db), contentGenerator(0), ledger, 1000, discardLogger()).
		WithClock(fixedClock(testNow))

	ctx := context.Background()
	created, err := m.GenerateNewQuestions(ctx, 3, testNow.Add(time.Minute), BootstrapHorizon)
	require.NoError(t, err)
	require.Len(t, created, 3)
	m.Wait()

	for i, q := range created {
		assert.Equal(t, int64(i+1), q.Number)
		assert.Equal(t, domain.QuestionStatusActive, q.Status)
		assert.Equal(t, testNow.Add(BootstrapHorizon), q.ResolutionDate)

		mkt, err := db.Markets().GetByID(ctx, q.MarketID)
		require.NoError(t, err)
		assert.Equal(t, q.ID, mkt.QuestionID)
		assert.InDelta(t, 1000, mkt.Liquidity, 1e-9)
		assert.InDelta(t, 0.5, mkt.YesPrice(), 1e-9)
		assert.Equal(t, "0xchain-"+mkt.ID, mkt.OnChainID)
	}
	assert.Len(t, ledger.created, 3)
}

func TestGenerateNewQuestions_StopsAtDeadline(t *testing.T) {
	db := memory.New()
	gen := contentGenerator(0)
	m := NewQuestionManager(storesOf(db), gen, nil, 1000, discardLogger()).
		WithClock(fixedClock(testNow))

	created, err := m.GenerateNewQuestions(context.Background(), 5, testNow.Add(-time.Second), ReplenishHorizon)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Zero(t, gen.count(domain.ShapeQuestion))
}

func TestGenerateNewQuestions_SkipsFailedGenerations(t *testing.T) {
	db := memory.New()
	var n atomic.Int32
	gen := &fakeGenerator{fn: func(req domain.GenerationRequest) (domain.Generation, error) {
		if n.Add(1) == 1 {
			return domain.Generation{}, domain.ErrMalformedGeneration
		}
		return domain.Generation{Shape: req.Shape, Question: &domain.GeneratedQuestion{Question: "Q?"}}, nil
	}}
	m := NewQuestionManager(storesOf(db), gen, nil, 1000, discardLogger()).WithClock(fixedClock(testNow))

	created, err := m.GenerateNewQuestions(context.Background(), 3, testNow.Add(time.Minute), ReplenishHorizon)
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestResolveExpired_ReturnsOnlyTransitioned(t *testing.T) {
	db := memory.New()
	seedMarket(t, db, "due", true, testNow.Add(-time.Hour))
	seedMarket(t, db, "later", true, testNow.Add(time.Hour))
	m := NewQuestionManager(storesOf(db), contentGenerator(0), nil, 1000, discardLogger())

	ctx := context.Background()
	first, err := m.ResolveExpired(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "due", first[0].ID)

	second, err := m.ResolveExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestResolveQuestionPayouts_PaysWinnersTwice(t *testing.T) {
	db := memory.New()
	q := seedMarket(t, db, "q1", true, testNow.Add(-time.Hour))
	db.Positions().Seed(domain.Position{UserID: "winner", MarketID: q.MarketID, Side: domain.OutcomeYes, Shares: 100})
	db.Positions().Seed(domain.Position{UserID: "loser", MarketID: q.MarketID, Side: domain.OutcomeNo, Shares: 80})
	ctx := context.Background()
	require.NoError(t, db.Markets().SetOnChainID(ctx, q.MarketID, "0xabc"))

	ledger := &fakeLedger{}
	m := NewQuestionManager(storesOf(db), contentGenerator(0), ledger, 1000, discardLogger())

	paid, err := m.ResolveQuestionPayouts(ctx, q)
	require.NoError(t, err)
	assert.InDelta(t, 200, paid, 1e-9)
	assert.InDelta(t, 200, balanceOf(t, db, "winner"), 1e-9)
	assert.Zero(t, balanceOf(t, db, "loser"))

	mkt, err := db.Markets().GetByID(ctx, q.MarketID)
	require.NoError(t, err)
	assert.True(t, mkt.Resolved)
	require.NotNil(t, mkt.Outcome)
	assert.True(t, *mkt.Outcome)
	assert.Equal(t, "0xtx-0xabc", mkt.ResolutionTxHash)
	assert.Equal(t, "0xhash-q1-yes", mkt.OutcomeHash)

	again, err := m.ResolveQuestionPayouts(ctx, q)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.InDelta(t, 200, balanceOf(t, db, "winner"), 1e-9)
}

func TestResolveQuestionPayouts_LedgerFailureStillResolves(t *testing.T) {
	db := memory.New()
	q := seedMarket(t, db, "q1", false, testNow.Add(-time.Hour))
	db.Positions().Seed(domain.Position{UserID: "no-holder", MarketID: q.MarketID, Side: domain.OutcomeNo, Shares: 10})
	ctx := context.Background()
	require.NoError(t, db.Markets().SetOnChainID(ctx, q.MarketID, "0xabc"))

	ledger := &fakeLedger{resolveErr: errors.New("rpc down")}
	m := NewQuestionManager(storesOf(db), contentGenerator(0), ledger, 1000, discardLogger())

	paid, err := m.ResolveQuestionPayouts(ctx, q)
	require.NoError(t, err)
	assert.InDelta(t, 20, paid, 1e-9)

	mkt, err := db.Markets().GetByID(ctx, q.MarketID)
	require.NoError(t, err)
	assert.True(t, mkt.Resolved)
	assert.False(t, mkt.OnChainResolved)
	assert.Empty(t, mkt.ResolutionTxHash)
}
