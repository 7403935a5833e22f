package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

type mapMirror struct {
	mu   sync.Mutex
	rows map[string]domain.WidgetCache
}

func (m *mapMirror) SetWidget(_ context.Context, w domain.WidgetCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]domain.WidgetCache{}
	}
	m.rows[w.Widget] = w
	return nil
}

func (m *mapMirror) GetWidget(_ context.Context, widget string) (domain.WidgetCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[widget]
	if !ok {
		return domain.WidgetCache{}, domain.ErrNotFound
	}
	return w, nil
}

func TestRecencyWeight(t *testing.T) {
	day := 24 * time.Hour
	assert.InDelta(t, 2.0, RecencyWeight(0), 1e-9)
	assert.InDelta(t, 2.0, RecencyWeight(23*time.Hour), 1e-9)
	assert.InDelta(t, 2.0, RecencyWeight(day), 1e-9)
	assert.InDelta(t, 1.5, RecencyWeight(4*day), 1e-9)
	assert.InDelta(t, 1.0, RecencyWeight(7*day), 1e-9)
	assert.InDelta(t, 1.0, RecencyWeight(30*day), 1e-9)
}

func decodeItems[T any](t *testing.T, row domain.WidgetCache) []T {
	t.Helper()
	var payload struct {
		Items []T `json:"items"`
	}
	require.NoError(t, json.Unmarshal(row.Data, &payload))
	return payload.Items
}

func TestWidgetRefresher_RefreshAllUpsertsAndMirrors(t *testing.T) {
	db := memory.New()
	mirror := &mapMirror{}
	w := NewWidgetRefresher(storesOf(db), mirror, discardLogger()).WithClock(fixedClock(testNow))

	ctx := context.Background()
	assert.Equal(t, 3, w.RefreshAll(ctx))
	assert.Equal(t, 3, w.RefreshAll(ctx), "refresh is repeatable")

	for _, name := range []string{domain.WidgetTopMovers, domain.WidgetTopPools, domain.WidgetTrendingQuestions} {
		row, err := db.Widgets().Get(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, testNow, row.UpdatedAt)
		_, err = mirror.GetWidget(ctx, name)
		assert.NoError(t, err, name)
	}
}

func TestWidgetRefresher_TopMoversByAbsoluteChange(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	for _, id := range []string{"AAA", "BBB", "CCC", "DDD"} {
		seedOrg(t, db, id, 100)
	}
	move := func(id string, price, change float64, at time.Time) {
		require.NoError(t, db.Organizations().UpdatePrice(ctx, domain.PricePoint{
			OrganizationID: id, Price: price, Change: change, RecordedAt: at,
		}))
	}
	move("AAA", 105, 5, testNow.Add(-time.Hour))
	move("BBB", 80, -20, testNow.Add(-2*time.Hour))
	move("CCC", 150, 50, testNow.Add(-48*time.Hour))
	move("DDD", 110, 10, testNow.Add(-3*time.Hour))
	move("DDD", 111, 1, testNow.Add(-time.Hour))

	items, err := NewWidgetRefresher(storesOf(db), nil, discardLogger()).TopMovers(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "BBB", items[0].Ticker)
	assert.InDelta(t, -20, items[0].ChangePercent, 1e-9)
	assert.Equal(t, "DDD", items[1].Ticker)
	assert.InDelta(t, 11, items[1].ChangePercent, 1e-9)
	assert.Equal(t, "AAA", items[2].Ticker)
}

func TestWidgetRefresher_TopPoolsByWeightedReturn(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	seedOrg(t, db, "AAA", 100)
	require.NoError(t, db.Organizations().UpdatePrice(ctx, domain.PricePoint{OrganizationID: "AAA", Price: 110, RecordedAt: testNow}))
	seedActor(t, db, "npc-long", 0, 50)
	seedActor(t, db, "npc-short", 0, 50)
	openPosition(t, db, "npc-long", "AAA", domain.PerpLong, 1000)
	openPosition(t, db, "npc-long", "AAA", domain.PerpShort, 1000)
	openPosition(t, db, "npc-short", "AAA", domain.PerpShort, 500)

	items, err := NewWidgetRefresher(storesOf(db), nil, discardLogger()).TopPools(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "npc-long", items[0].PoolID)
	assert.InDelta(t, 0, items[0].ReturnPct, 1e-9)
	assert.InDelta(t, 2000, items[0].TVL, 1e-9)
	assert.Equal(t, 2, items[0].Positions)
	assert.Equal(t, "npc-short", items[1].PoolID)
	assert.InDelta(t, -10, items[1].ReturnPct, 1e-9)
}

func TestWidgetRefresher_TrendingQuestionsWeighsRecency(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	create := func(id string, age time.Duration, volume float64) domain.Question {
		n, err := db.Questions().NextNumber(ctx)
		require.NoError(t, err)
		q := domain.Question{
			ID: id, Number: n, Text: id + "?", Status: domain.QuestionStatusActive,
			MarketID: "m-" + id, ResolutionDate: testNow.Add(time.Hour), CreatedAt: testNow.Add(-age),
		}
		require.NoError(t, db.Questions().CreateWithMarket(ctx, q, domain.Market{ID: q.MarketID, QuestionID: id}))
		require.NoError(t, db.Trades().Insert(ctx, domain.Trade{
			ID: "t-" + id, ActorID: "npc", Action: domain.ActionBuyYes, MarketID: q.MarketID,
			Amount: volume, ExecutedAt: testNow.Add(-time.Hour),
		}))
		return q
	}
	old := create("old", 5*24*time.Hour, 150)
	fresh := create("fresh", time.Hour, 120)
	quiet := create("quiet", time.Hour, 1)
	create("idle", 10*24*time.Hour, 0)

	items, err := NewWidgetRefresher(storesOf(db), nil, discardLogger()).TrendingQuestions(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, fresh.Number, items[0].Number)
	assert.InDelta(t, 240, items[0].Score, 1e-9)
	assert.Equal(t, old.Number, items[1].Number)
	assert.InDelta(t, 200, items[1].Score, 1e-9)
	assert.Equal(t, quiet.Number, items[2].Number)

	require.NoError(t, Publish(ctx, db.Widgets(), nil, domain.WidgetTrendingQuestions, items, testNow))
	row, err := db.Widgets().Get(ctx, domain.WidgetTrendingQuestions)
	require.NoError(t, err)
	assert.Len(t, decodeItems[QuestionItem](t, row), 3)
}
