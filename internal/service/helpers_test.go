package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storesOf(db *memory.DB) Stores {
	return Stores{
		Questions:     db.Questions(),
		Markets:       db.Markets(),
		Positions:     db.Positions(),
		PoolPositions: db.PoolPositions(),
		Organizations: db.Organizations(),
		Actors:        db.Actors(),
		Balances:      db.Balances(),
		Content:       db.Content(),
		Trades:        db.Trades(),
		Widgets:       db.Widgets(),
		State:         db.State(),
	}
}

func seedOrg(t *testing.T, db *memory.DB, id string, price float64) {
	t.Helper()
	require.NoError(t, db.Organizations().Upsert(context.Background(), domain.Organization{
		ID: id, Name: id + " Inc", Type: "company", InitialPrice: price, CurrentPrice: price,
	}))
}

func seedActor(t *testing.T, db *memory.DB, id string, balance, reputation float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Actors().Upsert(ctx, domain.Actor{
		ID: id, Name: "NPC " + id, Persona: "tester", Balance: balance,
	}))
	require.NoError(t, db.Actors().UpdateReputation(ctx, id, reputation))
}

// seedMarket creates an active question due at resolveAt with an even market.
func seedMarket(t *testing.T, db *memory.DB, id string, outcome bool, resolveAt time.Time) domain.Question {
	t.Helper()
	ctx := context.Background()
	n, err := db.Questions().NextNumber(ctx)
	require.NoError(t, err)
	q := domain.Question{
		ID: id, Number: n, Text: "Will " + id + " happen?", Category: "tech",
		ResolutionDate: resolveAt, Status: domain.QuestionStatusActive,
		Outcome: outcome, MarketID: "m-" + id, CreatedAt: resolveAt.Add(-72 * time.Hour),
	}
	m := domain.Market{
		ID: q.MarketID, QuestionID: id, Question: q.Text, Liquidity: 1000,
		YesShares: 500, NoShares: 500, EndDate: resolveAt,
	}
	require.NoError(t, db.Questions().CreateWithMarket(ctx, q, m))
	return q
}

func balanceOf(t *testing.T, db *memory.DB, id string) float64 {
	t.Helper()
	b, err := db.Balances().Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// fakeGenerator answers every request with fn and records the requests.
type fakeGenerator struct {
	mu    sync.Mutex
	calls []domain.GenerationRequest
	fn    func(req domain.GenerationRequest) (domain.Generation, error)
}

func (g *fakeGenerator) Generate(_ context.Context, req domain.GenerationRequest) (domain.Generation, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	return g.fn(req)
}

func (g *fakeGenerator) count(shape domain.GenerationShape) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	for _, c := range g.calls {
		if c.Shape == shape {
			n++
		}
	}
	return n
}

// contentGenerator returns well-formed content for every shape, with article
// bodies of articleLen characters.
func contentGenerator(articleLen int) *fakeGenerator {
	return articleBodyGenerator(strings.Repeat("a", articleLen))
}

// articleBodyGenerator is contentGenerator with a fixed article body.
func articleBodyGenerator(body string) *fakeGenerator {
	return &fakeGenerator{fn: func(req domain.GenerationRequest) (domain.Generation, error) {
		g := domain.Generation{Shape: req.Shape}
		switch req.Shape {
		case domain.ShapePost:
			g.Post = &domain.GeneratedPost{Content: "Markets look jumpy today"}
		case domain.ShapeArticle:
			g.Article = &domain.GeneratedArticle{
				Title: "Headline", Summary: "Summary", Body: body,
			}
		case domain.ShapeEvent:
			g.Event = &domain.GeneratedEvent{Type: "leak", Description: "Internal memo surfaces"}
		case domain.ShapeQuestion:
			g.Question = &domain.GeneratedQuestion{
				Question: "Will the launch slip?", ResolutionCriteria: "Official schedule", Category: "tech",
			}
		}
		return g, nil
	}}
}

// fakeLedger records calls and answers with fixed values.
type fakeLedger struct {
	mu         sync.Mutex
	created    []string
	resolved   []string
	resolveErr error
}

func (l *fakeLedger) EnsureMarketOnChain(_ context.Context, m domain.Market) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, m.ID)
	return "0xchain-" + m.ID, nil
}

func (l *fakeLedger) ResolveMarketOnChain(_ context.Context, onChainID string, _ bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolveErr != nil {
		return "", l.resolveErr
	}
	l.resolved = append(l.resolved, onChainID)
	return "0xtx-" + onChainID, nil
}

func (l *fakeLedger) OutcomeHash(questionID string, outcome bool) string {
	if outcome {
		return "0xhash-" + questionID + "-yes"
	}
	return "0xhash-" + questionID + "-no"
}

// recordingBus captures publishes.
type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	appended  map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string][][]byte{}, appended: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

// mapPriceCache is an in-memory domain.PriceCache.
type mapPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (c *mapPriceCache) SetPrice(_ context.Context, ticker string, price float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = map[string]float64{}
	}
	c.prices[ticker] = price
	return nil
}

func (c *mapPriceCache) GetPrice(_ context.Context, ticker string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[ticker]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}
