package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Widget parameters.
const (
	WidgetTopN           = 3
	PriceHistoryLookback = 1440
	MoverWindow          = 24 * time.Hour
	VolumeWindow         = 7 * 24 * time.Hour
)

// RecencyWeight scores a question by age: 2.0 under a day, falling linearly
// to 1.0 at seven days and flat after.
func RecencyWeight(age time.Duration) float64 {
	const day = 24 * time.Hour
	switch {
	case age < day:
		return 2.0
	case age >= 7*day:
		return 1.0
	default:
		return 2.0 - float64(age-day)/float64(6*day)
	}
}

// MoverItem is one entry of the top-movers widget.
type MoverItem struct {
	Ticker        string  `json:"ticker"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent24h"`
}

// PoolItem is one entry of the top-pools widget.
type PoolItem struct {
	PoolID    string  `json:"poolId"`
	Name      string  `json:"name"`
	TVL       float64 `json:"tvl"`
	ReturnPct float64 `json:"returnPercent"`
	Positions int     `json:"positions"`
}

// QuestionItem is one entry of the trending-questions widget.
type QuestionItem struct {
	Number   int64   `json:"number"`
	Text     string  `json:"text"`
	MarketID string  `json:"marketId"`
	Volume   float64 `json:"volume"`
	Score    float64 `json:"score"`
}

type widgetPayload struct {
	Items       any       `json:"items"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// WidgetRefresher recomputes the leaderboard caches every tick.
type WidgetRefresher struct {
	st     Stores
	mirror domain.WidgetMirror
	clock  Clock
	logger *slog.Logger
}

// NewWidgetRefresher creates a WidgetRefresher. mirror may be nil.
func NewWidgetRefresher(st Stores, mirror domain.WidgetMirror, logger *slog.Logger) *WidgetRefresher {
	return &WidgetRefresher{
		st:     st,
		mirror: mirror,
		clock:  wallClock,
		logger: logger.With(slog.String("component", "widgets")),
	}
}

// WithClock replaces the refresher's clock.
func (w *WidgetRefresher) WithClock(c Clock) *WidgetRefresher {
	w.clock = c
	return w
}

// RefreshAll recomputes and upserts every widget and returns how many were
// written. A failing widget is logged and does not stop the others.
func (w *WidgetRefresher) RefreshAll(ctx context.Context) int {
	now := w.clock()
	jobs := []struct {
		name string
		fn   func(context.Context, time.Time) (any, error)
	}{
		{domain.WidgetTopMovers, func(ctx context.Context, t time.Time) (any, error) { return w.TopMovers(ctx, t) }},
		{domain.WidgetTopPools, func(ctx context.Context, _ time.Time) (any, error) { return w.TopPools(ctx) }},
		{domain.WidgetTrendingQuestions, func(ctx context.Context, t time.Time) (any, error) { return w.TrendingQuestions(ctx, t) }},
	}

	var written int
	for _, j := range jobs {
		items, err := j.fn(ctx, now)
		if err == nil {
			err = Publish(ctx, w.st.Widgets, w.mirror, j.name, items, now)
		}
		if err != nil {
			w.logger.WarnContext(ctx, "widget refresh failed",
				slog.String("widget", j.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		written++
	}
	return written
}

// Publish stores items under widget and mirrors the row when a mirror is
// configured. Mirror failures are not returned.
func Publish(ctx context.Context, store domain.WidgetStore, mirror domain.WidgetMirror, widget string, items any, now time.Time) error {
	data, err := json.Marshal(widgetPayload{Items: items, GeneratedAt: now})
	if err != nil {
		return fmt.Errorf("widgets: marshal %s: %w", widget, err)
	}
	row := domain.WidgetCache{Widget: widget, Data: data, UpdatedAt: now}
	if err := store.Upsert(ctx, row); err != nil {
		return fmt.Errorf("widgets: upsert %s: %w", widget, err)
	}
	if mirror != nil {
		_ = mirror.SetWidget(ctx, row)
	}
	return nil
}

// TopMovers ranks instruments by absolute 24h percentage change.
func (w *WidgetRefresher) TopMovers(ctx context.Context, now time.Time) ([]MoverItem, error) {
	orgs, err := w.st.Organizations.List(ctx)
	if err != nil {
		return nil, err
	}
	since := now.Add(-MoverWindow)
	items := make([]MoverItem, 0, len(orgs))
	for _, o := range orgs {
		hist, err := w.st.Organizations.PriceHistory(ctx, o.ID, PriceHistoryLookback)
		if err != nil {
			return nil, err
		}
		items = append(items, MoverItem{
			Ticker:        o.ID,
			Name:          o.Name,
			Price:         o.CurrentPrice,
			ChangePercent: round2(changeSince(o.CurrentPrice, hist, since)),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return math.Abs(items[i].ChangePercent) > math.Abs(items[j].ChangePercent)
	})
	return topN(items), nil
}

// changeSince returns the percent change from the price in effect at since
// to current. hist is newest first; the reference is the pre-change price of
// the oldest sample inside the window.
func changeSince(current float64, hist []domain.PricePoint, since time.Time) float64 {
	var oldest *domain.PricePoint
	for i := range hist {
		if hist[i].RecordedAt.Before(since) {
			break
		}
		oldest = &hist[i]
	}
	if oldest == nil {
		return 0
	}
	ref := oldest.Price - oldest.Change
	if ref <= 0 {
		return 0
	}
	return (current - ref) / ref * 100
}

// TopPools ranks NPC pools by TVL-weighted return of their open positions.
func (w *WidgetRefresher) TopPools(ctx context.Context) ([]PoolItem, error) {
	open, err := w.st.PoolPositions.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	orgs, err := w.st.Organizations.List(ctx)
	if err != nil {
		return nil, err
	}
	actors, err := w.st.Actors.List(ctx)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(orgs))
	for _, o := range orgs {
		prices[o.ID] = o.CurrentPrice
	}
	names := make(map[string]string, len(actors))
	for _, a := range actors {
		names[a.ID] = a.Name
	}

	type agg struct {
		tvl, pnl float64
		n        int
	}
	pools := make(map[string]*agg)
	for _, p := range open {
		a, ok := pools[p.PoolID]
		if !ok {
			a = &agg{}
			pools[p.PoolID] = a
		}
		a.tvl += p.Size
		a.pnl += p.UnrealizedPnL(prices[p.Ticker])
		a.n++
	}

	items := make([]PoolItem, 0, len(pools))
	for id, a := range pools {
		if a.tvl <= 0 {
			continue
		}
		items = append(items, PoolItem{
			PoolID:    id,
			Name:      names[id],
			TVL:       round2(a.tvl),
			ReturnPct: round2(a.pnl / a.tvl * 100),
			Positions: a.n,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ReturnPct == items[j].ReturnPct {
			return items[i].PoolID < items[j].PoolID
		}
		return items[i].ReturnPct > items[j].ReturnPct
	})
	return topN(items), nil
}

// TrendingQuestions ranks active questions by volume x RecencyWeight.
func (w *WidgetRefresher) TrendingQuestions(ctx context.Context, now time.Time) ([]QuestionItem, error) {
	qs, err := w.st.Questions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	volumes, err := w.st.Trades.MarketVolumes(ctx, now.Add(-VolumeWindow))
	if err != nil {
		return nil, err
	}

	items := make([]QuestionItem, 0, len(qs))
	for _, q := range qs {
		vol := volumes[q.MarketID]
		items = append(items, QuestionItem{
			Number:   q.Number,
			Text:     q.Text,
			MarketID: q.MarketID,
			Volume:   round2(vol),
			Score:    round2(vol * RecencyWeight(now.Sub(q.CreatedAt))),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score == items[j].Score {
			return items[i].Number > items[j].Number
		}
		return items[i].Score > items[j].Score
	})
	return topN(items), nil
}

func topN[T any](items []T) []T {
	if len(items) > WidgetTopN {
		return items[:WidgetTopN]
	}
	return items
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
