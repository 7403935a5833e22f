package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Maintenance cadences and thresholds.
const (
	TrendingInterval   = 30 * time.Minute
	ReputationInterval = 3 * time.Hour
	TrendingWindow     = 24 * time.Hour
	TrendingTopN       = 10
	TrendingPostLimit  = 2000
	AlphaThreshold     = 70.0
	AlphaInvitesPerRun = 3
	MaxGroupSize       = 8
	neutralReputation  = 50.0
)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "could": {}, "does": {}, "doing": {}, "from": {}, "have": {},
	"just": {}, "like": {}, "more": {}, "most": {}, "only": {}, "over": {},
	"really": {}, "said": {}, "some": {}, "than": {}, "that": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"today": {}, "very": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"while": {}, "will": {}, "with": {}, "would": {}, "your": {},
}

// TopicItem is one entry of the trending-topics widget.
type TopicItem struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Maintenance runs the slow, time-gated jobs at the end of a tick.
type Maintenance struct {
	st     Stores
	mirror domain.WidgetMirror
	logger *slog.Logger
}

// NewMaintenance creates a Maintenance. mirror may be nil.
func NewMaintenance(st Stores, mirror domain.WidgetMirror, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		st:     st,
		mirror: mirror,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// due reports whether at least every has passed since the job stored under
// key last ran.
func (m *Maintenance) due(ctx context.Context, key string, every time.Duration, now time.Time) (bool, error) {
	last, err := m.st.State.GetTime(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("maintenance: read %s: %w", key, err)
	}
	return now.Sub(last) >= every, nil
}

// RunTrending recomputes the trending keywords of the last day of posts when
// TrendingInterval has passed since the previous run.
func (m *Maintenance) RunTrending(ctx context.Context, now time.Time) (bool, error) {
	ok, err := m.due(ctx, domain.StateLastTrending, TrendingInterval, now)
	if err != nil || !ok {
		return false, err
	}

	posts, err := m.st.Content.ListPostsSince(ctx, now.Add(-TrendingWindow), TrendingPostLimit)
	if err != nil {
		return false, fmt.Errorf("maintenance: recent posts: %w", err)
	}
	topics := Keywords(posts, TrendingTopN)
	if err := Publish(ctx, m.st.Widgets, m.mirror, domain.WidgetTrendingTopics, topics, now); err != nil {
		return false, err
	}
	if err := m.st.State.SetTime(ctx, domain.StateLastTrending, now); err != nil {
		return false, fmt.Errorf("maintenance: mark trending: %w", err)
	}
	m.logger.InfoContext(ctx, "trending topics calculated",
		slog.Int("posts", len(posts)),
		slog.Int("topics", len(topics)),
	)
	return true, nil
}

// Keywords counts the words of posts, one vote per post, and returns the
// top n. Short words and stopwords are ignored.
func Keywords(posts []domain.Post, n int) []TopicItem {
	counts := make(map[string]int)
	for _, p := range posts {
		seen := make(map[string]struct{})
		words := strings.FieldsFunc(strings.ToLower(p.Title+" "+p.Content), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '$'
		})
		for _, w := range words {
			w = strings.TrimLeft(w, "$")
			if len(w) < 4 {
				continue
			}
			if _, stop := stopwords[w]; stop {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			counts[w]++
		}
	}

	out := make([]TopicItem, 0, len(counts))
	for w, c := range counts {
		out = append(out, TopicItem{Keyword: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Keyword < out[j].Keyword
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Reputation maps realized PnL onto [0, 100], 50 being break-even.
func Reputation(pnl float64) float64 {
	return neutralReputation + math.Max(-50, math.Min(50, pnl/100))
}

// SyncReputation recomputes every NPC's reputation from realized trade PnL
// when ReputationInterval has passed since the previous sync.
func (m *Maintenance) SyncReputation(ctx context.Context, now time.Time) (bool, error) {
	ok, err := m.due(ctx, domain.StateLastReputation, ReputationInterval, now)
	if err != nil || !ok {
		return false, err
	}

	pnl, err := m.st.Trades.RealizedPnL(ctx)
	if err != nil {
		return false, fmt.Errorf("maintenance: realized pnl: %w", err)
	}
	actors, err := m.st.Actors.List(ctx)
	if err != nil {
		return false, fmt.Errorf("maintenance: list actors: %w", err)
	}
	for _, a := range actors {
		rep := math.Round(Reputation(pnl[a.ID])*100) / 100
		if rep == a.Reputation {
			continue
		}
		if err := m.st.Actors.UpdateReputation(ctx, a.ID, rep); err != nil {
			return false, fmt.Errorf("maintenance: reputation of %s: %w", a.ID, err)
		}
	}
	if err := m.st.State.SetTime(ctx, domain.StateLastReputation, now); err != nil {
		return false, fmt.Errorf("maintenance: mark reputation: %w", err)
	}
	m.logger.InfoContext(ctx, "reputation synced", slog.Int("actors", len(actors)))
	return true, nil
}

// SendAlphaInvites flags up to AlphaInvitesPerRun of the best-reputed
// non-alpha NPCs at or above AlphaThreshold.
func (m *Maintenance) SendAlphaInvites(ctx context.Context) (int, error) {
	actors, err := m.st.Actors.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("maintenance: list actors: %w", err)
	}
	var candidates []domain.Actor
	for _, a := range actors {
		if !a.Alpha && a.Reputation >= AlphaThreshold {
			candidates = append(candidates, a)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Reputation > candidates[j].Reputation
	})

	var invited int
	for _, a := range candidates {
		if invited == AlphaInvitesPerRun {
			break
		}
		if err := m.st.Actors.SetAlpha(ctx, a.ID); err != nil {
			return invited, fmt.Errorf("maintenance: invite %s: %w", a.ID, err)
		}
		invited++
	}
	if invited > 0 {
		m.logger.InfoContext(ctx, "alpha invites sent", slog.Int("invited", invited))
	}
	return invited, nil
}

// GroupDynamics places every ungrouped NPC into the group of its
// nearest-reputation peer, founding a new group when the peer has none, then
// drops the lowest-reputation member of every group larger than
// MaxGroupSize.
func (m *Maintenance) GroupDynamics(ctx context.Context) (joined, dropped int, err error) {
	actors, err := m.st.Actors.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("maintenance: list actors: %w", err)
	}
	if len(actors) < 2 {
		return 0, 0, nil
	}

	for i := range actors {
		if actors[i].GroupID != "" {
			continue
		}
		peer := nearestPeer(actors, i)
		group := actors[peer].GroupID
		if group == "" {
			group = "grp_" + uuid.NewString()[:8]
			if err := m.st.Actors.SetGroup(ctx, actors[peer].ID, group); err != nil {
				return joined, dropped, fmt.Errorf("maintenance: found group: %w", err)
			}
			actors[peer].GroupID = group
			joined++
		}
		if err := m.st.Actors.SetGroup(ctx, actors[i].ID, group); err != nil {
			return joined, dropped, fmt.Errorf("maintenance: join group: %w", err)
		}
		actors[i].GroupID = group
		joined++
	}

	members := make(map[string][]domain.Actor)
	for _, a := range actors {
		members[a.GroupID] = append(members[a.GroupID], a)
	}
	groups := make([]string, 0, len(members))
	for g := range members {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		ms := members[g]
		if len(ms) <= MaxGroupSize {
			continue
		}
		lowest := ms[0]
		for _, a := range ms[1:] {
			if a.Reputation < lowest.Reputation {
				lowest = a
			}
		}
		if err := m.st.Actors.SetGroup(ctx, lowest.ID, ""); err != nil {
			return joined, dropped, fmt.Errorf("maintenance: drop %s: %w", lowest.ID, err)
		}
		dropped++
	}

	if joined > 0 || dropped > 0 {
		m.logger.InfoContext(ctx, "group dynamics applied",
			slog.Int("joined", joined),
			slog.Int("dropped", dropped),
		)
	}
	return joined, dropped, nil
}

// nearestPeer returns the index of the actor whose reputation is closest to
// actors[i]'s. Ties go to the first in list order.
func nearestPeer(actors []domain.Actor, i int) int {
	best, bestDist := -1, math.Inf(1)
	for j, a := range actors {
		if j == i {
			continue
		}
		if d := math.Abs(a.Reputation - actors[i].Reputation); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
