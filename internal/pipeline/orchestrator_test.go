package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/service"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

var tickStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// phases stands in for every tick component and records the order it is
// called in.
type phases struct {
	mu    sync.Mutex
	calls []string
	clock *testClock

	expired          []domain.Question
	resolveErr       error
	payoutErr        map[string]error
	advanceOnResolve time.Duration
	advanceOnTrade   time.Duration
	baselineErr      error
	pricesPerRun     int
	trendingErr      error
	reputationRan    bool
	generated        []generateCall
}

type generateCall struct {
	count   int
	horizon time.Duration
}

func (p *phases) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
}

func (p *phases) EnsureSeeded(context.Context) (bool, error) {
	p.record("seed")
	return false, nil
}

func (p *phases) SimulationDay(context.Context, time.Time) (int, error) {
	return 4, nil
}

func (p *phases) GenerateNewQuestions(_ context.Context, count int, _ time.Time, horizon time.Duration) ([]domain.Question, error) {
	p.record("generate")
	p.generated = append(p.generated, generateCall{count: count, horizon: horizon})
	out := make([]domain.Question, count)
	for i := range out {
		out[i] = domain.Question{ID: "new", Number: int64(i + 1)}
	}
	return out, nil
}

func (p *phases) ResolveExpired(context.Context, time.Time) ([]domain.Question, error) {
	p.record("resolve")
	p.clock.advance(p.advanceOnResolve)
	return p.expired, p.resolveErr
}

func (p *phases) ResolveQuestionPayouts(_ context.Context, q domain.Question) (float64, error) {
	p.record("payouts")
	return 0, p.payoutErr[q.ID]
}

func (p *phases) GenerateMixedPosts(context.Context, []domain.Question, time.Time, time.Time) domain.ContentStats {
	p.record("posts")
	return domain.ContentStats{Posts: 6, Articles: 1}
}

func (p *phases) GenerateArticles(context.Context, time.Time, time.Time) domain.ContentStats {
	p.record("articles")
	return domain.ContentStats{Articles: 2}
}

func (p *phases) GenerateEvents(context.Context, []domain.Question, int, time.Time, time.Time) int {
	p.record("events")
	return 1
}

func (p *phases) GenerateBatchDecisions(context.Context) ([]domain.TradeDecision, error) {
	p.record("decisions")
	return []domain.TradeDecision{{ActorID: "npc-1"}}, nil
}

func (p *phases) ExecuteBaselineInvestments(context.Context) (domain.ExecutionResult, error) {
	p.record("baseline")
	return domain.ExecutionResult{SuccessfulTrades: 1}, p.baselineErr
}

func (p *phases) ExecuteDecisionBatch(context.Context, []domain.TradeDecision) domain.ExecutionResult {
	p.record("execute")
	p.clock.advance(p.advanceOnTrade)
	return domain.ExecutionResult{SuccessfulTrades: 1}
}

func (p *phases) UpdateMarketPricesFromTrades(context.Context, time.Time, domain.ExecutionResult) (int, error) {
	p.record("prices")
	return p.pricesPerRun, nil
}

func (p *phases) PublishCommitments(_ context.Context, qs []domain.Question) domain.OracleResult {
	p.record("commit")
	return domain.OracleResult{Count: len(qs)}
}

func (p *phases) PublishReveals(_ context.Context, qs []domain.Question) domain.OracleResult {
	p.record("reveal")
	return domain.OracleResult{Count: len(qs) - 1, Errors: 1}
}

func (p *phases) RefreshAll(context.Context) int {
	p.record("widgets")
	return 3
}

func (p *phases) RunTrending(context.Context, time.Time) (bool, error) {
	p.record("trending")
	return p.trendingErr == nil, p.trendingErr
}

func (p *phases) SyncReputation(context.Context, time.Time) (bool, error) {
	p.record("reputation")
	return p.reputationRan, nil
}

func (p *phases) SendAlphaInvites(context.Context) (int, error) {
	p.record("alpha")
	return 0, nil
}

func (p *phases) GroupDynamics(context.Context) (int, int, error) {
	p.record("groups")
	return 0, 0, nil
}

type recorder struct {
	mu        sync.Mutex
	published map[string][][]byte
	archived  []domain.TickSummary
	alerts    []error
	summaries []domain.TickSummary
}

func (r *recorder) Publish(_ context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.published == nil {
		r.published = map[string][][]byte{}
	}
	r.published[channel] = append(r.published[channel], payload)
	return nil
}

func (r *recorder) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return r.Publish(ctx, stream, payload)
}

func (r *recorder) ArchiveTick(_ context.Context, s domain.TickSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, s)
	return nil
}

func (r *recorder) TickCompleted(_ context.Context, s domain.TickSummary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	r.alerts = append(r.alerts, err)
}

func testOptions() Options {
	return Options{
		Budget:             180 * time.Second,
		LockTTLPadding:     30 * time.Second,
		MinActiveQuestions: 10,
		BootstrapQuestions: 5,
		ReplenishQuestions: 3,
	}
}

func newTestOrchestrator(db *memory.DB, p *phases, rec *recorder) *Orchestrator {
	deps := Deps{
		Locks:       db.Locks(),
		Questions:   db.Questions(),
		State:       db.State(),
		Bootstrap:   p,
		Lifecycle:   p,
		Content:     p,
		Decisions:   p,
		Executor:    p,
		Prices:      p,
		Oracle:      p,
		Widgets:     p,
		Maintenance: p,
	}
	if rec != nil {
		deps.Bus = rec
		deps.Archiver = rec
		deps.Alerter = rec
	}
	return NewOrchestrator(deps, testOptions(), discardLogger()).WithClock(p.clock.Now)
}

func activeQuestion(t *testing.T, db *memory.DB, id string) domain.Question {
	t.Helper()
	ctx := context.Background()
	n, err := db.Questions().NextNumber(ctx)
	require.NoError(t, err)
	q := domain.Question{
		ID: id, Number: n, Text: id + "?", Status: domain.QuestionStatusActive,
		MarketID: "m-" + id, ResolutionDate: tickStart.Add(24 * time.Hour), CreatedAt: tickStart,
	}
	require.NoError(t, db.Questions().CreateWithMarket(ctx, q, domain.Market{ID: q.MarketID, QuestionID: id}))
	return q
}

func TestExecuteTick_SkipsWhenLeaseHeld(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	_, err := db.Locks().Acquire(ctx, TickLockKey, time.Minute)
	require.NoError(t, err)

	p := &phases{clock: &testClock{now: tickStart}}
	rec := &recorder{}
	s, err := newTestOrchestrator(db, p, rec).ExecuteTick(ctx)
	require.NoError(t, err)
	assert.True(t, s.Skipped)
	assert.Empty(t, p.calls)
	assert.Empty(t, rec.archived)
	require.Len(t, rec.summaries, 1)
	assert.True(t, rec.summaries[0].Skipped)
}

func TestExecuteTick_RunsPhasesInOrder(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	q := activeQuestion(t, db, "q1")

	p := &phases{
		clock:         &testClock{now: tickStart},
		expired:       []domain.Question{q, {ID: "q0"}},
		pricesPerRun:  2,
		reputationRan: true,
	}
	rec := &recorder{}
	s, err := newTestOrchestrator(db, p, rec).ExecuteTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"seed",
		"resolve", "payouts", "payouts", "reveal",
		"posts", "events",
		"baseline", "prices", "decisions", "execute", "prices",
		"articles", "generate", "commit",
		"widgets",
		"trending", "reputation", "alpha", "groups",
	}, p.calls)
	assert.Equal(t, []generateCall{{count: 3, horizon: service.ReplenishHorizon}}, p.generated)

	assert.False(t, s.Skipped)
	assert.Equal(t, 6, s.PostsCreated)
	assert.Equal(t, 3, s.ArticlesCreated)
	assert.Equal(t, 1, s.EventsCreated)
	assert.Equal(t, 4, s.MarketsUpdated)
	assert.Equal(t, 2, s.QuestionsResolved)
	assert.Equal(t, 3, s.QuestionsCreated)
	assert.Equal(t, 3, s.WidgetCachesUpdated)
	assert.Equal(t, 3, s.OracleCommits)
	assert.Equal(t, 1, s.OracleReveals)
	assert.Equal(t, 1, s.OracleErrors)
	assert.True(t, s.TrendingCalculated)
	assert.True(t, s.ReputationSynced)
	assert.Equal(t, tickStart, s.StartedAt)

	heartbeat, err := db.State().GetTime(ctx, domain.StateHeartbeat)
	require.NoError(t, err)
	assert.Equal(t, tickStart, heartbeat)

	assert.Len(t, rec.published[domain.ChannelTicks], 1)
	assert.Len(t, rec.published[domain.StreamTicks], 1)
	require.Len(t, rec.archived, 1)
	assert.Equal(t, s, rec.archived[0])
	assert.Equal(t, []error{nil}, rec.alerts)

	_, err = db.Locks().Acquire(ctx, TickLockKey, time.Minute)
	assert.NoError(t, err, "lease is released after the tick")
}

func TestExecuteTick_SeedsQuestionsWhenNoneActive(t *testing.T) {
	db := memory.New()
	p := &phases{clock: &testClock{now: tickStart}}

	s, err := newTestOrchestrator(db, p, nil).ExecuteTick(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, p.generated)
	assert.Equal(t, generateCall{count: 5, horizon: service.BootstrapHorizon}, p.generated[0])
	assert.Equal(t, []string{"seed", "generate", "commit", "resolve"}, p.calls[:4])
	assert.Equal(t, 8, s.QuestionsCreated, "seeded batch plus replenishment")
	assert.Equal(t, 8, s.OracleCommits)
}

func TestExecuteTick_CriticalPhaseRunsPastReserve(t *testing.T) {
	db := memory.New()
	activeQuestion(t, db, "q1")
	p := &phases{
		clock:            &testClock{now: tickStart},
		advanceOnResolve: 150 * time.Second,
		pricesPerRun:     2,
	}

	s, err := newTestOrchestrator(db, p, nil).ExecuteTick(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, p.calls, "posts")
	assert.NotContains(t, p.calls, "events")
	assert.Contains(t, p.calls, "baseline")
	assert.Contains(t, p.calls, "execute")
	assert.Contains(t, p.calls, "articles")
	assert.Equal(t, 4, s.MarketsUpdated)
	assert.Zero(t, s.PostsCreated)
}

func TestExecuteTick_LatePhaseSkippedPastBudget(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	activeQuestion(t, db, "q1")
	p := &phases{
		clock:          &testClock{now: tickStart},
		advanceOnTrade: 200 * time.Second,
		pricesPerRun:   1,
	}

	s, err := newTestOrchestrator(db, p, nil).ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Contains(t, p.calls, "posts")
	assert.NotContains(t, p.calls, "articles")
	assert.NotContains(t, p.calls, "generate")
	assert.Contains(t, p.calls, "widgets")
	assert.Equal(t, 2, s.MarketsUpdated)
	assert.Equal(t, int64(200_000), s.DurationMs)

	_, err = db.State().GetTime(ctx, domain.StateHeartbeat)
	assert.NoError(t, err)
}

func TestExecuteTick_PersistenceFailurePropagates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(db *memory.DB, p *phases)
	}{
		{"resolve", func(_ *memory.DB, p *phases) { p.resolveErr = assert.AnError }},
		{"baseline", func(_ *memory.DB, p *phases) { p.baselineErr = assert.AnError }},
		{"heartbeat", func(db *memory.DB, _ *phases) {
			db.Fail = func(op string) error {
				if op == "state.set" {
					return assert.AnError
				}
				return nil
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memory.New()
			ctx := context.Background()
			activeQuestion(t, db, "q1")
			p := &phases{clock: &testClock{now: tickStart}}
			tt.setup(db, p)
			rec := &recorder{}

			_, err := newTestOrchestrator(db, p, rec).ExecuteTick(ctx)
			assert.ErrorIs(t, err, assert.AnError)
			assert.NotContains(t, p.calls, "widgets")
			assert.Empty(t, rec.archived)
			require.Len(t, rec.alerts, 1)
			assert.ErrorIs(t, rec.alerts[0], assert.AnError)

			_, err = db.Locks().Acquire(ctx, TickLockKey, time.Minute)
			assert.NoError(t, err, "lease is released after a failed tick")
		})
	}
}

func TestExecuteTick_PayoutFailureLeavesLaterQuestionsUnpaid(t *testing.T) {
	db := memory.New()
	activeQuestion(t, db, "q1")
	p := &phases{
		clock:     &testClock{now: tickStart},
		expired:   []domain.Question{{ID: "q7", Number: 7}, {ID: "q8", Number: 8}},
		payoutErr: map[string]error{"q7": assert.AnError},
	}

	_, err := newTestOrchestrator(db, p, &recorder{}).ExecuteTick(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "payouts for #7")

	var payouts int
	for _, c := range p.calls {
		if c == "payouts" {
			payouts++
		}
	}
	assert.Equal(t, 1, payouts, "q8 is resolved but never paid")
	assert.NotContains(t, p.calls, "reveal")
}

func TestExecuteTick_MaintenanceFailuresAbsorbed(t *testing.T) {
	db := memory.New()
	activeQuestion(t, db, "q1")
	p := &phases{
		clock:       &testClock{now: tickStart},
		trendingErr: errors.New("posts unavailable"),
	}

	s, err := newTestOrchestrator(db, p, nil).ExecuteTick(context.Background())
	require.NoError(t, err)
	assert.False(t, s.TrendingCalculated)
	assert.False(t, s.ReputationSynced)
	assert.Contains(t, p.calls, "reputation")
	assert.NotContains(t, p.calls, "alpha", "invites follow a reputation sync")
}

type scriptedGenerator struct{}

func (scriptedGenerator) Generate(_ context.Context, req domain.GenerationRequest) (domain.Generation, error) {
	g := domain.Generation{Shape: req.Shape}
	switch req.Shape {
	case domain.ShapePost:
		g.Post = &domain.GeneratedPost{Content: "Orbital launch window opens next week"}
	case domain.ShapeQuestion:
		g.Question = &domain.GeneratedQuestion{
			Question: "Will Orbitra launch before Friday?", ResolutionCriteria: "Launch logged", Category: "tech",
		}
	default:
		return g, domain.ErrMalformedGeneration
	}
	return g, nil
}

func TestExecuteTick_EndToEndOnMemoryStore(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	st := service.Stores{
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
	log := discardLogger()
	gen := scriptedGenerator{}
	questions := service.NewQuestionManager(st, gen, nil, 1000, log)
	content := service.NewContentPool(st, gen, 8, log)

	o := NewOrchestrator(Deps{
		Locks:       db.Locks(),
		Questions:   db.Questions(),
		State:       db.State(),
		Bootstrap:   service.NewBootstrapper(st, service.DefaultWorld(), log),
		Lifecycle:   questions,
		Content:     content,
		Decisions:   service.NewDecisionEngine(st, gen, 12, log),
		Executor:    service.NewTradeExecutor(st, 5, 100, log),
		Prices:      service.NewPriceEngine(db.Organizations(), db.PoolPositions(), nil, nil, log),
		Oracle:      service.NewOraclePublisher(nil, db.Questions(), log),
		Widgets:     service.NewWidgetRefresher(st, nil, log),
		Maintenance: service.NewMaintenance(st, nil, log),
	}, testOptions(), log)

	s, err := o.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.False(t, s.Skipped)
	assert.Equal(t, 8, s.QuestionsCreated)
	assert.Positive(t, s.PostsCreated)
	assert.Equal(t, 3, s.WidgetCachesUpdated)
	assert.True(t, s.TrendingCalculated)
	assert.True(t, s.ReputationSynced)
	assert.Zero(t, s.OracleCommits, "oracle is not configured")
	assert.Zero(t, s.OracleErrors)

	active, err := db.Questions().CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, active)

	_, err = db.State().GetTime(ctx, domain.StateHeartbeat)
	assert.NoError(t, err)

	// A second tick sees the seeded world and the open questions.
	s, err = o.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.QuestionsCreated)
	assert.False(t, s.TrendingCalculated)
}

func TestRunLoop_TriggerRunsExtraTick(t *testing.T) {
	db := memory.New()
	activeQuestion(t, db, "q1")
	p := &phases{clock: &testClock{now: tickStart}}
	rec := &recorder{}
	o := newTestOrchestrator(db, p, rec)

	ticks := func() int {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.summaries)
	}

	ctx, cancel := context.WithCancel(context.Background())
	trigger := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- o.RunLoop(ctx, time.Hour, trigger) }()

	require.Eventually(t, func() bool { return ticks() == 1 }, time.Second, 5*time.Millisecond)
	trigger <- struct{}{}
	require.Eventually(t, func() bool { return ticks() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
