package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketsim/internal/config"
	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/service"
)

// TickLockKey is the lease every tick must hold.
const TickLockKey = "tick"

// Bootstrapper seeds the world and knows its age.
type Bootstrapper interface {
	EnsureSeeded(ctx context.Context) (bool, error)
	SimulationDay(ctx context.Context, now time.Time) (int, error)
}

// QuestionLifecycle resolves and creates prediction questions.
type QuestionLifecycle interface {
	GenerateNewQuestions(ctx context.Context, count int, deadline time.Time, horizon time.Duration) ([]domain.Question, error)
	ResolveExpired(ctx context.Context, now time.Time) ([]domain.Question, error)
	ResolveQuestionPayouts(ctx context.Context, q domain.Question) (float64, error)
}

// ContentGenerator fans out posts, articles and world events.
type ContentGenerator interface {
	GenerateMixedPosts(ctx context.Context, questions []domain.Question, ts, deadline time.Time) domain.ContentStats
	GenerateArticles(ctx context.Context, ts, deadline time.Time) domain.ContentStats
	GenerateEvents(ctx context.Context, questions []domain.Question, day int, ts, deadline time.Time) int
}

// DecisionMaker produces NPC trade decisions.
type DecisionMaker interface {
	GenerateBatchDecisions(ctx context.Context) ([]domain.TradeDecision, error)
}

// TradeExecutor applies trade decisions.
type TradeExecutor interface {
	ExecuteBaselineInvestments(ctx context.Context) (domain.ExecutionResult, error)
	ExecuteDecisionBatch(ctx context.Context, decisions []domain.TradeDecision) domain.ExecutionResult
}

// PriceUpdater recomputes instrument prices.
type PriceUpdater interface {
	UpdateMarketPricesFromTrades(ctx context.Context, ts time.Time, result domain.ExecutionResult) (int, error)
}

// OraclePublisher commits and reveals question outcomes.
type OraclePublisher interface {
	PublishCommitments(ctx context.Context, qs []domain.Question) domain.OracleResult
	PublishReveals(ctx context.Context, qs []domain.Question) domain.OracleResult
}

// WidgetRefresher rebuilds the widget caches.
type WidgetRefresher interface {
	RefreshAll(ctx context.Context) int
}

// Maintainer runs the slow, time-gated jobs.
type Maintainer interface {
	RunTrending(ctx context.Context, now time.Time) (bool, error)
	SyncReputation(ctx context.Context, now time.Time) (bool, error)
	SendAlphaInvites(ctx context.Context) (int, error)
	GroupDynamics(ctx context.Context) (joined, dropped int, err error)
}

// Alerter is told how every tick ended.
type Alerter interface {
	TickCompleted(ctx context.Context, s domain.TickSummary, tickErr error)
}

// Deps wires the orchestrator. Bus, Archiver and Alerter may be nil.
type Deps struct {
	Locks     domain.LockManager
	Questions domain.QuestionStore
	State     domain.StateStore

	Bootstrap   Bootstrapper
	Lifecycle   QuestionLifecycle
	Content     ContentGenerator
	Decisions   DecisionMaker
	Executor    TradeExecutor
	Prices      PriceUpdater
	Oracle      OraclePublisher
	Widgets     WidgetRefresher
	Maintenance Maintainer

	Bus      domain.SignalBus
	Archiver domain.Archiver
	Alerter  Alerter
}

// Options sizes one tick.
type Options struct {
	Budget             time.Duration
	LockTTLPadding     time.Duration
	MinActiveQuestions int
	BootstrapQuestions int
	ReplenishQuestions int
}

// OptionsFromConfig maps the tick configuration onto Options.
func OptionsFromConfig(t config.TickConfig) Options {
	return Options{
		Budget:             t.Budget(),
		LockTTLPadding:     t.LockTTLPadding.Duration,
		MinActiveQuestions: t.MinActiveQuestions,
		BootstrapQuestions: t.BootstrapQuestions,
		ReplenishQuestions: t.ReplenishQuestions,
	}
}

// Orchestrator runs one budget-bounded tick of the simulation at a time.
type Orchestrator struct {
	deps   Deps
	opts   Options
	clock  func() time.Time
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// WithClock replaces the orchestrator's clock.
func (o *Orchestrator) WithClock(c func() time.Time) *Orchestrator {
	o.clock = c
	return o
}

// ExecuteTick runs one tick. When another tick holds the lease it returns a
// skipped summary and no error. Persistence failures while bootstrapping,
// loading or resolving questions, in the trading phase and when writing the
// heartbeat abort the tick; every other failure is logged and counts zero.
func (o *Orchestrator) ExecuteTick(ctx context.Context) (domain.TickSummary, error) {
	start := o.clock()
	summary := domain.TickSummary{StartedAt: start}

	unlock, err := o.deps.Locks.Acquire(ctx, TickLockKey, o.opts.Budget+o.opts.LockTTLPadding)
	if errors.Is(err, domain.ErrLockHeld) {
		summary.Skipped = true
		o.logger.InfoContext(ctx, "tick skipped, lease held elsewhere")
		o.finish(ctx, &summary, nil)
		return summary, nil
	}
	if err != nil {
		err = fmt.Errorf("pipeline: acquire tick lease: %w", err)
		o.finish(ctx, &summary, err)
		return summary, err
	}
	defer unlock()

	err = o.run(ctx, start, &summary)
	o.finish(ctx, &summary, err)
	return summary, err
}

// RunLoop runs a tick immediately and then on every interval until the
// context is cancelled. A receive on trigger runs an extra tick; trigger may
// be nil. Failed ticks are logged and the loop carries on.
func (o *Orchestrator) RunLoop(ctx context.Context, interval time.Duration, trigger <-chan struct{}) error {
	// The summary is already logged and published by ExecuteTick.
	_, _ = o.ExecuteTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("tick loop stopped")
			return ctx.Err()
		case <-ticker.C:
			_, _ = o.ExecuteTick(ctx)
		case <-trigger:
			o.logger.InfoContext(ctx, "manual tick triggered")
			_, _ = o.ExecuteTick(ctx)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, start time.Time, s *domain.TickSummary) error {
	deadline := start.Add(o.opts.Budget)
	criticalDeadline := deadline.Add(-config.CriticalReserve)
	o.logger.InfoContext(ctx, "tick started",
		slog.Time("deadline", deadline),
		slog.Time("critical_deadline", criticalDeadline),
	)

	// 1. Bootstrap.
	if _, err := o.deps.Bootstrap.EnsureSeeded(ctx); err != nil {
		return fmt.Errorf("pipeline: bootstrap: %w", err)
	}

	// 2. Active questions, seeded synchronously when there are none.
	active, err := o.deps.Questions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: load active questions: %w", err)
	}
	if len(active) == 0 {
		created, err := o.deps.Lifecycle.GenerateNewQuestions(ctx, o.opts.BootstrapQuestions, deadline, service.BootstrapHorizon)
		s.QuestionsCreated += len(created)
		if err != nil {
			return fmt.Errorf("pipeline: seed questions: %w", err)
		}
		o.addOracle(s, o.deps.Oracle.PublishCommitments(ctx, created), true)
		active = created
	}

	// 3. Resolve expired questions.
	resolved, err := o.deps.Lifecycle.ResolveExpired(ctx, o.clock())
	if err != nil {
		return fmt.Errorf("pipeline: resolve expired: %w", err)
	}
	s.QuestionsResolved = len(resolved)
	for _, q := range resolved {
		if _, err := o.deps.Lifecycle.ResolveQuestionPayouts(ctx, q); err != nil {
			return fmt.Errorf("pipeline: payouts for #%d: %w", q.Number, err)
		}
	}
	if len(resolved) > 0 {
		o.addOracle(s, o.deps.Oracle.PublishReveals(ctx, resolved), false)
		active = withoutResolved(active, resolved)
	}

	// 4. Content, while there is time before the critical reserve.
	if now := o.clock(); now.Before(criticalDeadline) {
		day, err := o.deps.Bootstrap.SimulationDay(ctx, now)
		if err != nil {
			o.logger.WarnContext(ctx, "simulation day unavailable", slog.String("error", err.Error()))
			day = 1
		}
		stats := o.deps.Content.GenerateMixedPosts(ctx, active, now, criticalDeadline)
		s.PostsCreated += stats.Posts
		s.ArticlesCreated += stats.Articles
		s.EventsCreated += o.deps.Content.GenerateEvents(ctx, active, day, now, criticalDeadline)
	} else {
		o.logger.WarnContext(ctx, "content phase skipped, critical reserve reached",
			slog.Duration("elapsed", now.Sub(start)),
		)
	}

	// 5. Trading and pricing, always.
	if err := o.trade(ctx, s); err != nil {
		return err
	}

	// 6. Articles and replenishment, while the budget lasts.
	if now := o.clock(); now.Before(deadline) {
		stats := o.deps.Content.GenerateArticles(ctx, now, deadline)
		s.PostsCreated += stats.Posts
		s.ArticlesCreated += stats.Articles
		o.replenish(ctx, s, deadline)
	} else {
		o.logger.WarnContext(ctx, "late phase skipped, budget exhausted")
	}

	// 7. Heartbeat.
	if err := o.deps.State.SetTime(ctx, domain.StateHeartbeat, o.clock()); err != nil {
		return fmt.Errorf("pipeline: heartbeat: %w", err)
	}

	// 8. Widgets.
	s.WidgetCachesUpdated = o.deps.Widgets.RefreshAll(ctx)

	// 9. Maintenance.
	o.maintain(ctx, s)
	return nil
}

// trade runs baseline investments, decisions and execution, recomputing
// prices after each execution.
func (o *Orchestrator) trade(ctx context.Context, s *domain.TickSummary) error {
	baseline, err := o.deps.Executor.ExecuteBaselineInvestments(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: baseline investments: %w", err)
	}
	n, err := o.deps.Prices.UpdateMarketPricesFromTrades(ctx, o.clock(), baseline)
	if err != nil {
		return fmt.Errorf("pipeline: prices after baseline: %w", err)
	}
	s.MarketsUpdated += n

	decisions, err := o.deps.Decisions.GenerateBatchDecisions(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: decisions: %w", err)
	}
	result := o.deps.Executor.ExecuteDecisionBatch(ctx, decisions)
	n, err = o.deps.Prices.UpdateMarketPricesFromTrades(ctx, o.clock(), result)
	if err != nil {
		return fmt.Errorf("pipeline: prices after decisions: %w", err)
	}
	s.MarketsUpdated += n

	o.logger.InfoContext(ctx, "trading phase complete",
		slog.Int("baseline_trades", baseline.SuccessfulTrades),
		slog.Int("decisions", len(decisions)),
		slog.Int("executed", result.SuccessfulTrades),
		slog.Int("failed", result.FailedTrades),
		slog.Int("markets_updated", s.MarketsUpdated),
	)
	return nil
}

func (o *Orchestrator) replenish(ctx context.Context, s *domain.TickSummary, deadline time.Time) {
	count, err := o.deps.Questions.CountActive(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "count active questions failed", slog.String("error", err.Error()))
		return
	}
	if count >= o.opts.MinActiveQuestions {
		return
	}
	want := min(o.opts.ReplenishQuestions, o.opts.MinActiveQuestions-count)
	created, err := o.deps.Lifecycle.GenerateNewQuestions(ctx, want, deadline, service.ReplenishHorizon)
	if err != nil {
		o.logger.WarnContext(ctx, "question replenishment failed", slog.String("error", err.Error()))
	}
	s.QuestionsCreated += len(created)
	if len(created) > 0 {
		o.addOracle(s, o.deps.Oracle.PublishCommitments(ctx, created), true)
	}
}

func (o *Orchestrator) maintain(ctx context.Context, s *domain.TickSummary) {
	now := o.clock()
	warn := func(job string, err error) {
		o.logger.WarnContext(ctx, "maintenance job failed",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
	}

	ran, err := o.deps.Maintenance.RunTrending(ctx, now)
	if err != nil {
		warn("trending", err)
	}
	s.TrendingCalculated = ran

	ran, err = o.deps.Maintenance.SyncReputation(ctx, now)
	if err != nil {
		warn("reputation", err)
	}
	s.ReputationSynced = ran
	if !ran {
		return
	}
	if _, err := o.deps.Maintenance.SendAlphaInvites(ctx); err != nil {
		warn("alpha_invites", err)
	}
	if _, _, err := o.deps.Maintenance.GroupDynamics(ctx); err != nil {
		warn("group_dynamics", err)
	}
}

func (o *Orchestrator) addOracle(s *domain.TickSummary, r domain.OracleResult, commit bool) {
	if commit {
		s.OracleCommits += r.Count
	} else {
		s.OracleReveals += r.Count
	}
	s.OracleErrors += r.Errors
}

// finish logs the summary and hands it to the bus, the archive and the
// alerter. None of them can fail the tick.
func (o *Orchestrator) finish(ctx context.Context, s *domain.TickSummary, tickErr error) {
	s.DurationMs = o.clock().Sub(s.StartedAt).Milliseconds()

	attrs := []any{
		slog.Int("posts", s.PostsCreated),
		slog.Int("articles", s.ArticlesCreated),
		slog.Int("events", s.EventsCreated),
		slog.Int("markets_updated", s.MarketsUpdated),
		slog.Int("questions_resolved", s.QuestionsResolved),
		slog.Int("questions_created", s.QuestionsCreated),
		slog.Int("widgets", s.WidgetCachesUpdated),
		slog.Int("oracle_commits", s.OracleCommits),
		slog.Int("oracle_reveals", s.OracleReveals),
		slog.Int("oracle_errors", s.OracleErrors),
		slog.Bool("skipped", s.Skipped),
		slog.Int64("duration_ms", s.DurationMs),
	}
	if tickErr != nil {
		o.logger.ErrorContext(ctx, "tick failed", append(attrs, slog.String("error", tickErr.Error()))...)
	} else {
		o.logger.InfoContext(ctx, "tick complete", attrs...)
	}

	if o.deps.Bus != nil {
		payload, _ := json.Marshal(s)
		if err := o.deps.Bus.Publish(ctx, domain.ChannelTicks, payload); err != nil {
			o.logger.WarnContext(ctx, "publish tick summary failed", slog.String("error", err.Error()))
		}
		if err := o.deps.Bus.StreamAppend(ctx, domain.StreamTicks, payload); err != nil {
			o.logger.WarnContext(ctx, "append tick summary failed", slog.String("error", err.Error()))
		}
	}
	if o.deps.Archiver != nil && tickErr == nil && !s.Skipped {
		if err := o.deps.Archiver.ArchiveTick(ctx, *s); err != nil {
			o.logger.WarnContext(ctx, "archive tick summary failed", slog.String("error", err.Error()))
		}
	}
	if o.deps.Alerter != nil {
		o.deps.Alerter.TickCompleted(ctx, *s, tickErr)
	}
}

func withoutResolved(active, resolved []domain.Question) []domain.Question {
	gone := make(map[string]bool, len(resolved))
	for _, q := range resolved {
		gone[q.ID] = true
	}
	out := active[:0:0]
	for _, q := range active {
		if !gone[q.ID] {
			out = append(out, q)
		}
	}
	return out
}
