package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/pipeline"
	"github.com/alanyoungcy/marketsim/internal/server"
	"github.com/alanyoungcy/marketsim/internal/server/handler"
	"github.com/alanyoungcy/marketsim/internal/service"
)

const shutdownTimeout = 5 * time.Second

// engine is the orchestrator plus the pieces that need draining on exit.
type engine struct {
	orchestrator *pipeline.Orchestrator
	questions    *service.QuestionManager
}

func (a *App) buildEngine(deps *Dependencies) engine {
	t := a.cfg.Tick
	st := deps.Stores

	questions := service.NewQuestionManager(st, deps.Generator, deps.Ledger, t.MarketLiquiditySeed, a.logger)
	content := service.NewContentPool(st, deps.Generator, t.MaxParallelUnits, a.logger)

	pipelineDeps := pipeline.Deps{
		Locks:       deps.LockManager,
		Questions:   st.Questions,
		State:       st.State,
		Bootstrap:   service.NewBootstrapper(st, service.DefaultWorld(), a.logger),
		Lifecycle:   questions,
		Content:     content,
		Decisions:   service.NewDecisionEngine(st, deps.Generator, t.DecisionBatchSize, a.logger),
		Executor:    service.NewTradeExecutor(st, t.BaselineInvestors, t.BaselineInvestAmount, a.logger),
		Prices:      service.NewPriceEngine(st.Organizations, st.PoolPositions, deps.PriceCache, deps.SignalBus, a.logger),
		Oracle:      service.NewOraclePublisher(deps.Oracle, st.Questions, a.logger),
		Widgets:     service.NewWidgetRefresher(st, deps.WidgetMirror, a.logger),
		Maintenance: service.NewMaintenance(st, deps.WidgetMirror, a.logger),
		Bus:         deps.SignalBus,
		Archiver:    deps.Archiver,
		Alerter:     deps.Notifier,
	}

	return engine{
		orchestrator: pipeline.NewOrchestrator(pipelineDeps, pipeline.OptionsFromConfig(t), a.logger),
		questions:    questions,
	}
}

// TickMode runs exactly one tick, prints its summary and returns the tick's
// error.
func (a *App) TickMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tick mode")
	eng := a.buildEngine(deps)
	defer eng.questions.Wait()

	summary, err := eng.orchestrator.ExecuteTick(ctx)
	if renderErr := RenderSummary(a.out, summary); renderErr != nil {
		a.logger.WarnContext(ctx, "render tick summary failed", slog.String("error", renderErr.Error()))
	}
	return err
}

// LoopMode runs ticks on the configured interval until the context ends.
func (a *App) LoopMode(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Tick.Interval.Duration
	a.logger.InfoContext(ctx, "starting loop mode", slog.Duration("interval", interval))
	eng := a.buildEngine(deps)
	defer eng.questions.Wait()

	err := eng.orchestrator.RunLoop(ctx, interval, nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServerMode runs the tick loop next to the ops HTTP API. Manual triggers
// from the API feed the loop.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Tick.Interval.Duration
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Duration("interval", interval),
		slog.Int("port", a.cfg.Server.Port),
	)
	eng := a.buildEngine(deps)
	defer eng.questions.Wait()

	g, ctx := errgroup.WithContext(ctx)
	trigger := make(chan struct{}, 1)

	g.Go(func() error {
		err := eng.orchestrator.RunLoop(ctx, interval, trigger)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tick loop: %w", err)
	})

	st := deps.Stores
	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(a.cfg.Mode, st.State, st.Questions, a.logger),
		Widgets: handler.NewWidgetHandler(st.Widgets, deps.WidgetMirror, a.logger),
		Tick:    handler.NewTickHandler(a.logger).WithTriggerChannel(trigger),
	}, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// RenderSummary writes s as a two-column table.
func RenderSummary(w io.Writer, s domain.TickSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	rows := [][]string{
		{"startedAt", s.StartedAt.Format(time.RFC3339)},
		{"skipped", strconv.FormatBool(s.Skipped)},
		{"postsCreated", strconv.Itoa(s.PostsCreated)},
		{"eventsCreated", strconv.Itoa(s.EventsCreated)},
		{"articlesCreated", strconv.Itoa(s.ArticlesCreated)},
		{"marketsUpdated", strconv.Itoa(s.MarketsUpdated)},
		{"questionsResolved", strconv.Itoa(s.QuestionsResolved)},
		{"questionsCreated", strconv.Itoa(s.QuestionsCreated)},
		{"widgetCachesUpdated", strconv.Itoa(s.WidgetCachesUpdated)},
		{"trendingCalculated", strconv.FormatBool(s.TrendingCalculated)},
		{"reputationSynced", strconv.FormatBool(s.ReputationSynced)},
		{"oracleCommits", strconv.Itoa(s.OracleCommits)},
		{"oracleReveals", strconv.Itoa(s.OracleReveals)},
		{"oracleErrors", strconv.Itoa(s.OracleErrors)},
		{"durationMs", strconv.FormatInt(s.DurationMs, 10)},
	}
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return fmt.Errorf("app: render summary: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("app: render summary: %w", err)
	}
	return nil
}
