package service

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// OraclePublisher commits and reveals question outcomes. It never returns
// an error: every failure is counted and logged.
type OraclePublisher struct {
	client    domain.OracleClient
	questions domain.QuestionStore
	logger    *slog.Logger
}

// NewOraclePublisher creates an OraclePublisher. A nil client makes every
// call a silent no-op.
func NewOraclePublisher(client domain.OracleClient, questions domain.QuestionStore, logger *slog.Logger) *OraclePublisher {
	return &OraclePublisher{
		client:    client,
		questions: questions,
		logger:    logger.With(slog.String("component", "oracle")),
	}
}

// Enabled reports whether an oracle client is configured.
func (o *OraclePublisher) Enabled() bool {
	return o.client != nil
}

// PublishCommitments commits the outcomes of qs and stores the receipts.
func (o *OraclePublisher) PublishCommitments(ctx context.Context, qs []domain.Question) domain.OracleResult {
	if !o.Enabled() || len(qs) == 0 {
		return domain.OracleResult{}
	}
	if !o.healthy(ctx) {
		return domain.OracleResult{Errors: len(qs)}
	}

	items := make([]domain.OracleCommitItem, 0, len(qs))
	for _, q := range qs {
		items = append(items, domain.OracleCommitItem{
			QuestionID: q.ID,
			Number:     q.Number,
			Text:       q.Text,
			Category:   q.Category,
			Outcome:    q.Outcome,
		})
	}

	batch, err := o.client.BatchCommit(ctx, items)
	if err != nil {
		o.logger.WarnContext(ctx, "oracle commit batch failed",
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)
		return domain.OracleResult{Errors: len(items)}
	}

	res := domain.OracleResult{Errors: len(batch.Failed)}
	for _, c := range batch.Successful {
		if err := o.questions.UpdateOracleCommit(ctx, c); err != nil {
			res.Errors++
			o.logger.WarnContext(ctx, "store oracle commit failed",
				slog.String("question", c.QuestionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Count++
	}
	o.logFailures(ctx, "commit", batch.Failed)
	o.logger.InfoContext(ctx, "oracle commitments published",
		slog.Int("committed", res.Count),
		slog.Int("errors", res.Errors),
	)
	return res
}

// PublishReveals reveals the outcomes of resolved questions. Questions that
// were never committed cannot be revealed and are skipped.
//
// Winners and total payout are sent empty. Downstream consumers have not
// said whether they need them populated.
func (o *OraclePublisher) PublishReveals(ctx context.Context, qs []domain.Question) domain.OracleResult {
	if !o.Enabled() || len(qs) == 0 {
		return domain.OracleResult{}
	}

	items := make([]domain.OracleRevealItem, 0, len(qs))
	for _, q := range qs {
		if q.OracleSessionID == "" && q.OracleCommitment == "" {
			o.logger.DebugContext(ctx, "reveal skipped, never committed", slog.Int64("question", q.Number))
			continue
		}
		items = append(items, domain.OracleRevealItem{
			QuestionID:  q.ID,
			Number:      q.Number,
			Outcome:     q.Outcome,
			Winners:     []string{},
			TotalPayout: 0,
		})
	}
	if len(items) == 0 {
		return domain.OracleResult{}
	}
	if !o.healthy(ctx) {
		return domain.OracleResult{Errors: len(items)}
	}

	batch, err := o.client.BatchReveal(ctx, items)
	if err != nil {
		o.logger.WarnContext(ctx, "oracle reveal batch failed",
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)
		return domain.OracleResult{Errors: len(items)}
	}

	res := domain.OracleResult{Errors: len(batch.Failed)}
	for _, r := range batch.Successful {
		if err := o.questions.UpdateOracleReveal(ctx, r); err != nil {
			res.Errors++
			o.logger.WarnContext(ctx, "store oracle reveal failed",
				slog.String("question", r.QuestionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Count++
	}
	o.logFailures(ctx, "reveal", batch.Failed)
	o.logger.InfoContext(ctx, "oracle reveals published",
		slog.Int("revealed", res.Count),
		slog.Int("errors", res.Errors),
	)
	return res
}

func (o *OraclePublisher) healthy(ctx context.Context) bool {
	ok, err := o.client.HealthCheck(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "oracle health check failed", slog.String("error", err.Error()))
		return false
	}
	if !ok {
		o.logger.WarnContext(ctx, "oracle unhealthy")
	}
	return ok
}

func (o *OraclePublisher) logFailures(ctx context.Context, op string, failed []domain.OracleFailure) {
	for _, f := range failed {
		o.logger.WarnContext(ctx, "oracle item rejected",
			slog.String("op", op),
			slog.String("question", f.QuestionID),
			slog.String("error", f.Error),
		)
	}
}
