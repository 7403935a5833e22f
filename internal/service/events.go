package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// MaxEventsPerTick bounds world events generated in one tick.
const MaxEventsPerTick = 3

const eventSystemPrompt = `You invent developments in a simulated economy that bear on open
prediction-market questions without settling them. Answer with JSON:
{"type": "announcement|leak|rumor|development|scandal", "description": "..."}.`

// GenerateEvents creates up to MaxEventsPerTick world events, each tied to
// a random active question. day is the simulation day the events belong to.
func (p *ContentPool) GenerateEvents(ctx context.Context, questions []domain.Question, day int, ts, deadline time.Time) int {
	if len(questions) == 0 {
		return 0
	}
	picked := make([]domain.Question, len(questions))
	copy(picked, questions)
	rand.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	if len(picked) > MaxEventsPerTick {
		picked = picked[:MaxEventsPerTick]
	}

	units := make([]func(context.Context) unitOutcome, 0, len(picked))
	for i, q := range picked {
		at := ts.Add(time.Duration(i) * 10 * time.Second)
		units = append(units, func(ctx context.Context) unitOutcome {
			if p.clock().After(deadline) {
				return unitOutcome{Err: errPastDeadline}
			}
			return p.writeEvent(ctx, q, day, at)
		})
	}

	var created, failed int
	for _, o := range settleAll(ctx, p.maxUnits, units) {
		if o.Err != nil {
			failed++
			continue
		}
		created += o.Events
	}
	p.logger.InfoContext(ctx, "world events generated",
		slog.Int("created", created),
		slog.Int("failed", failed),
		slog.Int("day", day),
	)
	return created
}

func (p *ContentPool) writeEvent(ctx context.Context, q domain.Question, day int, at time.Time) unitOutcome {
	g, err := p.gen.Generate(ctx, domain.GenerationRequest{
		Shape:  domain.ShapeEvent,
		System: eventSystemPrompt,
		Prompt: fmt.Sprintf("Open question #%d: %q. Resolution criteria: %s", q.Number, q.Text, q.ResolutionCriteria),
	})
	if err != nil {
		return unitOutcome{Err: err}
	}
	if g.Event == nil {
		return unitOutcome{Err: errEmptyGeneration}
	}

	visibility := "public"
	if p.roll() < 0.2 {
		visibility = "private"
	}
	n := q.Number
	ev := domain.WorldEvent{
		ID:              uuid.NewString(),
		Type:            g.Event.Type,
		Description:     g.Event.Description,
		RelatedQuestion: &n,
		Visibility:      visibility,
		Day:             day,
		Timestamp:       at,
	}
	if err := p.st.Content.CreateEvent(ctx, ev); err != nil {
		return unitOutcome{Err: err}
	}
	return unitOutcome{Events: 1}
}
