// Package notify delivers operator alerts about tick outcomes to chat
// channels. Alerts are filtered by event type so operators receive only the
// ones they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Event types an operator can subscribe to.
const (
	EventTickFailed        = "tick_failed"
	EventTickSkipped       = "tick_skipped"
	EventQuestionsResolved = "questions_resolved"
	EventQuestionsCreated  = "questions_created"
	EventOracleErrors      = "oracle_errors"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every Sender. Notify honours the event
// filter; NotifyAll bypasses it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TickCompleted raises the alerts implied by one tick's outcome. tickErr is
// the error ExecuteTick returned, if any. Delivery failures are logged and
// never returned; alerting must not affect the tick.
func (n *Notifier) TickCompleted(ctx context.Context, s domain.TickSummary, tickErr error) {
	if !n.Enabled() {
		return
	}
	send := func(event, title, msg string) {
		if err := n.Notify(ctx, event, title, msg); err != nil {
			n.logger.WarnContext(ctx, "alert delivery failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if tickErr != nil {
		send(EventTickFailed, "Tick failed", tickErr.Error())
		return
	}
	if s.Skipped {
		send(EventTickSkipped, "Tick skipped", "another tick holds the lock")
		return
	}
	if s.QuestionsResolved > 0 {
		send(EventQuestionsResolved, "Questions resolved",
			fmt.Sprintf("%d question(s) resolved at %s", s.QuestionsResolved, s.StartedAt.UTC().Format("2006-01-02 15:04 MST")))
	}
	if s.QuestionsCreated > 0 {
		send(EventQuestionsCreated, "Questions created", fmt.Sprintf("%d new question(s)", s.QuestionsCreated))
	}
	if s.OracleErrors > 0 {
		send(EventOracleErrors, "Oracle errors",
			fmt.Sprintf("%d oracle item(s) failed (commits=%d reveals=%d)", s.OracleErrors, s.OracleCommits, s.OracleReveals))
	}
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
