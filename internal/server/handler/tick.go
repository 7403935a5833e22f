package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// TickHandler serves the manual tick trigger.
type TickHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending triggers one tick
}

// NewTickHandler creates a TickHandler with the given logger.
func NewTickHandler(logger *slog.Logger) *TickHandler {
	return &TickHandler{logger: handlerLogger(logger, "tick")}
}

// WithTriggerChannel sets the channel to send on when a trigger is requested.
// The tick loop must receive from this channel to run one extra tick.
func (h *TickHandler) WithTriggerChannel(ch chan<- struct{}) *TickHandler {
	h.triggerCh = ch
	return h
}

// TriggerTick enqueues one tick with a non-blocking send. A trigger already
// waiting to be consumed absorbs the request.
// POST /api/tick/trigger
func (h *TickHandler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: tick trigger requested")
	queued := false
	if h.triggerCh != nil {
		select {
		case h.triggerCh <- struct{}{}:
			queued = true
		default:
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
