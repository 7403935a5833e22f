package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// StatusSource is the slice of the stores the status endpoint reads.
type StatusSource interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
}

// ActiveCounter counts open questions.
type ActiveCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// StatusHandler reports the engine's mode and the age of its last runs.
type StatusHandler struct {
	mode      string
	state     StatusSource
	questions ActiveCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, state StatusSource, questions ActiveCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		state:     state,
		questions: questions,
		logger:    handlerLogger(logger, "status"),
	}
}

type statusResponse struct {
	Mode            string     `json:"mode"`
	ActiveQuestions int        `json:"activeQuestions"`
	LastHeartbeat   *time.Time `json:"lastHeartbeat"`
	LastTrending    *time.Time `json:"lastTrending"`
	LastReputation  *time.Time `json:"lastReputation"`
	Genesis         *time.Time `json:"genesis"`
}

// GetStatus responds with the mode, the open question count and the
// timestamps the tick leaves behind. Timestamps never written are null.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{Mode: h.mode}

	n, err := h.questions.CountActive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: count active questions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	resp.ActiveQuestions = n

	for key, dst := range map[string]**time.Time{
		domain.StateHeartbeat:      &resp.LastHeartbeat,
		domain.StateLastTrending:   &resp.LastTrending,
		domain.StateLastReputation: &resp.LastReputation,
		domain.StateGenesis:        &resp.Genesis,
	} {
		t, err := h.state.GetTime(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.ErrorContext(ctx, "handler: read state failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read status")
			return
		}
		*dst = &t
	}

	writeJSON(w, http.StatusOK, resp)
}
