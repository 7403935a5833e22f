package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

var knownWidgets = map[string]bool{
	domain.WidgetTopMovers:         true,
	domain.WidgetTopPools:          true,
	domain.WidgetTrendingQuestions: true,
	domain.WidgetTrendingTopics:    true,
}

// WidgetHandler serves precomputed widget caches, reading the Redis mirror
// before the store.
type WidgetHandler struct {
	store  domain.WidgetStore
	mirror domain.WidgetMirror
	logger *slog.Logger
}

// NewWidgetHandler creates a WidgetHandler. mirror may be nil.
func NewWidgetHandler(store domain.WidgetStore, mirror domain.WidgetMirror, logger *slog.Logger) *WidgetHandler {
	return &WidgetHandler{
		store:  store,
		mirror: mirror,
		logger: handlerLogger(logger, "widgets"),
	}
}

type widgetResponse struct {
	Widget    string          `json:"widget"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// GetWidget returns one widget cache.
// GET /api/widgets/{name}
func (h *WidgetHandler) GetWidget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	if !knownWidgets[name] {
		writeError(w, http.StatusNotFound, "unknown widget")
		return
	}

	if h.mirror != nil {
		row, err := h.mirror.GetWidget(ctx, name)
		if err == nil {
			writeWidget(w, name, row, "cache")
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(ctx, "handler: widget mirror read failed",
				slog.String("widget", name),
				slog.String("error", err.Error()),
			)
		}
	}

	row, err := h.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "widget not computed yet")
			return
		}
		h.logger.ErrorContext(ctx, "handler: get widget failed",
			slog.String("widget", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get widget")
		return
	}
	writeWidget(w, name, row, "store")
}

// writeWidget serves row with Last-Modified set to the tick that computed it.
func writeWidget(w http.ResponseWriter, name string, row domain.WidgetCache, source string) {
	if !row.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", row.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	writeJSON(w, http.StatusOK, widgetResponse{
		Widget:    name,
		UpdatedAt: row.UpdatedAt,
		Source:    source,
		Data:      row.Data,
	})
}
