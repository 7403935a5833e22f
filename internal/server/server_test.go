package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/server/handler"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

const testAPIKey = "ops-secret"

type countingLimiter struct {
	limit int
	seen  map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

type staticMirror map[string]domain.WidgetCache

func (m staticMirror) SetWidget(context.Context, domain.WidgetCache) error { return nil }

func (m staticMirror) GetWidget(_ context.Context, name string) (domain.WidgetCache, error) {
	w, ok := m[name]
	if !ok {
		return domain.WidgetCache{}, domain.ErrNotFound
	}
	return w, nil
}

type fixture struct {
	db      *memory.DB
	trigger chan struct{}
	handler http.Handler
}

func newFixture(t *testing.T, mirror domain.WidgetMirror, limiter domain.RateLimiter) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	trigger := make(chan struct{}, 1)
	srv := NewServer(Config{Port: 8080, APIKey: testAPIKey}, Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler("server", db.State(), db.Questions(), logger),
		Widgets: handler.NewWidgetHandler(db.Widgets(), mirror, logger),
		Tick:    handler.NewTickHandler(logger).WithTriggerChannel(trigger),
	}, limiter, logger)
	return fixture{db: db, trigger: trigger, handler: srv.Handler()}
}

func (f fixture) do(t *testing.T, method, path string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus_ReportsStateTimestamps(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	beat := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.State().SetTime(ctx, domain.StateHeartbeat, beat))

	rec, body := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "server", body["mode"])
	assert.Equal(t, float64(0), body["activeQuestions"])
	assert.Equal(t, "2026-03-14T12:00:00Z", body["lastHeartbeat"])
	assert.Nil(t, body["lastTrending"])
}

func TestWidgets(t *testing.T) {
	ctx := context.Background()
	mirror := staticMirror{
		domain.WidgetTopMovers: {Widget: domain.WidgetTopMovers, Data: []byte(`{"items":[]}`)},
	}
	f := newFixture(t, mirror, nil)
	require.NoError(t, f.db.Widgets().Upsert(ctx, domain.WidgetCache{
		Widget: domain.WidgetTopPools, Data: []byte(`{"items":[{"poolId":"npc-ada"}]}`),
	}))

	tests := []struct {
		name   string
		widget string
		status int
		source string
	}{
		{"mirror hit", domain.WidgetTopMovers, http.StatusOK, "cache"},
		{"store fallback", domain.WidgetTopPools, http.StatusOK, "store"},
		{"not computed", domain.WidgetTrendingTopics, http.StatusNotFound, ""},
		{"unknown", "leaderboard", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodGet, "/api/widgets/"+tt.widget, nil)
			assert.Equal(t, tt.status, rec.Code)
			if tt.source != "" {
				assert.Equal(t, tt.source, body["source"])
				assert.Contains(t, body, "data")
			}
		})
	}
}

func TestWidgets_FreshnessHeaders(t *testing.T) {
	computed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, staticMirror{
		domain.WidgetTopMovers: {Widget: domain.WidgetTopMovers, Data: []byte(`{"items":[]}`), UpdatedAt: computed},
	}, nil)

	rec, _ := f.do(t, http.MethodGet, "/api/widgets/"+domain.WidgetTopMovers, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Sat, 14 Mar 2026 12:00:00 GMT", rec.Header().Get("Last-Modified"))

	rec, body := f.do(t, http.MethodGet, "/api/widgets/leaderboard", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown widget", body["error"])
	assert.EqualValues(t, http.StatusNotFound, body["status"])
}

func TestTrigger_RequiresAPIKey(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/tick/trigger", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/tick/trigger", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.trigger)

	rec, body := f.do(t, http.MethodPost, "/api/tick/trigger", map[string]string{"Authorization": "Bearer " + testAPIKey})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["queued"])
	assert.Len(t, f.trigger, 1)

	rec, body = f.do(t, http.MethodPost, "/api/tick/trigger", map[string]string{"X-API-Key": testAPIKey})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, false, body["queued"], "a pending trigger absorbs the request")
}

func TestTrigger_RateLimited(t *testing.T) {
	limiter := &countingLimiter{limit: 1}
	f := newFixture(t, nil, limiter)
	auth := map[string]string{"X-API-Key": testAPIKey}

	rec, _ := f.do(t, http.MethodPost, "/api/tick/trigger", auth)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	<-f.trigger

	rec, _ = f.do(t, http.MethodPost, "/api/tick/trigger", auth)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, limiter.seen["api:tick_trigger:192.0.2.1"])
}
