package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{EventTickFailed, " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventQuestionsResolved, "filtered", ""))
	require.NoError(t, n.Notify(context.Background(), EventTickFailed, "delivered", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "forced", ""))

	assert.Equal(t, []string{"delivered", "forced"}, rec.titles)
}

func TestNotifier_ContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, []string{"hello"}, good.titles)
}

func TestNotifier_TickCompleted(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, quietLogger())

	n.TickCompleted(context.Background(), domain.TickSummary{QuestionsResolved: 2, OracleErrors: 1}, nil)
	assert.Equal(t, []string{"Questions resolved", "Oracle errors"}, rec.titles)

	rec.titles = nil
	n.TickCompleted(context.Background(), domain.TickSummary{QuestionsResolved: 2}, errors.New("db down"))
	assert.Equal(t, []string{"Tick failed"}, rec.titles)

	rec.titles = nil
	n.TickCompleted(context.Background(), domain.TickSummary{Skipped: true}, nil)
	assert.Equal(t, []string{"Tick skipped"}, rec.titles)
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, quietLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventTickFailed, "x", "y"))
	n.TickCompleted(context.Background(), domain.TickSummary{}, errors.New("ignored"))
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Tick failed", "db down"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Tick failed*\ndb down", got["text"])
}

func TestDiscordSender_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p discordPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "**t**\nm", p.Content)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "unexpected status 429")
}
