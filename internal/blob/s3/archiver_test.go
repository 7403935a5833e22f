package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

type recordingWriter struct {
	paths        []string
	bodies       [][]byte
	contentTypes []string
	err          error
}

func (w *recordingWriter) Put(_ context.Context, p string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.paths = append(w.paths, p)
	w.bodies = append(w.bodies, b)
	w.contentTypes = append(w.contentTypes, contentType)
	return nil
}

func TestTickArchiver_UploadsSummaryUnderDayPartition(t *testing.T) {
	w := &recordingWriter{}
	a := NewTickArchiver(w, "ticks")

	started := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	summary := domain.TickSummary{PostsCreated: 4, MarketsUpdated: 2, StartedAt: started, DurationMs: 1500}
	require.NoError(t, a.ArchiveTick(context.Background(), summary))

	require.Len(t, w.paths, 1)
	assert.Equal(t, "ticks/2026/10/16/20261016T120000.000Z.json", w.paths[0])
	assert.Equal(t, "application/json", w.contentTypes[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.bodies[0], &got))
	assert.EqualValues(t, 4, got["postsCreated"])
	assert.EqualValues(t, 2, got["marketsUpdated"])
}

func TestTickArchiver_SkipsSkippedTicks(t *testing.T) {
	w := &recordingWriter{}
	a := NewTickArchiver(w, "ticks")

	require.NoError(t, a.ArchiveTick(context.Background(), domain.TickSummary{Skipped: true}))
	assert.Empty(t, w.paths)
}

func TestTickArchiver_WrapsWriterError(t *testing.T) {
	boom := errors.New("bucket gone")
	a := NewTickArchiver(&recordingWriter{err: boom}, "")

	err := a.ArchiveTick(context.Background(), domain.TickSummary{StartedAt: time.Now()})
	assert.ErrorIs(t, err, boom)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://e2.example.com", normaliseEndpoint("e2.example.com", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
