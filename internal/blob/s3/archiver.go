package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// TickArchiver implements domain.Archiver by uploading each finished tick
// summary as one JSON object. Keys are partitioned by UTC day:
//
//	{prefix}/2026/10/16/20261016T120000.000Z.json
type TickArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewTickArchiver creates a TickArchiver writing under prefix.
func NewTickArchiver(writer domain.BlobWriter, prefix string) *TickArchiver {
	return &TickArchiver{writer: writer, prefix: prefix}
}

// ArchiveTick uploads summary. Skipped ticks are not archived.
func (a *TickArchiver) ArchiveTick(ctx context.Context, summary domain.TickSummary) error {
	if summary.Skipped {
		return nil
	}

	buf, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("s3blob: marshal tick summary: %w", err)
	}

	key := archiveKey(a.prefix, summary.StartedAt)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive tick: %w", err)
	}
	return nil
}

func archiveKey(prefix string, startedAt time.Time) string {
	t := startedAt.UTC()
	return path.Join(prefix, t.Format("2006/01/02"), t.Format("20060102T150405.000Z")+".json")
}

// Compile-time interface check.
var _ domain.Archiver = (*TickArchiver)(nil)
