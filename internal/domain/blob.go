package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver copies finished tick records to cold storage.
type Archiver interface {
	ArchiveTick(ctx context.Context, summary TickSummary) error
}
