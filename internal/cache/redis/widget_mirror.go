package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/redis/go-redis/v9"
)

// WidgetMirror implements domain.WidgetMirror using Redis hashes.
//
// Key schema:
//
//	widget:{name} - hash with fields "data" (JSON blob) and "ts" (Unix nanos)
type WidgetMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewWidgetMirror creates a WidgetMirror whose entries expire after ttl.
func NewWidgetMirror(c *Client, ttl time.Duration) *WidgetMirror {
	return &WidgetMirror{rdb: c.Underlying(), ttl: ttl}
}

func widgetKey(name string) string { return "widget:" + name }

// SetWidget stores the blob and refreshes its TTL in one transaction.
func (wm *WidgetMirror) SetWidget(ctx context.Context, w domain.WidgetCache) error {
	key := widgetKey(w.Widget)
	pipe := wm.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", w.Data, "ts", strconv.FormatInt(w.UpdatedAt.UnixNano(), 10))
	if wm.ttl > 0 {
		pipe.Expire(ctx, key, wm.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set widget %s: %w", w.Widget, err)
	}
	return nil
}

// GetWidget returns the mirrored blob, or domain.ErrNotFound.
func (wm *WidgetMirror) GetWidget(ctx context.Context, name string) (domain.WidgetCache, error) {
	vals, err := wm.rdb.HGetAll(ctx, widgetKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.WidgetCache{}, domain.ErrNotFound
		}
		return domain.WidgetCache{}, fmt.Errorf("redis: get widget %s: %w", name, err)
	}
	data, ok := vals["data"]
	if !ok {
		return domain.WidgetCache{}, domain.ErrNotFound
	}
	w := domain.WidgetCache{Widget: name, Data: []byte(data)}
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		w.UpdatedAt = time.Unix(0, ts)
	}
	return w, nil
}

// Compile-time interface check.
var _ domain.WidgetMirror = (*WidgetMirror)(nil)
