package domain

import (
	"context"
	"time"
)

// LockManager provides distributed leased locks.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// PriceCache provides fast access to the latest instrument prices.
type PriceCache interface {
	SetPrice(ctx context.Context, ticker string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, ticker string) (float64, time.Time, error)
}

// WidgetMirror serves widget blobs from a fast cache in front of WidgetStore.
type WidgetMirror interface {
	SetWidget(ctx context.Context, w WidgetCache) error
	GetWidget(ctx context.Context, widget string) (WidgetCache, error)
}

// Channels and streams the engine writes to.
const (
	ChannelTicks  = "marketsim:ticks"
	ChannelPrices = "marketsim:prices"
	StreamTicks   = "marketsim:stream:ticks"
)

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter admits at most limit calls per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
