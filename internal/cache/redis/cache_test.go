package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

func TestRateLimiter_AdmitsUpToLimit(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:tick_trigger:192.0.2.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := rl.Allow(ctx, "api:tick_trigger:192.0.2.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:tick_trigger:192.0.2.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other clients have their own window")
}

func TestWidgetMirror_RoundTripAndExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	wm := NewWidgetMirror(c, time.Minute)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	_, err := wm.GetWidget(ctx, domain.WidgetTopMovers)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, wm.SetWidget(ctx, domain.WidgetCache{
		Widget:    domain.WidgetTopMovers,
		Data:      []byte(`[{"ticker":"AAA"}]`),
		UpdatedAt: at,
	}))

	got, err := wm.GetWidget(ctx, domain.WidgetTopMovers)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ticker":"AAA"}]`, string(got.Data))
	assert.True(t, got.UpdatedAt.Equal(at))

	mr.FastForward(2 * time.Minute)
	_, err = wm.GetWidget(ctx, domain.WidgetTopMovers)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCache_RoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPriceCache(c)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, pc.SetPrice(ctx, "AAA", 12.5, at))
	price, ts, err := pc.GetPrice(ctx, "AAA")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, price, 1e-9)
	assert.True(t, ts.Equal(at))
}
