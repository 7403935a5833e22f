package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// Pricing constants for organization instruments.
const (
	// SyntheticSupply converts net invested dollars into a per-share move.
	SyntheticSupply = 10_000
	// MinPriceFactor is the floor relative to the initial price.
	MinPriceFactor = 0.1
	// MaxPriceFactor is the per-update ceiling relative to the current price.
	MaxPriceFactor = 2.0
	// MinPriceDelta is the smallest change worth persisting.
	MinPriceDelta = 0.01
)

var (
	decSupply   = decimal.NewFromInt(SyntheticSupply)
	decMinFac   = decimal.NewFromFloat(MinPriceFactor)
	decMaxFac   = decimal.NewFromFloat(MaxPriceFactor)
	decMinDelta = decimal.NewFromFloat(MinPriceDelta)
	decHundred  = decimal.NewFromInt(100)
)

// RecomputePrice derives an instrument price from aggregate net holdings:
// (initial*supply + net) / supply, clamped to
// [initial*MinPriceFactor, current*MaxPriceFactor].
func RecomputePrice(initial, current, netHoldings float64) float64 {
	base := decimal.NewFromFloat(initial)
	raw := base.Mul(decSupply).Add(decimal.NewFromFloat(netHoldings)).Div(decSupply)

	floor := base.Mul(decMinFac)
	ceil := decimal.NewFromFloat(current).Mul(decMaxFac)
	if raw.LessThan(floor) {
		raw = floor
	}
	if raw.GreaterThan(ceil) {
		raw = ceil
	}
	return raw.Round(6).InexactFloat64()
}

// NetHoldings groups open perpetual positions by ticker and returns
// sum(long size) - sum(short size) for each.
func NetHoldings(positions []domain.PoolPosition) map[string]float64 {
	sums := make(map[string]decimal.Decimal)
	for _, p := range positions {
		if !p.Open() || (p.MarketType != "" && p.MarketType != domain.MarketTypePerp) {
			continue
		}
		size := decimal.NewFromFloat(p.Size)
		if p.Side == domain.PerpShort {
			size = size.Neg()
		}
		sums[p.Ticker] = sums[p.Ticker].Add(size)
	}
	out := make(map[string]float64, len(sums))
	for k, v := range sums {
		out[k] = v.InexactFloat64()
	}
	return out
}

// PriceEngine recomputes organization prices from the full set of open
// pool positions. The result depends only on current aggregate state, so
// running it twice without new positions changes nothing.
type PriceEngine struct {
	orgs   domain.OrganizationStore
	pool   domain.PoolPositionStore
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPriceEngine creates a PriceEngine. cache and bus may be nil.
func NewPriceEngine(
	orgs domain.OrganizationStore,
	pool domain.PoolPositionStore,
	cache domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PriceEngine {
	return &PriceEngine{
		orgs:   orgs,
		pool:   pool,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "pricing")),
	}
}

// UpdateMarketPricesFromTrades recomputes every instrument with nonzero net
// holdings and returns how many prices were written. It does nothing when
// result carries no executed trades. Store failures are returned.
func (e *PriceEngine) UpdateMarketPricesFromTrades(ctx context.Context, ts time.Time, result domain.ExecutionResult) (int, error) {
	if len(result.ExecutedTrades) == 0 {
		return 0, nil
	}

	open, err := e.pool.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("pricing: list open positions: %w", err)
	}
	net := NetHoldings(open)
	if len(net) == 0 {
		return 0, nil
	}

	orgs, err := e.orgs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("pricing: list organizations: %w", err)
	}
	byID := make(map[string]domain.Organization, len(orgs))
	for _, o := range orgs {
		byID[o.ID] = o
	}

	tickers := make([]string, 0, len(net))
	for t := range net {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var updated []domain.PricePoint
	for _, ticker := range tickers {
		holdings := net[ticker]
		if holdings == 0 {
			continue
		}
		org, ok := byID[ticker]
		if !ok {
			e.logger.WarnContext(ctx, "positions on unknown instrument", slog.String("ticker", ticker))
			continue
		}

		newPrice := RecomputePrice(org.InitialPrice, org.CurrentPrice, holdings)
		cur := decimal.NewFromFloat(org.CurrentPrice)
		change := decimal.NewFromFloat(newPrice).Sub(cur)
		if change.Abs().LessThan(decMinDelta) {
			continue
		}
		pct := decimal.Zero
		if !cur.IsZero() {
			pct = change.Div(cur).Mul(decHundred)
		}

		point := domain.PricePoint{
			OrganizationID: org.ID,
			Price:          newPrice,
			Change:         change.Round(6).InexactFloat64(),
			ChangePercent:  pct.Round(4).InexactFloat64(),
			RecordedAt:     ts,
		}
		if err := e.orgs.UpdatePrice(ctx, point); err != nil {
			return len(updated), fmt.Errorf("pricing: update %s: %w", org.ID, err)
		}
		updated = append(updated, point)
	}

	if len(updated) > 0 {
		e.mirror(ctx, updated)
		e.logger.InfoContext(ctx, "instrument prices updated",
			slog.Int("count", len(updated)),
			slog.Int("open_positions", len(open)),
		)
	}
	return len(updated), nil
}

// mirror copies new prices to the cache and bus. Failures are logged only.
func (e *PriceEngine) mirror(ctx context.Context, points []domain.PricePoint) {
	if e.cache != nil {
		for _, p := range points {
			if err := e.cache.SetPrice(ctx, p.OrganizationID, p.Price, p.RecordedAt); err != nil {
				e.logger.WarnContext(ctx, "price cache write failed",
					slog.String("ticker", p.OrganizationID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if e.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":  "prices_updated",
		"prices": points,
	})
	if err := e.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
		e.logger.WarnContext(ctx, "publish price update failed", slog.String("error", err.Error()))
	}
}
