// Package funding implements the periodic premium/interest-based funding
// rate and its dynamic interval, spec.md §4.5. Grounded on the teacher's
// pkg/app/core/market.go funding knobs (FundingBaseInterval/
// FundingMinInterval/MaxFundingRateBps — stored there but never driven by a
// loop) and daiwikmh-fin/internal/matching/price.go's PriceSync periodic-
// tick idiom for the settlement loop itself.
package funding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/clock"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/types"
)

// InterestRateBps is the fixed interest-rate component of the premium
// formula, spec.md §4.5 (a conventional 0.01%/8h convention expressed here
// per funding settlement, not annualized).
const InterestRateBps fixedpoint.Bps = 1

// FundingClampBps is spec.md §4.5's ±0.05% bound on (interest − premium)
// before it's added back to the premium.
const FundingClampBps fixedpoint.Bps = 5

// Volatility thresholds for the dynamic interval, spec.md §4.5: below 1%
// sigma uses the base interval, above 5% uses the minimum, and the band
// between linearly interpolates. minSamples is the floor sample count below
// which there isn't enough history to trust sigma, so the base interval
// is used instead.
const (
	volatilityLowPct  = 1.0
	volatilityHighPct = 5.0
	minSamples        = 10
)

type Engine struct {
	registry  *market.Registry
	stats     *market.StatsStore
	positions *position.Store
	balances  *balance.Store
	clock     clock.Clock
	logger    *zap.Logger

	checkInterval time.Duration
}

func New(registry *market.Registry, stats *market.StatsStore, positions *position.Store, balances *balance.Store, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		registry:      registry,
		stats:         stats,
		positions:     positions,
		balances:      balances,
		clock:         clk,
		logger:        logger,
		checkInterval: time.Second,
	}
}

// Run polls every checkInterval and settles any symbol whose next funding
// time has arrived, per spec.md §4.5's dynamic (not fixed-cadence) interval.
func (e *Engine) Run(ctx context.Context) {
	ch, stop := e.clock.Tick(e.checkInterval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			e.checkAll()
		}
	}
}

func (e *Engine) checkAll() {
	now := e.clock.Now()
	for _, m := range e.registry.List() {
		st := e.stats.Get(m.Symbol)
		if st.NextFundingTime.IsZero() {
			e.scheduleNext(m, st, now)
			continue
		}
		if now.Before(st.NextFundingTime) {
			continue
		}
		e.settle(m, st, now)
	}
}

func clampBps(v, lo, hi fixedpoint.Bps) fixedpoint.Bps {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

// rate computes spec.md §4.5's premium+interest funding rate:
//
//	premium    = (mark − index) / index
//	raw rate   = premium + clamp(interest − premium, −0.05%, +0.05%)
//
// clamped to the market's configured max. When spot is unavailable it
// instead falls back to order-book imbalance: imbalance_bp = (long_oi −
// short_oi) × 10000 / (long_oi + short_oi); rate = imbalance_bp / 100.
func rate(mark, index fixedpoint.Price, maxRateBps fixedpoint.Bps, longOI, shortOI fixedpoint.Size) fixedpoint.Bps {
	var r fixedpoint.Bps
	if index != 0 {
		premiumBps := fixedpoint.Bps(int64(mark-index) * int64(fixedpoint.ScaleBps) / int64(index))
		gap := clampBps(InterestRateBps-premiumBps, -FundingClampBps, FundingClampBps)
		r = premiumBps + gap
	} else {
		total := longOI + shortOI
		if total <= 0 {
			return 0
		}
		imbalance := longOI - shortOI
		imbalanceBps := fixedpoint.Bps(int64(imbalance) * int64(fixedpoint.ScaleBps) / int64(total))
		r = imbalanceBps / 100
	}
	return clampBps(r, -maxRateBps, maxRateBps)
}

// dynamicInterval shrinks the funding interval below FundingBaseInterval as
// recent reference-price volatility rises, down to FundingMinInterval, per
// spec.md §4.5: sigma > 5% uses the minimum, sigma in (1%, 5%] linearly
// interpolates, and anything below (including too few samples to trust)
// uses the base interval.
func dynamicInterval(m *market.Market, sigmaPct float64, sampleCount int) time.Duration {
	if sampleCount < minSamples || sigmaPct <= volatilityLowPct {
		return m.FundingBaseInterval
	}
	if sigmaPct > volatilityHighPct {
		return m.FundingMinInterval
	}
	span := float64(m.FundingBaseInterval - m.FundingMinInterval)
	frac := (sigmaPct - volatilityLowPct) / (volatilityHighPct - volatilityLowPct)
	compressed := float64(m.FundingBaseInterval) - span*frac
	if compressed < float64(m.FundingMinInterval) {
		compressed = float64(m.FundingMinInterval)
	}
	return time.Duration(compressed)
}

func (e *Engine) scheduleNext(m *market.Market, st types.MarketStats, now time.Time) {
	sigma, n := e.stats.Volatility(m.Symbol)
	interval := dynamicInterval(m, sigma*100, n)
	e.stats.RecordFunding(m.Symbol, st.FundingRateBps, st.FundingIndexLong, st.FundingIndexShort, st.LastFundingTime, now.Add(interval))
}

// settle computes this period's rate, applies each active pair's payment to
// both traders' available balances (longs pay shorts when rate is positive,
// and vice versa), advances the symbol's funding indices and schedules the
// next funding time. It does not update any pair's AccFunding field.
func (e *Engine) settle(m *market.Market, st types.MarketStats, now time.Time) {
	mark := e.stats.MarkPrice(m.Symbol)
	index := st.SpotIndexPrice
	r := rate(mark, index, m.MaxFundingRateBps, st.LongOI, st.ShortOI)

	var longOI, shortOI fixedpoint.Size
	for _, p := range e.positions.Snapshot() {
		if p.Symbol != m.Symbol {
			continue
		}
		longOI += p.Size
		shortOI += p.Size

		notional := fixedpoint.Notional(p.Size, mark)
		payment := fixedpoint.FeeOn(notional, r) // longs pay this amount when r > 0

		e.balances.ApplyFundingPayment(p.Long.Trader, payment)
		e.balances.ApplyFundingPayment(p.Short.Trader, -payment)
	}

	longIndex := st.FundingIndexLong + fixedpoint.USD(r)
	shortIndex := st.FundingIndexShort - fixedpoint.USD(r)
	sigma, n := e.stats.Volatility(m.Symbol)
	interval := dynamicInterval(m, sigma*100, n)
	e.stats.SetOpenInterest(m.Symbol, longOI, shortOI)
	e.stats.RecordFunding(m.Symbol, r, longIndex, shortIndex, now, now.Add(interval))

	e.logger.Info("funding settled", zap.String("symbol", m.Symbol), zap.Int64("rate_bps", int64(r)), zap.Time("next", now.Add(interval)))
}
