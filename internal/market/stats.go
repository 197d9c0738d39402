package market

import (
	"math"
	"sync"
	"time"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
)

// priceSampleCapacity bounds the rolling reference-price window the funding
// engine's volatility-adjusted interval reads from (spec.md §4.5 needs only
// the last >= 10 samples; this keeps plenty of headroom above that floor).
const priceSampleCapacity = 64

// StatsStore holds each symbol's live mark/last price, open interest, and
// funding-index state (spec.md §3.1 MarketStats), read by the risk and
// funding engines and published over the stream.
type StatsStore struct {
	mu      sync.RWMutex
	stats   map[string]*types.MarketStats
	samples map[string][]fixedpoint.Price
}

func NewStatsStore() *StatsStore {
	return &StatsStore{
		stats:   make(map[string]*types.MarketStats),
		samples: make(map[string][]fixedpoint.Price),
	}
}

func (s *StatsStore) getOrCreate(symbol string) *types.MarketStats {
	st, ok := s.stats[symbol]
	if !ok {
		st = &types.MarketStats{Symbol: symbol}
		s.stats[symbol] = st
	}
	return st
}

// Get returns a copy of symbol's current stats.
func (s *StatsStore) Get(symbol string) types.MarketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[symbol]; ok {
		return *st
	}
	return types.MarketStats{Symbol: symbol}
}

// MarkPrice is the fast path the risk/funding engines call every tick.
func (s *StatsStore) MarkPrice(symbol string) fixedpoint.Price {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[symbol]; ok {
		if st.MarkPrice != 0 {
			return st.MarkPrice
		}
		return st.LastPrice
	}
	return 0
}

// RecordTrade updates last price and, absent a richer mark-price index feed,
// lets last price double as mark price (spec.md §9 notes an external index
// price is Non-goals-excluded for this core).
func (s *StatsStore) RecordTrade(symbol string, price fixedpoint.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(symbol)
	st.LastPrice = price
	st.MarkPrice = price

	buf := append(s.samples[symbol], price)
	if len(buf) > priceSampleCapacity {
		buf = buf[len(buf)-priceSampleCapacity:]
	}
	s.samples[symbol] = buf
}

// Volatility returns the coefficient of variation (stddev/mean) of symbol's
// recorded reference-price samples and the sample count, the input to
// spec.md §4.5's dynamic funding interval.
func (s *StatsStore) Volatility(symbol string) (sigma float64, sampleCount int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.samples[symbol]
	sampleCount = len(samples)
	if sampleCount == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range samples {
		sum += float64(p)
	}
	mean := sum / float64(sampleCount)
	if mean == 0 {
		return 0, sampleCount
	}
	var sqDiff float64
	for _, p := range samples {
		d := float64(p) - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(sampleCount))
	return stddev / mean, sampleCount
}

// SetSpotIndex records an external spot index price, used by the funding
// engine's premium computation (spec.md §4.5).
func (s *StatsStore) SetSpotIndex(symbol string, price fixedpoint.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(symbol).SpotIndexPrice = price
}

// SetOpenInterest records each side's aggregate open size, used by the
// funding engine's imbalance-based rate fallback when no spot index is set.
// The funding interval does not depend on it.
func (s *StatsStore) SetOpenInterest(symbol string, long, short fixedpoint.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(symbol)
	st.LongOI = long
	st.ShortOI = short
}

// RecordFunding updates the funding-rate/index/timing fields after a
// settlement pass.
func (s *StatsStore) RecordFunding(symbol string, rateBps fixedpoint.Bps, longIndex, shortIndex fixedpoint.USD, now, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(symbol)
	st.FundingRateBps = rateBps
	st.FundingIndexLong = longIndex
	st.FundingIndexShort = shortIndex
	st.LastFundingTime = now
	st.NextFundingTime = next
}
