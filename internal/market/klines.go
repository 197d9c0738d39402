package market

import (
	"sync"
	"time"

	"github.com/memeperp/venue/internal/fixedpoint"
)

// Interval is one of the candle granularities spec.md §6.3 names.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Candle is one OHLCV bucket.
type Candle struct {
	OpenTime time.Time
	Open     fixedpoint.Price
	High     fixedpoint.Price
	Low      fixedpoint.Price
	Close    fixedpoint.Price
	Volume   fixedpoint.Size
}

// KlineStore is a fixed-capacity ring buffer of candles per (symbol,
// interval), fed by the matching engine's trade stream. get_klines
// (spec.md §6.3) is a supplemented feature with no teacher equivalent.
type KlineStore struct {
	mu       sync.Mutex
	capacity int
	series   map[string]map[Interval][]Candle
}

func NewKlineStore(capacity int) *KlineStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &KlineStore{capacity: capacity, series: make(map[string]map[Interval][]Candle)}
}

var allIntervals = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d}

// RecordTrade folds one trade into every interval's current (or a new)
// candle for the symbol.
func (k *KlineStore) RecordTrade(symbol string, price fixedpoint.Price, size fixedpoint.Size, at time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	bySymbol, ok := k.series[symbol]
	if !ok {
		bySymbol = make(map[Interval][]Candle)
		k.series[symbol] = bySymbol
	}
	for _, iv := range allIntervals {
		bucket := at.Truncate(iv.Duration())
		candles := bySymbol[iv]
		if len(candles) == 0 || !candles[len(candles)-1].OpenTime.Equal(bucket) {
			candles = append(candles, Candle{OpenTime: bucket, Open: price, High: price, Low: price, Close: price, Volume: size})
			if len(candles) > k.capacity {
				candles = candles[len(candles)-k.capacity:]
			}
		} else {
			last := &candles[len(candles)-1]
			if price > last.High {
				last.High = price
			}
			if price < last.Low {
				last.Low = price
			}
			last.Close = price
			last.Volume += size
		}
		bySymbol[iv] = candles
	}
}

// Get returns up to limit most-recent candles for (symbol, interval).
func (k *KlineStore) Get(symbol string, iv Interval, limit int) []Candle {
	k.mu.Lock()
	defer k.mu.Unlock()
	candles := k.series[symbol][iv]
	if limit <= 0 || limit >= len(candles) {
		out := make([]Candle, len(candles))
		copy(out, candles)
		return out
	}
	start := len(candles) - limit
	out := make([]Candle, limit)
	copy(out, candles[start:])
	return out
}
