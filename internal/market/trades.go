package market

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
)

// Trade is one executed match as published on the trades:{symbol} stream
// and served by get_trades, spec.md §6.2/§6.3.
type Trade struct {
	ID          string
	Symbol      string
	Price       fixedpoint.Price
	Size        fixedpoint.Size
	LongTrader  common.Address
	ShortTrader common.Address
	Timestamp   time.Time
}

// TradeStore is a fixed-capacity per-symbol ring buffer of recent trades,
// fed by the matching engine's fill callback alongside KlineStore.
type TradeStore struct {
	mu       sync.Mutex
	capacity int
	bySymbol map[string][]Trade
}

func NewTradeStore(capacity int) *TradeStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &TradeStore{capacity: capacity, bySymbol: make(map[string][]Trade)}
}

func (s *TradeStore) Record(m types.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Trade{
		ID:          m.ID,
		Symbol:      m.Symbol,
		Price:       m.Price,
		Size:        m.Size,
		LongTrader:  m.LongTrader,
		ShortTrader: m.ShortTrader,
		Timestamp:   m.Timestamp,
	}
	list := append(s.bySymbol[m.Symbol], t)
	if len(list) > s.capacity {
		list = list[len(list)-s.capacity:]
	}
	s.bySymbol[m.Symbol] = list
}

// Recent returns up to limit most-recent trades for symbol, newest first.
func (s *TradeStore) Recent(symbol string, limit int) []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.bySymbol[symbol]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Trade, limit)
	for i := 0; i < limit; i++ {
		out[i] = list[len(list)-1-i]
	}
	return out
}
