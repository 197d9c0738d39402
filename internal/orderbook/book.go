// Package orderbook implements the per-symbol price/time-priority book:
// a heap per side for O(1) best-price lookup, a FIFO queue per price level,
// and an O(1) cancel index, generalized from the teacher's
// pkg/app/core/orderbook package onto the venue's fixed-point order model.
//
// Book itself is not safe for concurrent use — the matching engine takes its
// per-symbol lock around each Book call. That lock is not held for a whole
// submit or cancel: margin locking, fill settlement and balance updates run
// outside it, between separate Book calls.
package orderbook

import (
	"container/heap"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
	"github.com/memeperp/venue/internal/verrors"
)

// Book holds one symbol's resting long/short orders.
type Book struct {
	Symbol string

	bidHeap *MaxPriceHeap // long (bid) side price levels
	askHeap *MinPriceHeap // short (ask) side price levels

	bids map[fixedpoint.Price][]*types.Order
	asks map[fixedpoint.Price][]*types.Order

	orderPrice map[string]fixedpoint.Price
	orderSide  map[string]types.Side

	lastPrice fixedpoint.Price
}

func NewBook(symbol string) *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &Book{
		Symbol:     symbol,
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[fixedpoint.Price][]*types.Order),
		asks:       make(map[fixedpoint.Price][]*types.Order),
		orderPrice: make(map[string]fixedpoint.Price),
		orderSide:  make(map[string]types.Side),
	}
}

func minSize(a, b fixedpoint.Size) fixedpoint.Size {
	if a < b {
		return a
	}
	return b
}

func (b *Book) bestBid() (fixedpoint.Price, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

func (b *Book) bestAsk() (fixedpoint.Price, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

func (b *Book) BestBid() (fixedpoint.Price, bool) { return b.bestBid() }
func (b *Book) BestAsk() (fixedpoint.Price, bool) { return b.bestAsk() }
func (b *Book) LastPrice() fixedpoint.Price        { return b.lastPrice }

func (b *Book) addResting(o *types.Order) {
	if o.Side == types.SideLong {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.orderPrice[o.ID] = o.Price
	b.orderSide[o.ID] = o.Side
}

func (b *Book) removeFromBidHeap(price fixedpoint.Price) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i] == price {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeFromAskHeap(price fixedpoint.Price) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Cancel removes a resting order by id. Returns false if not found.
func (b *Book) Cancel(id string) (*types.Order, bool) {
	price, ok := b.orderPrice[id]
	if !ok {
		return nil, false
	}
	side := b.orderSide[id]
	levels := b.bids
	heapRemove := b.removeFromBidHeap
	if side == types.SideShort {
		levels = b.asks
		heapRemove = b.removeFromAskHeap
	}
	arr := levels[price]
	for i, o := range arr {
		if o.ID == id {
			levels[price] = append(arr[:i], arr[i+1:]...)
			if len(levels[price]) == 0 {
				delete(levels, price)
				heapRemove(price)
			}
			delete(b.orderPrice, id)
			delete(b.orderSide, id)
			return o, true
		}
	}
	return nil, false
}

// WouldCross reports whether a would-be resting order at this price/side
// would immediately match against the opposing book — used to enforce
// post_only (spec.md §4.1).
func (b *Book) WouldCross(side types.Side, price fixedpoint.Price) bool {
	if side == types.SideLong {
		ask, ok := b.bestAsk()
		return ok && (price == 0 || ask <= price)
	}
	bid, ok := b.bestBid()
	return ok && (price == 0 || bid >= price)
}

// simulateFillable walks the opposing book without mutating it and reports
// how much of size could fill, used by FOK's atomic all-or-nothing check
// (spec.md §4.1 "FOK implementation contract").
func (b *Book) simulateFillable(side types.Side, price fixedpoint.Price, size fixedpoint.Size) fixedpoint.Size {
	var filled fixedpoint.Size
	if side == types.SideLong {
		levels := append(MinPriceHeap{}, (*b.askHeap)...)
		heap.Init(&levels)
		remaining := map[fixedpoint.Price]fixedpoint.Size{}
		for p, arr := range b.asks {
			var tot fixedpoint.Size
			for _, o := range arr {
				tot += o.Remaining()
			}
			remaining[p] = tot
		}
		for filled < size && levels.Len() > 0 {
			p := levels.Peek()
			if price != 0 && p > price {
				break
			}
			take := minSize(size-filled, remaining[p])
			filled += take
			if take >= remaining[p] {
				heap.Pop(&levels)
			} else {
				break
			}
		}
	} else {
		levels := append(MaxPriceHeap{}, (*b.bidHeap)...)
		heap.Init(&levels)
		remaining := map[fixedpoint.Price]fixedpoint.Size{}
		for p, arr := range b.bids {
			var tot fixedpoint.Size
			for _, o := range arr {
				tot += o.Remaining()
			}
			remaining[p] = tot
		}
		for filled < size && levels.Len() > 0 {
			p := levels.Peek()
			if price != 0 && p < price {
				break
			}
			take := minSize(size-filled, remaining[p])
			filled += take
			if take >= remaining[p] {
				heap.Pop(&levels)
			} else {
				break
			}
		}
	}
	return filled
}

// Place runs the matching algorithm for a new taker order, spec.md §4.1.
// Resting (GTC/GTD) residual is added to the book; IOC residual is dropped;
// FOK is simulated first and, if unfillable, rejected without mutation.
func (b *Book) Place(o *types.Order, now time.Time) ([]types.Match, error) {
	if o.TIF == types.TIFFOK {
		fillable := b.simulateFillable(o.Side, o.Price, o.Remaining())
		if fillable < o.Remaining() {
			return nil, verrors.Policy("fok_unfillable", "order cannot be filled in full")
		}
	}

	var matches []types.Match
	if o.Side == types.SideLong {
		matches = b.matchLong(o, now)
	} else {
		matches = b.matchShort(o, now)
	}

	if o.Remaining() > 0 {
		switch o.TIF {
		case types.TIFGTC, types.TIFGTD:
			if o.Type != types.OrderTypeMarket {
				b.addResting(o)
			}
		}
	}
	return matches, nil
}

func (b *Book) matchLong(o *types.Order, now time.Time) []types.Match {
	var matches []types.Match
	for o.Remaining() > 0 {
		askP, ok := b.bestAsk()
		if !ok {
			break
		}
		if o.Type != types.OrderTypeMarket && o.Price != 0 && askP > o.Price {
			break
		}
		level := b.asks[askP]
		if len(level) == 0 {
			delete(b.asks, askP)
			b.removeFromAskHeap(askP)
			continue
		}
		maker := level[0]
		size := minSize(o.Remaining(), maker.Remaining())
		o.RecordFill(askP, size, now)
		maker.RecordFill(askP, size, now)
		b.lastPrice = askP

		matches = append(matches, types.Match{
			Symbol:       b.Symbol,
			LongOrderID:  o.ID,
			ShortOrderID: maker.ID,
			LongTrader:   o.Trader,
			ShortTrader:  maker.Trader,
			Price:        askP,
			Size:         size,
			Timestamp:    now,
		})

		if maker.Remaining() == 0 {
			b.asks[askP] = level[1:]
			delete(b.orderPrice, maker.ID)
			delete(b.orderSide, maker.ID)
			if len(b.asks[askP]) == 0 {
				delete(b.asks, askP)
				b.removeFromAskHeap(askP)
			}
		}
	}
	return matches
}

func (b *Book) matchShort(o *types.Order, now time.Time) []types.Match {
	var matches []types.Match
	for o.Remaining() > 0 {
		bidP, ok := b.bestBid()
		if !ok {
			break
		}
		if o.Type != types.OrderTypeMarket && o.Price != 0 && bidP < o.Price {
			break
		}
		level := b.bids[bidP]
		if len(level) == 0 {
			delete(b.bids, bidP)
			b.removeFromBidHeap(bidP)
			continue
		}
		maker := level[0]
		size := minSize(o.Remaining(), maker.Remaining())
		o.RecordFill(bidP, size, now)
		maker.RecordFill(bidP, size, now)
		b.lastPrice = bidP

		matches = append(matches, types.Match{
			Symbol:       b.Symbol,
			LongOrderID:  maker.ID,
			ShortOrderID: o.ID,
			LongTrader:   maker.Trader,
			ShortTrader:  o.Trader,
			Price:        bidP,
			Size:         size,
			Timestamp:    now,
		})

		if maker.Remaining() == 0 {
			b.bids[bidP] = level[1:]
			delete(b.orderPrice, maker.ID)
			delete(b.orderSide, maker.ID)
			if len(b.bids[bidP]) == 0 {
				delete(b.bids, bidP)
				b.removeFromBidHeap(bidP)
			}
		}
	}
	return matches
}

// PriceLevel is one aggregated depth row.
type PriceLevel struct {
	Price fixedpoint.Price
	Size  fixedpoint.Size
}

// OrdersByTrader returns trader's currently-resting orders on this book.
func (b *Book) OrdersByTrader(trader common.Address) []*types.Order {
	var out []*types.Order
	for _, arr := range b.bids {
		for _, o := range arr {
			if o.Trader == trader {
				out = append(out, o)
			}
		}
	}
	for _, arr := range b.asks {
		for _, o := range arr {
			if o.Trader == trader {
				out = append(out, o)
			}
		}
	}
	return out
}

// Depth returns up to levels aggregated rows per side, best price first.
func (b *Book) Depth(levels int) (longs, shorts []PriceLevel) {
	longs = aggregate(b.bids, levels, true)
	shorts = aggregate(b.asks, levels, false)
	return
}

func aggregate(m map[fixedpoint.Price][]*types.Order, limit int, desc bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(m))
	for p, arr := range m {
		var tot fixedpoint.Size
		for _, o := range arr {
			tot += o.Remaining()
		}
		if tot > 0 {
			out = append(out, PriceLevel{Price: p, Size: tot})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			swap := false
			if desc {
				swap = out[j-1].Price < out[j].Price
			} else {
				swap = out[j-1].Price > out[j].Price
			}
			if !swap {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// MidPrice returns the average of best bid/ask, 0 if one-sided or empty.
func (b *Book) MidPrice() fixedpoint.Price {
	bid, okB := b.bestBid()
	ask, okA := b.bestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid + ask) / 2
}
