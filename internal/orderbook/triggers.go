package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
)

// TriggerSet holds conditional (stop-loss/take-profit/trailing-stop) orders
// for one symbol, off the book. Orders are kept in one map per side keyed by
// order id; they are not indexed or ordered by trigger price, and Evaluate
// checks every armed order on each call.
type TriggerSet struct {
	long  map[string]*types.Order
	short map[string]*types.Order
}

func NewTriggerSet() *TriggerSet {
	return &TriggerSet{long: make(map[string]*types.Order), short: make(map[string]*types.Order)}
}

func (t *TriggerSet) Add(o *types.Order) {
	if o.Side == types.SideLong {
		t.long[o.ID] = o
	} else {
		t.short[o.ID] = o
	}
}

func (t *TriggerSet) Remove(id string) (*types.Order, bool) {
	if o, ok := t.long[id]; ok {
		delete(t.long, id)
		return o, true
	}
	if o, ok := t.short[id]; ok {
		delete(t.short, id)
		return o, true
	}
	return nil, false
}

// OrdersByTrader returns trader's currently-armed conditional orders.
func (t *TriggerSet) OrdersByTrader(trader common.Address) []*types.Order {
	var out []*types.Order
	for _, o := range t.long {
		if o.Trader == trader {
			out = append(out, o)
		}
	}
	for _, o := range t.short {
		if o.Trader == trader {
			out = append(out, o)
		}
	}
	return out
}

// Evaluate returns the orders that fire at the given mark price, per
// spec.md §4.3 step 5: long stop-loss/take-profit fire when mark crosses
// trigger from the losing/winning side respectively, short is symmetric.
// Trailing-stop orders first have their high-water mark advanced, then use
// the trailed trigger price.
func (t *TriggerSet) Evaluate(mark fixedpoint.Price) []*types.Order {
	var fired []*types.Order
	for _, o := range t.long {
		effTrigger := effectiveTrigger(o, mark)
		if shouldFireLong(o.Type, mark, effTrigger) {
			fired = append(fired, o)
		}
	}
	for _, o := range t.short {
		effTrigger := effectiveTrigger(o, mark)
		if shouldFireShort(o.Type, mark, effTrigger) {
			fired = append(fired, o)
		}
	}
	return fired
}

func effectiveTrigger(o *types.Order, mark fixedpoint.Price) fixedpoint.Price {
	if o.Type != types.OrderTypeTrailingStop {
		return o.TriggerPrice
	}
	// Advance the high-water mark in the order's favor, then trail it by
	// the configured distance, grounded on the teacher-adjacent
	// high-water-mark trailing-stop idiom.
	if o.Side == types.SideLong {
		if mark > o.HighWaterMark {
			o.HighWaterMark = mark
		}
		trail := fixedpoint.FeeOn(fixedpoint.USD(o.HighWaterMark), o.TrailingDistanceBps)
		o.TriggerPrice = o.HighWaterMark - fixedpoint.Price(trail)
	} else {
		if o.HighWaterMark == 0 || mark < o.HighWaterMark {
			o.HighWaterMark = mark
		}
		trail := fixedpoint.FeeOn(fixedpoint.USD(o.HighWaterMark), o.TrailingDistanceBps)
		o.TriggerPrice = o.HighWaterMark + fixedpoint.Price(trail)
	}
	return o.TriggerPrice
}

func shouldFireLong(t types.OrderType, mark, trigger fixedpoint.Price) bool {
	switch t {
	case types.OrderTypeTakeProfit:
		return mark >= trigger
	case types.OrderTypeStopLoss, types.OrderTypeTrailingStop:
		return mark <= trigger
	default:
		return false
	}
}

func shouldFireShort(t types.OrderType, mark, trigger fixedpoint.Price) bool {
	switch t {
	case types.OrderTypeTakeProfit:
		return mark <= trigger
	case types.OrderTypeStopLoss, types.OrderTypeTrailingStop:
		return mark >= trigger
	default:
		return false
	}
}
