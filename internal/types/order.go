// Package types holds the venue's core entities: Order, Position, Balance,
// MarketStats, InsuranceFund and SettlementLog, per the data model every
// other package operates on.
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
)

type Side int8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideLong {
		return "long"
	}
	return "short"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Direction returns +1 for long, -1 for short, for PnL-sign arithmetic.
func (s Side) Direction() int64 {
	if s == SideLong {
		return 1
	}
	return -1
}

type OrderType int8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStopLoss
	OrderTypeTakeProfit
	OrderTypeTrailingStop
)

func (t OrderType) IsConditional() bool {
	return t == OrderTypeStopLoss || t == OrderTypeTakeProfit || t == OrderTypeTrailingStop
}

type TimeInForce int8

const (
	TIFGTC TimeInForce = iota
	TIFIOC
	TIFFOK
	TIFGTD
)

type OrderStatus int8

const (
	OrderPending OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCanceled
	OrderRejected
	OrderTriggered
	OrderExpired
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCanceled:
		return "canceled"
	case OrderRejected:
		return "rejected"
	case OrderTriggered:
		return "triggered"
	case OrderExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is the venue's order entity, spec.md §3.1.
type Order struct {
	ID            string
	ClientOrderID string
	Trader        common.Address
	Symbol        string
	Side          Side
	Type          OrderType
	TIF           TimeInForce
	ReduceOnly    bool
	PostOnly      bool

	Size           fixedpoint.Size
	FilledSize     fixedpoint.Size
	AvgFillPrice   fixedpoint.Price
	TotalFillValue fixedpoint.USD

	Leverage     fixedpoint.Bps
	Price        fixedpoint.Price // 0 == market
	TriggerPrice fixedpoint.Price // nullable, 0 == unset

	// TrailingDistanceBps is the configured trailing distance for
	// OrderTypeTrailingStop; HighWaterMark tracks the best mark price seen
	// since the order was armed so the effective trigger price can trail it.
	TrailingDistanceBps fixedpoint.Bps
	HighWaterMark       fixedpoint.Price

	DeadlineUnix int64
	Nonce        uint64
	SignatureHex string

	Status OrderStatus

	LockedMargin fixedpoint.USD
	LockedFee    fixedpoint.USD

	CreatedAt time.Time
	UpdatedAt time.Time

	LastFillPrice fixedpoint.Price
	LastFillSize  fixedpoint.Size
	LastFillTime  time.Time
}

func (o *Order) Remaining() fixedpoint.Size { return o.Size - o.FilledSize }

func (o *Order) IsClosed() bool { return o.Status.IsTerminal() }

// RecordFill updates the order's size-weighted average fill price and
// total fill value, per spec.md §4.1 "Each match immediately updates both
// orders' filled_size, avg_fill_price (size-weighted), total_fill_value".
func (o *Order) RecordFill(price fixedpoint.Price, size fixedpoint.Size, at time.Time) {
	prevValue := int64(o.TotalFillValue)
	fillValue := int64(fixedpoint.Notional(size, price))

	o.FilledSize += size
	o.TotalFillValue = fixedpoint.USD(prevValue + fillValue)
	if o.FilledSize > 0 {
		// Size-weighted average of the previous average and this fill's
		// price, in big.Int so price*size products cannot overflow.
		o.AvgFillPrice = weightedAvgPrice(o.AvgFillPrice, o.FilledSize-size, price, size)
	}
	o.LastFillPrice = price
	o.LastFillSize = size
	o.LastFillTime = at

	if o.FilledSize >= o.Size {
		o.Status = OrderFilled
	} else if o.FilledSize > 0 {
		o.Status = OrderPartiallyFilled
	}
	o.UpdatedAt = at
}

func weightedAvgPrice(prevAvg fixedpoint.Price, prevSize fixedpoint.Size, newPrice fixedpoint.Price, newSize fixedpoint.Size) fixedpoint.Price {
	total := prevSize + newSize
	if total == 0 {
		return newPrice
	}
	prevTerm := new(big.Int).Mul(big.NewInt(int64(prevAvg)), big.NewInt(int64(prevSize)))
	newTerm := new(big.Int).Mul(big.NewInt(int64(newPrice)), big.NewInt(int64(newSize)))
	num := prevTerm.Add(prevTerm, newTerm)
	return fixedpoint.Price(num.Div(num, big.NewInt(int64(total))).Int64())
}

// Match is the engine's output per crossing pair, spec.md §3.1.
type Match struct {
	ID           string
	Symbol       string
	LongOrderID  string
	ShortOrderID string
	LongTrader   common.Address
	ShortTrader  common.Address
	Price        fixedpoint.Price
	Size         fixedpoint.Size
	Timestamp    time.Time
}
