// Package matching is the order-intake orchestrator: signature/nonce/
// deadline preconditions, market limits, collateral locking, the per-symbol
// matching critical section, and wiring fills into balance and position.
// Grounded on the teacher's pkg/app/perp/app.go applyTx/processFill, with
// the ABCI/mempool/state-hash framing stripped per spec.md's external-RPC
// ledger model (DESIGN.md "dropped packages").
package matching

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/clock"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/orderbook"
	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/signing"
	"github.com/memeperp/venue/internal/types"
	"github.com/memeperp/venue/internal/verrors"
	"github.com/memeperp/venue/pkg/ids"
)

// OnFill is invoked once per match after position/balance state has been
// updated, letting the ledger batch submitter, stream fan-out, and kline
// store observe fills without the engine importing any of them.
type OnFill func(match types.Match, pair *types.Pair)

type symbolShard struct {
	mu       sync.Mutex
	book     *orderbook.Book
	triggers *orderbook.TriggerSet
}

// Engine owns one shard per symbol, each guarding its book and trigger set
// with its own mutex (no cross-symbol lock is ever held), plus the shared
// balance/position/market state that submits, cancels and closes update.
type Engine struct {
	registry  *market.Registry
	balances  *balance.Store
	positions *position.Store
	signer    *signing.TypedSigner
	clock     clock.Clock
	onFill    OnFill

	// pendingCount and submitHighWater implement spec.md §5's submission
	// backpressure: once the ledger batch queue crosses the high-water
	// mark, new opening orders are rejected while reduce-only orders and
	// cancels keep flowing. pendingCount is nil in tests that don't wire a
	// submitter, in which case backpressure is simply never applied.
	pendingCount    func() int
	submitHighWater int

	shardsMu sync.RWMutex
	shards   map[string]*symbolShard
}

func New(reg *market.Registry, bal *balance.Store, pos *position.Store, signer *signing.TypedSigner, clk clock.Clock, onFill OnFill) *Engine {
	return &Engine{
		registry:  reg,
		balances:  bal,
		positions: pos,
		signer:    signer,
		clock:     clk,
		onFill:    onFill,
		shards:    make(map[string]*symbolShard),
	}
}

// SetSubmissionBackpressure wires the ledger submitter's queue depth into
// Submit's opening-order admission check, spec.md §5. Called once during
// composition (internal/venue.New), after the submitter exists but before
// any order traffic starts.
func (e *Engine) SetSubmissionBackpressure(pendingCount func() int, highWater int) {
	e.pendingCount = pendingCount
	e.submitHighWater = highWater
}

// OpenOrders returns trader's currently-resting orders across every
// symbol, spec.md §6.3 get_user_orders. Terminal orders are not retained
// by the book (spec.md §4.1 "Orders are removed at terminal status"), so
// filled/canceled/rejected history is served from the durable mirror /
// settlement log, not this call.
func (e *Engine) OpenOrders(trader common.Address) []*types.Order {
	e.shardsMu.RLock()
	shards := make([]*symbolShard, 0, len(e.shards))
	for _, sh := range e.shards {
		shards = append(shards, sh)
	}
	e.shardsMu.RUnlock()

	var out []*types.Order
	for _, sh := range shards {
		sh.mu.Lock()
		out = append(out, sh.book.OrdersByTrader(trader)...)
		out = append(out, sh.triggers.OrdersByTrader(trader)...)
		sh.mu.Unlock()
	}
	return out
}

// Depth returns up to levels aggregated price-level rows per side for
// symbol, spec.md §6.3 get_depth.
func (e *Engine) Depth(symbol string, levels int) (longs, shorts []orderbook.PriceLevel, err error) {
	if _, err = e.registry.Get(symbol); err != nil {
		return nil, nil, err
	}
	sh := e.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	longs, shorts = sh.book.Depth(levels)
	return longs, shorts, nil
}

func (e *Engine) shardFor(symbol string) *symbolShard {
	e.shardsMu.RLock()
	sh, ok := e.shards[symbol]
	e.shardsMu.RUnlock()
	if ok {
		return sh
	}
	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()
	if sh, ok = e.shards[symbol]; ok {
		return sh
	}
	sh = &symbolShard{book: orderbook.NewBook(symbol), triggers: orderbook.NewTriggerSet()}
	e.shards[symbol] = sh
	return sh
}

// EvaluateTriggers checks symbol's standalone conditional orders (stop-loss/
// take-profit/trailing-stop) against mark under the symbol's shard lock,
// removing and returning any that fire; the caller executes them via
// ExecuteTriggered outside this call so the critical section never nests.
func (e *Engine) EvaluateTriggers(symbol string, mark fixedpoint.Price) []*types.Order {
	sh := e.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fired := sh.triggers.Evaluate(mark)
	for _, o := range fired {
		sh.triggers.Remove(o.ID)
	}
	return fired
}

// Submit runs a new order intent through every spec.md §4.1 precondition,
// then the matching critical section for its symbol.
func (e *Engine) Submit(o *types.Order, intent *signing.OrderIntent, signature []byte) ([]types.Match, error) {
	now := e.clock.Now()

	if o.DeadlineUnix > 0 && now.Unix() > o.DeadlineUnix {
		return nil, verrors.Validation("expired", "order deadline has passed")
	}
	if intent != nil {
		ok, err := e.signer.VerifyOrder(intent, signature)
		if err != nil || !ok {
			return nil, verrors.Validation("bad_signature", "order signature does not verify")
		}
	}
	if err := e.balances.CheckAndConsumeNonce(o.Trader, o.Nonce); err != nil {
		return nil, err
	}
	if o.Type == types.OrderTypeMarket && o.PostOnly {
		return nil, verrors.Validation("market_post_only", "market orders cannot be post-only")
	}

	m, err := e.registry.Get(o.Symbol)
	if err != nil {
		return nil, err
	}
	if err := m.ValidateOrder(o.Price, o.Size); err != nil {
		return nil, err
	}
	if o.Leverage <= 0 || o.Leverage > m.MaxLeverageBps {
		return nil, verrors.Validation("bad_leverage", "leverage outside market bounds")
	}

	if o.ReduceOnly {
		held := e.positions.AggregateSize(o.Trader, o.Symbol, o.Side.Opposite())
		if held <= 0 {
			return nil, verrors.Policy("reduce_only_no_position", "no opposite-side position to reduce")
		}
		if o.Size > held {
			return nil, verrors.Policy("reduce_only_wrong_side", "reduce-only size exceeds held position")
		}
	} else if e.pendingCount != nil && e.pendingCount() >= e.submitHighWater {
		return nil, verrors.State("submission_backpressure", "ledger submission queue at high water, only reduce-only orders are accepted")
	}

	if o.Type.IsConditional() {
		sh := e.shardFor(o.Symbol)
		sh.mu.Lock()
		sh.triggers.Add(o)
		sh.mu.Unlock()
		return nil, nil
	}

	return e.clearOrder(o, m, now)
}

// ExecuteTriggered runs a previously-armed conditional order (already
// removed from its symbol's TriggerSet by the risk engine) through the same
// market-clearing path as a fresh submission, skipping the deadline/nonce/
// signature checks already satisfied when the order was first placed.
func (e *Engine) ExecuteTriggered(o *types.Order, now time.Time) ([]types.Match, error) {
	m, err := e.registry.Get(o.Symbol)
	if err != nil {
		return nil, err
	}
	o.Type = types.OrderTypeMarket
	o.Price = 0
	o.Status = types.OrderTriggered
	return e.clearOrder(o, m, now)
}

func (e *Engine) clearOrder(o *types.Order, m *market.Market, now time.Time) ([]types.Match, error) {
	estimatePrice := o.Price
	if estimatePrice == 0 {
		sh := e.shardFor(o.Symbol)
		sh.mu.Lock()
		estimatePrice = sh.book.LastPrice()
		if estimatePrice == 0 {
			if o.Side == types.SideLong {
				if ask, ok := sh.book.BestAsk(); ok {
					estimatePrice = ask
				}
			} else if bid, ok := sh.book.BestBid(); ok {
				estimatePrice = bid
			}
		}
		sh.mu.Unlock()
	}
	notional := fixedpoint.Notional(o.Size, estimatePrice)
	margin := fixedpoint.Margin(notional, o.Leverage)
	fee := fixedpoint.FeeOn(notional, m.TakerFeeBps)
	total := margin + fee
	if err := e.balances.Lock(o.Trader, total); err != nil {
		return nil, err
	}
	o.LockedMargin = margin
	o.LockedFee = fee

	sh := e.shardFor(o.Symbol)
	if o.PostOnly {
		sh.mu.Lock()
		crosses := sh.book.WouldCross(o.Side, o.Price)
		sh.mu.Unlock()
		if crosses {
			e.balances.ReleaseFrozen(o.Trader, total)
			return nil, verrors.Policy("post_only_would_cross", "post-only order would cross the book")
		}
	}

	sh.mu.Lock()
	matches, err := sh.book.Place(o, now)
	sh.mu.Unlock()
	if err != nil {
		e.balances.ReleaseFrozen(o.Trader, total)
		return nil, err
	}

	e.settleMatches(o, m, matches, now)

	filledNotional := fixedpoint.Notional(o.FilledSize, o.AvgFillPrice)
	filledMargin := fixedpoint.Margin(filledNotional, o.Leverage)
	filledFee := fixedpoint.FeeOn(filledNotional, m.TakerFeeBps)
	if residual := total - (filledMargin + filledFee); residual > 0 && o.Remaining() == 0 {
		e.balances.ReleaseFrozen(o.Trader, residual)
	} else if residual > 0 && (o.TIF == types.TIFIOC || o.TIF == types.TIFFOK) {
		e.balances.ReleaseFrozen(o.Trader, residual)
	}

	return matches, nil
}

// settleMatches applies each fill to the position ledger, wiring trader
// leverage/collateral per side and invoking onFill for downstream fan-out.
func (e *Engine) settleMatches(taker *types.Order, m *market.Market, matches []types.Match, now time.Time) {
	for i := range matches {
		mt := &matches[i]
		mt.ID = ids.NewMatchID()

		longLev, shortLev := m.MaxLeverageBps, m.MaxLeverageBps
		if taker.Side == types.SideLong {
			longLev = taker.Leverage
		} else {
			shortLev = taker.Leverage
		}
		notional := fixedpoint.Notional(mt.Size, mt.Price)
		takerFee := fixedpoint.FeeOn(notional, m.TakerFeeBps)
		makerFee := fixedpoint.FeeOn(notional, m.MakerFeeBps)
		longFee, shortFee := makerFee, makerFee
		if taker.Side == types.SideLong {
			longFee = takerFee
		} else {
			shortFee = takerFee
		}
		pair, longMargin, shortMargin := e.positions.OpenOrMerge(*mt, longLev, shortLev, longFee, shortFee, ids.NewPairID, now)
		e.balances.MoveFrozenToUsed(mt.LongTrader, longMargin+longFee)
		e.balances.MoveFrozenToUsed(mt.ShortTrader, shortMargin+shortFee)

		if e.onFill != nil {
			e.onFill(*mt, pair)
		}
	}
}

// Cancel removes a resting order and refunds its frozen residual margin+fee.
func (e *Engine) Cancel(symbol, orderID string, trader common.Address) (*types.Order, error) {
	sh := e.shardFor(symbol)
	sh.mu.Lock()
	o, ok := sh.book.Cancel(orderID)
	sh.mu.Unlock()
	if !ok {
		if o, ok = sh.triggers.Remove(orderID); !ok {
			return nil, verrors.Validation("order_not_found", "no resting order with that id")
		}
	}
	if o.Trader != trader {
		return nil, verrors.Policy("not_your_order", "cancel trader does not match order owner")
	}
	o.Status = types.OrderCanceled
	o.UpdatedAt = e.clock.Now()

	filledNotional := fixedpoint.Notional(o.FilledSize, o.AvgFillPrice)
	filledMargin := fixedpoint.Margin(filledNotional, o.Leverage)
	feeUsed := fixedpoint.USD(int64(o.LockedFee) * int64(o.FilledSize) / int64(maxInt64(int64(o.Size), 1)))
	used := filledMargin + feeUsed
	residual := o.LockedMargin + o.LockedFee - used
	if residual > 0 {
		e.balances.ReleaseFrozen(trader, residual)
	}
	return o, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Close settles ratioBps of pairID directly against markPrice, per spec.md
// §6.1's close intent (trader, pair_id, ratio): since a pair's two legs
// share one size by construction, reducing it is a direct ledger operation
// on both legs at once rather than a new book trade (DESIGN.md "pair
// identity resolution").
func (e *Engine) Close(pairID string, trader common.Address, ratioBps fixedpoint.Bps, now time.Time) error {
	pair, ok := e.positions.Get(pairID)
	if !ok {
		return verrors.Validation("pair_unknown", "no such pair")
	}
	if pair.Long.Trader != trader && pair.Short.Trader != trader {
		return verrors.Policy("not_your_position", "trader is not a party to this pair")
	}
	mark := e.markPrice(pair.Symbol)

	long, short, err := e.positions.ReducePair(pairID, ratioBps, mark, now)
	if err != nil {
		return err
	}
	e.balances.ReleaseUsed(pair.Long.Trader, long.CollateralReleased, long.RealizedPnL)
	e.balances.ReleaseUsed(pair.Short.Trader, short.CollateralReleased, short.RealizedPnL)
	return nil
}

func (e *Engine) markPrice(symbol string) fixedpoint.Price {
	sh := e.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if p := sh.book.LastPrice(); p != 0 {
		return p
	}
	return sh.book.MidPrice()
}

// SetTPSL attaches/clears take-profit and stop-loss trigger prices on
// trader's side of pairID, per spec.md §6.1's set-TP/SL intent.
func (e *Engine) SetTPSL(pairID string, trader common.Address, takeProfit, stopLoss fixedpoint.Price) error {
	return e.positions.SetTPSL(pairID, trader, takeProfit, stopLoss)
}
