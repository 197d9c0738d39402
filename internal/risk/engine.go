// Package risk runs the periodic revaluation/liquidation/ADL tick, spec.md
// §4.3-§4.4. Grounded on daiwikmh-fin's internal/matching/liquidation.go
// (Run/checkAll's ticker + snapshot-then-iterate-without-lock pattern,
// reproduced here via position.Store.Snapshot/ApplyRevaluation as the
// single writer of derived position fields), the ADL-keeper reference's
// profitable-only/sorted/ranked queue construction, and web3guy0-polybot's
// risk/tp_sl.go trigger-crossing checks.
package risk

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/clock"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/insurance"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/matching"
	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/types"
)

// Config controls the tick cadence and risk-level classification bounds.
type Config struct {
	Interval time.Duration

	// Margin-ratio bps thresholds separating risk buckets; >= Critical
	// breaches spec.md §4.2's invariant ("margin_ratio >= 10000 triggers
	// liquidation") and is always fixedpoint.ScaleBps regardless of config.
	LowMax    fixedpoint.Bps
	MediumMax fixedpoint.Bps
	HighMax   fixedpoint.Bps

	// LiquidationFeeBps is the fraction of a liquidated side's non-negative
	// residual equity paid out as a liquidator/venue fee before the
	// remainder funds the insurance pool, spec.md §4.4.
	LiquidationFeeBps fixedpoint.Bps
	VenueAddress      common.Address
}

func DefaultConfig() Config {
	return Config{
		Interval:          100 * time.Millisecond,
		LowMax:            5000,
		MediumMax:         8000,
		HighMax:           10000,
		LiquidationFeeBps: 500,
	}
}

// LiquidationEvent is published to the stream/ledger after a forced pair
// unwind, spec.md §4.4 / §6.4's "liquidated" event.
type LiquidationEvent struct {
	PairID            string
	Symbol            string
	LiquidatedSide     types.Side
	ExecutionPrice     fixedpoint.Price
	InsuranceDrawn     fixedpoint.USD
	ADLCounterpartyID string // "" if the insurance fund fully covered the shortfall
	At                time.Time
}

// Engine is the single writer of every pair's derived risk fields.
type Engine struct {
	cfg Config

	positions *position.Store
	balances  *balance.Store
	insurance *insurance.Fund
	registry  *market.Registry
	stats     *market.StatsStore
	matching  *matching.Engine
	clock     clock.Clock
	logger    *zap.Logger

	onLiquidation func(LiquidationEvent)
}

func New(cfg Config, positions *position.Store, balances *balance.Store, ins *insurance.Fund, registry *market.Registry, stats *market.StatsStore, matchingEngine *matching.Engine, clk clock.Clock, logger *zap.Logger, onLiquidation func(LiquidationEvent)) *Engine {
	return &Engine{
		cfg:           cfg,
		positions:     positions,
		balances:      balances,
		insurance:     ins,
		registry:      registry,
		stats:         stats,
		matching:      matchingEngine,
		clock:         clk,
		logger:        logger,
		onLiquidation: onLiquidation,
	}
}

// Run blocks, ticking at cfg.Interval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ch, stop := e.clock.Tick(e.cfg.Interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			e.tick()
		}
	}
}

func (e *Engine) classify(ratio fixedpoint.Bps) types.RiskLevel {
	switch {
	case ratio < e.cfg.LowMax:
		return types.RiskLow
	case ratio < e.cfg.MediumMax:
		return types.RiskMedium
	case ratio < e.cfg.HighMax:
		return types.RiskHigh
	default:
		return types.RiskCritical
	}
}

type liqCandidate struct {
	pairID string
	side   types.Side
	symbol string
}

// revaluedPair carries one pair's freshly-derived SideStates between tick's
// revaluation pass and its ADL-ranking/persistence passes.
type revaluedPair struct {
	pairID string
	symbol string
	size   fixedpoint.Size
	long   types.SideState
	short  types.SideState
}

// tick runs spec.md §4.3's per-tick work list: revaluation, risk
// classification, per-symbol/per-side ADL quintile ranking, pair-attached
// TP/SL check, persistence, liquidation queue drain, and standalone
// conditional-order evaluation.
func (e *Engine) tick() {
	now := e.clock.Now()
	snapshot := e.positions.Snapshot()

	var toLiquidate []liqCandidate
	symbolsSeen := make(map[string]bool)
	revalued := make([]revaluedPair, 0, len(snapshot))

	for i := range snapshot {
		p := &snapshot[i]
		symbolsSeen[p.Symbol] = true

		mkt, err := e.registry.Get(p.Symbol)
		if err != nil {
			continue
		}
		mark := e.stats.MarkPrice(p.Symbol)
		if mark == 0 {
			mark = p.EntryPrice
		}

		longDerived := revalue(p.Long, p.Size, p.EntryPrice, mark, mkt.BaseMMRBps, types.SideLong, e.classify)
		shortDerived := revalue(p.Short, p.Size, p.EntryPrice, mark, mkt.BaseMMRBps, types.SideShort, e.classify)

		if closed := e.checkPairTPSL(p.PairID, p.Symbol, types.SideLong, longDerived, mark, now); closed {
			continue
		}
		if closed := e.checkPairTPSL(p.PairID, p.Symbol, types.SideShort, shortDerived, mark, now); closed {
			continue
		}

		revalued = append(revalued, revaluedPair{pairID: p.PairID, symbol: p.Symbol, size: p.Size, long: longDerived, short: shortDerived})

		if longDerived.MarginRatioBps >= fixedpoint.ScaleBps {
			toLiquidate = append(toLiquidate, liqCandidate{p.PairID, types.SideLong, p.Symbol})
		} else if shortDerived.MarginRatioBps >= fixedpoint.ScaleBps {
			toLiquidate = append(toLiquidate, liqCandidate{p.PairID, types.SideShort, p.Symbol})
		}
	}

	assignADLQueues(revalued)
	for i := range revalued {
		rp := &revalued[i]
		e.positions.ApplyRevaluation(rp.pairID, rp.long, rp.short)
	}

	for _, c := range toLiquidate {
		e.liquidate(c, revalued, now)
	}

	for symbol := range symbolsSeen {
		mark := e.stats.MarkPrice(symbol)
		if mark == 0 {
			continue
		}
		fired := e.matching.EvaluateTriggers(symbol, mark)
		for _, o := range fired {
			if _, err := e.matching.ExecuteTriggered(o, now); err != nil {
				e.logger.Warn("triggered order execution failed", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	}
}

// checkPairTPSL closes side's leg of pairID fully if its attached take-
// profit/stop-loss price has been crossed, per spec.md §4.3 step 5's
// pair-attached variant. Returns true if the pair was closed.
func (e *Engine) checkPairTPSL(pairID, symbol string, side types.Side, ss types.SideState, mark fixedpoint.Price, now time.Time) bool {
	fire := false
	if ss.TakeProfitPrice != 0 {
		if side == types.SideLong && mark >= ss.TakeProfitPrice {
			fire = true
		} else if side == types.SideShort && mark <= ss.TakeProfitPrice {
			fire = true
		}
	}
	if !fire && ss.StopLossPrice != 0 {
		if side == types.SideLong && mark <= ss.StopLossPrice {
			fire = true
		} else if side == types.SideShort && mark >= ss.StopLossPrice {
			fire = true
		}
	}
	if !fire {
		return false
	}
	if err := e.matching.Close(pairID, ss.Trader, fixedpoint.ScaleBps, now); err != nil {
		e.logger.Warn("pair TP/SL close failed", zap.String("pair_id", pairID), zap.Error(err))
		return false
	}
	e.logger.Info("pair closed by TP/SL", zap.String("pair_id", pairID), zap.String("symbol", symbol), zap.Int8("side", int8(side)))
	return true
}

// liquidate force-closes both legs of a breached pair at mark price,
// draws the liquidated side's shortfall from the insurance fund, and — if
// the fund cannot cover it — ADLs a ranked profitable opposite-side pair
// in the same symbol to absorb the remainder, per spec.md §4.4.
func (e *Engine) liquidate(c liqCandidate, revalued []revaluedPair, now time.Time) {
	mark := e.stats.MarkPrice(c.symbol)
	if mark == 0 {
		return
	}
	pair, ok := e.positions.Get(c.pairID)
	if !ok || pair.Status != types.PairActive {
		return
	}

	long, short, err := e.positions.ReducePair(c.pairID, fixedpoint.ScaleBps, mark, now)
	if err != nil {
		return
	}
	e.positions.MarkLiquidated(c.pairID)

	liquidatedResult, liquidatedTrader := long, pair.Long.Trader
	if c.side == types.SideShort {
		liquidatedResult, liquidatedTrader = short, pair.Short.Trader
	}
	counterResult, counterTrader := short, pair.Short.Trader
	if c.side == types.SideShort {
		counterResult, counterTrader = long, pair.Long.Trader
	}

	// A liquidated trader forfeits their full collateral regardless of the
	// equity sign at execution (spec.md §4.4): a leftover positive equity
	// (the margin-ratio trigger fires before the bankruptcy price) is the
	// liquidation penalty and funds the insurance pool; a negative equity
	// is a shortfall the insurance pool must cover instead.
	equity := liquidatedResult.CollateralReleased + liquidatedResult.RealizedPnL
	e.balances.ReleaseUsed(liquidatedTrader, liquidatedResult.CollateralReleased, -liquidatedResult.CollateralReleased)
	e.balances.ReleaseUsed(counterTrader, counterResult.CollateralReleased, counterResult.RealizedPnL)

	var drawn, uncovered fixedpoint.USD
	if equity >= 0 {
		liquidatorFee := fixedpoint.USD(int64(equity) * int64(e.cfg.LiquidationFeeBps) / int64(fixedpoint.ScaleBps))
		if liquidatorFee > 0 {
			e.balances.Deposit(e.cfg.VenueAddress, liquidatorFee)
		}
		e.insurance.Contribute(c.symbol, equity-liquidatorFee)
	} else {
		drawn, uncovered = e.insurance.Draw(c.symbol, -equity)
	}

	event := LiquidationEvent{
		PairID: c.pairID, Symbol: c.symbol, LiquidatedSide: c.side,
		ExecutionPrice: mark, InsuranceDrawn: drawn, At: now,
	}

	if uncovered > 0 {
		if adlPair := e.pickADLCounterparty(c.symbol, c.side, revalued, c.pairID); adlPair != nil {
			event.ADLCounterpartyID = adlPair.PairID
			e.adlClose(adlPair, now)
		}
	}

	if e.onLiquidation != nil {
		e.onLiquidation(event)
	}
}

// pickADLCounterparty picks the highest-ranked pair on the opposite side of
// the liquidated leg from this tick's ADL queue (assignADLQueues), per
// spec.md §4.4/§4.3 step 4, to absorb the unwound exposure.
func (e *Engine) pickADLCounterparty(symbol string, liquidatedSide types.Side, revalued []revaluedPair, excludePairID string) *types.Pair {
	wantSide := liquidatedSide.Opposite()
	bestIdx := -1
	for i := range revalued {
		rp := &revalued[i]
		if rp.symbol != symbol || rp.pairID == excludePairID {
			continue
		}
		ss := rp.long
		if wantSide == types.SideShort {
			ss = rp.short
		}
		if ss.ADLRank <= 0 {
			continue
		}
		if bestIdx == -1 {
			bestIdx = i
			continue
		}
		best := revalued[bestIdx]
		bestSS := best.long
		if wantSide == types.SideShort {
			bestSS = best.short
		}
		if ss.ADLRank > bestSS.ADLRank || (ss.ADLRank == bestSS.ADLRank && ss.ADLScore > bestSS.ADLScore) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil
	}
	pair, ok := e.positions.Get(revalued[bestIdx].pairID)
	if !ok || pair.Status != types.PairActive {
		return nil
	}
	return pair
}

// assignADLQueues ranks every symbol/side's profitable pairs into the five
// quintiles of spec.md §3.1/§4.3 step 4's adl_score/adl_rank: rank 5 is the
// most exposed quintile (ADL'd first), rank 1 the least; a non-profitable
// side keeps rank 0 and is never ADL-eligible. Ties in score are broken by
// larger position size, then by pair id, per DESIGN.md's Open Question #3.
func assignADLQueues(revalued []revaluedPair) {
	type entry struct {
		idx   int
		side  types.Side
		score int64
	}
	queues := make(map[string][]entry)
	for i := range revalued {
		rp := &revalued[i]
		if rp.long.ROEBps > 0 {
			k := rp.symbol + "|long"
			queues[k] = append(queues[k], entry{i, types.SideLong, int64(rp.long.ROEBps) * int64(rp.long.Leverage)})
		}
		if rp.short.ROEBps > 0 {
			k := rp.symbol + "|short"
			queues[k] = append(queues[k], entry{i, types.SideShort, int64(rp.short.ROEBps) * int64(rp.short.Leverage)})
		}
	}
	for _, entries := range queues {
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.score != b.score {
				return a.score > b.score
			}
			if revalued[a.idx].size != revalued[b.idx].size {
				return revalued[a.idx].size > revalued[b.idx].size
			}
			return revalued[a.idx].pairID < revalued[b.idx].pairID
		})
		n := len(entries)
		for pos, e := range entries {
			rank := 5 - (pos * 5 / n)
			if rank < 1 {
				rank = 1
			}
			rp := &revalued[e.idx]
			side := &rp.long
			if e.side == types.SideShort {
				side = &rp.short
			}
			side.ADLScore = e.score
			side.ADLRank = rank
		}
	}
}

// adlClose force-closes a picked counterparty's pair at mark price, the
// same ReducePair/MarkLiquidated/ReleaseUsed path as a direct liquidation
// (spec.md §4.4: ADL is itself a forced liquidation of the chosen side).
func (e *Engine) adlClose(pair *types.Pair, now time.Time) {
	mark := e.stats.MarkPrice(pair.Symbol)
	long, short, err := e.positions.ReducePair(pair.PairID, fixedpoint.ScaleBps, mark, now)
	if err != nil {
		return
	}
	e.positions.MarkLiquidated(pair.PairID)
	e.balances.ReleaseUsed(pair.Long.Trader, long.CollateralReleased, long.RealizedPnL)
	e.balances.ReleaseUsed(pair.Short.Trader, short.CollateralReleased, short.RealizedPnL)
}

func revalue(ss types.SideState, size fixedpoint.Size, entry, mark fixedpoint.Price, baseMMR fixedpoint.Bps, side types.Side, classify func(fixedpoint.Bps) types.RiskLevel) types.SideState {
	out := ss
	out.MarkPrice = mark
	// spec.md §4.2: pnl_1e6 = direction*size*(mark-entry)/1e24 - open_fee_1e6,
	// so a position marked flat at its own entry price reports exactly
	// -open_fee rather than zero (spec.md §8's testable invariant).
	out.UnrealizedPnL = fixedpoint.UnrealizedPnL(side.Direction(), size, entry, mark) - ss.OpenFee
	out.CurrentMargin = ss.Collateral + out.UnrealizedPnL + ss.AccFunding
	out.EffectiveMMRBps = position.EffectiveMMR(baseMMR, ss.Leverage)

	notional := fixedpoint.Notional(size, mark)
	out.MaintenanceMargin = fixedpoint.FeeOn(notional, out.EffectiveMMRBps)
	out.MarginRatioBps = fixedpoint.MarginRatioBps(out.MaintenanceMargin, out.CurrentMargin)

	if ss.Collateral > 0 {
		out.ROEBps = fixedpoint.Bps(int64(out.UnrealizedPnL) * int64(fixedpoint.ScaleBps) / int64(ss.Collateral))
	} else {
		out.ROEBps = 0
	}

	out.LiquidationPrice = position.LiquidationPrice(entry, ss.Leverage, baseMMR, side)
	out.BankruptcyPrice = position.BankruptcyPrice(entry, ss.Leverage, side)
	out.BreakEvenPrice = position.BreakEvenPrice(entry, size, ss.AccFunding, side)
	out.RiskLevel = classify(out.MarginRatioBps)
	return out
}
