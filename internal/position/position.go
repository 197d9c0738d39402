// Package position owns the paired-position ledger: pair creation/merge on
// match (spec.md §4.2), revaluation snapshot/apply for the risk engine
// (spec.md §4.3, §5's single-writer-for-derived-fields rule), and
// close/liquidation settlement. Grounded on the teacher's
// pkg/app/core/account/manager.go UpdatePosition, whose same-direction
// (merge, volume-weighted entry) vs opposite-direction (realize PnL) branch
// is generalized here to the spec's pair_id/long_trader/short_trader model:
// a Pair is identified by (symbol, long_trader, short_trader), so repeat
// matches between the same two counterparties merge into one pair while a
// trader's exposure against a different counterparty opens another pair
// alongside it. A trader's margin/risk views aggregate across their pairs.
package position

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
	"github.com/memeperp/venue/internal/verrors"
)

type traderPairs struct {
	long  []string
	short []string
}

// Store is the position ledger. Pair open/merge/close mutate identity and
// collateral fields under the store lock; the risk engine is the sole
// writer of each SideState's derived fields, via Snapshot/ApplyRevaluation.
type Store struct {
	mu sync.RWMutex

	pairs        map[string]*types.Pair
	byTraderPair map[string]string // "symbol|long|short" -> pairID
	byTrader     map[common.Address]*traderPairs
}

func NewStore() *Store {
	return &Store{
		pairs:        make(map[string]*types.Pair),
		byTraderPair: make(map[string]string),
		byTrader:     make(map[common.Address]*traderPairs),
	}
}

func traderKey(symbol string, long, short common.Address) string {
	return fmt.Sprintf("%s|%s|%s", symbol, long.Hex(), short.Hex())
}

func vwap(p1 fixedpoint.Price, s1 fixedpoint.Size, p2 fixedpoint.Price, s2 fixedpoint.Size) fixedpoint.Price {
	total := s1 + s2
	if total == 0 {
		return p2
	}
	num := new(big.Int).Mul(big.NewInt(int64(p1)), big.NewInt(int64(s1)))
	num.Add(num, new(big.Int).Mul(big.NewInt(int64(p2)), big.NewInt(int64(s2))))
	return fixedpoint.Price(num.Quo(num, big.NewInt(int64(total))).Int64())
}

func (s *Store) indexTrader(trader common.Address, pairID string, side types.Side) {
	tp, ok := s.byTrader[trader]
	if !ok {
		tp = &traderPairs{}
		s.byTrader[trader] = tp
	}
	if side == types.SideLong {
		tp.long = append(tp.long, pairID)
	} else {
		tp.short = append(tp.short, pairID)
	}
}

// OpenOrMerge applies one match to the position ledger: it opens a new pair
// between the match's two traders, or merges into their existing pair for
// this symbol with a volume-weighted entry price, per spec.md §4.2. Returns
// the pair and the additional collateral each side must lock. longFee/
// shortFee are each side's fee for this fill, accumulated into the pair's
// OpenFee so revaluation can net it out of unrealized PnL (spec.md §4.2/§8).
func (s *Store) OpenOrMerge(m types.Match, longLeverageBps, shortLeverageBps fixedpoint.Bps, longFee, shortFee fixedpoint.USD, newID func() string, now time.Time) (pair *types.Pair, longMargin, shortMargin fixedpoint.USD) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notional := fixedpoint.Notional(m.Size, m.Price)
	longMargin = fixedpoint.Margin(notional, longLeverageBps)
	shortMargin = fixedpoint.Margin(notional, shortLeverageBps)

	key := traderKey(m.Symbol, m.LongTrader, m.ShortTrader)
	if pairID, ok := s.byTraderPair[key]; ok {
		p := s.pairs[pairID]
		p.EntryPrice = vwap(p.EntryPrice, p.Size, m.Price, m.Size)
		p.Size += m.Size
		p.Long.Collateral += longMargin
		p.Short.Collateral += shortMargin
		p.Long.OpenFee += longFee
		p.Short.OpenFee += shortFee
		rederiveLeverage(p)
		return p, longMargin, shortMargin
	}

	id := newID()
	p := &types.Pair{
		PairID:     id,
		Symbol:     m.Symbol,
		Size:       m.Size,
		EntryPrice: m.Price,
		Long: types.SideState{
			Trader:     m.LongTrader,
			Collateral: longMargin,
			Leverage:   longLeverageBps,
			OpenFee:    longFee,
		},
		Short: types.SideState{
			Trader:     m.ShortTrader,
			Collateral: shortMargin,
			Leverage:   shortLeverageBps,
			OpenFee:    shortFee,
		},
		Status:   types.PairActive,
		OpenTime: now,
	}
	s.pairs[id] = p
	s.byTraderPair[key] = id
	s.indexTrader(m.LongTrader, id, types.SideLong)
	s.indexTrader(m.ShortTrader, id, types.SideShort)
	return p, longMargin, shortMargin
}

// rederiveLeverage recomputes each side's leverage from notional/collateral
// after a merge, spec.md §4.2 "leverage is re-derived".
func rederiveLeverage(p *types.Pair) {
	notional := p.Notional()
	if p.Long.Collateral > 0 {
		p.Long.Leverage = fixedpoint.Bps(int64(notional) * int64(fixedpoint.ScaleBps) / int64(p.Long.Collateral))
	}
	if p.Short.Collateral > 0 {
		p.Short.Leverage = fixedpoint.Bps(int64(notional) * int64(fixedpoint.ScaleBps) / int64(p.Short.Collateral))
	}
}

// Restore installs a pair loaded from the durable mirror verbatim,
// bypassing OpenOrMerge's match-driven collateral math — used only during
// boot rehydration (spec.md §6.5) before ingress opens. Terminal pairs are
// installed and indexed by trader too, but ForTrader (and so the venue's
// GetUserPositions) returns only active pairs, so they are reachable only
// through Get.
func (s *Store) Restore(p *types.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[p.PairID] = p
	if p.Status == types.PairActive {
		s.byTraderPair[traderKey(p.Symbol, p.Long.Trader, p.Short.Trader)] = p.PairID
	}
	s.indexTrader(p.Long.Trader, p.PairID, types.SideLong)
	s.indexTrader(p.Short.Trader, p.PairID, types.SideShort)
}

func (s *Store) Get(pairID string) (*types.Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pairs[pairID]
	return p, ok
}

// ForTrader returns all active pairs in which trader holds the given side.
func (s *Store) ForTrader(trader common.Address, side types.Side) []*types.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tp, ok := s.byTrader[trader]
	if !ok {
		return nil
	}
	ids := tp.long
	if side == types.SideShort {
		ids = tp.short
	}
	out := make([]*types.Pair, 0, len(ids))
	for _, id := range ids {
		if p := s.pairs[id]; p != nil && p.Status == types.PairActive {
			out = append(out, p)
		}
	}
	return out
}

// AggregateSize sums the remaining size trader holds on side across symbol,
// used for reduce-only validation (spec.md §4.1).
func (s *Store) AggregateSize(trader common.Address, symbol string, side types.Side) fixedpoint.Size {
	var total fixedpoint.Size
	for _, p := range s.ForTrader(trader, side) {
		if p.Symbol == symbol {
			total += p.Size
		}
	}
	return total
}

// Snapshot returns a shallow copy of all active pairs for the risk engine's
// per-tick revaluation pass (spec.md §4.3 step 1); the engine computes new
// derived fields against these copies, then writes them back via
// ApplyRevaluation, keeping it the sole writer of derived SideState fields.
func (s *Store) Snapshot() []types.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		if p.Status == types.PairActive {
			out = append(out, *p)
		}
	}
	return out
}

// ApplyRevaluation writes back the risk engine's derived fields for one
// pair's two sides; collateral/leverage/trader identity are left untouched.
func (s *Store) ApplyRevaluation(pairID string, long, short types.SideState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[pairID]
	if !ok {
		return
	}
	keepTrader, keepCollateral, keepLeverage := p.Long.Trader, p.Long.Collateral, p.Long.Leverage
	p.Long = long
	p.Long.Trader, p.Long.Collateral, p.Long.Leverage = keepTrader, keepCollateral, keepLeverage

	keepTrader, keepCollateral, keepLeverage = p.Short.Trader, p.Short.Collateral, p.Short.Leverage
	p.Short = short
	p.Short.Trader, p.Short.Collateral, p.Short.Leverage = keepTrader, keepCollateral, keepLeverage
}

// SetTPSL updates the take-profit/stop-loss trigger prices attached to
// trader's side of pairID, rejecting bounds that violate spec.md §4.3 "TP/SL
// validity": a long's take-profit must sit above entry and its stop-loss
// strictly between the liquidation price and entry (the mirror image for a
// short). A zero price leaves that trigger unset and skips its check.
func (s *Store) SetTPSL(pairID string, trader common.Address, takeProfit, stopLoss fixedpoint.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[pairID]
	if !ok {
		return verrors.Validation("pair_unknown", "no such pair")
	}
	whichSide := types.SideLong
	side := p.Side(whichSide)
	if side.Trader != trader {
		whichSide = types.SideShort
		side = p.Side(whichSide)
		if side.Trader != trader {
			return verrors.Policy("not_your_position", "trader is not a party to this pair")
		}
	}
	if err := validateTPSL(whichSide, p.EntryPrice, side.LiquidationPrice, takeProfit, stopLoss); err != nil {
		return err
	}
	side.TakeProfitPrice = takeProfit
	side.StopLossPrice = stopLoss
	return nil
}

func validateTPSL(side types.Side, entry, liquidationPrice, takeProfit, stopLoss fixedpoint.Price) error {
	if takeProfit != 0 {
		if side == types.SideLong && takeProfit <= entry {
			return verrors.Policy("tpsl_invalid", "long take-profit must be above entry price")
		}
		if side == types.SideShort && takeProfit >= entry {
			return verrors.Policy("tpsl_invalid", "short take-profit must be below entry price")
		}
	}
	if stopLoss != 0 {
		if side == types.SideLong {
			if stopLoss >= entry {
				return verrors.Policy("tpsl_invalid", "long stop-loss must be below entry price")
			}
			if liquidationPrice > 0 && stopLoss <= liquidationPrice {
				return verrors.Policy("tpsl_invalid", "long stop-loss must be above liquidation price")
			}
		} else {
			if stopLoss <= entry {
				return verrors.Policy("tpsl_invalid", "short stop-loss must be above entry price")
			}
			if liquidationPrice > 0 && stopLoss >= liquidationPrice {
				return verrors.Policy("tpsl_invalid", "short stop-loss must be below liquidation price")
			}
		}
	}
	return nil
}

// CloseResult is one side's settlement outcome from a forced pair reduction.
type CloseResult struct {
	RealizedPnL        fixedpoint.USD
	CollateralReleased fixedpoint.USD
	SizeClosed         fixedpoint.Size
}

// ReducePair is the one mutator of an existing pair's size: because a
// pair's two legs share one size by construction (they are, by definition,
// the same matched quantity), reducing either leg reduces both by the same
// fraction simultaneously. It is called from three places: a trader's own
// voluntary close naming this pair_id directly (matching.Engine.Close),
// the risk engine's margin-ratio liquidation, and an ADL counterparty
// close — all three share this one code path since all three are "shrink
// this pair's shared size", only the caller and ratio differ. ratioBps=10000
// fully closes the pair. Reduce-only orders submitted against the book, by
// contrast, go through Submit/clearOrder as ordinary matches against a new
// or existing counterparty (DESIGN.md "pair identity resolution").
func (s *Store) ReducePair(pairID string, ratioBps fixedpoint.Bps, markPrice fixedpoint.Price, at time.Time) (long, short CloseResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[pairID]
	if !ok {
		return CloseResult{}, CloseResult{}, verrors.Validation("pair_unknown", "no such pair")
	}
	if p.Status != types.PairActive {
		return CloseResult{}, CloseResult{}, verrors.State("pair_not_active", "pair is already closed or liquidated")
	}
	if ratioBps <= 0 || ratioBps > fixedpoint.ScaleBps {
		return CloseResult{}, CloseResult{}, verrors.Validation("bad_ratio", "reduction ratio out of range")
	}

	closed := new(big.Int).Mul(big.NewInt(int64(p.Size)), big.NewInt(int64(ratioBps)))
	sizeClosed := fixedpoint.Size(closed.Quo(closed, big.NewInt(int64(fixedpoint.ScaleBps))).Int64())
	if sizeClosed <= 0 {
		return CloseResult{}, CloseResult{}, verrors.Validation("size_too_small", "ratio closes zero size")
	}

	longCollateralReleased := fixedpoint.USD(int64(p.Long.Collateral) * int64(ratioBps) / int64(fixedpoint.ScaleBps))
	shortCollateralReleased := fixedpoint.USD(int64(p.Short.Collateral) * int64(ratioBps) / int64(fixedpoint.ScaleBps))
	longFeeShare := fixedpoint.USD(int64(p.Long.OpenFee) * int64(ratioBps) / int64(fixedpoint.ScaleBps))
	shortFeeShare := fixedpoint.USD(int64(p.Short.OpenFee) * int64(ratioBps) / int64(fixedpoint.ScaleBps))
	longRealized := fixedpoint.UnrealizedPnL(1, sizeClosed, p.EntryPrice, markPrice) - longFeeShare
	shortRealized := fixedpoint.UnrealizedPnL(-1, sizeClosed, p.EntryPrice, markPrice) - shortFeeShare

	p.Long.Collateral -= longCollateralReleased
	p.Short.Collateral -= shortCollateralReleased
	p.Long.OpenFee -= longFeeShare
	p.Short.OpenFee -= shortFeeShare
	p.Size -= sizeClosed

	if ratioBps == fixedpoint.ScaleBps || p.Size <= 0 {
		p.Status = types.PairClosed
		p.ClosedAt = at
	}

	long = CloseResult{RealizedPnL: longRealized, CollateralReleased: longCollateralReleased, SizeClosed: sizeClosed}
	short = CloseResult{RealizedPnL: shortRealized, CollateralReleased: shortCollateralReleased, SizeClosed: sizeClosed}
	return long, short, nil
}

// MarkLiquidated overrides ReducePair's normal PairClosed terminal status
// with PairLiquidated, for the risk engine to call right after a full
// (ratioBps=10000) ReducePair triggered by a margin-ratio breach rather
// than a trader's own close.
func (s *Store) MarkLiquidated(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pairs[pairID]; ok && p.Status == types.PairClosed {
		p.Status = types.PairLiquidated
	}
}
