// Package venue is the composition root: it owns every subsystem
// (matching, risk, funding, insurance, ledger, durable mirror, stream)
// and wires their callbacks together. Grounded on the teacher's
// cmd/node/main.go + pkg/app/app.go construction order (config -> logger
// -> stores -> engines -> transport -> goroutines), with the consensus/p2p
// wiring stripped and replaced by the venue's own engine set.
package venue

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/clock"
	"github.com/memeperp/venue/internal/durable"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/funding"
	"github.com/memeperp/venue/internal/insurance"
	"github.com/memeperp/venue/internal/ledger"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/matching"
	"github.com/memeperp/venue/internal/orderbook"
	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/risk"
	"github.com/memeperp/venue/internal/signing"
	"github.com/memeperp/venue/internal/stream"
	"github.com/memeperp/venue/internal/types"
)

// Venue owns every in-process subsystem and satisfies stream.Venue.
type Venue struct {
	Registry  *market.Registry
	Stats     *market.StatsStore
	Klines    *market.KlineStore
	Trades    *market.TradeStore
	Balances  *balance.Store
	Positions *position.Store
	Insurance *insurance.Fund
	Signer    *signing.TypedSigner

	Matching  *matching.Engine
	Risk      *risk.Engine
	Funding   *funding.Engine
	Ledger     ledger.Client
	Submitter *ledger.Submitter
	Reconciler *ledger.Reconciler
	Durable   *durable.Store
	Hub       *stream.Hub

	logger *zap.Logger
	clk    clock.Clock
}

// Config is the subset of process config the composition root needs
// directly (the rest is consumed by the subsystem constructors it calls).
type Config struct {
	DurablePath    string
	LedgerBaseURL  string
	LedgerSecret   string
	LedgerTimeout  time.Duration
	OperatorSeed   []byte
	SubmitInterval time.Duration
	SubmitHighWater int
	RiskConfig     risk.Config
	KlineCapacity  int
	TradeCapacity  int
}

// New builds every subsystem and wires the cross-cutting callbacks
// (matching's onFill -> stats/klines/trades/stream/ledger-batch, risk's
// onLiquidation -> stream/durable mirror) but does not start any goroutine;
// callers run Start in their own lifecycle (cmd/venue/main.go).
func New(cfg Config, logger *zap.Logger) (*Venue, error) {
	durableStore, err := durable.Open(cfg.DurablePath)
	if err != nil {
		return nil, err
	}

	operatorKey, err := ledger.NewOperatorKeyFromSeed(cfg.OperatorSeed)
	if err != nil {
		return nil, err
	}
	ledgerClient := ledger.NewHTTPClient(cfg.LedgerBaseURL, cfg.LedgerSecret, cfg.LedgerTimeout)

	clk := clock.RealClock{}

	v := &Venue{
		Registry:   market.NewRegistry(),
		Stats:      market.NewStatsStore(),
		Klines:     market.NewKlineStore(cfg.KlineCapacity),
		Trades:     market.NewTradeStore(cfg.TradeCapacity),
		Balances:   balance.NewStore(),
		Positions:  position.NewStore(),
		Insurance:  insurance.New(),
		Signer:     signing.NewTypedSigner(signing.DefaultDomain()),
		Durable:    durableStore,
		Hub:        stream.NewHub(logger),
		logger:     logger,
		clk:        clk,
	}

	v.Ledger = ledgerClient
	v.Submitter = ledger.NewSubmitter(ledgerClient, operatorKey, clk, logger, cfg.SubmitInterval, cfg.SubmitHighWater)
	v.Reconciler = ledger.NewReconciler(v.Positions, v.Balances, logger)

	v.Matching = matching.New(v.Registry, v.Balances, v.Positions, v.Signer, clk, v.onFill)
	v.Matching.SetSubmissionBackpressure(v.Submitter.PendingCount, cfg.SubmitHighWater)
	v.Risk = risk.New(cfg.RiskConfig, v.Positions, v.Balances, v.Insurance, v.Registry, v.Stats, v.Matching, clk, logger, v.onLiquidation)
	v.Funding = funding.New(v.Registry, v.Stats, v.Positions, v.Balances, clk, logger)

	return v, nil
}

// onFill fans out one executed match to every derived read-model and to
// the ledger batch queue, spec.md §6.2 (trades/orderbook channels) and
// §6.4 (pair_opened/settle_batch). This is the one place a match becomes
// visible outside the matching shard that produced it.
func (v *Venue) onFill(m types.Match, pair *types.Pair) {
	v.Stats.RecordTrade(m.Symbol, m.Price)
	v.Klines.RecordTrade(m.Symbol, m.Price, m.Size, m.Timestamp)
	v.Trades.Record(m)
	v.Hub.Publish("trades:"+m.Symbol, m)
	if depthLongs, depthShorts, err := v.Matching.Depth(m.Symbol, 20); err == nil {
		v.Hub.Publish("orderbook:"+m.Symbol, map[string]interface{}{"longs": depthLongs, "shorts": depthShorts})
	}

	if pair != nil {
		if err := v.Durable.SavePair(pair); err != nil {
			v.logger.Warn("durable save pair failed", zap.String("pair_id", pair.PairID), zap.Error(err))
		}
		v.Submitter.Enqueue(ledger.SettledPair{
			PairID:      pair.PairID,
			Symbol:      pair.Symbol,
			LongTrader:  pair.Long.Trader,
			ShortTrader: pair.Short.Trader,
			Size:        pair.Size,
			EntryPrice:  pair.EntryPrice,
			MatchID:     m.ID,
		})
	}
}

// onLiquidation publishes a forced unwind to the global_risk and
// liquidations:<symbol> channels and saves the pair to the durable mirror.
// It does not enqueue anything for the ledger or call its Liquidate RPC.
func (v *Venue) onLiquidation(ev risk.LiquidationEvent) {
	v.Hub.Publish("global_risk", ev)
	v.Hub.Publish("liquidations:"+ev.Symbol, ev)
	if pair, ok := v.Positions.Get(ev.PairID); ok {
		if err := v.Durable.SavePair(pair); err != nil {
			v.logger.Warn("durable save pair failed after liquidation", zap.String("pair_id", ev.PairID), zap.Error(err))
		}
	}
}

// SeedActivePairsFromLedger runs spec.md §6.5's mandatory boot-time scan:
// list every pair the ledger still considers open and seed the Position
// store with any not already known locally, before ingress is enabled.
// This catches pairs the durable mirror missed (e.g. a crash between a
// match settling and its SavePair write) that rehydrate's local-only pass
// can't recover.
func (v *Venue) SeedActivePairsFromLedger(ctx context.Context) error {
	active, err := v.Ledger.ListActivePairs(ctx)
	if err != nil {
		return err
	}
	seeded := 0
	for _, ap := range active {
		if _, ok := v.Positions.Get(ap.PairID); ok {
			continue
		}
		v.Positions.Restore(&types.Pair{
			PairID:     ap.PairID,
			Symbol:     ap.Symbol,
			Size:       ap.Size,
			EntryPrice: ap.EntryPrice,
			Long: types.SideState{
				Trader:     ap.LongTrader,
				Collateral: ap.LongCollateral,
				Leverage:   ap.LongLeverageBps,
			},
			Short: types.SideState{
				Trader:     ap.ShortTrader,
				Collateral: ap.ShortCollateral,
				Leverage:   ap.ShortLeverageBps,
			},
			Status:   types.PairActive,
			OpenTime: v.clk.Now(),
		})
		seeded++
	}
	v.logger.Info("ledger active-pair scan complete", zap.Int("ledger_pairs", len(active)), zap.Int("seeded", seeded))
	return nil
}

// Run starts every background engine and blocks until ctx is canceled.
func (v *Venue) Run(ctx context.Context, eventSource ledger.EventSource) {
	stop := make(chan struct{})
	go v.Risk.Run(ctx)
	go v.Funding.Run(ctx)
	go v.Submitter.Run(ctx)
	if eventSource != nil {
		go v.Reconciler.Run(eventSource, stop)
	}
	<-ctx.Done()
	close(stop)
}

// --- stream.Venue implementation ---

func (v *Venue) ListMarkets() []*market.Market { return v.Registry.List() }

func (v *Venue) GetMarket(symbol string) (*market.Market, error) { return v.Registry.Get(symbol) }

func (v *Venue) GetDepth(symbol string, levels int) (longs, shorts []orderbook.PriceLevel, err error) {
	return v.Matching.Depth(symbol, levels)
}

func (v *Venue) GetUserOrders(trader common.Address) []*types.Order {
	return v.Matching.OpenOrders(trader)
}

func (v *Venue) GetTrades(symbol string, limit int) []market.Trade {
	return v.Trades.Recent(symbol, limit)
}

func (v *Venue) GetUserPositions(trader common.Address) []*types.Pair {
	longs := v.Positions.ForTrader(trader, types.SideLong)
	shorts := v.Positions.ForTrader(trader, types.SideShort)
	out := make([]*types.Pair, 0, len(longs)+len(shorts))
	out = append(out, longs...)
	out = append(out, shorts...)
	return out
}

func (v *Venue) GetBalance(trader common.Address) (types.Balance, bool) { return v.Balances.Get(trader) }

func (v *Venue) GetFunding(symbol string) types.MarketStats { return v.Stats.Get(symbol) }

func (v *Venue) GetKlines(symbol string, interval market.Interval, limit int) []market.Candle {
	return v.Klines.Get(symbol, interval, limit)
}

func (v *Venue) GetStats(symbol string) types.MarketStats { return v.Stats.Get(symbol) }

// GetLiquidationMap returns every active pair for symbol ranked by
// closeness to liquidation (highest margin ratio first), spec.md §6.3's
// risk-map query. No separate computation: risk.Engine's tick is the sole
// writer of MarginRatioBps, so this just filters/sorts the live snapshot.
func (v *Venue) GetLiquidationMap(symbol string) []types.Pair {
	snapshot := v.Positions.Snapshot()
	out := make([]types.Pair, 0, len(snapshot))
	for _, p := range snapshot {
		if p.Symbol == symbol && p.Status == types.PairActive {
			out = append(out, p)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			ri := maxMarginRatio(out[j])
			rj := maxMarginRatio(out[j-1])
			if ri <= rj {
				break
			}
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func maxMarginRatio(p types.Pair) fixedpoint.Bps {
	if p.Long.MarginRatioBps > p.Short.MarginRatioBps {
		return p.Long.MarginRatioBps
	}
	return p.Short.MarginRatioBps
}

func (v *Venue) GetInsuranceFund(symbol string) (symbolBalance, global fixedpoint.USD) {
	return v.Insurance.Balance(symbol)
}

func (v *Venue) SubmitOrder(o *types.Order, intent *signing.OrderIntent, signature []byte) ([]types.Match, error) {
	return v.Matching.Submit(o, intent, signature)
}

func (v *Venue) CancelOrder(symbol, orderID string, trader common.Address) (*types.Order, error) {
	return v.Matching.Cancel(symbol, orderID, trader)
}

func (v *Venue) ClosePair(pairID string, trader common.Address, ratioBps fixedpoint.Bps) error {
	return v.Matching.Close(pairID, trader, ratioBps, v.clk.Now())
}

func (v *Venue) SetTPSL(pairID string, trader common.Address, takeProfit, stopLoss fixedpoint.Price) error {
	return v.Matching.SetTPSL(pairID, trader, takeProfit, stopLoss)
}

var _ stream.Venue = (*Venue)(nil)
