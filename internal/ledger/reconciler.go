package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/types"
	"github.com/memeperp/venue/pkg/ids"
)

// Event is one of the ledger's subscribed events, spec.md §6.4/§4.6. Only
// one of the trailer fields is populated, selected by Kind.
type EventKind int8

const (
	EventDeposited EventKind = iota
	EventWithdrawn
	EventPairOpened
	EventPairClosed
	EventLiquidated
)

type Event struct {
	ID   string
	Kind EventKind

	Trader common.Address
	Amount fixedpoint.USD

	PairID      string
	Long        common.Address
	Short       common.Address
	Symbol      string
	Size        fixedpoint.Size
	EntryPrice  fixedpoint.Price
	ExitPrice   fixedpoint.Price
	LongPnL     fixedpoint.USD
	ShortPnL    fixedpoint.USD
	Liquidated  common.Address
	Liquidator  common.Address
	Reward      fixedpoint.USD
}

// EventSource delivers ledger events to the reconciler in arrival order.
// Reconciliation is idempotent on event id (spec.md §4.6), so Source need
// not guarantee at-most-once delivery; Reconciler's seen-id cache absorbs
// redelivery.
type EventSource interface {
	Events() <-chan Event
}

// Reconciler is the single writer applying ledger-confirmed state back
// into local balance/position stores, spec.md §4.6's reconciliation step.
// Event application and the risk/matching engines' own mutations never
// race: reconciled fields (pair identity from pair_opened, terminal status
// from pair_closed/liquidated, available balance from deposited/withdrawn)
// are written only here, matching the single-writer-per-domain rule
// (SPEC_FULL.md §5).
type Reconciler struct {
	positions *position.Store
	balances  *balance.Store
	logger    *zap.Logger

	seen map[string]struct{}
}

func NewReconciler(positions *position.Store, balances *balance.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		positions: positions,
		balances:  balances,
		logger:    logger,
		seen:      make(map[string]struct{}),
	}
}

// Run drains src until its channel closes or stop fires.
func (r *Reconciler) Run(src EventSource, stop <-chan struct{}) {
	ch := src.Events()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Apply(ev)
		}
	}
}

// Apply processes one event idempotently: a previously-seen event id is a
// no-op. Per spec.md §7, an event that would violate an invariant (e.g.
// pair_closed for an unknown pair) is logged and dropped only when
// provably idempotent-safe — here, any unknown pair_id on a terminal event
// is assumed to be a pair this process never locally observed (e.g. after
// a restart mid-batch) and is logged rather than treated as a hard halt.
func (r *Reconciler) Apply(ev Event) {
	if _, dup := r.seen[ev.ID]; dup {
		return
	}
	r.seen[ev.ID] = struct{}{}

	switch ev.Kind {
	case EventDeposited:
		r.balances.Deposit(ev.Trader, ev.Amount)
	case EventWithdrawn:
		if err := r.balances.Withdraw(ev.Trader, ev.Amount); err != nil {
			r.logger.Warn("reconcile withdrawn: insufficient local balance", zap.String("event_id", ev.ID), zap.Error(err))
		}
	case EventPairOpened:
		r.reconcilePairOpened(ev)
	case EventPairClosed:
		r.reconcileTerminal(ev, ev.PairID, ev.LongPnL, ev.ShortPnL)
	case EventLiquidated:
		r.reconcileTerminal(ev, ev.PairID, 0, 0)
		r.positions.MarkLiquidated(ev.PairID)
	}
}

func (r *Reconciler) reconcilePairOpened(ev Event) {
	if _, ok := r.positions.Get(ev.PairID); ok {
		return // already upserted locally by the matching engine's own match
	}
	match := types.Match{
		ID:          ids.NewMatchID(),
		Symbol:      ev.Symbol,
		LongTrader:  ev.Long,
		ShortTrader: ev.Short,
		Price:       ev.EntryPrice,
		Size:        ev.Size,
		Timestamp:   time.Now(),
	}
	// The ledger's pair_id is authoritative (spec.md §4.6); OpenOrMerge
	// assigns its own id via newID, so reconciliation here exists to
	// rehydrate a pair this process never locally matched (e.g. after
	// restart), not to override an id already assigned during a live match.
	_, _, _ = r.positions.OpenOrMerge(match, 0, 0, 0, 0, func() string { return ev.PairID }, match.Timestamp)
}

func (r *Reconciler) reconcileTerminal(ev Event, pairID string, longPnL, shortPnL fixedpoint.USD) {
	p, ok := r.positions.Get(pairID)
	if !ok {
		r.logger.Info("reconcile: unknown pair for terminal event, dropping", zap.String("event_id", ev.ID), zap.String("pair_id", pairID))
		return
	}
	if p.Status != types.PairActive {
		return // already closed locally; idempotent no-op
	}
	exit := ev.ExitPrice
	if exit == 0 {
		exit = p.EntryPrice
	}
	if _, _, err := r.positions.ReducePair(pairID, fixedpoint.ScaleBps, exit, time.Now()); err != nil {
		r.logger.Warn("reconcile terminal event: local reduce failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
	r.balances.ReleaseUsed(p.Long.Trader, p.Long.Collateral, longPnL)
	r.balances.ReleaseUsed(p.Short.Trader, p.Short.Collateral, shortPnL)
}
