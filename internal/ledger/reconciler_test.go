package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/position"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestReconciler() (*Reconciler, *position.Store, *balance.Store) {
	positions := position.NewStore()
	balances := balance.NewStore()
	return NewReconciler(positions, balances, zap.NewNop()), positions, balances
}

func TestApplyDepositedCreditsBalance(t *testing.T) {
	r, _, balances := newTestReconciler()
	r.Apply(Event{ID: "ev-1", Kind: EventDeposited, Trader: alice, Amount: 1_000_000})

	b, ok := balances.Get(alice)
	if !ok || b.Available != 1_000_000 {
		t.Fatalf("balance after deposit = %+v", b)
	}
}

func TestApplyIsIdempotentOnEventID(t *testing.T) {
	r, _, balances := newTestReconciler()
	ev := Event{ID: "ev-1", Kind: EventDeposited, Trader: alice, Amount: 1_000_000}
	r.Apply(ev)
	r.Apply(ev)

	b, _ := balances.Get(alice)
	if b.Available != 1_000_000 {
		t.Errorf("deposit applied twice: available = %d, want 1000000", b.Available)
	}
}

func TestReconcilePairOpenedRehydratesUnknownPair(t *testing.T) {
	r, positions, _ := newTestReconciler()
	r.Apply(Event{
		ID: "ev-2", Kind: EventPairOpened,
		PairID: "pair-restart-1", Symbol: "BTC-USD",
		Long: alice, Short: bob,
		Size: 1_000_000_000_000_000_000, EntryPrice: 1_000_000_000_000,
	})

	p, ok := positions.Get("pair-restart-1")
	if !ok {
		t.Fatalf("pair not rehydrated")
	}
	if p.Long.Trader != alice || p.Short.Trader != bob {
		t.Errorf("rehydrated pair has wrong traders: %+v", p)
	}
}

func TestReconcilePairOpenedNoOpsWhenAlreadyKnown(t *testing.T) {
	r, positions, _ := newTestReconciler()
	r.Apply(Event{
		ID: "ev-3", Kind: EventPairOpened,
		PairID: "pair-1", Symbol: "BTC-USD", Long: alice, Short: bob,
		Size: 1_000_000_000_000_000_000, EntryPrice: 1_000_000_000_000,
	})
	before, _ := positions.Get("pair-1")

	// A second pair_opened with a different entry price for the same
	// pair_id must not overwrite the first — it is already known locally.
	r.Apply(Event{
		ID: "ev-4", Kind: EventPairOpened,
		PairID: "pair-1", Symbol: "BTC-USD", Long: alice, Short: bob,
		Size: 1_000_000_000_000_000_000, EntryPrice: 2_000_000_000_000,
	})
	after, _ := positions.Get("pair-1")

	if after.EntryPrice != before.EntryPrice {
		t.Errorf("pair was overwritten: entry price changed from %d to %d", before.EntryPrice, after.EntryPrice)
	}
}

func TestReconcileTerminalClosesPairAndReleasesCollateral(t *testing.T) {
	r, positions, balances := newTestReconciler()
	r.Apply(Event{
		ID: "ev-5", Kind: EventPairOpened,
		PairID: "pair-2", Symbol: "BTC-USD", Long: alice, Short: bob,
		Size: 1_000_000_000_000_000_000, EntryPrice: 1_000_000_000_000,
	})

	r.Apply(Event{
		ID: "ev-6", Kind: EventPairClosed,
		PairID: "pair-2", ExitPrice: 1_100_000_000_000,
		LongPnL: 100_000_000, ShortPnL: -100_000_000,
	})

	p, ok := positions.Get("pair-2")
	if !ok {
		t.Fatalf("pair missing after close")
	}
	if p.Status == 0 {
		// PairActive == 0, so a closed pair must not equal it.
		t.Errorf("pair still active after pair_closed event")
	}

	aliceBal, _ := balances.Get(alice)
	if aliceBal.Available != 100_000_000 {
		t.Errorf("long PnL not released: available = %d, want 100000000", aliceBal.Available)
	}
}

func TestReconcileTerminalUnknownPairDropsWithoutPanic(t *testing.T) {
	r, _, _ := newTestReconciler()
	r.Apply(Event{ID: "ev-7", Kind: EventPairClosed, PairID: "never-seen"})
}

func TestReconcileTerminalIsIdempotentAfterClose(t *testing.T) {
	r, positions, balances := newTestReconciler()
	r.Apply(Event{
		ID: "ev-8", Kind: EventPairOpened,
		PairID: "pair-3", Symbol: "BTC-USD", Long: alice, Short: bob,
		Size: 1_000_000_000_000_000_000, EntryPrice: 1_000_000_000_000,
	})
	closeEv := Event{ID: "ev-9", Kind: EventPairClosed, PairID: "pair-3", ExitPrice: 1_100_000_000_000, LongPnL: 50, ShortPnL: -50}
	r.Apply(closeEv)
	firstBal, _ := balances.Get(alice)

	// A distinct event id for the same already-closed pair must not
	// release collateral a second time.
	r.Apply(Event{ID: "ev-10", Kind: EventPairClosed, PairID: "pair-3", ExitPrice: 1_100_000_000_000, LongPnL: 50, ShortPnL: -50})
	secondBal, _ := balances.Get(alice)

	if firstBal.Available != secondBal.Available {
		t.Errorf("terminal reconciliation not idempotent: %d != %d", firstBal.Available, secondBal.Available)
	}
	_ = positions
}

func TestApplyWithdrawnDebitsBalance(t *testing.T) {
	r, _, balances := newTestReconciler()
	r.Apply(Event{ID: "ev-11", Kind: EventDeposited, Trader: alice, Amount: 1_000_000})
	r.Apply(Event{ID: "ev-12", Kind: EventWithdrawn, Trader: alice, Amount: 400_000})

	b, _ := balances.Get(alice)
	if b.Available != 600_000 {
		t.Errorf("available after withdraw = %d, want 600000", b.Available)
	}
}
