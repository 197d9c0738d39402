package matching

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/balance"
	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/signing"
	"github.com/memeperp/venue/internal/types"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

// oneToken is one whole unit of size at the 1e18 token-amount scale; price50
// is $50 at the 1e12 price scale. A resting/taking pair at these values
// produces a $50 notional, comfortably inside bigDeposit.
const (
	oneToken   = fixedpoint.Size(1_000_000_000_000_000_000)
	price50    = fixedpoint.Price(50_000_000_000_000)
	bigDeposit = fixedpoint.USD(100_000_000_000) // $100,000
)

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time                         { return f.now }
func (f fakeClock) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }
func (f fakeClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	return make(chan time.Time), func() {}
}

func testMarket(t *testing.T) *market.Market {
	t.Helper()
	m, err := market.New("BTC-USD", "BTC", "USD", market.Params{
		MinSize:             1,
		MaxSize:             1_000_000_000_000_000_000,
		MaxPosition:         1_000_000_000_000_000_000,
		MinNotional:         0,
		MaxLeverageBps:      200_000,
		BaseMMRBps:          500,
		MakerFeeBps:         10,
		TakerFeeBps:         20,
		FundingBaseInterval: time.Hour,
		FundingMinInterval:  time.Minute,
		MaxFundingRateBps:   75,
	})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	return m
}

func newTestEngine(t *testing.T) (*Engine, *balance.Store, *position.Store) {
	t.Helper()
	reg := market.NewRegistry()
	m := testMarket(t)
	if err := reg.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	bal := balance.NewStore()
	pos := position.NewStore()
	signer := signing.NewTypedSigner(signing.DefaultDomain())
	e := New(reg, bal, pos, signer, fakeClock{now: time.Now()}, nil)
	return e, bal, pos
}

func fundedOrder(id string, trader common.Address, side types.Side, price fixedpoint.Price, size fixedpoint.Size, nonce uint64) *types.Order {
	return &types.Order{
		ID:       id,
		Trader:   trader,
		Symbol:   "BTC-USD",
		Side:     side,
		Type:     types.OrderTypeLimit,
		TIF:      types.TIFGTC,
		Size:     size,
		Price:    price,
		Leverage: 10_000,
		Nonce:    nonce,
	}
}

func TestSubmitRestsLimitOrderWhenNoCross(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)

	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	matches, err := e.Submit(o, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches for a resting order, got %d", len(matches))
	}
	b, _ := bal.Get(alice)
	if b.FrozenMargin == 0 {
		t.Errorf("expected margin+fee to be frozen for a resting order")
	}

	open := e.OpenOrders(alice)
	if len(open) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(open))
	}
}

func TestSubmitMatchesCrossingOrderAndOpensPosition(t *testing.T) {
	e, bal, pos := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	bal.Deposit(bob, bigDeposit)

	resting := fundedOrder("o1", alice, types.SideLong, price50, 2*oneToken, 1)
	if _, err := e.Submit(resting, nil, nil); err != nil {
		t.Fatalf("Submit resting: %v", err)
	}

	taker := fundedOrder("o2", bob, types.SideShort, price50, 2*oneToken, 1)
	matches, err := e.Submit(taker, nil, nil)
	if err != nil {
		t.Fatalf("Submit taker: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Size != 2*oneToken {
		t.Errorf("match size = %d, want %d", matches[0].Size, 2*oneToken)
	}

	alicePairs := pos.ForTrader(alice, types.SideLong)
	if len(alicePairs) != 1 {
		t.Fatalf("expected alice to hold 1 open pair, got %d", len(alicePairs))
	}

	ab, _ := bal.Get(alice)
	bb, _ := bal.Get(bob)
	if ab.UsedMargin == 0 || ab.FrozenMargin != 0 {
		t.Errorf("alice balance after fill = %+v, want used>0 frozen=0", ab)
	}
	if bb.UsedMargin == 0 || bb.FrozenMargin != 0 {
		t.Errorf("bob balance after fill = %+v, want used>0 frozen=0", bb)
	}
}

func TestSubmitRejectsExpiredDeadline(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)

	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	o.DeadlineUnix = time.Now().Add(-time.Hour).Unix()
	if _, err := e.Submit(o, nil, nil); err == nil {
		t.Errorf("expected expired-deadline error")
	}
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	signer, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	intent := &signing.OrderIntent{
		Trader:        signer.Address(),
		Symbol:        "BTC-USD",
		Side:          0,
		Type:          1,
		TIF:           0,
		Size:          big.NewInt(int64(oneToken)),
		Leverage:      big.NewInt(10_000),
		Price:         big.NewInt(int64(price50)),
		TriggerPrice:  big.NewInt(0),
		Deadline:      big.NewInt(time.Now().Add(time.Hour).Unix()),
		Nonce:         big.NewInt(1),
		ClientOrderID: "cli-1",
	}
	ts := signing.NewTypedSigner(signing.DefaultDomain())
	digest, err := ts.HashOrder(intent)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	sig, err := other.Sign(digest) // signed by the wrong key
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := e.Submit(o, intent, sig); err == nil {
		t.Errorf("expected bad_signature error for a mismatched signer")
	}
}

func TestSubmitRejectsReusedNonce(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)

	o1 := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	if _, err := e.Submit(o1, nil, nil); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	o2 := fundedOrder("o2", alice, types.SideLong, price50, oneToken, 1)
	if _, err := e.Submit(o2, nil, nil); err == nil {
		t.Errorf("expected bad_nonce error for a reused nonce")
	}
}

func TestSubmitRejectsSizeBelowMarketMinimum(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	o := fundedOrder("o1", alice, types.SideLong, price50, 0, 1)
	if _, err := e.Submit(o, nil, nil); err == nil {
		t.Errorf("expected size_below_minimum error")
	}
}

func TestSubmitRejectsLeverageAboveMarketMax(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	o.Leverage = 999_999_999
	if _, err := e.Submit(o, nil, nil); err == nil {
		t.Errorf("expected bad_leverage error")
	}
}

func TestSubmitReduceOnlyRejectsWithNoOppositePosition(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	o.ReduceOnly = true
	if _, err := e.Submit(o, nil, nil); err == nil {
		t.Errorf("expected reduce_only_no_position error")
	}
}

func TestSubmitReduceOnlyRejectsSizeExceedingHeldPosition(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	bal.Deposit(bob, bigDeposit)

	resting := fundedOrder("o1", alice, types.SideLong, price50, 2*oneToken, 1)
	if _, err := e.Submit(resting, nil, nil); err != nil {
		t.Fatalf("Submit resting: %v", err)
	}
	taker := fundedOrder("o2", bob, types.SideShort, price50, 2*oneToken, 1)
	if _, err := e.Submit(taker, nil, nil); err != nil {
		t.Fatalf("Submit taker: %v", err)
	}

	// bob now holds a short position of size 2 tokens; a reduce-only long
	// for more than that should be rejected.
	reduceOnly := fundedOrder("o3", bob, types.SideLong, price50, 3*oneToken, 2)
	reduceOnly.ReduceOnly = true
	if _, err := e.Submit(reduceOnly, nil, nil); err == nil {
		t.Errorf("expected reduce_only_wrong_side error")
	}
}

func TestSubmitConditionalOrderArmsTriggerInsteadOfMatching(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)

	o := fundedOrder("o1", alice, types.SideLong, 0, oneToken, 1)
	o.Type = types.OrderTypeStopLoss
	o.TriggerPrice = 40_000_000_000_000
	matches, err := e.Submit(o, nil, nil)
	if err != nil {
		t.Fatalf("Submit conditional: %v", err)
	}
	if matches != nil {
		t.Errorf("conditional submission should return no matches, got %v", matches)
	}
	open := e.OpenOrders(alice)
	if len(open) != 1 {
		t.Fatalf("expected the conditional order to be armed as an open order, got %d", len(open))
	}
}

func TestEvaluateTriggersFiresAndRemovesArmedOrder(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)

	o := fundedOrder("o1", alice, types.SideLong, 0, oneToken, 1)
	o.Type = types.OrderTypeStopLoss
	o.TriggerPrice = 40_000_000_000_000
	if _, err := e.Submit(o, nil, nil); err != nil {
		t.Fatalf("Submit conditional: %v", err)
	}

	fired := e.EvaluateTriggers("BTC-USD", 35_000_000_000_000) // mark below trigger fires a long stop-loss
	if len(fired) != 1 {
		t.Fatalf("expected 1 fired trigger, got %d", len(fired))
	}
	if len(e.OpenOrders(alice)) != 0 {
		t.Errorf("fired trigger should have been removed from the armed set")
	}
}

func TestCancelRefundsResidualMarginAndFee(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)

	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	if _, err := e.Submit(o, nil, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	before, _ := bal.Get(alice)
	if before.FrozenMargin == 0 {
		t.Fatalf("expected frozen margin before cancel")
	}

	canceled, err := e.Cancel("BTC-USD", o.ID, alice)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != types.OrderCanceled {
		t.Errorf("canceled order status = %v, want OrderCanceled", canceled.Status)
	}
	after, _ := bal.Get(alice)
	if after.FrozenMargin != 0 {
		t.Errorf("FrozenMargin after cancel = %d, want 0", after.FrozenMargin)
	}
	if after.Available != bigDeposit {
		t.Errorf("Available after cancel of an unfilled order = %d, want full refund to %d", after.Available, bigDeposit)
	}
}

func TestCancelRejectsWrongTrader(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	if _, err := e.Submit(o, nil, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := e.Cancel("BTC-USD", o.ID, bob); err == nil {
		t.Errorf("expected not_your_order error")
	}
}

func TestCancelUnknownOrderReturnsError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, err := e.Cancel("BTC-USD", "nonexistent", alice); err == nil {
		t.Errorf("expected order_not_found error")
	}
}

func TestCloseReleasesCollateralOnBothLegs(t *testing.T) {
	e, bal, pos := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	bal.Deposit(bob, bigDeposit)

	resting := fundedOrder("o1", alice, types.SideLong, price50, 2*oneToken, 1)
	if _, err := e.Submit(resting, nil, nil); err != nil {
		t.Fatalf("Submit resting: %v", err)
	}
	taker := fundedOrder("o2", bob, types.SideShort, price50, 2*oneToken, 1)
	if _, err := e.Submit(taker, nil, nil); err != nil {
		t.Fatalf("Submit taker: %v", err)
	}

	pairs := pos.ForTrader(alice, types.SideLong)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 open pair, got %d", len(pairs))
	}
	pairID := pairs[0].PairID

	if err := e.Close(pairID, alice, fixedpoint.ScaleBps, time.Now()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ab, _ := bal.Get(alice)
	bb, _ := bal.Get(bob)
	if ab.UsedMargin != 0 {
		t.Errorf("alice UsedMargin after full close = %d, want 0", ab.UsedMargin)
	}
	if bb.UsedMargin != 0 {
		t.Errorf("bob UsedMargin after full close = %d, want 0", bb.UsedMargin)
	}
}

func TestCloseRejectsNonParty(t *testing.T) {
	e, bal, pos := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	bal.Deposit(bob, bigDeposit)

	resting := fundedOrder("o1", alice, types.SideLong, price50, 2*oneToken, 1)
	if _, err := e.Submit(resting, nil, nil); err != nil {
		t.Fatalf("Submit resting: %v", err)
	}
	taker := fundedOrder("o2", bob, types.SideShort, price50, 2*oneToken, 1)
	if _, err := e.Submit(taker, nil, nil); err != nil {
		t.Fatalf("Submit taker: %v", err)
	}
	pairID := pos.ForTrader(alice, types.SideLong)[0].PairID

	outsider := common.HexToAddress("0xCC00000000000000000000000000000000000000")
	if err := e.Close(pairID, outsider, fixedpoint.ScaleBps, time.Now()); err == nil {
		t.Errorf("expected not_your_position error")
	}
}

func TestCloseRejectsUnknownPair(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.Close("pair_nonexistent", alice, fixedpoint.ScaleBps, time.Now()); err == nil {
		t.Errorf("expected pair_unknown error")
	}
}

func TestSetTPSLDelegatesToPositionStore(t *testing.T) {
	e, bal, pos := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	bal.Deposit(bob, bigDeposit)

	resting := fundedOrder("o1", alice, types.SideLong, price50, 2*oneToken, 1)
	if _, err := e.Submit(resting, nil, nil); err != nil {
		t.Fatalf("Submit resting: %v", err)
	}
	taker := fundedOrder("o2", bob, types.SideShort, price50, 2*oneToken, 1)
	if _, err := e.Submit(taker, nil, nil); err != nil {
		t.Fatalf("Submit taker: %v", err)
	}
	pairID := pos.ForTrader(alice, types.SideLong)[0].PairID

	if err := e.SetTPSL(pairID, alice, 60_000_000_000_000, 40_000_000_000_000); err != nil {
		t.Fatalf("SetTPSL: %v", err)
	}
	pair, _ := pos.Get(pairID)
	if pair.Long.TakeProfitPrice != 60_000_000_000_000 || pair.Long.StopLossPrice != 40_000_000_000_000 {
		t.Errorf("pair TP/SL after SetTPSL = %+v, want 60e12/40e12", pair.Long)
	}
}

func TestDepthReturnsRestingOrderLevels(t *testing.T) {
	e, bal, _ := newTestEngine(t)
	bal.Deposit(alice, bigDeposit)
	o := fundedOrder("o1", alice, types.SideLong, price50, oneToken, 1)
	if _, err := e.Submit(o, nil, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	longs, shorts, err := e.Depth("BTC-USD", 10)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if len(longs) != 1 || len(shorts) != 0 {
		t.Fatalf("Depth = %d longs / %d shorts, want 1/0", len(longs), len(shorts))
	}
}

func TestDepthRejectsUnknownSymbol(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, _, err := e.Depth("NOPE-USD", 10); err == nil {
		t.Errorf("expected symbol_unknown error")
	}
}
