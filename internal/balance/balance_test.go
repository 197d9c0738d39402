package balance

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/types"
)

var alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")

func TestDepositCreditsAvailable(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	b, ok := s.Get(alice)
	if !ok || b.Available != 1000 {
		t.Fatalf("balance after deposit = %+v", b)
	}
}

func TestWithdrawDebitsWhenSufficient(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	if err := s.Withdraw(alice, 400); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	b, _ := s.Get(alice)
	if b.Available != 600 {
		t.Errorf("Available = %d, want 600", b.Available)
	}
}

func TestWithdrawRejectsInsufficientBalance(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 100)
	if err := s.Withdraw(alice, 500); err == nil {
		t.Errorf("expected insufficient_funds error")
	}
}

func TestLockMovesFromAvailableToFrozen(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	if err := s.Lock(alice, 300); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	b, _ := s.Get(alice)
	if b.Available != 700 || b.FrozenMargin != 300 {
		t.Errorf("after Lock: available=%d frozen=%d, want 700/300", b.Available, b.FrozenMargin)
	}
}

func TestLockRejectsWhenAvailableTooLow(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 100)
	if err := s.Lock(alice, 500); err == nil {
		t.Errorf("expected insufficient_funds error")
	}
	b, _ := s.Get(alice)
	if b.FrozenMargin != 0 {
		t.Errorf("a rejected Lock must not mutate frozen margin, got %d", b.FrozenMargin)
	}
}

func TestMoveFrozenToUsedTransfersExactAmount(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	s.Lock(alice, 300)
	s.MoveFrozenToUsed(alice, 300)
	b, _ := s.Get(alice)
	if b.FrozenMargin != 0 || b.UsedMargin != 300 {
		t.Errorf("after MoveFrozenToUsed: frozen=%d used=%d, want 0/300", b.FrozenMargin, b.UsedMargin)
	}
}

func TestReleaseFrozenReturnsToAvailable(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	s.Lock(alice, 300)
	s.ReleaseFrozen(alice, 300)
	b, _ := s.Get(alice)
	if b.Available != 1000 || b.FrozenMargin != 0 {
		t.Errorf("after ReleaseFrozen: available=%d frozen=%d, want 1000/0", b.Available, b.FrozenMargin)
	}
}

func TestReleaseUsedAppliesRealizedPnL(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	s.Lock(alice, 300)
	s.MoveFrozenToUsed(alice, 300)
	s.ReleaseUsed(alice, 300, 50)
	b, _ := s.Get(alice)
	if b.UsedMargin != 0 {
		t.Errorf("UsedMargin after release = %d, want 0", b.UsedMargin)
	}
	if b.Available != 1050 {
		t.Errorf("Available after release with +50 PnL = %d, want 1050", b.Available)
	}
}

func TestReleaseUsedAppliesNegativePnL(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	s.ReleaseUsed(alice, 0, -50)
	b, _ := s.Get(alice)
	if b.Available != 950 {
		t.Errorf("Available after release with -50 PnL = %d, want 950", b.Available)
	}
}

func TestApplyFundingPaymentSignConvention(t *testing.T) {
	s := NewStore()
	s.Deposit(alice, 1000)
	s.ApplyFundingPayment(alice, 50) // positive amount debits (long paying funding)
	b, _ := s.Get(alice)
	if b.Available != 950 {
		t.Errorf("Available after +50 funding payment = %d, want 950", b.Available)
	}
	s.ApplyFundingPayment(alice, -50) // negative amount credits
	b, _ = s.Get(alice)
	if b.Available != 1000 {
		t.Errorf("Available after -50 funding payment = %d, want 1000", b.Available)
	}
}

func TestCheckAndConsumeNonceRejectsReuseUnderAnyUnused(t *testing.T) {
	s := NewStore()
	if err := s.CheckAndConsumeNonce(alice, 7); err != nil {
		t.Fatalf("first use of nonce 7: %v", err)
	}
	if err := s.CheckAndConsumeNonce(alice, 7); err == nil {
		t.Errorf("expected bad_nonce on reuse of nonce 7")
	}
}

func TestCheckAndConsumeNonceAllowsAnyUnusedOrderUnderDefaultPolicy(t *testing.T) {
	s := NewStore()
	if err := s.CheckAndConsumeNonce(alice, 100); err != nil {
		t.Fatalf("nonce 100: %v", err)
	}
	if err := s.CheckAndConsumeNonce(alice, 5); err != nil {
		t.Errorf("out-of-order unused nonce 5 should be accepted under the any-unused policy: %v", err)
	}
}

func TestCheckAndConsumeNonceRequiresExactSuccessorUnderStrictSequential(t *testing.T) {
	s := NewStore()
	s.SetNoncePolicy(alice, types.NonceStrictSequential)
	if err := s.CheckAndConsumeNonce(alice, 1); err != nil {
		t.Fatalf("first sequential nonce: %v", err)
	}
	if err := s.CheckAndConsumeNonce(alice, 3); err == nil {
		t.Errorf("expected bad_nonce when skipping ahead to 3")
	}
	if err := s.CheckAndConsumeNonce(alice, 2); err != nil {
		t.Errorf("correct successor 2 should be accepted: %v", err)
	}
}

func TestRestoreInstallsBalanceVerbatim(t *testing.T) {
	s := NewStore()
	b := types.NewBalance(alice)
	b.Available = 4242
	b.UsedNonces = nil // exercise the nil-map guard a durable-mirror load can produce
	s.Restore(b)

	got, ok := s.Get(alice)
	if !ok || got.Available != 4242 {
		t.Fatalf("Restore did not install balance verbatim: %+v", got)
	}
	if got.UsedNonces == nil {
		t.Errorf("Restore left UsedNonces nil")
	}
}
