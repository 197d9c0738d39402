// Package balance owns per-trader balances: available/frozen/used margin,
// the two order-nonce disciplines of spec.md §4.2, and fee application.
// Grounded on the teacher's pkg/app/core/account/manager.go (LockCollateral/
// UnlockCollateral/ApplyFees/GetAvailableBalance), generalized from a single
// flat nonce counter to the spec's trader-selectable nonce policy.
package balance

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
	"github.com/memeperp/venue/internal/verrors"
)

// Store is the single writer for trader balances; spec.md §5 requires
// balance transitions for a trader be serialized, so every mutating
// method here holds the store-wide lock for its duration.
type Store struct {
	mu       sync.RWMutex
	balances map[common.Address]*types.Balance
}

func NewStore() *Store {
	return &Store{balances: make(map[common.Address]*types.Balance)}
}

func (s *Store) getOrCreate(trader common.Address) *types.Balance {
	b, ok := s.balances[trader]
	if !ok {
		b = types.NewBalance(trader)
		s.balances[trader] = b
	}
	return b
}

// Restore installs a balance loaded from the durable mirror verbatim,
// bypassing Deposit's ledger-event accounting — used only during boot
// rehydration (spec.md §6.5) before ingress opens.
func (s *Store) Restore(b *types.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.UsedNonces == nil {
		b.UsedNonces = make(map[uint64]struct{})
	}
	s.balances[b.Trader] = b
}

func (s *Store) Get(trader common.Address) (types.Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[trader]
	if !ok {
		return types.Balance{}, false
	}
	return *b, true
}

// Deposit credits available balance (ledger-originated, spec.md §4.6
// reconciliation "deposited").
func (s *Store) Deposit(trader common.Address, amount fixedpoint.USD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	b.Available += amount
}

// Withdraw debits available balance if sufficient.
func (s *Store) Withdraw(trader common.Address, amount fixedpoint.USD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	if b.Available < amount {
		return verrors.Policy("insufficient_funds", "withdrawal exceeds available balance")
	}
	b.Available -= amount
	return nil
}

// Lock debits available by total (margin+fee) and credits frozen_margin by
// the same amount, per spec.md §4.2 "On submit acceptance the engine debits
// available ... and credits frozen_margin".
func (s *Store) Lock(trader common.Address, total fixedpoint.USD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	if b.Available < total {
		return verrors.Policy("insufficient_funds", "available balance too low for margin+fee")
	}
	b.Available -= total
	b.FrozenMargin += total
	return nil
}

// MoveFrozenToUsed moves the filled fraction from frozen_margin to
// used_margin on a fill, per spec.md §4.2.
func (s *Store) MoveFrozenToUsed(trader common.Address, amount fixedpoint.USD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	b.FrozenMargin -= amount
	b.UsedMargin += amount
}

// ReleaseFrozen returns the unfilled residual to available on cancel or a
// terminal non-filled status, per spec.md §4.2.
func (s *Store) ReleaseFrozen(trader common.Address, amount fixedpoint.USD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	b.FrozenMargin -= amount
	b.Available += amount
}

// ReleaseUsed frees a closed/liquidated position's used_margin back to
// available and applies signed realized PnL to available, per spec.md §4.2.
func (s *Store) ReleaseUsed(trader common.Address, usedMargin fixedpoint.USD, realizedPnL fixedpoint.USD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	b.UsedMargin -= usedMargin
	b.Available += usedMargin + realizedPnL
}

// ApplyFundingPayment debits (positive amount) or credits (negative amount)
// available balance with a funding payment, spec.md §4.5.
func (s *Store) ApplyFundingPayment(trader common.Address, signedAmount fixedpoint.USD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	b.Available -= signedAmount
}

// CheckAndConsumeNonce validates and records an order-submission nonce
// against the trader's configured policy, spec.md §4.2: the default
// NonceAnyUnused accepts any nonce not already recorded as used for the
// trader;
// the optional NonceStrictSequential requires the next accepted nonce to
// equal the trader's counter + 1. Cancel/close/set-TP-SL intents carry no
// nonce field in spec.md §6.1 and don't go through this check.
func (s *Store) CheckAndConsumeNonce(trader common.Address, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.getOrCreate(trader)
	if b.NoncePolicy == types.NonceStrictSequential {
		if nonce != b.SequentialCounter+1 {
			return verrors.Validation("bad_nonce", "nonce must be sequential")
		}
		b.SequentialCounter = nonce
		return nil
	}
	if _, used := b.UsedNonces[nonce]; used {
		return verrors.Validation("bad_nonce", "nonce already used")
	}
	b.UsedNonces[nonce] = struct{}{}
	return nil
}

func (s *Store) SetNoncePolicy(trader common.Address, policy types.NoncePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(trader).NoncePolicy = policy
}
