package types

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
)

// NoncePolicy selects a trader's replay-protection mode, spec.md §4.2.
type NoncePolicy int8

const (
	// NonceAnyUnused accepts any nonce not previously used by a settled
	// pair; the ledger is the de-duplicator.
	NonceAnyUnused NoncePolicy = iota
	// NonceStrictSequential requires the next accepted nonce to equal the
	// trader's counter + 1. Like NonceAnyUnused it is checked only on order
	// submission; cancel/close/set-TP-SL requests carry no nonce.
	NonceStrictSequential
)

// Balance is a trader's balance entity, spec.md §3.1.
type Balance struct {
	Trader       common.Address
	Available    fixedpoint.USD
	UsedMargin   fixedpoint.USD
	FrozenMargin fixedpoint.USD

	NoncePolicy       NoncePolicy
	SequentialCounter uint64
	UsedNonces        map[uint64]struct{}
}

func NewBalance(trader common.Address) *Balance {
	return &Balance{
		Trader:     trader,
		UsedNonces: make(map[uint64]struct{}),
	}
}

// UnrealizedPnL is derived from open positions by the caller (balance.Store
// does not itself own positions); it is carried here only as a read-model
// convenience field populated by the position package at query time.
type BalanceView struct {
	Balance
	UnrealizedPnL fixedpoint.USD
}

func (b *Balance) Equity(unrealizedPnL fixedpoint.USD) fixedpoint.USD {
	return b.Available + b.UsedMargin + unrealizedPnL
}
