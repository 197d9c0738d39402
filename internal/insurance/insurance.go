// Package insurance owns the global and per-symbol insurance funds that
// absorb the gap between a liquidated position's bankruptcy price and its
// liquidation price, per spec.md §3.7/§4.4. No teacher equivalent exists;
// this is built directly from the spec, structured as a thin mutex-guarded
// ledger matching internal/balance's idiom.
package insurance

import (
	"sync"

	"github.com/memeperp/venue/internal/fixedpoint"
)

// Fund holds one symbol's insurance balance plus the shared global pool
// spec.md §3.7 falls back to once a symbol's own fund is exhausted.
type Fund struct {
	mu       sync.Mutex
	global   fixedpoint.USD
	bySymbol map[string]fixedpoint.USD

	totalContributions fixedpoint.USD
	totalPayouts        fixedpoint.USD
}

func New() *Fund {
	return &Fund{bySymbol: make(map[string]fixedpoint.USD)}
}

// Contribute credits a symbol's fund (e.g. from a liquidation that closed
// better than its bankruptcy price, per spec.md §4.4).
func (f *Fund) Contribute(symbol string, amount fixedpoint.USD) {
	if amount <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bySymbol[symbol] += amount
	f.totalContributions += amount
}

// ContributeGlobal credits the shared pool directly (e.g. protocol seed).
func (f *Fund) ContributeGlobal(amount fixedpoint.USD) {
	if amount <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global += amount
	f.totalContributions += amount
}

// Draw withdraws up to `need` from a symbol's fund, falling back to the
// global pool for any shortfall, and returns the shortfall still
// unabsorbed (which the caller feeds into ADL, spec.md §4.4).
func (f *Fund) Draw(symbol string, need fixedpoint.USD) (drawn, shortfall fixedpoint.USD) {
	if need <= 0 {
		return 0, 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	bal := f.bySymbol[symbol]
	fromSymbol := need
	if fromSymbol > bal {
		fromSymbol = bal
	}
	f.bySymbol[symbol] -= fromSymbol
	remaining := need - fromSymbol

	fromGlobal := remaining
	if fromGlobal > f.global {
		fromGlobal = f.global
	}
	f.global -= fromGlobal
	remaining -= fromGlobal

	drawn = fromSymbol + fromGlobal
	f.totalPayouts += drawn
	return drawn, remaining
}

// Balance returns a symbol fund's balance plus the shared global pool.
func (f *Fund) Balance(symbol string) (symbolBalance, global fixedpoint.USD) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySymbol[symbol], f.global
}

func (f *Fund) Totals() (contributions, payouts fixedpoint.USD) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalContributions, f.totalPayouts
}
