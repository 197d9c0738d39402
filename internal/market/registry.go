package market

import (
	"sync"

	"github.com/memeperp/venue/internal/verrors"
)

// Registry manages the venue's tradable markets, thread-safe, grounded on
// the teacher's MarketRegistry.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

func (r *Registry) Register(m *Market) error {
	if m == nil {
		return verrors.Validation("nil_market", "cannot register nil market")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.Symbol]; exists {
		return verrors.State("market_exists", "market "+m.Symbol+" already registered")
	}
	r.markets[m.Symbol] = m
	return nil
}

func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, verrors.Validation("symbol_unknown", "market "+symbol+" not found")
	}
	return m, nil
}

func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

func (r *Registry) ListActive() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0)
	for _, m := range r.markets {
		if m.Status == Active {
			out = append(out, m)
		}
	}
	return out
}

// UpdateStatus transitions a market's status, forbidding any transition out
// of Settled (terminal), grounded on the teacher's validateStatusTransition.
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return verrors.Validation("symbol_unknown", "market "+symbol+" not found")
	}
	if m.Status == Settled {
		return verrors.State("market_settled", "cannot change status from settled, terminal state")
	}
	m.Status = status
	return nil
}

func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[symbol]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
