package durable

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/types"
)

// Store is a Pebble-backed mirror of venue state, written best-effort
// asynchronously by default. Settlement-log entries use pebble.Sync
// (durable before acknowledgement, spec.md §6.5); every other write,
// balances and pairs included, uses pebble.NoSync for throughput. There is
// no separate synced path for writes that follow a ledger event.
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) set(key, value []byte, sync bool) error {
	mode := pebble.NoSync
	if sync {
		mode = pebble.Sync
	}
	return s.db.Set(key, value, mode)
}

// SaveBalance mirrors one trader's balance, best-effort async.
func (s *Store) SaveBalance(b *types.Balance) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	return s.set(balanceKey(b.Trader), data, false)
}

func (s *Store) LoadBalance(trader common.Address) (*types.Balance, error) {
	data, closer, err := s.db.Get(balanceKey(trader))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	defer closer.Close()

	var b types.Balance
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal balance: %w", err)
	}
	if b.UsedNonces == nil {
		b.UsedNonces = make(map[uint64]struct{})
	}
	return &b, nil
}

// LoadAllBalances rehydrates every mirrored balance on boot, spec.md §6.5
// step 2 of the rehydration order (market stats → balances → positions →
// open orders).
func (s *Store) LoadAllBalances() ([]*types.Balance, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefixBalance), UpperBound: keyUpperBound([]byte(prefixBalance))})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.Balance
	for iter.First(); iter.Valid(); iter.Next() {
		var b types.Balance
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			continue
		}
		if b.UsedNonces == nil {
			b.UsedNonces = make(map[uint64]struct{})
		}
		out = append(out, &b)
	}
	return out, nil
}

// SavePair mirrors a pair's full state, best-effort async.
func (s *Store) SavePair(p *types.Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pair: %w", err)
	}
	return s.set(positionKey(p.PairID), data, false)
}

func (s *Store) LoadAllPairs() ([]*types.Pair, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: positionPrefix(), UpperBound: keyUpperBound(positionPrefix())})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.Pair
	for iter.First(); iter.Valid(); iter.Next() {
		var p types.Pair
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// SaveOrder mirrors an order and maintains the pending/filled index: the
// open-orders key is written while the order is resting and deleted once
// it reaches a terminal status, so LoadOpenOrders never needs to filter.
func (s *Store) SaveOrder(o *types.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.set(orderKey(o.Symbol, o.ID), data, false); err != nil {
		return err
	}
	if o.IsClosed() {
		return s.db.Delete(orderOpenKey(o.Symbol, o.ID), pebble.NoSync)
	}
	return s.set(orderOpenKey(o.Symbol, o.ID), data, false)
}

// LoadOpenOrders rehydrates resting orders for symbol, the last step of
// spec.md §6.5's boot order.
func (s *Store) LoadOpenOrders(symbol string) ([]*types.Order, error) {
	prefix := orderOpenPrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o types.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		out = append(out, &o)
	}
	return out, nil
}

// AppendSettlementLog writes a durable (Sync) settlement-log entry keyed
// by a caller-supplied monotonic sequence number, spec.md §6.5: this write
// path is the one exception to best-effort-async.
func (s *Store) AppendSettlementLog(seq uint64, e *types.SettlementLogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal settlement log entry: %w", err)
	}
	return s.set(settleKey(seq), data, true)
}

func (s *Store) LoadSettlementLog(limit int) ([]*types.SettlementLogEntry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: settlePrefix(), UpperBound: keyUpperBound(settlePrefix())})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.SettlementLogEntry
	for iter.Last(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Prev() {
		var e types.SettlementLogEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// SaveStats mirrors per-symbol market stats and funding index.
func (s *Store) SaveStats(st *types.MarketStats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal market stats: %w", err)
	}
	return s.set(statsKey(st.Symbol), data, false)
}

func (s *Store) LoadAllStats() ([]*types.MarketStats, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: statsPrefix(), UpperBound: keyUpperBound(statsPrefix())})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*types.MarketStats
	for iter.First(); iter.Valid(); iter.Next() {
		var st types.MarketStats
		if err := json.Unmarshal(iter.Value(), &st); err != nil {
			continue
		}
		out = append(out, &st)
	}
	return out, nil
}
