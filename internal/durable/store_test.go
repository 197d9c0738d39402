package durable

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadBalanceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	trader := common.HexToAddress("0xAA00000000000000000000000000000000000000")
	b := types.NewBalance(trader)
	b.Available = 1_000_000
	b.UsedNonces[5] = struct{}{}

	if err := s.SaveBalance(b); err != nil {
		t.Fatalf("SaveBalance: %v", err)
	}

	got, err := s.LoadBalance(trader)
	if err != nil {
		t.Fatalf("LoadBalance: %v", err)
	}
	if got == nil {
		t.Fatalf("LoadBalance returned nil for a saved balance")
	}
	if got.Available != 1_000_000 {
		t.Errorf("Available = %d, want 1000000", got.Available)
	}
	if _, ok := got.UsedNonces[5]; !ok {
		t.Errorf("UsedNonces lost nonce 5 across round trip")
	}
}

func TestLoadBalanceMissingReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LoadBalance(common.HexToAddress("0xCC00000000000000000000000000000000000000"))
	if err != nil {
		t.Fatalf("LoadBalance: %v", err)
	}
	if got != nil {
		t.Errorf("LoadBalance for unknown trader = %+v, want nil", got)
	}
}

func TestLoadAllBalancesReturnsEverySaved(t *testing.T) {
	s := openTestStore(t)
	traders := []common.Address{
		common.HexToAddress("0x1100000000000000000000000000000000000000"),
		common.HexToAddress("0x2200000000000000000000000000000000000000"),
	}
	for _, tr := range traders {
		b := types.NewBalance(tr)
		if err := s.SaveBalance(b); err != nil {
			t.Fatalf("SaveBalance: %v", err)
		}
	}

	all, err := s.LoadAllBalances()
	if err != nil {
		t.Fatalf("LoadAllBalances: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("LoadAllBalances len = %d, want 2", len(all))
	}
}

func TestSaveLoadAllPairsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p := &types.Pair{PairID: "pair-1", Symbol: "BTC-USD", Size: 100, EntryPrice: 1_000_000_000_000, Status: types.PairActive}
	if err := s.SavePair(p); err != nil {
		t.Fatalf("SavePair: %v", err)
	}

	all, err := s.LoadAllPairs()
	if err != nil {
		t.Fatalf("LoadAllPairs: %v", err)
	}
	if len(all) != 1 || all[0].PairID != "pair-1" {
		t.Fatalf("LoadAllPairs = %+v", all)
	}
}

func TestSaveOrderIndexesOpenOrdersUntilTerminal(t *testing.T) {
	s := openTestStore(t)
	o := &types.Order{ID: "ord-1", Symbol: "BTC-USD", Status: types.OrderPending}
	if err := s.SaveOrder(o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	open, err := s.LoadOpenOrders("BTC-USD")
	if err != nil {
		t.Fatalf("LoadOpenOrders: %v", err)
	}
	if len(open) != 1 || open[0].ID != "ord-1" {
		t.Fatalf("LoadOpenOrders before terminal = %+v", open)
	}

	o.Status = types.OrderFilled
	if err := s.SaveOrder(o); err != nil {
		t.Fatalf("SaveOrder (terminal): %v", err)
	}

	open, err = s.LoadOpenOrders("BTC-USD")
	if err != nil {
		t.Fatalf("LoadOpenOrders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("LoadOpenOrders after fill = %+v, want empty", open)
	}
}

func TestAppendSettlementLogStoresEveryEntry(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(0); i < 3; i++ {
		e := &types.SettlementLogEntry{ID: "e", Trader: "alice", Timestamp: time.Now()}
		if err := s.AppendSettlementLog(i, e); err != nil {
			t.Fatalf("AppendSettlementLog(%d): %v", i, err)
		}
	}

	got, err := s.LoadSettlementLog(0)
	if err != nil {
		t.Fatalf("LoadSettlementLog: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("LoadSettlementLog len = %d, want 3", len(got))
	}
}

func TestLoadSettlementLogRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := uint64(0); i < 5; i++ {
		e := &types.SettlementLogEntry{ID: "e", Timestamp: time.Now()}
		if err := s.AppendSettlementLog(i, e); err != nil {
			t.Fatalf("AppendSettlementLog(%d): %v", i, err)
		}
	}

	got, err := s.LoadSettlementLog(2)
	if err != nil {
		t.Fatalf("LoadSettlementLog: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("LoadSettlementLog(2) len = %d, want 2", len(got))
	}
}

func TestSaveLoadAllStatsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	st := &types.MarketStats{Symbol: "BTC-USD", MarkPrice: 1_000_000_000_000}
	if err := s.SaveStats(st); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}

	all, err := s.LoadAllStats()
	if err != nil {
		t.Fatalf("LoadAllStats: %v", err)
	}
	if len(all) != 1 || all[0].Symbol != "BTC-USD" {
		t.Fatalf("LoadAllStats = %+v", all)
	}
}
