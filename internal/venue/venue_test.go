package venue

import (
	"testing"

	"github.com/memeperp/venue/internal/position"
	"github.com/memeperp/venue/internal/types"
)

func TestGetLiquidationMapFiltersBySymbolAndActive(t *testing.T) {
	positions := position.NewStore()
	v := &Venue{Positions: positions}

	active := types.Pair{PairID: "p1", Symbol: "BTC-USD", Status: types.PairActive}
	otherSymbol := types.Pair{PairID: "p2", Symbol: "ETH-USD", Status: types.PairActive}
	closed := types.Pair{PairID: "p3", Symbol: "BTC-USD", Status: types.PairClosed}

	positions.Restore(&active)
	positions.Restore(&otherSymbol)
	positions.Restore(&closed)

	out := v.GetLiquidationMap("BTC-USD")
	if len(out) != 1 {
		t.Fatalf("GetLiquidationMap = %d pairs, want 1 (other-symbol and closed must be excluded)", len(out))
	}
	if out[0].PairID != "p1" {
		t.Errorf("GetLiquidationMap returned %q, want p1", out[0].PairID)
	}
}

func TestGetLiquidationMapSortsByMaxMarginRatioDescending(t *testing.T) {
	positions := position.NewStore()
	v := &Venue{Positions: positions}

	low := types.Pair{PairID: "low", Symbol: "BTC-USD", Status: types.PairActive}
	low.Long.MarginRatioBps = 100
	low.Short.MarginRatioBps = 50

	high := types.Pair{PairID: "high", Symbol: "BTC-USD", Status: types.PairActive}
	high.Long.MarginRatioBps = 200
	high.Short.MarginRatioBps = 9000

	mid := types.Pair{PairID: "mid", Symbol: "BTC-USD", Status: types.PairActive}
	mid.Long.MarginRatioBps = 500
	mid.Short.MarginRatioBps = 300

	positions.Restore(&low)
	positions.Restore(&high)
	positions.Restore(&mid)

	out := v.GetLiquidationMap("BTC-USD")
	if len(out) != 3 {
		t.Fatalf("GetLiquidationMap len = %d, want 3", len(out))
	}
	wantOrder := []string{"high", "mid", "low"}
	for i, id := range wantOrder {
		if out[i].PairID != id {
			t.Errorf("position %d = %q, want %q (by descending max margin ratio)", i, out[i].PairID, id)
		}
	}
}

func TestGetLiquidationMapEmptyWhenNoActivePairs(t *testing.T) {
	positions := position.NewStore()
	v := &Venue{Positions: positions}

	out := v.GetLiquidationMap("BTC-USD")
	if len(out) != 0 {
		t.Errorf("GetLiquidationMap on empty store = %d, want 0", len(out))
	}
}
