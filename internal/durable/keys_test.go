package durable

import (
	"bytes"
	"sort"
	"testing"
)

func TestSettleKeyZeroPadsForLexicalOrder(t *testing.T) {
	keys := [][]byte{settleKey(10), settleKey(2), settleKey(100)}
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	// Lexical sort of the zero-padded keys must match numeric order:
	// settleKey(2) < settleKey(10) < settleKey(100).
	want := [][]byte{settleKey(2), settleKey(10), settleKey(100)}
	for i := range want {
		if !bytes.Equal(sorted[i], want[i]) {
			t.Fatalf("sorted[%d] = %q, want %q", i, sorted[i], want[i])
		}
	}
}

func TestOrderOpenKeyScopedBySymbol(t *testing.T) {
	btc := orderOpenKey("BTC-USD", "ord-1")
	eth := orderOpenKey("ETH-USD", "ord-1")
	if bytes.Equal(btc, eth) {
		t.Errorf("orderOpenKey not scoped by symbol: %q == %q", btc, eth)
	}
	if !bytes.HasPrefix(btc, orderOpenPrefix("BTC-USD")) {
		t.Errorf("orderOpenKey(%q) missing its own prefix", btc)
	}
	if bytes.HasPrefix(btc, orderOpenPrefix("ETH-USD")) {
		t.Errorf("orderOpenKey for BTC-USD matches ETH-USD prefix")
	}
}

func TestKeyUpperBoundExcludesNextPrefix(t *testing.T) {
	upper := keyUpperBound([]byte(prefixBalance))
	// Every key under prefixBalance must sort below the upper bound, and
	// the first key of the next prefix must not.
	if bytes.Compare([]byte(prefixBalance+"zzzz"), upper) >= 0 {
		t.Errorf("upper bound does not cover all balance keys")
	}
	if bytes.Compare([]byte(prefixPosition), upper) < 0 {
		t.Errorf("upper bound for balance prefix leaks into position prefix")
	}
}

func TestBalanceKeyDistinctPerTrader(t *testing.T) {
	addrs := [][20]byte{{1}, {2}}
	var keys [][]byte
	for _, a := range addrs {
		keys = append(keys, balanceKey(a))
	}
	if bytes.Equal(keys[0], keys[1]) {
		t.Errorf("balanceKey collided for distinct addresses")
	}
}
