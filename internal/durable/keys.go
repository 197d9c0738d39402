// Package durable is the venue's crash-survivability mirror, spec.md §6.5:
// positions by id, orders by id with pending/filled indices, balances by
// trader, settlement-log entries, and per-symbol stats/funding index.
// Grounded directly on the teacher's pkg/storage/{pebble_store.go,
// account_keys.go} key-prefix scheme and Sync/NoSync durability split,
// retargeted from consensus blocks/certs to the spec's entity set.
package durable

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes, following the teacher's "short-prefix:identity" scheme.
const (
	prefixBalance   = "bal:"
	prefixPosition  = "pos:"
	prefixOrderOpen = "ordo:"
	prefixOrderAll  = "ord:"
	prefixSettle    = "stl:"
	prefixStats     = "stat:"
)

func balanceKey(trader common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixBalance, trader.Hex()))
}

func positionKey(pairID string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixPosition, pairID))
}

func positionPrefix() []byte { return []byte(prefixPosition) }

// orderKey indexes an order both by its all-orders key (for point lookups
// by id) and, while it is resting, by an open-orders key scanned on boot
// to rehydrate the book; orderOpenKey is deleted once the order reaches a
// terminal status.
func orderKey(symbol, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrderAll, symbol, orderID))
}

func orderOpenKey(symbol, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrderOpen, symbol, orderID))
}

func orderOpenPrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrderOpen, symbol))
}

// settleKey is zero-padded on a monotonic sequence number, not a
// timestamp, since settlement-log entries within the same millisecond
// must still sort in append order.
func settleKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSettle, seq))
}

func settlePrefix() []byte { return []byte(prefixSettle) }

func statsKey(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixStats, symbol))
}

func statsPrefix() []byte { return []byte(prefixStats) }

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
