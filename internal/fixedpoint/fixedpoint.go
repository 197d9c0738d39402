// Package fixedpoint implements the venue's exact scaled-integer arithmetic.
// Every monetary quantity in the core is one of the four scales spec.md §3
// fixes: token-amount (1e18), USD-per-token price (1e12), USD (1e6), and
// basis points (1e4). Keeping each scale a distinct type stops a size from
// being added to a price by accident at the compiler level.
package fixedpoint

import "math/big"

const (
	ScaleSize  = 1_000_000_000_000_000_000 // 1e18, token-amount unit
	ScalePrice = 1_000_000_000_000          // 1e12, USD per token
	ScaleUSD   = 1_000_000                  // 1e6, USD
	ScaleBps   = 10_000                     // 1e4, basis points (10000 = 1x)
)

// Size is a token-amount quantity at 1e18.
type Size int64

// Price is a USD-per-token quantity at 1e12.
type Price int64

// USD is a dollar quantity at 1e6. Negative values are valid (realized loss,
// a trader's net-negative funding accrual, ...).
type USD int64

// Bps is a basis-point quantity at 1e4 (10000 == 1x / 100%).
type Bps int64

func (s Size) Abs() Size {
	if s < 0 {
		return -s
	}
	return s
}

func (u USD) Abs() USD {
	if u < 0 {
		return -u
	}
	return u
}

// Notional computes size × price rescaled to USD (1e6), per spec.md §4.2:
// notional_1e6 = size_1e18 × price_1e12 / 1e24.
func Notional(size Size, price Price) USD {
	n := new(big.Int).Mul(big.NewInt(int64(size)), big.NewInt(int64(price)))
	n.Quo(n, new(big.Int).Mul(big.NewInt(ScaleSize), big.NewInt(1_000_000))) // /1e24, split to avoid int64 overflow in the divisor
	return USD(n.Int64())
}

// Margin computes notional × 10000 / leverage_bp, per spec.md §4.2:
// margin_1e6 = notional_1e6 × 10000 / leverage_1e4.
func Margin(notional USD, leverageBps Bps) USD {
	if leverageBps == 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(int64(notional)), big.NewInt(ScaleBps))
	n.Quo(n, big.NewInt(int64(leverageBps)))
	return USD(n.Int64())
}

// FeeOn computes notional × rateBps / 10000, the per-side match fee.
func FeeOn(notional USD, rateBps Bps) USD {
	n := new(big.Int).Mul(big.NewInt(int64(notional)), big.NewInt(int64(rateBps)))
	n.Quo(n, big.NewInt(ScaleBps))
	return USD(n.Int64())
}

// UnrealizedPnL computes direction × size × (mark − entry) / 1e24, per
// spec.md §4.2. direction is +1 for long, −1 for short.
func UnrealizedPnL(direction int64, size Size, entry, mark Price) USD {
	diff := new(big.Int).Sub(big.NewInt(int64(mark)), big.NewInt(int64(entry)))
	n := new(big.Int).Mul(big.NewInt(int64(size)), diff)
	n.Mul(n, big.NewInt(direction))
	n.Quo(n, new(big.Int).Mul(big.NewInt(ScaleSize), big.NewInt(1_000_000)))
	return USD(n.Int64())
}

// MarginRatioBps computes maintenance_margin / equity scaled to bps
// (spec.md §4.2: "higher = worse", ≥10000 triggers liquidation). A
// non-positive equity maps to the maximum ratio: the position is already
// underwater beyond what a ratio can express.
func MarginRatioBps(maintenanceMargin, equity USD) Bps {
	if equity <= 0 {
		return Bps(1<<62 - 1)
	}
	n := new(big.Int).Mul(big.NewInt(int64(maintenanceMargin)), big.NewInt(ScaleBps))
	n.Quo(n, big.NewInt(int64(equity)))
	return Bps(n.Int64())
}

// RoundUp divides n by d, rounding the quotient away from zero when there is
// a remainder. Used for liquidation-price rounding (DESIGN.md open question 2)
// so the computed trigger is reached no later than the true breach.
func RoundUp(n, d int64) int64 {
	q := n / d
	r := n % d
	if r == 0 {
		return q
	}
	if (n < 0) == (d < 0) {
		return q + 1
	}
	return q - 1
}
