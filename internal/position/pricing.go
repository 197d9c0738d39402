package position

import (
	"math/big"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/types"
)

// EffectiveMMR returns min(base_mmr, (1/leverage)/2) in bps, spec.md §4.3's
// dynamic maintenance-margin-rate floor: high-leverage positions get a
// tighter MMR than the market's base rate so the liquidation price never
// crosses the bankruptcy price.
func EffectiveMMR(baseMMRBps, leverageBps fixedpoint.Bps) fixedpoint.Bps {
	if leverageBps <= 0 {
		return baseMMRBps
	}
	oneOverLeverage := fixedpoint.Bps(fixedpoint.RoundUp(int64(fixedpoint.ScaleBps)*int64(fixedpoint.ScaleBps), int64(leverageBps)))
	half := oneOverLeverage / 2
	if half < baseMMRBps {
		return half
	}
	return baseMMRBps
}

// LiquidationPrice implements spec.md §4.2:
//
//	long:  entry × (1 − 1/leverage + effective_mmr)
//	short: entry × (1 + 1/leverage − effective_mmr)
//
// Rounded away from the trader's favor (DESIGN.md open question 2): up for
// long (liquidates sooner), down for short.
func LiquidationPrice(entry fixedpoint.Price, leverageBps, baseMMRBps fixedpoint.Bps, side types.Side) fixedpoint.Price {
	effMMR := EffectiveMMR(baseMMRBps, leverageBps)
	oneOverLeverage := fixedpoint.Bps(fixedpoint.RoundUp(int64(fixedpoint.ScaleBps)*int64(fixedpoint.ScaleBps), int64(leverageBps)))

	var bracket int64
	if side == types.SideLong {
		bracket = int64(fixedpoint.ScaleBps) - int64(oneOverLeverage) + int64(effMMR)
	} else {
		bracket = int64(fixedpoint.ScaleBps) + int64(oneOverLeverage) - int64(effMMR)
	}
	n := new(big.Int).Mul(big.NewInt(int64(entry)), big.NewInt(bracket))
	if side == types.SideLong {
		n.Add(n, big.NewInt(int64(fixedpoint.ScaleBps)-1))
	}
	n.Quo(n, big.NewInt(int64(fixedpoint.ScaleBps)))
	if n.Sign() < 0 {
		n.SetInt64(0)
	}
	return fixedpoint.Price(n.Int64())
}

// BankruptcyPrice is the price at which a side's collateral is exactly
// exhausted (zero equity): entry × (1 ∓ 1/leverage), spec.md §4.4's
// insurance-fund draw boundary.
func BankruptcyPrice(entry fixedpoint.Price, leverageBps fixedpoint.Bps, side types.Side) fixedpoint.Price {
	oneOverLeverage := fixedpoint.Bps(fixedpoint.RoundUp(int64(fixedpoint.ScaleBps)*int64(fixedpoint.ScaleBps), int64(leverageBps)))
	var bracket int64
	if side == types.SideLong {
		bracket = int64(fixedpoint.ScaleBps) - int64(oneOverLeverage)
	} else {
		bracket = int64(fixedpoint.ScaleBps) + int64(oneOverLeverage)
	}
	if bracket < 0 {
		bracket = 0
	}
	n := new(big.Int).Mul(big.NewInt(int64(entry)), big.NewInt(bracket))
	n.Quo(n, big.NewInt(int64(fixedpoint.ScaleBps)))
	return fixedpoint.Price(n.Int64())
}

// BreakEvenPrice is the mark at which accumulated fees + funding bring
// realized PnL to zero; approximated here as entry adjusted by the side's
// accumulated funding expressed back in price terms.
func BreakEvenPrice(entry fixedpoint.Price, size fixedpoint.Size, accFunding fixedpoint.USD, side types.Side) fixedpoint.Price {
	if size == 0 {
		return entry
	}
	direction := int64(1)
	if side == types.SideShort {
		direction = -1
	}
	n := new(big.Int).Mul(big.NewInt(int64(accFunding)), new(big.Int).Mul(big.NewInt(int64(fixedpoint.ScaleSize)), big.NewInt(1_000_000)))
	n.Quo(n, big.NewInt(int64(size)))
	n.Mul(n, big.NewInt(direction))
	return entry + fixedpoint.Price(n.Int64())
}
