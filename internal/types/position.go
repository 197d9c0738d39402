package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/memeperp/venue/internal/fixedpoint"
)

type PairStatus int8

const (
	PairActive PairStatus = iota
	PairClosed
	PairLiquidated
)

type RiskLevel int8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SideState holds the per-side fields of a paired position: collateral,
// leverage, funding accumulator, attached TP/SL, and the fields the risk
// engine derives each tick.
type SideState struct {
	Trader     common.Address
	Collateral fixedpoint.USD
	Leverage   fixedpoint.Bps
	AccFunding fixedpoint.USD

	// OpenFee is the fee this side paid to open (or add to) its current
	// exposure, spec.md §4.2's pnl formula subtrahend. A merge into an
	// existing pair accumulates it alongside the added collateral.
	OpenFee fixedpoint.USD

	TakeProfitPrice fixedpoint.Price // 0 == unset
	StopLossPrice   fixedpoint.Price // 0 == unset

	// Derived at revaluation time (spec.md §4.3 step 1).
	MarkPrice         fixedpoint.Price
	UnrealizedPnL     fixedpoint.USD
	CurrentMargin     fixedpoint.USD
	EffectiveMMRBps   fixedpoint.Bps
	MaintenanceMargin fixedpoint.USD
	MarginRatioBps    fixedpoint.Bps
	ROEBps            fixedpoint.Bps
	LiquidationPrice  fixedpoint.Price
	BankruptcyPrice   fixedpoint.Price
	BreakEvenPrice    fixedpoint.Price
	ADLScore          int64
	ADLRank           int
	RiskLevel         RiskLevel
}

// Pair is one paired position, spec.md §3.1 Position.
type Pair struct {
	PairID string
	Symbol string
	Size   fixedpoint.Size

	EntryPrice fixedpoint.Price

	Long  SideState
	Short SideState

	Status    PairStatus
	OpenTime  time.Time
	ClosedAt  time.Time
}

// Notional returns the pair's USD notional at its entry price.
func (p *Pair) Notional() fixedpoint.USD {
	return fixedpoint.Notional(p.Size, p.EntryPrice)
}

// Side returns the SideState for the given side.
func (p *Pair) Side(side Side) *SideState {
	if side == SideLong {
		return &p.Long
	}
	return &p.Short
}
