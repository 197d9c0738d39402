package types

import (
	"time"

	"github.com/memeperp/venue/internal/fixedpoint"
)

// MarketStats is the per-symbol entity of spec.md §3.1.
type MarketStats struct {
	Symbol string

	FundingIndexLong  fixedpoint.USD
	FundingIndexShort fixedpoint.USD
	FundingRateBps    fixedpoint.Bps
	LastFundingTime   time.Time
	NextFundingTime   time.Time

	LongOI  fixedpoint.Size
	ShortOI fixedpoint.Size

	LastPrice     fixedpoint.Price
	MarkPrice     fixedpoint.Price
	SpotIndexPrice fixedpoint.Price
}

// InsuranceFund is spec.md §3.1's InsuranceFund entity, tracked both
// globally and per symbol (internal/insurance owns one of each).
type InsuranceFund struct {
	Symbol            string // "" for the global fund
	Balance           fixedpoint.USD
	TotalContributions fixedpoint.USD
	TotalPayouts      fixedpoint.USD
}

type SettlementEntryType int8

const (
	SettlementDeposit SettlementEntryType = iota
	SettlementWithdraw
	SettlementSettlePnL
	SettlementFundingFee
	SettlementLiquidation
	SettlementMarginAdd
	SettlementMarginRemove
)

func (t SettlementEntryType) String() string {
	switch t {
	case SettlementDeposit:
		return "deposit"
	case SettlementWithdraw:
		return "withdraw"
	case SettlementSettlePnL:
		return "settle_pnl"
	case SettlementFundingFee:
		return "funding_fee"
	case SettlementLiquidation:
		return "liquidation"
	case SettlementMarginAdd:
		return "margin_add"
	case SettlementMarginRemove:
		return "margin_remove"
	default:
		return "unknown"
	}
}

type OnChainStatus int8

const (
	OnChainPending OnChainStatus = iota
	OnChainSuccess
	OnChainFailed
)

// SettlementLogEntry is spec.md §3.1's append-only audit record.
type SettlementLogEntry struct {
	ID            string
	Type          SettlementEntryType
	Trader        string
	Amount        fixedpoint.USD // signed
	PreBalance    fixedpoint.USD
	PostBalance   fixedpoint.USD
	OnChainStatus OnChainStatus
	TxnReference  string
	Proof         []byte
	Timestamp     time.Time
}
