// Package market holds per-symbol trading parameters and the registry of
// tradable markets, adapted from the teacher's single-account Market type
// onto the venue's fixed-point scales and perpetual-only scope.
package market

import (
	"fmt"
	"time"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/verrors"
)

type Status int8

const (
	Active Status = iota
	Paused
	Settling
	Settled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Settling:
		return "settling"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Market carries one symbol's trading parameters, spec.md §6.6's per-symbol
// knobs plus the teacher's tick/lot/leverage/fee shape generalized to
// fixed-point.
type Market struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     Status

	MinSize     fixedpoint.Size
	MaxSize     fixedpoint.Size
	MaxPosition fixedpoint.Size
	MinNotional fixedpoint.USD

	MaxLeverageBps fixedpoint.Bps
	BaseMMRBps     fixedpoint.Bps

	MakerFeeBps fixedpoint.Bps
	TakerFeeBps fixedpoint.Bps

	FundingBaseInterval time.Duration
	FundingMinInterval  time.Duration
	MaxFundingRateBps   fixedpoint.Bps

	LaunchedAt time.Time
}

func New(symbol, base, quote string, p Params) (*Market, error) {
	m := &Market{
		Symbol:              symbol,
		BaseAsset:           base,
		QuoteAsset:          quote,
		Status:              Active,
		MinSize:             p.MinSize,
		MaxSize:             p.MaxSize,
		MaxPosition:         p.MaxPosition,
		MinNotional:         p.MinNotional,
		MaxLeverageBps:      p.MaxLeverageBps,
		BaseMMRBps:          p.BaseMMRBps,
		MakerFeeBps:         p.MakerFeeBps,
		TakerFeeBps:         p.TakerFeeBps,
		FundingBaseInterval: p.FundingBaseInterval,
		FundingMinInterval:  p.FundingMinInterval,
		MaxFundingRateBps:   p.MaxFundingRateBps,
		LaunchedAt:          time.Now(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Params is the construction-time configuration for a Market.
type Params struct {
	MinSize     fixedpoint.Size
	MaxSize     fixedpoint.Size
	MaxPosition fixedpoint.Size
	MinNotional fixedpoint.USD

	MaxLeverageBps fixedpoint.Bps
	BaseMMRBps     fixedpoint.Bps

	MakerFeeBps fixedpoint.Bps
	TakerFeeBps fixedpoint.Bps

	FundingBaseInterval time.Duration
	FundingMinInterval  time.Duration
	MaxFundingRateBps   fixedpoint.Bps
}

func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.MinSize <= 0 || m.MaxSize <= 0 || m.MinSize > m.MaxSize {
		return fmt.Errorf("invalid size bounds")
	}
	if m.MaxPosition < m.MaxSize {
		return fmt.Errorf("max position must be >= max order size")
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("min notional cannot be negative")
	}
	if m.MaxLeverageBps <= 0 {
		return fmt.Errorf("max leverage must be positive")
	}
	if m.BaseMMRBps <= 0 {
		return fmt.Errorf("base mmr must be positive")
	}
	if m.TakerFeeBps < 0 {
		return fmt.Errorf("taker fee cannot be negative")
	}
	if m.FundingBaseInterval <= 0 || m.FundingMinInterval <= 0 || m.FundingMinInterval > m.FundingBaseInterval {
		return fmt.Errorf("invalid funding interval bounds")
	}
	if m.MaxFundingRateBps < 0 {
		return fmt.Errorf("max funding rate cannot be negative")
	}
	return nil
}

// ValidateOrder checks a candidate order's size/notional against this
// market's limits, adapted from the teacher's ValidateOrder.
func (m *Market) ValidateOrder(price fixedpoint.Price, size fixedpoint.Size) error {
	if m.Status != Active {
		return verrors.State("market_not_active", fmt.Sprintf("market %s is %s", m.Symbol, m.Status))
	}
	if size < m.MinSize {
		return verrors.Validation("size_below_minimum", fmt.Sprintf("size %d below minimum %d", size, m.MinSize))
	}
	if size > m.MaxSize {
		return verrors.Validation("size_above_maximum", fmt.Sprintf("size %d exceeds maximum %d", size, m.MaxSize))
	}
	if price > 0 {
		notional := fixedpoint.Notional(size, price)
		if notional < m.MinNotional {
			return verrors.Validation("notional_below_minimum", fmt.Sprintf("notional %d below minimum %d", notional, m.MinNotional))
		}
	}
	return nil
}
