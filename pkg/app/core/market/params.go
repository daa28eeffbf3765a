package market

import "time"

// MarketParams is a helper struct for creating markets with all parameters.
// Separates config from the runtime Market struct.
type MarketParams struct {
	Type                 MarketType
	TickSize             int64
	LotSize              int64
	MinNotional          int64
	MaxLeverage          int64
	InitialMarginBps     int64
	MaintenanceMarginBps int64
	FundingInterval      time.Duration
	MaxFundingRateBps    int64
	MinOrderSize         int64
	MaxOrderSize         int64
	MaxPosition          int64
	MakerFeeBps          int64
	TakerFeeBps          int64
}

// DefaultHYPLUSDC returns default parameters for a HYPL-USDC perpetual demo market.
var DefaultHYPLUSDC = MarketParams{
	Type: Perpetual,

	TickSize:    1,
	LotSize:     100,
	MinNotional: 10000,

	MaxLeverage:          50,
	InitialMarginBps:     200,
	MaintenanceMarginBps: 50,

	FundingInterval:   1 * time.Hour,
	MaxFundingRateBps: 1200,

	MinOrderSize: 1,
	MaxOrderSize: 1000000,
	MaxPosition:  10000000,

	MakerFeeBps: -2,
	TakerFeeBps: 5,
}

// NewMarketWithDefaults creates a market using DefaultHYPLUSDC parameters.
func NewMarketWithDefaults(symbol, baseAsset, quoteAsset string) (*Market, error) {
	return NewMarket(symbol, baseAsset, quoteAsset, DefaultHYPLUSDC)
}

// CustomPerpetual returns a customizable perpetual market template.
func CustomPerpetual(tickSize, lotSize, leverage int64) MarketParams {
	initialMargin := 10000 / leverage
	maintMargin := initialMargin / 4

	return MarketParams{
		Type:                 Perpetual,
		TickSize:             tickSize,
		LotSize:              lotSize,
		MinNotional:          10000,
		MaxLeverage:          leverage,
		InitialMarginBps:     initialMargin,
		MaintenanceMarginBps: maintMargin,
		FundingInterval:      1 * time.Hour,
		MaxFundingRateBps:    1200,
		MinOrderSize:         1,
		MaxOrderSize:         1000000,
		MaxPosition:          10000000,
		MakerFeeBps:          -2,
		TakerFeeBps:          5,
	}
}
