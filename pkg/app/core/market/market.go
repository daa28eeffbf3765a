package market

import (
	"fmt"
	"time"
)

// MarketType defines the type of market
type MarketType int8

const (
	Perpetual MarketType = iota // No expiry, has funding
	Future                      // Has expiry date
	Spot                        // No leverage
)

func (mt MarketType) String() string {
	switch mt {
	case Perpetual:
		return "Perpetual"
	case Future:
		return "Future"
	case Spot:
		return "Spot"
	default:
		return "Unknown"
	}
}

// MarketStatus defines the trading status of a market
type MarketStatus int8

const (
	Active   MarketStatus = iota // Trading enabled
	Paused                       // Trading halted (emergency)
	Settling                     // Funding/expiry in progress
	Settled                      // Market closed
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Settling:
		return "Settling"
	case Settled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Market defines all parameters for a trading market (e.g., HYPL-USDC perpetual).
// This is the lightweight demo-surface market used by the FIFO orderbook in
// pkg/app/perp; the spec-accurate PerpMarket (quote lot size, funding
// indices, book refs) lives in package group.
type Market struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Type       MarketType
	Status     MarketStatus

	// TickSize is the minimum price increment; prices are stored as integer ticks.
	TickSize int64
	// LotSize is the minimum size increment; quantities are stored as integer lots.
	LotSize int64
	// MinNotional is the minimum order value in quote-asset native units.
	MinNotional int64

	MaxLeverage          int64
	InitialMarginBps     int64
	MaintenanceMarginBps int64

	FundingInterval   time.Duration
	MaxFundingRateBps int64

	MinOrderSize int64
	MaxOrderSize int64
	MaxPosition  int64

	MakerFeeBps int64
	TakerFeeBps int64

	LaunchedAt int64
}

// NewMarket creates a new market with validation.
func NewMarket(symbol, baseAsset, quoteAsset string, params MarketParams) (*Market, error) {
	m := &Market{
		Symbol:               symbol,
		BaseAsset:            baseAsset,
		QuoteAsset:           quoteAsset,
		Type:                 params.Type,
		Status:               Active,
		TickSize:             params.TickSize,
		LotSize:              params.LotSize,
		MinNotional:          params.MinNotional,
		MaxLeverage:          params.MaxLeverage,
		InitialMarginBps:     params.InitialMarginBps,
		MaintenanceMarginBps: params.MaintenanceMarginBps,
		FundingInterval:      params.FundingInterval,
		MaxFundingRateBps:    params.MaxFundingRateBps,
		MinOrderSize:         params.MinOrderSize,
		MaxOrderSize:         params.MaxOrderSize,
		MaxPosition:          params.MaxPosition,
		MakerFeeBps:          params.MakerFeeBps,
		TakerFeeBps:          params.TakerFeeBps,
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}

	return m, nil
}

// Validate checks market parameter sanity.
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive")
	}
	if m.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("min notional cannot be negative")
	}

	if m.Type != Spot {
		if m.MaxLeverage <= 0 {
			return fmt.Errorf("max leverage must be positive")
		}
		if m.InitialMarginBps <= 0 {
			return fmt.Errorf("initial margin must be positive")
		}
		if m.MaintenanceMarginBps <= 0 {
			return fmt.Errorf("maintenance margin must be positive")
		}
		if m.MaintenanceMarginBps > m.InitialMarginBps {
			return fmt.Errorf("maintenance margin cannot exceed initial margin")
		}

		expectedLeverage := 10000 / m.InitialMarginBps
		if m.MaxLeverage > expectedLeverage*2 || m.MaxLeverage < expectedLeverage/2 {
			return fmt.Errorf("max leverage (%d) inconsistent with initial margin (%d bps)", m.MaxLeverage, m.InitialMarginBps)
		}
	}

	if m.Type == Perpetual {
		if m.FundingInterval <= 0 {
			return fmt.Errorf("funding interval must be positive")
		}
		if m.MaxFundingRateBps < 0 {
			return fmt.Errorf("max funding rate cannot be negative")
		}
	}

	if m.MinOrderSize <= 0 {
		return fmt.Errorf("min order size must be positive")
	}
	if m.MaxOrderSize <= 0 {
		return fmt.Errorf("max order size must be positive")
	}
	if m.MinOrderSize > m.MaxOrderSize {
		return fmt.Errorf("min order size cannot exceed max order size")
	}
	if m.MaxPosition < m.MaxOrderSize {
		return fmt.Errorf("max position should be >= max order size")
	}

	if m.TakerFeeBps < 0 {
		return fmt.Errorf("taker fee cannot be negative")
	}

	return nil
}

// RequiredInitialMargin computes initial margin for a notional of price*qty.
func (m *Market) RequiredInitialMargin(price, qty int64) int64 {
	notional := price * qty
	return (notional * m.InitialMarginBps) / 10000
}

// RequiredMaintenanceMargin computes maintenance margin for a notional of price*qty.
func (m *Market) RequiredMaintenanceMargin(price, qty int64) int64 {
	notional := price * qty
	return (notional * m.MaintenanceMarginBps) / 10000
}

// ValidateOrderSize checks if order size is within limits.
func (m *Market) ValidateOrderSize(qty int64) error {
	if qty < m.MinOrderSize {
		return fmt.Errorf("order size %d below minimum %d", qty, m.MinOrderSize)
	}
	if qty > m.MaxOrderSize {
		return fmt.Errorf("order size %d exceeds maximum %d", qty, m.MaxOrderSize)
	}
	return nil
}

// ValidateOrderNotional checks if order value meets minimum.
func (m *Market) ValidateOrderNotional(price, qty int64) error {
	notional := price * qty
	if notional < m.MinNotional {
		return fmt.Errorf("order notional %d below minimum %d", notional, m.MinNotional)
	}
	return nil
}

// ValidateOrder performs all order validations.
func (m *Market) ValidateOrder(price, qty int64) error {
	if m.Status != Active {
		return fmt.Errorf("market %s is not active (status: %s)", m.Symbol, m.Status)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if err := m.ValidateOrderSize(qty); err != nil {
		return err
	}
	if err := m.ValidateOrderNotional(price, qty); err != nil {
		return err
	}
	return nil
}
