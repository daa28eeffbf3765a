// Package group holds the per-deployment Group configuration: per-token
// decimals, per-market weights and lot sizes, admin policies, and the
// cache's validity interval (spec.md §3 Group). Grounded on
// params/config.go's Default()+LoadFromEnv(envPath) pattern: a literal
// struct of defaults, overridable by environment variables loaded through
// joho/godotenv with ENV > .env file > defaults precedence.
package group

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/risk"
	"github.com/uhyunpark/hyperlicked/pkg/util"
)

// TokenConfig is one token's static configuration within a Group.
type TokenConfig struct {
	Symbol       string
	Decimals     uint8
	Weights      risk.TokenWeights
	OptimalUtil  fixedpoint.Fix
	OptimalRate  fixedpoint.Fix
	MaxRate      fixedpoint.Fix
}

// PerpMarketConfig is one perp market's static configuration.
type PerpMarketConfig struct {
	Symbol           string
	BaseLotSize      int64
	QuoteLotSize     int64
	ContractSize     int64
	Weights          risk.TokenWeights
	MaintLiqFee      fixedpoint.Fix
	BookCapacity     uint32
	EventQueueDepth  int
}

// Config is the full group configuration (spec.md §3 Group: "per-token
// decimals, per-spot-market and per-perp-market info (weights,
// liquidation fees, lot sizes), admin policies, valid_interval").
type Config struct {
	Tokens      map[int]TokenConfig
	PerpMarkets map[int]PerpMarketConfig

	ValidInterval uint64 // seconds, cache freshness gate

	AdminAuthority string // address, hex-encoded

	TriggerOrderPenaltySeconds uint64 // posted-order expiry clamp (spec.md §4.2: "now + 255")
}

// Default returns the built-in configuration used when no environment
// overrides are present.
func Default() Config {
	return Config{
		Tokens:        make(map[int]TokenConfig),
		PerpMarkets:   make(map[int]PerpMarketConfig),
		ValidInterval: 60,
	}
}

// LoadFromEnv loads the group configuration from a .env file (if present)
// and environment variables, falling back to Default() (same
// ENV > .env file > defaults precedence as params.LoadFromEnv).
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if interval := os.Getenv("GROUP_VALID_INTERVAL_SECONDS"); interval != "" {
		if secs, err := strconv.Atoi(interval); err == nil {
			cfg.ValidInterval = uint64(secs)
		}
	}
	if authority := os.Getenv("GROUP_ADMIN_AUTHORITY"); authority != "" {
		cfg.AdminAuthority = authority
	}
	if penalty := os.Getenv("GROUP_TRIGGER_ORDER_PENALTY_SECONDS"); penalty != "" {
		if secs, err := strconv.Atoi(penalty); err == nil {
			cfg.TriggerOrderPenaltySeconds = uint64(secs)
		}
	} else {
		cfg.TriggerOrderPenaltySeconds = 255
	}

	return cfg
}

// NowTs returns the wall-clock seconds-since-epoch used as now_ts
// throughout the engine, via the supplied util.Clock (pkg/util/clock.go)
// rather than calling time.Now() directly, so tests can inject a fixed
// clock instead of depending on real time.
func NowTs(clock util.Clock) uint64 {
	return uint64(clock.Now().Unix())
}
