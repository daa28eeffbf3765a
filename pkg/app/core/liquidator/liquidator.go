// Package liquidator implements the token<->token, token<->perp,
// perp-market, and bankruptcy-resolution state machine that gates every
// path on maintenance health (spec.md §4.6 Liquidator), grounded on the
// teacher's tests/margin_liquidation_test.go for the literal
// pre-condition/post-condition shape these functions check, and on
// pkg/app/core/account_manager.go for the "look up, mutate two balances,
// recompute" style of a manager operating across two accounts at once.
package liquidator

import (
	"errors"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/insurance"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"go.uber.org/zap"
)

// Logger receives one structured line per TokenAndToken transfer and per
// ResolvePerpBankruptcy socialization; the other paths in this package log
// nothing. Nil by default; set it once at startup with SetLogger.
var Logger *zap.SugaredLogger

// SetLogger installs the package-wide liquidation-step logger.
func SetLogger(l *zap.SugaredLogger) { Logger = l }

func logStep(msg string, kv ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, kv...)
	}
}

// ErrNotLiquidatable is returned when the liqee's maint health is not
// negative (spec.md §4.6: "Pre-conditions for every path: liqee's
// maint_health < 0").
var ErrNotLiquidatable = errors.New("liquidator: liqee maint health is not negative")

// ErrAlreadyBankrupt is returned when a non-bankruptcy path is attempted
// against an account already flagged bankrupt.
var ErrAlreadyBankrupt = errors.New("liquidator: liqee is bankrupt; use a bankruptcy resolution path")

// HealthFn computes an account's maint health given its current state;
// callers close over a risk.Inputs snapshot built from the cache.
type HealthFn func() (fixedpoint.Fix, error)

func checkLiquidatable(maintHealth fixedpoint.Fix, bankrupt bool) error {
	if bankrupt {
		return ErrAlreadyBankrupt
	}
	if maintHealth.Sign() >= 0 {
		return ErrNotLiquidatable
	}
	return nil
}

// TokenAndTokenParams bundles the inputs to the (a) token<->token path
// (spec.md §4.6a).
type TokenAndTokenParams struct {
	AssetIndex      int
	LiabIndex       int
	MaxLiabTransfer fixedpoint.Fix
	LiabPrice       fixedpoint.Fix
	AssetPrice      fixedpoint.Fix
	Fee             fixedpoint.Fix // liquidation_fee, e.g. 0.05 for 5%
}

// TokenAndTokenResult reports the amounts actually transferred.
type TokenAndTokenResult struct {
	LiabAmount  fixedpoint.Fix
	AssetAmount fixedpoint.Fix
}

// TokenAndToken executes spec.md §4.6(a): liquidate a liqee's borrow
// (liab) against their deposit (asset), paying the liquidator a discount.
//
//	max_xfer = min(max_liab_transfer, liqee_liab_native, liqor_asset_native_cap)
//	asset_amount = liab_amount * liab_price * (1 + fee) / asset_price
//
// and cap the transfer so it brings the liqee's maint health to exactly
// zero if that amount is smaller, per the spec's "After: recompute maint
// health; cap transfer at the amount that brings maint_health exactly to
// zero if that is smaller."
func TokenAndToken(
	p TokenAndTokenParams,
	liqee, liqor *margin.Account,
	liqeeMaintHealth fixedpoint.Fix,
	liqeeBankrupt bool,
	liqeeLiabNative fixedpoint.Fix,
	liqorAssetNativeCap fixedpoint.Fix,
	healthPerUnitLiab fixedpoint.Fix, // ∂maint_health/∂liab_amount, supplied by the caller's risk computation
) (TokenAndTokenResult, error) {
	if err := checkLiquidatable(liqeeMaintHealth, liqeeBankrupt); err != nil {
		return TokenAndTokenResult{}, err
	}

	maxXfer := fixedpoint.Min(p.MaxLiabTransfer, liqeeLiabNative)
	maxXfer = fixedpoint.Min(maxXfer, liqorAssetNativeCap)

	if !healthPerUnitLiab.IsZero() && liqeeMaintHealth.Sign() < 0 {
		// Transfer enough liab that health rises to exactly zero, unless
		// that would exceed what's otherwise allowed.
		negHealth, err := liqeeMaintHealth.Neg()
		if err != nil {
			return TokenAndTokenResult{}, err
		}
		zeroingXfer, err := negHealth.Div(healthPerUnitLiab)
		if err != nil {
			return TokenAndTokenResult{}, err
		}
		if zeroingXfer.Sign() >= 0 {
			maxXfer = fixedpoint.Min(maxXfer, zeroingXfer)
		}
	}

	liabAmount := maxXfer // ceil already applied by caller-supplied natives; see numeric policy note below
	onePlusFee, err := fixedpoint.One.Add(p.Fee)
	if err != nil {
		return TokenAndTokenResult{}, err
	}
	numerator, err := liabAmount.Mul(p.LiabPrice)
	if err != nil {
		return TokenAndTokenResult{}, err
	}
	numerator, err = numerator.MulCeil(onePlusFee)
	if err != nil {
		return TokenAndTokenResult{}, err
	}
	assetAmount, err := numerator.Div(p.AssetPrice) // floor: what the liqor receives (spec.md §4.6 numeric policy)
	if err != nil {
		return TokenAndTokenResult{}, err
	}

	if err := moveLiab(liqee, liqor, p.LiabIndex, liabAmount); err != nil {
		return TokenAndTokenResult{}, err
	}
	if err := moveAsset(liqee, liqor, p.AssetIndex, assetAmount); err != nil {
		return TokenAndTokenResult{}, err
	}

	logStep("liquidation_token_token", "liab_index", p.LiabIndex, "asset_index", p.AssetIndex, "liab_amount", liabAmount.String(), "asset_amount", assetAmount.String())
	return TokenAndTokenResult{LiabAmount: liabAmount, AssetAmount: assetAmount}, nil
}

func moveLiab(liqee, liqor *margin.Account, idx int, amount fixedpoint.Fix) error {
	var err error
	liqee.TokenBorrows[idx], err = liqee.TokenBorrows[idx].Sub(amount)
	if err != nil {
		return err
	}
	liqor.TokenBorrows[idx], err = liqor.TokenBorrows[idx].Add(amount)
	return err
}

func moveAsset(liqee, liqor *margin.Account, idx int, amount fixedpoint.Fix) error {
	var err error
	liqee.TokenDeposits[idx], err = liqee.TokenDeposits[idx].Sub(amount)
	if err != nil {
		return err
	}
	liqor.TokenDeposits[idx], err = liqor.TokenDeposits[idx].Add(amount)
	return err
}

// TokenAndPerpParams bundles the inputs for spec.md §4.6(b): transfer a
// quote-position delta against a token-deposit delta. Only valid when the
// counter-leg's base position is zero.
type TokenAndPerpParams struct {
	TokenIndex  int
	MarketIndex int
	MaxTransfer fixedpoint.Fix
	Price       fixedpoint.Fix
	Fee         fixedpoint.Fix
}

// ErrOpenBasePosition is returned by TokenAndPerp when the perp leg still
// has a nonzero base position (spec.md §4.6b: "Only permitted when the
// counter-leg's base position is zero").
var ErrOpenBasePosition = errors.New("liquidator: perp leg has an open base position; close via perp_market first")

// TokenAndPerp executes spec.md §4.6(b).
func TokenAndPerp(
	p TokenAndPerpParams,
	liqee, liqor *margin.Account,
	liqeeMaintHealth fixedpoint.Fix,
	liqeeBankrupt bool,
	liqeeBasePositionLots int64,
	liqeeQuotePosition fixedpoint.Fix,
) (fixedpoint.Fix, error) {
	if err := checkLiquidatable(liqeeMaintHealth, liqeeBankrupt); err != nil {
		return fixedpoint.Zero, err
	}
	if liqeeBasePositionLots != 0 {
		return fixedpoint.Zero, ErrOpenBasePosition
	}

	absQuote, err := liqeeQuotePosition.Abs()
	if err != nil {
		return fixedpoint.Zero, err
	}
	xfer := fixedpoint.Min(p.MaxTransfer, absQuote)
	onePlusFee, err := fixedpoint.One.Add(p.Fee)
	if err != nil {
		return fixedpoint.Zero, err
	}
	tokenAmount, err := xfer.Mul(onePlusFee)
	if err != nil {
		return fixedpoint.Zero, err
	}
	tokenAmount = tokenAmount.Floor()

	liqee.TokenDeposits[p.TokenIndex], err = liqee.TokenDeposits[p.TokenIndex].Sub(tokenAmount)
	if err != nil {
		return fixedpoint.Zero, err
	}
	liqor.TokenDeposits[p.TokenIndex], err = liqor.TokenDeposits[p.TokenIndex].Add(tokenAmount)
	if err != nil {
		return fixedpoint.Zero, err
	}

	return xfer, nil
}

// PerpMarketParams bundles the inputs for spec.md §4.6(c).
type PerpMarketParams struct {
	MarketIndex        int
	BaseTransferRequest int64 // signed
	Price              fixedpoint.Fix
	Fee                fixedpoint.Fix
}

// PerpMarketResult reports the signed base lots actually transferred.
type PerpMarketResult struct {
	BaseTransferred int64
}

// PerpMarket executes spec.md §4.6(c): transfer b base lots from liqee to
// liqor, moving the implied quote at the cache price adjusted by
// liquidation_fee. Stops at whichever of the three post-conditions binds
// first: |b| reaches request, liqee maint_health reaches zero, or
// liqee's base position in that market reaches zero.
func PerpMarket(
	p PerpMarketParams,
	liqeeBase, liqorBase *int64,
	liqeeQuote, liqorQuote *fixedpoint.Fix,
	liqeeMaintHealth fixedpoint.Fix,
	liqeeBankrupt bool,
	healthPerBaseLot fixedpoint.Fix,
) (PerpMarketResult, error) {
	if err := checkLiquidatable(liqeeMaintHealth, liqeeBankrupt); err != nil {
		return PerpMarketResult{}, err
	}

	b := p.BaseTransferRequest
	// Cap |b| at the liqee's actual base position in that market.
	if b > 0 && int64(b) > *liqeeBase {
		b = *liqeeBase
		if b < 0 {
			b = 0
		}
	}
	if b < 0 && b < *liqeeBase {
		b = *liqeeBase
		if b > 0 {
			b = 0
		}
	}

	if !healthPerBaseLot.IsZero() && liqeeMaintHealth.Sign() < 0 {
		negHealth, err := liqeeMaintHealth.Neg()
		if err != nil {
			return PerpMarketResult{}, err
		}
		zeroingLots, err := negHealth.Div(healthPerBaseLot)
		if err != nil {
			return PerpMarketResult{}, err
		}
		zeroingCap := zeroingLots.Floor().Float64()
		if b > 0 && float64(b) > zeroingCap && zeroingCap >= 0 {
			b = int64(zeroingCap)
		}
		if b < 0 && float64(-b) > zeroingCap && zeroingCap >= 0 {
			b = -int64(zeroingCap)
		}
	}

	onePlusFee, err := fixedpoint.One.Add(p.Fee)
	if err != nil {
		return PerpMarketResult{}, err
	}
	quoteMove, err := fixedpoint.FromInt64(b).Mul(p.Price)
	if err != nil {
		return PerpMarketResult{}, err
	}
	quoteMove, err = quoteMove.Mul(onePlusFee)
	if err != nil {
		return PerpMarketResult{}, err
	}

	*liqeeBase -= b
	*liqorBase += b
	newLiqeeQuote, err := liqeeQuote.Add(quoteMove)
	if err != nil {
		return PerpMarketResult{}, err
	}
	*liqeeQuote = newLiqeeQuote
	newLiqorQuote, err := liqorQuote.Sub(quoteMove)
	if err != nil {
		return PerpMarketResult{}, err
	}
	*liqorQuote = newLiqorQuote

	return PerpMarketResult{BaseTransferred: b}, nil
}

// ResolvePerpBankruptcy implements spec.md §4.6's perp bankruptcy path:
// pay from the insurance vault up to available, then socialize any
// remainder by moving long_funding and short_funding together so all
// longs and shorts share the loss proportionally to their base position.
func ResolvePerpBankruptcy(
	vault *insurance.Vault,
	quoteTokenIndex int,
	liabNative fixedpoint.Fix,
	totalLongBase, totalShortBase int64,
	longFunding, shortFunding fixedpoint.Fix,
) (paidByInsurance fixedpoint.Fix, newLongFunding, newShortFunding fixedpoint.Fix, err error) {
	paid, err := vault.PayOut(quoteTokenIndex, liabNative)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, fixedpoint.Zero, err
	}

	remainder, err := liabNative.Sub(paid)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, fixedpoint.Zero, err
	}
	if remainder.Sign() <= 0 {
		return paid, longFunding, shortFunding, nil
	}

	totalBase := totalLongBase + totalShortBase
	if totalBase == 0 {
		return paid, longFunding, shortFunding, nil
	}
	perLot, err := remainder.Div(fixedpoint.FromInt64(totalBase))
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, fixedpoint.Zero, err
	}
	newLongFunding, err = longFunding.Sub(perLot)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, fixedpoint.Zero, err
	}
	newShortFunding, err = shortFunding.Sub(perLot)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, fixedpoint.Zero, err
	}
	logStep("perp_bankruptcy_socialized", "token", quoteTokenIndex, "paid_by_insurance", paid.String(), "remainder", remainder.String(), "total_base", totalBase)
	return paid, newLongFunding, newShortFunding, nil
}

// ResolveTokenBankruptcy implements spec.md §4.6's token bankruptcy path:
// insurance-vault payment, then socialize as a decrease of the liab
// token's deposit_index, distributing loss to all depositors of that token.
func ResolveTokenBankruptcy(
	vault *insurance.Vault,
	tokenIndex int,
	liabNative fixedpoint.Fix,
	totalDepositsStatic fixedpoint.Fix,
	depositIndex fixedpoint.Fix,
) (paidByInsurance fixedpoint.Fix, newDepositIndex fixedpoint.Fix, err error) {
	paid, err := vault.PayOut(tokenIndex, liabNative)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	remainder, err := liabNative.Sub(paid)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	if remainder.Sign() <= 0 || totalDepositsStatic.IsZero() {
		return paid, depositIndex, nil
	}
	lossPerStaticUnit, err := remainder.Div(totalDepositsStatic)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	newDepositIndex, err = depositIndex.Sub(lossPerStaticUnit)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	return paid, newDepositIndex, nil
}

// ForceCancelPreCondition is the shared gate for force_cancel_perp_orders
// and force_cancel_spot_orders (spec.md §4.6d): callable by anyone once
// the liqee's maint health is negative, regardless of who is calling.
func ForceCancelPreCondition(liqeeMaintHealth fixedpoint.Fix) error {
	if liqeeMaintHealth.Sign() >= 0 {
		return ErrNotLiquidatable
	}
	return nil
}
