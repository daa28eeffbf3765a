// Package risk implements health computation under the Maint and Init
// weightings used to gate every instruction that moves a MarginAccount
// (spec.md §4.5 RiskEngine), grounded on the teacher's account_manager.go
// pattern of a stateless manager type operating over externally-owned
// account structs rather than embedding state itself.
package risk

import (
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
)

// Weighting selects which asset/liability weights apply (spec.md §4.5:
// "Two weightings: Maint ... and Init").
type Weighting uint8

const (
	Maint Weighting = iota
	Init
)

// TokenWeights carries the four weights a token or perp market must
// satisfy: asset_weight, liab_weight (Maint) and their Init counterparts
// (spec.md §4.5 invariant: "liab_weight >= 1 >= asset_weight > 0 and
// liab_weight_init >= liab_weight_maint, asset_weight_init <=
// asset_weight_maint").
type TokenWeights struct {
	AssetWeightMaint fixedpoint.Fix
	LiabWeightMaint  fixedpoint.Fix
	AssetWeightInit  fixedpoint.Fix
	LiabWeightInit   fixedpoint.Fix
}

func (w TokenWeights) assetWeight(wt Weighting) fixedpoint.Fix {
	if wt == Init {
		return w.AssetWeightInit
	}
	return w.AssetWeightMaint
}

func (w TokenWeights) liabWeight(wt Weighting) fixedpoint.Fix {
	if wt == Init {
		return w.LiabWeightInit
	}
	return w.LiabWeightMaint
}

// TokenInput is one token leg of the health computation.
type TokenInput struct {
	TokenIndex int
	NetNative  fixedpoint.Fix // net_native_token: positive = deposit, negative = borrow
	Price      fixedpoint.Fix
	Weights    TokenWeights
}

// SpotOrdersInput is one spot-open-orders leg (spec.md §4.5:
// "Spot-open-orders equity contributes the OO-account's native_coin_total
// + native_coin_free as base (weighted) and native_pc_total +
// referrer_rebates_accrued as quote").
type SpotOrdersInput struct {
	BaseTokenIndex  int
	NativeCoinTotal fixedpoint.Fix
	NativeCoinFree  fixedpoint.Fix
	NativePcTotal   fixedpoint.Fix
	ReferrerRebates fixedpoint.Fix
	BasePrice       fixedpoint.Fix
	BaseWeights     TokenWeights
}

// PerpInput is one perp-market leg of the health computation.
type PerpInput struct {
	MarketIndex int
	Account     *perpaccount.Account
	Price       fixedpoint.Fix
	Weights     TokenWeights
	LongFunding  fixedpoint.Fix
	ShortFunding fixedpoint.Fix
}

// Inputs bundles everything needed for one health computation over a
// single MarginAccount.
type Inputs struct {
	Tokens      []TokenInput
	SpotOrders  []SpotOrdersInput
	Perps       []PerpInput
}

func applyTokenLeg(acc fixedpoint.Fix, t TokenInput, wt Weighting) (fixedpoint.Fix, error) {
	weight := t.Weights.assetWeight(wt)
	if t.NetNative.Sign() < 0 {
		weight = t.Weights.liabWeight(wt)
	}
	weighted, err := t.NetNative.Mul(t.Price)
	if err != nil {
		return acc, err
	}
	weighted, err = weighted.Mul(weight)
	if err != nil {
		return acc, err
	}
	return acc.Add(weighted)
}

func applySpotOrdersLeg(acc fixedpoint.Fix, s SpotOrdersInput, wt Weighting) (fixedpoint.Fix, error) {
	baseNative, err := s.NativeCoinTotal.Add(s.NativeCoinFree)
	if err != nil {
		return acc, err
	}
	weight := s.BaseWeights.assetWeight(wt)
	if baseNative.Sign() < 0 {
		weight = s.BaseWeights.liabWeight(wt)
	}
	baseValue, err := baseNative.Mul(s.BasePrice)
	if err != nil {
		return acc, err
	}
	baseValue, err = baseValue.Mul(weight)
	if err != nil {
		return acc, err
	}
	acc, err = acc.Add(baseValue)
	if err != nil {
		return acc, err
	}
	quote, err := s.NativePcTotal.Add(s.ReferrerRebates)
	if err != nil {
		return acc, err
	}
	return acc.Add(quote)
}

// perpHealth computes the worse of the bids-expand and asks-expand
// simulated positions, per spec.md §4.5: "compute simulated post-order
// base positions for bids-expand and asks-expand directions; take the
// worse."
func perpHealth(p PerpInput, wt Weighting) (fixedpoint.Fix, error) {
	bidsExpand := p.Account.BasePositionLots + p.Account.BidsQuantityLots
	asksExpand := p.Account.BasePositionLots - p.Account.AsksQuantityLots

	directionHealth := func(newBase int64) (fixedpoint.Fix, error) {
		weight := p.Weights.assetWeight(wt)
		if newBase < 0 {
			weight = p.Weights.liabWeight(wt)
		}
		newBaseFix := fixedpoint.FromInt64(newBase)
		valued, err := newBaseFix.Mul(p.Price)
		if err != nil {
			return fixedpoint.Zero, err
		}
		valued, err = valued.Mul(weight)
		if err != nil {
			return fixedpoint.Zero, err
		}
		baseChange := fixedpoint.FromInt64(newBase - p.Account.BasePositionLots)
		changeValue, err := baseChange.Mul(p.Price)
		if err != nil {
			return fixedpoint.Zero, err
		}
		h, err := valued.Sub(changeValue)
		if err != nil {
			return fixedpoint.Zero, err
		}
		return h.Add(p.Account.QuotePosition)
	}

	bidsHealth, err := directionHealth(bidsExpand)
	if err != nil {
		return fixedpoint.Zero, err
	}
	asksHealth, err := directionHealth(asksExpand)
	if err != nil {
		return fixedpoint.Zero, err
	}
	worse := fixedpoint.Min(bidsHealth, asksHealth)

	base := p.Account.BasePositionLots
	baseFix := fixedpoint.FromInt64(base)
	switch {
	case base > 0:
		delta, err := p.LongFunding.Sub(p.Account.LongSettledFunding)
		if err != nil {
			return fixedpoint.Zero, err
		}
		owed, err := delta.Mul(baseFix)
		if err != nil {
			return fixedpoint.Zero, err
		}
		return worse.Sub(owed)
	case base < 0:
		delta, err := p.ShortFunding.Sub(p.Account.ShortSettledFunding)
		if err != nil {
			return fixedpoint.Zero, err
		}
		owed, err := delta.Mul(baseFix)
		if err != nil {
			return fixedpoint.Zero, err
		}
		return worse.Sub(owed)
	default:
		return worse, nil
	}
}

// Health computes total account health under the given weighting
// (spec.md §4.5: "Health = Σ tokens + Σ perp markets − unrealized funding").
func Health(in Inputs, wt Weighting) (fixedpoint.Fix, error) {
	total := fixedpoint.Zero
	var err error
	for _, t := range in.Tokens {
		total, err = applyTokenLeg(total, t, wt)
		if err != nil {
			return fixedpoint.Zero, err
		}
	}
	for _, s := range in.SpotOrders {
		total, err = applySpotOrdersLeg(total, s, wt)
		if err != nil {
			return fixedpoint.Zero, err
		}
	}
	for _, p := range in.Perps {
		ph, err := perpHealth(p, wt)
		if err != nil {
			return fixedpoint.Zero, err
		}
		total, err = total.Add(ph)
		if err != nil {
			return fixedpoint.Zero, err
		}
	}
	return total, nil
}

// CheckHealthForInstruction implements spec.md §4.5's gating rule: "allow
// the mutation if either post_init_health >= 0 or post_init_health >=
// pre_init_health (health-improving actions pass even when unhealthy)."
func CheckHealthForInstruction(preInitHealth, postInitHealth fixedpoint.Fix) bool {
	if postInitHealth.Sign() >= 0 {
		return true
	}
	return postInitHealth.Gte(preInitHealth)
}
