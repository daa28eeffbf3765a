package risk

import (
	"testing"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
)

func weights(asset, liab fixedpoint.Fix) TokenWeights {
	return TokenWeights{
		AssetWeightMaint: asset,
		LiabWeightMaint:  liab,
		AssetWeightInit:  asset,
		LiabWeightInit:   liab,
	}
}

func TestHealthTokenDepositPositive(t *testing.T) {
	in := Inputs{
		Tokens: []TokenInput{
			{
				TokenIndex: 0,
				NetNative:  fixedpoint.FromInt64(100),
				Price:      fixedpoint.One,
				Weights:    weights(fixedpoint.FromInt64(1), fixedpoint.FromInt64(1)),
			},
		},
	}
	h, err := Health(in, Maint)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !h.Eq(fixedpoint.FromInt64(100)) {
		t.Fatalf("health = %v, want 100", h)
	}
}

func TestHealthTokenBorrowNegative(t *testing.T) {
	in := Inputs{
		Tokens: []TokenInput{
			{
				TokenIndex: 0,
				NetNative:  fixedpoint.FromInt64(-50),
				Price:      fixedpoint.One,
				Weights:    weights(fixedpoint.FromInt64(1), fixedpoint.FromInt64(2)),
			},
		},
	}
	h, err := Health(in, Maint)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	// borrow uses liab_weight=2: -50 * 1 * 2 = -100
	if !h.Eq(fixedpoint.FromInt64(-100)) {
		t.Fatalf("health = %v, want -100", h)
	}
}

func TestCheckHealthForInstructionAllowsHealthImproving(t *testing.T) {
	pre := fixedpoint.FromInt64(-100)
	post := fixedpoint.FromInt64(-50)
	if !CheckHealthForInstruction(pre, post) {
		t.Fatalf("health-improving action under water should be allowed")
	}
}

func TestCheckHealthForInstructionRejectsWorsening(t *testing.T) {
	pre := fixedpoint.FromInt64(-10)
	post := fixedpoint.FromInt64(-20)
	if CheckHealthForInstruction(pre, post) {
		t.Fatalf("worsening negative health should be rejected")
	}
}

func TestCheckHealthForInstructionAllowsNonNegativePost(t *testing.T) {
	pre := fixedpoint.FromInt64(5)
	post := fixedpoint.Zero
	if !CheckHealthForInstruction(pre, post) {
		t.Fatalf("post_init_health >= 0 should always be allowed")
	}
}

func TestPerpHealthFlatPosition(t *testing.T) {
	acc := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	p := PerpInput{
		Account: &acc,
		Price:   fixedpoint.FromInt64(10),
		Weights: weights(fixedpoint.FromInt64(1), fixedpoint.FromInt64(1)),
	}
	in := Inputs{Perps: []PerpInput{p}}
	h, err := Health(in, Init)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !h.IsZero() {
		t.Fatalf("flat perp account should contribute zero health, got %v", h)
	}
}
