package perpaccount

import (
	"testing"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
)

func TestApplyTakerFillBuy(t *testing.T) {
	a := New(fixedpoint.Zero, fixedpoint.Zero)
	if err := a.ApplyTakerFill(1, 10, 100); err != nil {
		t.Fatalf("ApplyTakerFill: %v", err)
	}
	if a.TakerBase != 10 {
		t.Fatalf("taker_base = %d, want 10", a.TakerBase)
	}
	if a.TakerQuote != -1000 {
		t.Fatalf("taker_quote = %d, want -1000", a.TakerQuote)
	}
}

func TestApplyTakerFillSell(t *testing.T) {
	a := New(fixedpoint.Zero, fixedpoint.Zero)
	if err := a.ApplyTakerFill(-1, 10, 100); err != nil {
		t.Fatalf("ApplyTakerFill: %v", err)
	}
	if a.TakerBase != -10 {
		t.Fatalf("taker_base = %d, want -10", a.TakerBase)
	}
	if a.TakerQuote != 1000 {
		t.Fatalf("taker_quote = %d, want 1000", a.TakerQuote)
	}
}

func TestConsumeTakerAccumulator(t *testing.T) {
	a := New(fixedpoint.Zero, fixedpoint.Zero)
	a.ApplyTakerFill(1, 10, 100)
	if err := a.ConsumeTakerAccumulator(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if a.BasePositionLots != 10 {
		t.Fatalf("base position = %d, want 10", a.BasePositionLots)
	}
	if a.TakerBase != 0 || a.TakerQuote != 0 {
		t.Fatalf("accumulator not cleared: base=%d quote=%d", a.TakerBase, a.TakerQuote)
	}
	want := fixedpoint.FromInt64(-1000)
	if !a.QuotePosition.Eq(want) {
		t.Fatalf("quote position = %v, want %v", a.QuotePosition, want)
	}
}

func TestAccrueFundingLong(t *testing.T) {
	a := New(fixedpoint.Zero, fixedpoint.Zero)
	a.BasePositionLots = 5
	longFunding := fixedpoint.FromInt64(2)
	if err := a.AccrueFunding(longFunding, fixedpoint.Zero); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	// delta = 2 - 0 = 2; owed = 2*5 = 10; quote -= 10
	want := fixedpoint.FromInt64(-10)
	if !a.QuotePosition.Eq(want) {
		t.Fatalf("quote position = %v, want %v", a.QuotePosition, want)
	}
	if !a.LongSettledFunding.Eq(longFunding) {
		t.Fatalf("long_settled_funding not advanced")
	}
}

func TestAccrueFundingFlatNoCharge(t *testing.T) {
	a := New(fixedpoint.Zero, fixedpoint.Zero)
	if err := a.AccrueFunding(fixedpoint.FromInt64(5), fixedpoint.FromInt64(3)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !a.QuotePosition.IsZero() {
		t.Fatalf("flat position should not be charged funding, got %v", a.QuotePosition)
	}
}

func TestReserveRelease(t *testing.T) {
	a := New(fixedpoint.Zero, fixedpoint.Zero)
	a.ReserveBid(5)
	a.ReserveAsk(3)
	if a.BidsQuantityLots != 5 || a.AsksQuantityLots != 3 {
		t.Fatalf("reserve mismatch: %+v", a)
	}
	a.ReleaseBid(2)
	if a.BidsQuantityLots != 3 {
		t.Fatalf("release mismatch: %d", a.BidsQuantityLots)
	}
}
