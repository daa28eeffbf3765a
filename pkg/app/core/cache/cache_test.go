package cache

import (
	"testing"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
)

func TestPriceFreshAndStale(t *testing.T) {
	c := New(60)
	c.SetPrice(0, fixedpoint.FromInt64(100), 1000)

	if _, err := c.Price(0, 1030); err != nil {
		t.Fatalf("expected fresh read, got %v", err)
	}
	if _, err := c.Price(0, 1061); err != ErrStale {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestPriceNotFound(t *testing.T) {
	c := New(60)
	if _, err := c.Price(5, 1000); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRootBankAndPerpMarketFreshness(t *testing.T) {
	c := New(10)
	c.SetRootBank(1, fixedpoint.One, fixedpoint.One, 100)
	c.SetPerpMarket(2, fixedpoint.Zero, fixedpoint.Zero, 100)

	if _, err := c.RootBank(1, 109); err != nil {
		t.Fatalf("root bank should be fresh: %v", err)
	}
	if _, err := c.RootBank(1, 111); err != ErrStale {
		t.Fatalf("expected stale root bank, got %v", err)
	}
	if _, err := c.PerpMarket(2, 110); err != nil {
		t.Fatalf("perp market at exact boundary should be fresh: %v", err)
	}
}
