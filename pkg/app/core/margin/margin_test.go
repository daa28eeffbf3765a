package margin

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
)

func mustFromInt(i int64) fixedpoint.Fix { return fixedpoint.FromInt64(i) }

func TestReserveAndReleaseOrderSlot(t *testing.T) {
	a := New(common.HexToAddress("0x1"))
	slot, err := a.ReserveOrderSlot(100, 1, SideBid, 0, 42)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if a.OccupiedCount() != 1 {
		t.Fatalf("occupied count = %d, want 1", a.OccupiedCount())
	}
	if err := a.ReleaseOrderSlot(slot); err != nil {
		t.Fatalf("release: %v", err)
	}
	if a.OccupiedCount() != 0 {
		t.Fatalf("occupied count after release = %d, want 0", a.OccupiedCount())
	}
}

func TestReleaseEmptySlotErrors(t *testing.T) {
	a := New(common.HexToAddress("0x1"))
	if err := a.ReleaseOrderSlot(5); err != ErrSlotEmpty {
		t.Fatalf("expected ErrSlotEmpty, got %v", err)
	}
}

func TestAllSlotsFull(t *testing.T) {
	a := New(common.HexToAddress("0x1"))
	for i := 0; i < MaxOrderSlots; i++ {
		if _, err := a.ReserveOrderSlot(uint64(i), 0, SideBid, 0, uint64(i)); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if _, err := a.ReserveOrderSlot(999, 0, SideBid, 0, 999); err != ErrNoFreeSlot {
		t.Fatalf("expected ErrNoFreeSlot, got %v", err)
	}
}

func TestLiveSlotsFilterByMarketAndSide(t *testing.T) {
	a := New(common.HexToAddress("0x1"))
	a.ReserveOrderSlot(1, 0, SideBid, 0, 1)
	a.ReserveOrderSlot(2, 0, SideAsk, 0, 2)
	a.ReserveOrderSlot(3, 0, SideBid, 1, 3)

	bidsInMarket0 := a.LiveSlots(0, true, SideBid, true)
	if len(bidsInMarket0) != 1 {
		t.Fatalf("bids in market 0 = %v, want 1 slot", bidsInMarket0)
	}
	allInMarket0 := a.LiveSlots(0, true, SideBid, false)
	if len(allInMarket0) != 2 {
		t.Fatalf("all orders in market 0 = %v, want 2 slots", allInMarket0)
	}
}

func TestNetDeposit(t *testing.T) {
	a := New(common.HexToAddress("0x1"))
	a.TokenDeposits[0] = mustFromInt(10)
	a.TokenBorrows[0] = mustFromInt(3)
	net, err := a.NetDeposit(0)
	if err != nil {
		t.Fatalf("net deposit: %v", err)
	}
	if !net.Eq(mustFromInt(7)) {
		t.Fatalf("net deposit = %v, want 7", net)
	}
}
