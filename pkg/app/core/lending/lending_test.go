package lending

import (
	"testing"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
)

func mustFix(t *testing.T, f fixedpoint.Fix, err error) fixedpoint.Fix {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f
}

func TestNewBankStartsAtOne(t *testing.T) {
	half := mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(2)))
	b := New(half, fixedpoint.Zero, fixedpoint.Zero, 0)
	if !b.DepositIndex.Eq(fixedpoint.One) || !b.BorrowIndex.Eq(fixedpoint.One) {
		t.Fatalf("expected both indices to start at 1.0")
	}
}

func TestUpdateIndexIdempotentAtSameTimestamp(t *testing.T) {
	half := mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(2)))
	b := New(half, mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(10))), fixedpoint.One, 1000)
	b.Nodes = []NodeBank{{Deposits: fixedpoint.FromInt64(1000), Borrows: fixedpoint.FromInt64(500)}}

	if err := b.UpdateIndex(2000); err != nil {
		t.Fatalf("update: %v", err)
	}
	depositAfterFirst := b.DepositIndex
	borrowAfterFirst := b.BorrowIndex

	if err := b.UpdateIndex(2000); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !b.DepositIndex.Eq(depositAfterFirst) || !b.BorrowIndex.Eq(borrowAfterFirst) {
		t.Fatalf("repeated update at same now_ts should be a no-op")
	}
}

func TestUpdateIndexGrowsWithUtilization(t *testing.T) {
	half := mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(2)))
	tenPct := mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(10)))
	b := New(half, tenPct, fixedpoint.One, 0)
	b.Nodes = []NodeBank{{Deposits: fixedpoint.FromInt64(1000), Borrows: fixedpoint.FromInt64(800)}}

	if err := b.UpdateIndex(86400); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !b.BorrowIndex.Gt(fixedpoint.One) {
		t.Fatalf("borrow index should have grown above 1.0, got %v", b.BorrowIndex)
	}
	if !b.DepositIndex.Gt(fixedpoint.One) {
		t.Fatalf("deposit index should have grown above 1.0, got %v", b.DepositIndex)
	}
	if !b.BorrowIndex.Gt(b.DepositIndex) {
		t.Fatalf("borrow index growth should exceed deposit index growth when utilization < 1")
	}
}

func TestUpdateIndexZeroDepositsNoUtilization(t *testing.T) {
	half := mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(2)))
	b := New(half, fixedpoint.FromInt64(1), fixedpoint.FromInt64(2), 0)
	b.Nodes = []NodeBank{{Deposits: fixedpoint.Zero, Borrows: fixedpoint.Zero}}
	if err := b.UpdateIndex(3600); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !b.DepositIndex.Eq(fixedpoint.One) || !b.BorrowIndex.Eq(fixedpoint.One) {
		t.Fatalf("zero utilization should leave indices unchanged: deposit=%v borrow=%v", b.DepositIndex, b.BorrowIndex)
	}
}

func TestDepositBorrowRoundingDirection(t *testing.T) {
	b := New(mustFix(t, fixedpoint.FromInt64(1).Div(fixedpoint.FromInt64(2))), fixedpoint.Zero, fixedpoint.Zero, 0)
	b.DepositIndex = mustFix(t, fixedpoint.FromInt64(3).Div(fixedpoint.FromInt64(2))) // 1.5
	b.BorrowIndex = mustFix(t, fixedpoint.FromInt64(3).Div(fixedpoint.FromInt64(2)))
	b.Nodes = []NodeBank{{}}

	if _, err := b.Deposit(0, fixedpoint.FromInt64(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	native, err := b.NativeDeposits()
	if err != nil {
		t.Fatalf("native deposits: %v", err)
	}
	if native.Gt(fixedpoint.FromInt64(10)) {
		t.Fatalf("native deposits should round down from the static conversion, got %v", native)
	}

	if _, err := b.Borrow(0, fixedpoint.FromInt64(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	nativeBorrow, err := b.NativeBorrows()
	if err != nil {
		t.Fatalf("native borrows: %v", err)
	}
	if nativeBorrow.Lt(fixedpoint.FromInt64(10)) {
		t.Fatalf("native borrows should round up from the static conversion, got %v", nativeBorrow)
	}
}
