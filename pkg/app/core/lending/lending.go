// Package lending implements the LendingBank deposit/borrow index accrual
// model (spec.md §4.4), grounded on the teacher's params.Config layer
// (params/config.go) for the shape of a small parameter struct loaded once
// and read by value thereafter, and on pkg/app/core/market.go for the
// per-token/per-market constant-parameter pattern this mirrors.
package lending

import (
	"errors"

	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"go.uber.org/zap"
)

// ErrNegativeElapsed is returned when now precedes last_updated.
var ErrNegativeElapsed = errors.New("lending: now precedes last_updated")

// NodeBank is a child bank holding aggregate static-unit deposits/borrows
// (spec.md §3: `Children "node banks" holding aggregate deposits, borrows`).
type NodeBank struct {
	Deposits fixedpoint.Fix
	Borrows  fixedpoint.Fix
}

// Bank is one token's LendingBank: accrual indices plus the interest-rate
// curve parameters (spec.md §3 LendingBank, §4.4 update_index).
type Bank struct {
	DepositIndex fixedpoint.Fix
	BorrowIndex  fixedpoint.Fix

	OptimalUtil fixedpoint.Fix
	OptimalRate fixedpoint.Fix
	MaxRate     fixedpoint.Fix

	LastUpdated uint64

	Nodes []NodeBank

	// Logger receives index-overflow warnings from UpdateIndex. Nil-safe,
	// and excluded from persisted snapshots (pkg/app/core/storage).
	Logger *zap.SugaredLogger `json:"-"`
}

// New returns a Bank with both indices at 1.0, per spec.md §3: "initially 1.0".
func New(optimalUtil, optimalRate, maxRate fixedpoint.Fix, now uint64) *Bank {
	return &Bank{
		DepositIndex: fixedpoint.One,
		BorrowIndex:  fixedpoint.One,
		OptimalUtil:  optimalUtil,
		OptimalRate:  optimalRate,
		MaxRate:      maxRate,
		LastUpdated:  now,
	}
}

// aggregateStatic sums static-unit deposits/borrows across all node banks.
func (b *Bank) aggregateStatic() (fixedpoint.Fix, fixedpoint.Fix, error) {
	deposits := fixedpoint.Zero
	borrows := fixedpoint.Zero
	var err error
	for _, n := range b.Nodes {
		deposits, err = deposits.Add(n.Deposits)
		if err != nil {
			return fixedpoint.Zero, fixedpoint.Zero, err
		}
		borrows, err = borrows.Add(n.Borrows)
		if err != nil {
			return fixedpoint.Zero, fixedpoint.Zero, err
		}
	}
	return deposits, borrows, nil
}

// NativeDeposits returns Σ node_bank.deposits · deposit_index, rounded
// down (spec.md §4.4: "native deposit uses floor").
func (b *Bank) NativeDeposits() (fixedpoint.Fix, error) {
	deposits, _, err := b.aggregateStatic()
	if err != nil {
		return fixedpoint.Zero, err
	}
	return deposits.Mul(b.DepositIndex)
}

// NativeBorrows returns Σ node_bank.borrows · borrow_index, rounded up
// (spec.md §4.4: "native borrow uses ceil").
func (b *Bank) NativeBorrows() (fixedpoint.Fix, error) {
	_, borrows, err := b.aggregateStatic()
	if err != nil {
		return fixedpoint.Zero, err
	}
	return borrows.MulCeil(b.BorrowIndex)
}

// interestRate computes the per-second rate for the given utilization
// (spec.md §4.4 step 2's two-segment curve).
func (b *Bank) interestRate(util fixedpoint.Fix) (fixedpoint.Fix, error) {
	if util.Lte(b.OptimalUtil) {
		if b.OptimalUtil.IsZero() {
			return fixedpoint.Zero, nil
		}
		ratio, err := b.OptimalRate.Div(b.OptimalUtil)
		if err != nil {
			return fixedpoint.Zero, err
		}
		return ratio.Mul(util)
	}
	excessUtil, err := util.Sub(b.OptimalUtil)
	if err != nil {
		return fixedpoint.Zero, err
	}
	slopeRange, err := b.MaxRate.Sub(b.OptimalRate)
	if err != nil {
		return fixedpoint.Zero, err
	}
	utilRange, err := fixedpoint.One.Sub(b.OptimalUtil)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if utilRange.IsZero() {
		return b.MaxRate, nil
	}
	slope, err := slopeRange.Mul(excessUtil)
	if err != nil {
		return fixedpoint.Zero, err
	}
	slope, err = slope.Div(utilRange)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return b.OptimalRate.Add(slope)
}

// UpdateIndex advances deposit_index/borrow_index to now (spec.md §4.4
// update_index, steps 1-4). Calling it twice with the same now is a no-op
// (dt == 0), satisfying the idempotence property in spec.md §5.
func (b *Bank) UpdateIndex(now uint64) error {
	if now < b.LastUpdated {
		return ErrNegativeElapsed
	}
	dt := now - b.LastUpdated
	if dt == 0 {
		return nil
	}

	nativeDeposits, err := b.NativeDeposits()
	if err != nil {
		return err
	}
	nativeBorrows, err := b.NativeBorrows()
	if err != nil {
		return err
	}

	util := fixedpoint.Zero
	if !nativeDeposits.IsZero() {
		util, err = nativeBorrows.Div(nativeDeposits)
		if err != nil {
			return err
		}
	}

	rate, err := b.interestRate(util)
	if err != nil {
		return err
	}

	borrowGrowth, err := rate.Mul(fixedpoint.FromInt64(int64(dt)))
	if err != nil {
		return err
	}
	depositGrowth, err := borrowGrowth.Mul(util)
	if err != nil {
		return err
	}

	onePlusBorrow, err := fixedpoint.One.Add(borrowGrowth)
	if err != nil {
		return err
	}
	onePlusDeposit, err := fixedpoint.One.Add(depositGrowth)
	if err != nil {
		return err
	}

	b.BorrowIndex, err = b.BorrowIndex.Mul(onePlusBorrow)
	if err != nil {
		if b.Logger != nil {
			b.Logger.Warnw("lending_index_overflow", "index", "borrow", "err", err)
		}
		return err
	}
	b.DepositIndex, err = b.DepositIndex.Mul(onePlusDeposit)
	if err != nil {
		if b.Logger != nil {
			b.Logger.Warnw("lending_index_overflow", "index", "deposit", "err", err)
		}
		return err
	}
	b.LastUpdated = now
	return nil
}

// Deposit credits a depositor's static-unit balance on node index idx for
// a given native amount, converting via the current deposit_index
// (floor, so the protocol never over-credits static units for a native
// deposit).
func (b *Bank) Deposit(idx int, nativeAmount fixedpoint.Fix) (fixedpoint.Fix, error) {
	staticAmount, err := nativeAmount.Div(b.DepositIndex)
	if err != nil {
		return fixedpoint.Zero, err
	}
	b.Nodes[idx].Deposits, err = b.Nodes[idx].Deposits.Add(staticAmount)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return staticAmount, nil
}

// Borrow debits a borrower's static-unit balance for a given native
// amount, converting via the current borrow_index (ceil, so the protocol
// never under-books what a borrower owes).
func (b *Bank) Borrow(idx int, nativeAmount fixedpoint.Fix) (fixedpoint.Fix, error) {
	staticAmount, err := nativeAmount.DivCeil(b.BorrowIndex)
	if err != nil {
		return fixedpoint.Zero, err
	}
	b.Nodes[idx].Borrows, err = b.Nodes[idx].Borrows.Add(staticAmount)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return staticAmount, nil
}
