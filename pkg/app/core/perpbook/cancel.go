package perpbook

import (
	"github.com/uhyunpark/hyperlicked/pkg/app/core/book"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
)

// CancelSideFilter selects which book side(s) cancel_all walks.
type CancelSideFilter struct {
	Side       Side
	FilterSide bool
}

// CancelAll walks the user's perp order slots for marketIdx (spec.md
// §4.2: "walks the user's perp order slots (bitset), removing the leaf
// for each live order on the matching market (and side, if specified)
// and freeing the slot, up to limit orders").
func (m *Market) CancelAll(acc *margin.Account, marketIdx int, filter CancelSideFilter, limit int, now uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := acc.LiveSlots(marketIdx, true, margin.Side(filter.Side), filter.FilterSide)
	cancelled := 0
	for _, slotIdx := range slots {
		if cancelled >= limit {
			break
		}
		slot := acc.Orders[slotIdx]
		key := book.Key{Hi: slot.Key[0], Lo: slot.Key[1]}
		side := Side(slot.Side)
		restingSide := m.sideBook(side)

		leaf, err := restingSide.RemoveByKey(key)
		if err != nil {
			if err == book.ErrNotFound {
				// Already matched/expired out from under the account; just
				// free the slot so the bitset stays accurate.
				if relErr := acc.ReleaseOrderSlot(slotIdx); relErr != nil {
					return cancelled, relErr
				}
				cancelled++
				continue
			}
			return cancelled, err
		}
		m.pushOut(leaf, side, now)
		if err := acc.ReleaseOrderSlot(slotIdx); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

func (m *Market) sideBook(s Side) *book.Side {
	if s == SideBid {
		return m.Bids
	}
	return m.Asks
}

// CancelAllWithIncentives behaves like CancelAll but additionally credits
// mngo_accrued on the user's PerpAccount for each removed order (spec.md
// §4.2 cancel_all_with_incentives).
func (m *Market) CancelAllWithIncentives(acc *margin.Account, perpAcc *perpaccount.Account, marketIdx int, filter CancelSideFilter, limit int, now uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := acc.LiveSlots(marketIdx, true, margin.Side(filter.Side), filter.FilterSide)
	cancelled := 0
	for _, slotIdx := range slots {
		if cancelled >= limit {
			break
		}
		slot := acc.Orders[slotIdx]
		key := book.Key{Hi: slot.Key[0], Lo: slot.Key[1]}
		side := Side(slot.Side)
		restingSide := m.sideBook(side)

		leaf, err := restingSide.RemoveByKey(key)
		if err != nil {
			if err == book.ErrNotFound {
				if relErr := acc.ReleaseOrderSlot(slotIdx); relErr != nil {
					return cancelled, relErr
				}
				cancelled++
				continue
			}
			return cancelled, err
		}

		bestFinal := leaf.BestInitial
		if side == SideBid {
			if _, best, ok := m.Bids.FindMax(); ok {
				bestFinal = int64(best.Key.PriceLots())
			}
		} else {
			if _, best, ok := m.Asks.FindMin(); ok {
				bestFinal = int64(best.Key.PriceLots())
			}
		}

		dwell := uint64(0)
		if now > leaf.Timestamp {
			dwell = now - leaf.Timestamp
		}
		credit := m.IncentiveFn(m.Incentives, dwell, leaf.BestInitial, bestFinal, int64(leaf.Key.PriceLots()), leaf.QuantityLots)
		perpAcc.MngoAccrued += credit

		m.pushOut(leaf, side, now)
		if err := acc.ReleaseOrderSlot(slotIdx); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}
