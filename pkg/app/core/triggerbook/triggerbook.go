// Package triggerbook implements trigger orders (spec.md §4.3, supplemented
// per SPEC_FULL.md §4): a per-MarginAccount bounded table of conditional
// orders that convert into a PerpBook order once a trigger price condition
// is met. Grounded on margin.Account's OrderSlot/bitset pattern, scaled
// down from 64 perp-order slots to the 32-slot trigger capacity, and on
// pkg/app/core/group.Config.TriggerOrderPenaltySeconds for the expiry
// clamp a converted order inherits.
package triggerbook

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/book"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpbook"
)

// MaxTriggerSlots is the per-account trigger-order capacity.
const MaxTriggerSlots = 32

// ErrNoFreeSlot is returned when all 32 trigger slots are occupied.
var ErrNoFreeSlot = errors.New("triggerbook: no free trigger slot")

// ErrSlotEmpty is returned when cancelling/reading an unoccupied slot.
var ErrSlotEmpty = errors.New("triggerbook: slot is not occupied")

// ErrNotTriggered is returned when ExecuteTrigger is called before the
// condition is actually met.
var ErrNotTriggered = errors.New("triggerbook: trigger condition not met")

// Condition selects whether a trigger fires on the oracle price rising
// above or falling below TriggerPrice.
type Condition uint8

const (
	ConditionAbove Condition = iota
	ConditionBelow
)

// TriggerOrder is one conditional order awaiting its price condition.
type TriggerOrder struct {
	MarketIndex   int
	Side          perpbook.Side
	TriggerPrice  fixedpoint.Fix
	Condition     Condition
	OrderType     book.OrderType // order type used once converted
	PriceLots     int64
	BaseQty       int64
	ClientOrderID uint64
	ExpiryTs      uint64

	// ReduceOnly mirrors perpbook.OrderInput.ReduceOnly (spec.md §4.3,
	// §6.2 instruction 43): "Reduce-only orders may only decrease the
	// absolute base position; any fill portion that would increase it is
	// rejected."
	ReduceOnly bool
}

// Book is the bounded table of trigger orders for one MarginAccount.
type Book struct {
	slots [MaxTriggerSlots]TriggerOrder
	free  *bitset.BitSet // 1 = free, 0 = occupied
}

// New returns an empty trigger book with all slots free.
func New() *Book {
	free := bitset.New(MaxTriggerSlots)
	for i := uint(0); i < MaxTriggerSlots; i++ {
		free.Set(i)
	}
	return &Book{free: free}
}

// Place reserves the lowest free slot for a new trigger order.
func (b *Book) Place(order TriggerOrder) (int, error) {
	slot, ok := b.free.NextSet(0)
	if !ok {
		return -1, ErrNoFreeSlot
	}
	b.free.Clear(slot)
	b.slots[slot] = order
	return int(slot), nil
}

// Cancel frees a previously placed trigger slot.
func (b *Book) Cancel(slot int) error {
	if b.free.Test(uint(slot)) {
		return ErrSlotEmpty
	}
	b.slots[slot] = TriggerOrder{}
	b.free.Set(uint(slot))
	return nil
}

// Get returns the trigger order at slot, and whether it is occupied.
func (b *Book) Get(slot int) (TriggerOrder, bool) {
	if b.free.Test(uint(slot)) {
		return TriggerOrder{}, false
	}
	return b.slots[slot], true
}

// ReadyToFire reports whether oraclePrice satisfies the trigger's condition.
func (t TriggerOrder) ReadyToFire(oraclePrice fixedpoint.Fix) bool {
	switch t.Condition {
	case ConditionAbove:
		return oraclePrice.Gte(t.TriggerPrice)
	case ConditionBelow:
		return oraclePrice.Lte(t.TriggerPrice)
	default:
		return false
	}
}

// ToOrderInput converts a fired trigger order into a perpbook.OrderInput,
// clamping its expiry the same way perpbook.tryPost clamps a directly
// placed order's expiry (now + penaltySeconds), so a converted trigger
// order doesn't rest indefinitely past the market's normal expiry policy.
func (t TriggerOrder) ToOrderInput(owner common.Address, ownerSlot uint8, nowTs uint64, penaltySeconds uint64, makerFeeRate, takerFeeRate int64) perpbook.OrderInput {
	expiry := t.ExpiryTs
	if expiry != 0 && expiry > nowTs+penaltySeconds {
		expiry = nowTs + penaltySeconds
	}
	return perpbook.OrderInput{
		Owner:        owner,
		OwnerSlot:    ownerSlot,
		Side:         t.Side,
		PriceLots:    t.PriceLots,
		BaseQty:      t.BaseQty,
		OrderType:    t.OrderType,
		ClientID:     t.ClientOrderID,
		ExpiryTs:     expiry,
		NowTs:        nowTs,
		MakerFeeRate: makerFeeRate,
		TakerFeeRate: takerFeeRate,
		ReduceOnly:   t.ReduceOnly,
	}
}

// ExecuteTrigger validates the condition is met and frees the trigger's
// slot, returning the order for the caller to place on the PerpBook. It
// does not perform the match itself — see Fire for the full fire-and-gate
// flow; this narrower form is kept for callers that only need the
// converted order (e.g. a dry-run or a caller assembling its own
// PlaceOrder call with extra instrumentation).
func (b *Book) ExecuteTrigger(slot int, oraclePrice fixedpoint.Fix) (TriggerOrder, error) {
	t, ok := b.Get(slot)
	if !ok {
		return TriggerOrder{}, ErrSlotEmpty
	}
	if !t.ReadyToFire(oraclePrice) {
		return TriggerOrder{}, ErrNotTriggered
	}
	if err := b.Cancel(slot); err != nil {
		return TriggerOrder{}, err
	}
	return t, nil
}

// Fire validates and executes a trigger order end to end: it frees the
// slot, places the converted order on market, and — when the order posts
// to the book rather than filling outright — applies spec.md §4.3's
// post-match gating rule. postInitHealth is supplied by the caller because
// computing it requires the account's full risk.Inputs (token and other
// perp legs), which this package has no way to assemble itself; it is
// only invoked when the order actually posted, since a fully-filled
// trigger has no resting position left to unwind.
//
// "If the resulting post-match health would be worse than pre-match
// init-health AND post-match init-health < 0, the trigger succeeds
// (freeing the slot) but the order is not added to the book."
func (b *Book) Fire(
	slot int,
	oraclePrice fixedpoint.Fix,
	market *perpbook.Market,
	owner common.Address,
	ownerSlot uint8,
	nowTs uint64,
	penaltySeconds uint64,
	makerFeeRate, takerFeeRate int64,
	marketIdx int,
	taker *perpaccount.Account,
	takerMargin *margin.Account,
	preInitHealth fixedpoint.Fix,
	postInitHealth func() (fixedpoint.Fix, error),
) (TriggerOrder, perpbook.PlaceResult, error) {
	t, err := b.ExecuteTrigger(slot, oraclePrice)
	if err != nil {
		return TriggerOrder{}, perpbook.PlaceResult{}, err
	}

	in := t.ToOrderInput(owner, ownerSlot, nowTs, penaltySeconds, makerFeeRate, takerFeeRate)
	result, err := market.PlaceOrder(in, taker, takerMargin, marketIdx)
	if err != nil {
		return t, perpbook.PlaceResult{}, err
	}

	if result.Posted && postInitHealth != nil {
		post, err := postInitHealth()
		if err != nil {
			return t, result, err
		}
		if post.Lt(preInitHealth) && post.Sign() < 0 {
			if err := market.CancelPosted(t.Side, result.PostedKey, result.PostedSlot, takerMargin); err != nil {
				return t, result, err
			}
			result.Posted = false
		}
	}

	return t, result, nil
}

// OccupiedCount reports how many of the 32 slots hold a trigger order.
func (b *Book) OccupiedCount() int {
	return MaxTriggerSlots - int(b.free.Count())
}
