// Package perpaccount implements the per-market, per-user perpetual
// futures position (spec.md §3 PerpAccount), grounded on the teacher's
// Market struct (pkg/app/core/market.go): a plain data-holder struct with
// small mutating methods, no embedded locking — callers serialize access
// (here, the MarginAccount that owns it, itself single-writer per
// instruction per spec.md §5).
package perpaccount

import "github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"

// Account is one user's position in one perp market.
type Account struct {
	BasePositionLots int64
	QuotePosition    fixedpoint.Fix

	LongSettledFunding  fixedpoint.Fix
	ShortSettledFunding fixedpoint.Fix

	BidsQuantityLots int64
	AsksQuantityLots int64

	TakerBase  int64
	TakerQuote int64

	MngoAccrued uint64
}

// New returns a zeroed account with funding snapshots at the market's
// current indices (spec.md §3: "funding index snapshots at last
// accounting change" — a freshly opened position has no accrued delta).
func New(longFunding, shortFunding fixedpoint.Fix) Account {
	return Account{
		LongSettledFunding:  longFunding,
		ShortSettledFunding: shortFunding,
	}
}

// ApplyTakerFill folds a matched quantity into the taker accumulator
// (spec.md §4.2 step 5: "Accumulate on taker's PerpAccount: taker_base +=
// m, taker_quote -= m * best_ask.price"). side is +1 for a buy (bid) fill,
// -1 for a sell (ask) fill; m and priceLots are always non-negative. Both
// fields are plain lot counts (spec.md §3: "taker_base, taker_quote : i64
// (lots)"), so the accumulation is ordinary checked-by-range int64 math,
// not Fix arithmetic.
func (a *Account) ApplyTakerFill(side int64, m int64, priceLots int64) error {
	a.TakerBase += side * m
	a.TakerQuote -= side * m * priceLots
	return nil
}

// ConsumeTakerAccumulator folds the taker_base/taker_quote deltas into the
// settled position and zeroes the accumulator — called by the consume_events
// crank once the corresponding Fill has been fully applied (spec.md §5:
// "consume_events is exactly-once").
func (a *Account) ConsumeTakerAccumulator() error {
	a.BasePositionLots += a.TakerBase
	q, err := a.QuotePosition.Add(fixedpoint.FromInt64(a.TakerQuote))
	if err != nil {
		return err
	}
	a.QuotePosition = q
	a.TakerBase = 0
	a.TakerQuote = 0
	return nil
}

// ReserveBid/ReserveAsk track resting size so a reduce-only check or
// health computation can account for open-order exposure without walking
// the book (spec.md §3 "bids_quantity_lots, asks_quantity_lots").
func (a *Account) ReserveBid(qty int64) { a.BidsQuantityLots += qty }
func (a *Account) ReserveAsk(qty int64) { a.AsksQuantityLots += qty }
func (a *Account) ReleaseBid(qty int64) { a.BidsQuantityLots -= qty }
func (a *Account) ReleaseAsk(qty int64) { a.AsksQuantityLots -= qty }

// AccrueFunding settles the running funding index against the position
// and advances the snapshot, per spec.md §4.5's unrealized-funding
// subtraction made permanent: "if base > 0: (long_funding -
// long_settled_funding) * base; if base < 0: (short_funding -
// short_settled_funding) * base".
func (a *Account) AccrueFunding(longFunding, shortFunding fixedpoint.Fix) error {
	base := a.BasePositionLots
	switch {
	case base > 0:
		delta, err := longFunding.Sub(a.LongSettledFunding)
		if err != nil {
			return err
		}
		owed, err := delta.Mul(fixedpoint.FromInt64(base))
		if err != nil {
			return err
		}
		q, err := a.QuotePosition.Sub(owed)
		if err != nil {
			return err
		}
		a.QuotePosition = q
		a.LongSettledFunding = longFunding
	case base < 0:
		delta, err := shortFunding.Sub(a.ShortSettledFunding)
		if err != nil {
			return err
		}
		owed, err := delta.Mul(fixedpoint.FromInt64(base))
		if err != nil {
			return err
		}
		q, err := a.QuotePosition.Sub(owed)
		if err != nil {
			return err
		}
		a.QuotePosition = q
		a.ShortSettledFunding = shortFunding
	default:
		a.LongSettledFunding = longFunding
		a.ShortSettledFunding = shortFunding
	}
	return nil
}
