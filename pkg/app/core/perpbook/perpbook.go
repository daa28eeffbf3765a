// Package perpbook implements the PerpBook matching engine: a pair of
// CritBookSides plus the order-type price-adjustment table and matching
// loop (spec.md §4.2), grounded on the teacher's pkg/app/core/orderbook
// package for the overall shape of a mutex-guarded matching engine with a
// Fill/eviction vocabulary, re-expressed over the critbit book package
// instead of the teacher's heap+map price-level structure.
package perpbook

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/book"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/events"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
	"go.uber.org/zap"
)

// errPostOnlyWouldCross is not returned by any path: a post-only order that
// would cross ends PlaceOrder with a nil error and Skipped set instead.
var errPostOnlyWouldCross = errors.New("perpbook: post-only would cross")

// Side mirrors book.Key's two sort orders.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

// IncentiveParams are the market-configured knobs cancel_all_with_incentives
// feeds into IncentiveFormula (spec.md §4.2: "a market-parameterized
// formula (not reproduced here; treat as a pure function...)").
type IncentiveParams struct {
	Rate               fixedpoint.Fix
	MaxDepthBps        fixedpoint.Fix
	TargetPeriodLength uint64
	MngoPerPeriod      fixedpoint.Fix
	Exp                fixedpoint.Fix
	LmSizeShift        uint8
}

// IncentiveFormula computes the mngo_accrued credit for one cancelled
// resting order, given its dwell time and price distance from the best
// price at placement vs. at cancellation. It is a pluggable func type so
// markets (or tests) can swap in a different curve without touching the
// cancellation walk itself.
type IncentiveFormula func(params IncentiveParams, dwellSeconds uint64, bestInitial, bestFinal, orderPrice, qtyLots int64) uint64

// DefaultIncentiveFormula is a straightforward dwell-time-times-depth
// curve: MngoPerPeriod times the order's distance from the current best
// price (|bestFinal - orderPrice| / |bestInitial|, capped at 1), times the
// dwell time as a fraction of TargetPeriodLength (capped at 1), times the
// order's size in lots. Rate, MaxDepthBps, Exp and LmSizeShift are not read.
func DefaultIncentiveFormula(p IncentiveParams, dwellSeconds uint64, bestInitial, bestFinal, orderPrice, qtyLots int64) uint64 {
	if p.TargetPeriodLength == 0 {
		return 0
	}
	depth := bestFinal - orderPrice
	if depth < 0 {
		depth = -depth
	}
	maxDepth := bestInitial
	if maxDepth < 0 {
		maxDepth = -maxDepth
	}
	if maxDepth == 0 {
		return 0
	}
	depthFraction := fixedpoint.FromInt64(depth)
	maxDepthFix := fixedpoint.FromInt64(maxDepth)
	frac, err := depthFraction.Div(maxDepthFix)
	if err != nil {
		return 0
	}
	if frac.Gt(fixedpoint.One) {
		frac = fixedpoint.One
	}
	share, err := p.MngoPerPeriod.Mul(frac)
	if err != nil {
		return 0
	}
	timeShare, err := fixedpoint.FromInt64(int64(dwellSeconds)).Div(fixedpoint.FromInt64(int64(p.TargetPeriodLength)))
	if err != nil {
		return 0
	}
	if timeShare.Gt(fixedpoint.One) {
		timeShare = fixedpoint.One
	}
	share, err = share.Mul(timeShare)
	if err != nil {
		return 0
	}
	qtyScale := fixedpoint.FromInt64(qtyLots)
	share, err = share.Mul(qtyScale)
	if err != nil {
		return 0
	}
	if share.Sign() <= 0 {
		return 0
	}
	return uint64(share.Floor().Float64())
}

// Market is one PerpBook's full matching state (spec.md §3 PerpMarket:
// "bids-ref, asks-ref, event-queue-ref, current long_funding,
// short_funding, last_updated, seq_num, contract_size, quote_lot_size,
// incentive params").
type Market struct {
	mu sync.Mutex

	Bids   *book.Side
	Asks   *book.Side
	Events *events.Queue

	LongFunding  fixedpoint.Fix
	ShortFunding fixedpoint.Fix
	LastUpdated  uint64
	SeqNum       uint64

	ContractSize  int64
	QuoteLotSize  int64
	Incentives    IncentiveParams
	IncentiveFn   IncentiveFormula

	// FeesAccrued is the running pool of quote collected from matched fills
	// (spec.md §4.7 settle_fees: "bounded by fees_accrued on the market").
	// FeeVaultBalance is where settle_fees sweeps an account's share of it.
	FeesAccrued     fixedpoint.Fix
	FeeVaultBalance fixedpoint.Fix

	// OneSidedFundingPenalty is the fixed premium magnitude update_funding
	// falls back to when only one side of the book is present (spec.md
	// §4.7: "premium defaults to a fixed one-sided penalty magnitude with
	// the sign of the missing side").
	OneSidedFundingPenalty fixedpoint.Fix

	// Logger receives book-full eviction and matching anomalies. Nil-safe:
	// a zero-value Market logs nothing.
	Logger *zap.SugaredLogger
}

func (m *Market) logw(msg string, kv ...interface{}) {
	if m.Logger != nil {
		m.Logger.Infow(msg, kv...)
	}
}

// NewMarket allocates a market with both sides sized to capacity and an
// event queue sized to eventCapacity.
func NewMarket(capacity uint32, eventCapacity int) *Market {
	return &Market{
		Bids:        book.NewSide(capacity),
		Asks:        book.NewSide(capacity),
		Events:      events.NewQueue(eventCapacity),
		IncentiveFn: DefaultIncentiveFormula,
	}
}

// OrderInput is an incoming order (spec.md §4.2: "(side, price_lots,
// base_qty, order_type, client_id, expiry_ts, limit_fills)").
type OrderInput struct {
	Owner         common.Address
	OwnerSlot     uint8
	Side          Side
	PriceLots     int64
	BaseQty       int64
	OrderType     book.OrderType
	ClientID      uint64
	ExpiryTs      uint64
	LimitFills    int
	NowTs         uint64
	MakerFeeRate  int64
	TakerFeeRate  int64

	// ReduceOnly restricts fills to whatever portion would not increase
	// the taker's |base_position| (spec.md §4.2, §4.3, §6.2 instructions
	// 12/43/64): any match that would push the position further from zero
	// is dropped instead of filled.
	ReduceOnly bool
}

// PlaceResult reports the taker-side outcome of PlaceOrder.
type PlaceResult struct {
	RemainingQty int64
	Posted       bool
	PostedHandle book.NodeHandle
	PostedKey    book.Key
	PostedSlot   int // margin.Account order slot backing PostedHandle when Posted; -1 if posted without a margin account
	Skipped      bool // post-only skipped due to crossing
}

func priceAttrs(ot book.OrderType) (postOnly bool, postAllowed bool) {
	switch ot {
	case book.OrderTypeLimit:
		return false, true
	case book.OrderTypeImmediateOrCancel:
		return false, false
	case book.OrderTypePostOnly:
		return true, true
	case book.OrderTypeMarket:
		return false, false
	case book.OrderTypePostOnlySlide:
		return true, true
	default:
		return false, true
	}
}

// effectivePrice implements spec.md §4.2's price-adjustment table.
func (m *Market) effectivePrice(in OrderInput) int64 {
	switch in.OrderType {
	case book.OrderTypeMarket:
		if in.Side == SideBid {
			return int64(1)<<62 - 1
		}
		return 0
	case book.OrderTypePostOnlySlide:
		if in.Side == SideBid {
			if _, best, ok := m.Asks.FindMin(); ok {
				bestAskMinusOne := best.Key.PriceLots() - 1
				if in.PriceLots < int64(bestAskMinusOne) {
					return in.PriceLots
				}
				return int64(bestAskMinusOne)
			}
			return in.PriceLots
		}
		if _, best, ok := m.Bids.FindMax(); ok {
			bestBidPlusOne := best.Key.PriceLots() + 1
			if in.PriceLots > int64(bestBidPlusOne) {
				return in.PriceLots
			}
			return int64(bestBidPlusOne)
		}
		return in.PriceLots
	default:
		return in.PriceLots
	}
}

// PlaceOrder runs the full matching loop for one incoming order (spec.md
// §4.2's "Matching loop (bid side; ask symmetric)"), applying fills to
// the taker's PerpAccount and posting any remainder per the order's
// post_only/post_allowed attributes.
func (m *Market) PlaceOrder(in OrderInput, taker *perpaccount.Account, takerMargin *margin.Account, marketIdx int) (PlaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	postOnly, postAllowed := priceAttrs(in.OrderType)
	givenPrice := m.effectivePrice(in)

	rem := in.BaseQty
	limitFills := in.LimitFills
	if limitFills <= 0 {
		limitFills = 1 << 30
	}

	takerSide := int64(1)
	if in.Side == SideAsk {
		takerSide = -1
	}

	restingSide := m.Asks
	if in.Side == SideAsk {
		restingSide = m.Bids
	}

	for rem > 0 && limitFills > 0 {
		h, best, ok := bestForSide(restingSide, in.Side)
		if !ok {
			break
		}

		if best.ExpiryTs != 0 && in.NowTs > best.ExpiryTs {
			evicted, err := restingSide.RemoveByKey(best.Key)
			if err != nil {
				return PlaceResult{}, err
			}
			m.pushOut(evicted, in.Side.opposite(), in.NowTs)
			continue
		}

		crosses := best.Key.PriceLots() <= uint64(givenPrice)
		if in.Side == SideAsk {
			crosses = best.Key.PriceLots() >= uint64(givenPrice)
		}
		if !crosses {
			break
		}

		if postOnly {
			return PlaceResult{RemainingQty: rem, Skipped: true}, nil
		}

		matchQty := min64(rem, best.QuantityLots)

		if in.ReduceOnly {
			effectiveBase := taker.BasePositionLots + taker.TakerBase
			room := -effectiveBase * takerSide
			if room <= 0 {
				// This fill would push the position further from zero
				// (or it's already flat/crossed); reduce-only drops it
				// entirely and the taker stops matching.
				break
			}
			if matchQty > room {
				matchQty = room
			}
		}

		rem -= matchQty
		best.QuantityLots -= matchQty
		restingSide.MutateQuantity(h, best.QuantityLots)

		if err := taker.ApplyTakerFill(takerSide, matchQty, int64(best.Key.PriceLots())); err != nil {
			return PlaceResult{}, err
		}

		m.Events.PushFill(events.Fill{
			Maker:         best.Owner,
			Taker:         in.Owner,
			MarketIndex:   marketIdx,
			MakerSlot:     best.OwnerSlot,
			TakerSlot:     in.OwnerSlot,
			MakerOrderID:  best.ClientOrderID,
			TakerOrderID:  in.ClientID,
			PriceLots:     int64(best.Key.PriceLots()),
			QuantityLots:  matchQty,
			MakerFeeRate:  in.MakerFeeRate,
			TakerFeeRate:  in.TakerFeeRate,
			Timestamp:     in.NowTs,
			MakerBestInit: best.BestInitial,
			TakerSide:     uint8(in.Side),
		})

		notional := matchQty * int64(best.Key.PriceLots())
		if feeAmount := notional * (in.MakerFeeRate + in.TakerFeeRate) / 10000; feeAmount != 0 {
			if err := m.creditFeesLocked(fixedpoint.FromInt64(feeAmount)); err != nil {
				return PlaceResult{}, err
			}
		}

		if best.QuantityLots == 0 {
			if _, err := restingSide.RemoveByKey(best.Key); err != nil {
				return PlaceResult{}, err
			}
		}
		if in.ReduceOnly && taker.BasePositionLots+taker.TakerBase == 0 {
			// Flat: any further match would start increasing |base|.
			break
		}
		limitFills--
	}

	result := PlaceResult{RemainingQty: rem}
	if rem > 0 && postAllowed {
		posted, err := m.tryPost(in, rem, givenPrice, marketIdx, takerMargin)
		if err != nil {
			return PlaceResult{}, err
		}
		result = posted
	}
	return result, nil
}

func (s Side) opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

func bestForSide(s *book.Side, takerSide Side) (book.NodeHandle, *book.Leaf, bool) {
	// The resting side opposite a bid taker is the ask side, whose best is
	// its minimum key; opposite an ask taker it's the bid side, whose best
	// is its maximum key (spec.md §3 BookKey construction).
	if takerSide == SideBid {
		return s.FindMin()
	}
	return s.FindMax()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (m *Market) pushOut(l book.Leaf, side Side, now uint64) {
	m.Events.PushOut(events.Out{
		Owner:        l.Owner,
		OwnerSlot:    l.OwnerSlot,
		Side:         uint8(side),
		QuantityLots: l.QuantityLots,
		OrderID:      l.ClientOrderID,
		Timestamp:    now,
	})
}

// tryPost implements spec.md §4.2's post-trade posting step: eviction on a
// full improving order, best_initial capture, and order-slot reservation.
func (m *Market) tryPost(in OrderInput, rem int64, price int64, marketIdx int, acc *margin.Account) (PlaceResult, error) {
	postSide := m.Bids
	if in.Side == SideAsk {
		postSide = m.Asks
	}

	var bestInitial int64
	if in.Side == SideBid {
		if _, best, ok := m.Bids.FindMax(); ok {
			bestInitial = int64(best.Key.PriceLots())
		} else {
			bestInitial = price
		}
	} else {
		if _, best, ok := m.Asks.FindMin(); ok {
			bestInitial = int64(best.Key.PriceLots())
		} else {
			bestInitial = price
		}
	}

	if postSide.IsFull() {
		worstHandle, worst, ok := worstOnSide(postSide, in.Side)
		if !ok {
			return PlaceResult{RemainingQty: rem}, nil
		}
		improves := price > int64(worst.Key.PriceLots())
		if in.Side == SideAsk {
			improves = price < int64(worst.Key.PriceLots())
		}
		if !improves {
			return PlaceResult{RemainingQty: rem}, nil
		}
		evicted, err := postSide.RemoveByKey(worst.Key)
		if err != nil {
			return PlaceResult{}, err
		}
		m.pushOut(evicted, in.Side, in.NowTs)
		m.logw("book_full_eviction", "side", in.Side, "evicted_owner", evicted.Owner.Hex(), "evicted_price_lots", evicted.Key.PriceLots(), "incoming_price_lots", price)
		_ = worstHandle
	}

	expiry := in.ExpiryTs
	if expiry != 0 && expiry > in.NowTs+255 {
		expiry = in.NowTs + 255
	}

	var key book.Key
	if in.Side == SideBid {
		key = book.NewBidKey(uint64(price), m.SeqNum)
	} else {
		key = book.NewAskKey(uint64(price), m.SeqNum)
	}
	m.SeqNum++

	leaf := book.Leaf{
		Owner:         in.Owner,
		OwnerSlot:     in.OwnerSlot,
		Key:           key,
		QuantityLots:  rem,
		ClientOrderID: in.ClientID,
		Timestamp:     in.NowTs,
		BestInitial:   bestInitial,
		OrderType:     in.OrderType,
		ExpiryTs:      expiry,
	}

	handle, _, err := postSide.InsertLeaf(leaf)
	if err != nil {
		return PlaceResult{RemainingQty: rem}, nil // side full and order didn't improve: silently dropped per spec.md §4.1
	}

	slot := -1
	if acc != nil {
		sideMargin := margin.SideBid
		if in.Side == SideAsk {
			sideMargin = margin.SideAsk
		}
		reserved, err := acc.ReserveOrderSlot(key.Hi, key.Lo, sideMargin, marketIdx, in.ClientID)
		if err != nil {
			// No free slot: unwind the just-posted leaf rather than leave an
			// order on the book the account can't track for cancellation.
			postSide.RemoveByKey(key)
			return PlaceResult{}, err
		}
		slot = reserved
	}

	return PlaceResult{RemainingQty: 0, Posted: true, PostedHandle: handle, PostedKey: key, PostedSlot: slot}, nil
}

// CancelPosted unwinds a leaf tryPost just inserted, releasing the margin
// order slot that was reserved for it. Used by the trigger-order path when
// the §4.3 post-match health check decides the order must not end up
// resting on the book even though the fire itself succeeded.
func (m *Market) CancelPosted(side Side, key book.Key, slot int, acc *margin.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	postSide := m.Bids
	if side == SideAsk {
		postSide = m.Asks
	}
	if _, err := postSide.RemoveByKey(key); err != nil {
		return err
	}
	if acc != nil && slot >= 0 {
		if err := acc.ReleaseOrderSlot(slot); err != nil && !errors.Is(err, margin.ErrSlotEmpty) {
			return err
		}
	}
	return nil
}

// creditFeesLocked adds amount to the market's fee pool; callers must
// already hold m.mu (it is invoked from within PlaceOrder's matching loop).
func (m *Market) creditFeesLocked(amount fixedpoint.Fix) error {
	sum, err := m.FeesAccrued.Add(amount)
	if err != nil {
		return err
	}
	m.FeesAccrued = sum
	return nil
}

// CreditFees adds amount to the market's fee pool (spec.md §4.7
// settle_fees: "bounded by fees_accrued on the market").
func (m *Market) CreditFees(amount fixedpoint.Fix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditFeesLocked(amount)
}

// SettlePnl implements spec.md §4.7 settle_pnl: the positive-quote side of
// a pair of accounts in the same market receives quote from the
// negative-quote side, up to the smaller absolute value, moving each
// side's quote_position toward zero. It is idempotent: once one side
// reaches zero, a repeated call with unchanged positions is a no-op
// (spec.md §8: "settle_pnl(A,B); settle_pnl(A,B) ... moves zero on the
// second call").
func (m *Market) SettlePnl(a, b *perpaccount.Account) error {
	if a.QuotePosition.Sign() == 0 || b.QuotePosition.Sign() == 0 {
		return nil
	}
	if a.QuotePosition.Sign() == b.QuotePosition.Sign() {
		// Both owe or both are owed: nothing to settle between this pair.
		return nil
	}

	aAbs, err := a.QuotePosition.Abs()
	if err != nil {
		return err
	}
	bAbs, err := b.QuotePosition.Abs()
	if err != nil {
		return err
	}
	xfer := fixedpoint.Min(aAbs, bAbs)
	if xfer.Sign() == 0 {
		return nil
	}

	if a.QuotePosition.Sign() > 0 {
		if a.QuotePosition, err = a.QuotePosition.Sub(xfer); err != nil {
			return err
		}
		if b.QuotePosition, err = b.QuotePosition.Add(xfer); err != nil {
			return err
		}
		return nil
	}
	if a.QuotePosition, err = a.QuotePosition.Add(xfer); err != nil {
		return err
	}
	if b.QuotePosition, err = b.QuotePosition.Sub(xfer); err != nil {
		return err
	}
	return nil
}

// SettleFees implements spec.md §4.7 settle_fees: moves quote out of one
// account's quote_position into the market's fee vault. A negative
// quote_position is left untouched (no-op); a positive one is swept,
// bounded by the fees still outstanding in FeesAccrued. Returns the amount
// actually moved.
func (m *Market) SettleFees(acc *perpaccount.Account) (fixedpoint.Fix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc.QuotePosition.Sign() <= 0 {
		return fixedpoint.Zero, nil
	}
	amount := fixedpoint.Min(acc.QuotePosition, m.FeesAccrued)
	if amount.Sign() <= 0 {
		return fixedpoint.Zero, nil
	}

	newQuote, err := acc.QuotePosition.Sub(amount)
	if err != nil {
		return fixedpoint.Zero, err
	}
	newFees, err := m.FeesAccrued.Sub(amount)
	if err != nil {
		return fixedpoint.Zero, err
	}
	newVault, err := m.FeeVaultBalance.Add(amount)
	if err != nil {
		return fixedpoint.Zero, err
	}
	acc.QuotePosition = newQuote
	m.FeesAccrued = newFees
	m.FeeVaultBalance = newVault
	m.logw("fees_settled", "amount", amount.Float64())
	return amount, nil
}

// UpdateFunding implements spec.md §4.7 update_funding: the premium of the
// book's current mid price over the oracle index price, scaled by elapsed
// days, contract size, and the index price itself, added into both
// long_funding and short_funding. It is idempotent for a fixed now
// (spec.md §5): a repeated call with the same now is a no-op.
func (m *Market) UpdateFunding(indexPrice fixedpoint.Fix, now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now <= m.LastUpdated {
		return nil
	}
	if indexPrice.Sign() == 0 {
		return errors.New("perpbook: cannot update funding against a zero index price")
	}

	_, bestBid, hasBid := m.Bids.FindMax()
	_, bestAsk, hasAsk := m.Asks.FindMin()

	var premium fixedpoint.Fix
	var err error
	switch {
	case hasBid && hasAsk:
		sum := fixedpoint.FromInt64(int64(bestBid.Key.PriceLots()) + int64(bestAsk.Key.PriceLots()))
		mid, divErr := sum.Div(fixedpoint.FromInt64(2))
		if divErr != nil {
			return divErr
		}
		ratio, divErr := mid.Div(indexPrice)
		if divErr != nil {
			return divErr
		}
		premium, err = ratio.Sub(fixedpoint.One)
		if err != nil {
			return err
		}
	case hasBid && !hasAsk:
		// Only bids resting: the book leans long, so the missing (ask)
		// side is penalized as if it were paying away from the longs.
		premium = m.OneSidedFundingPenalty
	case hasAsk && !hasBid:
		premium, err = m.OneSidedFundingPenalty.Neg()
		if err != nil {
			return err
		}
	default:
		// Empty book: no basis to compute a premium; advance the
		// timestamp so callers don't busy-retry, but move nothing.
		m.LastUpdated = now
		return nil
	}

	dtDays, err := fixedpoint.FromInt64(int64(now - m.LastUpdated)).Div(fixedpoint.FromInt64(86400))
	if err != nil {
		return err
	}
	delta, err := premium.Mul(dtDays)
	if err != nil {
		return err
	}
	if delta, err = delta.Mul(fixedpoint.FromInt64(m.ContractSize)); err != nil {
		return err
	}
	if delta, err = delta.Mul(indexPrice); err != nil {
		return err
	}

	if m.LongFunding, err = m.LongFunding.Add(delta); err != nil {
		return err
	}
	if m.ShortFunding, err = m.ShortFunding.Add(delta); err != nil {
		return err
	}
	m.LastUpdated = now
	m.logw("funding_updated", "premium", premium.Float64(), "delta", delta.Float64(), "now", now)
	return nil
}

func worstOnSide(s *book.Side, side Side) (book.NodeHandle, *book.Leaf, bool) {
	// The worst resting bid is the minimum key (lowest price); the worst
	// resting ask is the maximum key (highest price) — the opposite
	// extremes from bestForSide, since "worst" means furthest from the
	// touch on one's own side.
	if side == SideBid {
		return s.FindMin()
	}
	return s.FindMax()
}
