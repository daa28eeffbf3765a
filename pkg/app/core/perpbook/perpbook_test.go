package perpbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/book"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/perpaccount"
)

func newTestMarket() *Market {
	return NewMarket(64, 64)
}

func TestPostThenCrossFills(t *testing.T) {
	m := newTestMarket()
	maker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	makerMargin := margin.New(common.HexToAddress("0xA"))

	// Maker posts a resting ask at 100.
	_, err := m.PlaceOrder(OrderInput{
		Owner:      common.HexToAddress("0xA"),
		Side:       SideAsk,
		PriceLots:  100,
		BaseQty:    10,
		OrderType:  book.OrderTypeLimit,
		ClientID:   1,
		NowTs:      1000,
		LimitFills: 10,
	}, &maker, makerMargin, 0)
	if err != nil {
		t.Fatalf("maker post: %v", err)
	}
	if m.Asks.LeafCount() != 1 {
		t.Fatalf("expected 1 resting ask, got %d", m.Asks.LeafCount())
	}

	taker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	takerMargin := margin.New(common.HexToAddress("0xB"))

	res, err := m.PlaceOrder(OrderInput{
		Owner:      common.HexToAddress("0xB"),
		Side:       SideBid,
		PriceLots:  100,
		BaseQty:    4,
		OrderType:  book.OrderTypeLimit,
		ClientID:   2,
		NowTs:      1001,
		LimitFills: 10,
	}, &taker, takerMargin, 0)
	if err != nil {
		t.Fatalf("taker cross: %v", err)
	}
	if res.RemainingQty != 0 {
		t.Fatalf("remaining qty = %d, want 0", res.RemainingQty)
	}
	if taker.TakerBase != 4 {
		t.Fatalf("taker base = %d, want 4", taker.TakerBase)
	}
	if taker.TakerQuote != -400 {
		t.Fatalf("taker quote = %d, want -400", taker.TakerQuote)
	}
	if m.Asks.LeafCount() != 1 {
		t.Fatalf("maker ask should still be resting with reduced size")
	}
	remainingAsk := m.Asks.Get(mustFindAskHandle(t, m))
	if remainingAsk.QuantityLots != 6 {
		t.Fatalf("remaining maker qty = %d, want 6", remainingAsk.QuantityLots)
	}

	if m.Events.Len() != 1 {
		t.Fatalf("expected 1 fill event, got %d", m.Events.Len())
	}
	ev, err := m.Events.Pop()
	if err != nil || ev.Kind != 0 {
		t.Fatalf("expected fill event: %+v err=%v", ev, err)
	}
}

func mustFindAskHandle(t *testing.T, m *Market) book.NodeHandle {
	t.Helper()
	h, _, ok := m.Asks.FindMin()
	if !ok {
		t.Fatalf("no resting ask found")
	}
	return h
}

func TestPostOnlySkipsWhenCrossing(t *testing.T) {
	m := newTestMarket()
	maker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	makerMargin := margin.New(common.HexToAddress("0xA"))
	m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xA"), Side: SideAsk, PriceLots: 100, BaseQty: 10,
		OrderType: book.OrderTypeLimit, ClientID: 1, NowTs: 1, LimitFills: 10,
	}, &maker, makerMargin, 0)

	taker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	takerMargin := margin.New(common.HexToAddress("0xB"))
	res, err := m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xB"), Side: SideBid, PriceLots: 100, BaseQty: 5,
		OrderType: book.OrderTypePostOnly, ClientID: 2, NowTs: 2, LimitFills: 10,
	}, &taker, takerMargin, 0)
	if err != nil {
		t.Fatalf("post-only: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected post-only order to be skipped")
	}
	if taker.TakerBase != 0 {
		t.Fatalf("post-only skip should not fill: taker_base=%d", taker.TakerBase)
	}
}

func TestIOCDoesNotPostRemainder(t *testing.T) {
	m := newTestMarket()
	taker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	takerMargin := margin.New(common.HexToAddress("0xB"))
	res, err := m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xB"), Side: SideBid, PriceLots: 100, BaseQty: 5,
		OrderType: book.OrderTypeImmediateOrCancel, ClientID: 2, NowTs: 1, LimitFills: 10,
	}, &taker, takerMargin, 0)
	if err != nil {
		t.Fatalf("ioc: %v", err)
	}
	if res.Posted {
		t.Fatalf("IOC order should never post a remainder")
	}
	if m.Bids.LeafCount() != 0 {
		t.Fatalf("IOC remainder should not rest on book")
	}
}

func TestExpiredMakerRemovedDuringMatch(t *testing.T) {
	m := newTestMarket()
	maker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	makerMargin := margin.New(common.HexToAddress("0xA"))
	m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xA"), Side: SideAsk, PriceLots: 100, BaseQty: 10,
		OrderType: book.OrderTypeLimit, ClientID: 1, NowTs: 1, ExpiryTs: 50, LimitFills: 10,
	}, &maker, makerMargin, 0)

	taker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	takerMargin := margin.New(common.HexToAddress("0xB"))
	res, err := m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xB"), Side: SideBid, PriceLots: 100, BaseQty: 5,
		OrderType: book.OrderTypeLimit, ClientID: 2, NowTs: 100, LimitFills: 10,
	}, &taker, takerMargin, 0)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if m.Asks.LeafCount() != 0 {
		t.Fatalf("expired maker should have been removed")
	}
	if taker.TakerBase != 0 {
		t.Fatalf("taker should not have matched an expired maker")
	}
	if !res.Posted {
		t.Fatalf("taker bid should have posted after the expired ask was swept")
	}
}

func TestEvictionOnFullBookImprovingOrder(t *testing.T) {
	m := NewMarket(1, 16) // single-node capacity: only one resting leaf fits
	owner1 := common.HexToAddress("0x1")
	acc1 := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	margin1 := margin.New(owner1)
	m.PlaceOrder(OrderInput{
		Owner: owner1, Side: SideBid, PriceLots: 100, BaseQty: 1,
		OrderType: book.OrderTypePostOnly, ClientID: 1, NowTs: 1, LimitFills: 1,
	}, &acc1, margin1, 0)
	if m.Bids.LeafCount() != 1 {
		t.Fatalf("expected first bid to post")
	}

	owner2 := common.HexToAddress("0x2")
	acc2 := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	margin2 := margin.New(owner2)
	res, err := m.PlaceOrder(OrderInput{
		Owner: owner2, Side: SideBid, PriceLots: 200, BaseQty: 1,
		OrderType: book.OrderTypePostOnly, ClientID: 2, NowTs: 2, LimitFills: 1,
	}, &acc2, margin2, 0)
	if err != nil {
		t.Fatalf("place improving bid: %v", err)
	}
	if !res.Posted {
		t.Fatalf("improving order should have evicted the worse bid and posted")
	}
	if m.Events.Len() != 1 {
		t.Fatalf("expected an Out event for the evicted maker, got %d events", m.Events.Len())
	}
}

func TestReduceOnlyDropsIncreasingFill(t *testing.T) {
	m := newTestMarket()
	maker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	makerMargin := margin.New(common.HexToAddress("0xA"))
	m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xA"), Side: SideAsk, PriceLots: 100, BaseQty: 10,
		OrderType: book.OrderTypeLimit, ClientID: 1, NowTs: 1, LimitFills: 10,
	}, &maker, makerMargin, 0)

	// Taker already short 3 lots; a reduce-only bid for 10 may only close
	// those 3, not flip into a long position.
	taker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	taker.BasePositionLots = -3
	takerMargin := margin.New(common.HexToAddress("0xB"))
	res, err := m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xB"), Side: SideBid, PriceLots: 100, BaseQty: 10,
		OrderType: book.OrderTypeImmediateOrCancel, ClientID: 2, NowTs: 2, LimitFills: 10,
		ReduceOnly: true,
	}, &taker, takerMargin, 0)
	if err != nil {
		t.Fatalf("reduce-only place: %v", err)
	}
	if taker.TakerBase != 3 {
		t.Fatalf("taker_base = %d, want 3 (clamped to close the short)", taker.TakerBase)
	}
	if res.RemainingQty != 7 {
		t.Fatalf("remaining qty = %d, want 7 (dropped, not filled)", res.RemainingQty)
	}
}

func TestSettlePnlMovesTowardZeroAndIsIdempotent(t *testing.T) {
	a := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	b := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	a.QuotePosition = fixedpoint.FromInt64(100)
	b.QuotePosition = fixedpoint.FromInt64(-40)

	m := newTestMarket()
	if err := m.SettlePnl(&a, &b); err != nil {
		t.Fatalf("settle_pnl: %v", err)
	}
	if !a.QuotePosition.Eq(fixedpoint.FromInt64(60)) {
		t.Fatalf("a.QuotePosition = %v, want 60", a.QuotePosition)
	}
	if !b.QuotePosition.Eq(fixedpoint.Zero) {
		t.Fatalf("b.QuotePosition = %v, want 0", b.QuotePosition)
	}

	if err := m.SettlePnl(&a, &b); err != nil {
		t.Fatalf("second settle_pnl: %v", err)
	}
	if !a.QuotePosition.Eq(fixedpoint.FromInt64(60)) {
		t.Fatalf("second call moved a.QuotePosition to %v, want unchanged 60", a.QuotePosition)
	}
}

func TestSettleFeesBoundedByAccrued(t *testing.T) {
	m := newTestMarket()
	if err := m.CreditFees(fixedpoint.FromInt64(10)); err != nil {
		t.Fatalf("credit fees: %v", err)
	}
	acc := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	acc.QuotePosition = fixedpoint.FromInt64(25)

	moved, err := m.SettleFees(&acc)
	if err != nil {
		t.Fatalf("settle fees: %v", err)
	}
	if !moved.Eq(fixedpoint.FromInt64(10)) {
		t.Fatalf("moved = %v, want 10 (bounded by accrued)", moved)
	}
	if !acc.QuotePosition.Eq(fixedpoint.FromInt64(15)) {
		t.Fatalf("remaining quote_position = %v, want 15", acc.QuotePosition)
	}
	if m.FeesAccrued.Sign() != 0 {
		t.Fatalf("fees_accrued should be drained to 0, got %v", m.FeesAccrued)
	}
}

func TestUpdateFundingIdempotentForUnchangedNow(t *testing.T) {
	m := newTestMarket()
	m.ContractSize = 1

	maker := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	makerMargin := margin.New(common.HexToAddress("0xA"))
	m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xA"), Side: SideAsk, PriceLots: 120, BaseQty: 10,
		OrderType: book.OrderTypePostOnly, ClientID: 1, NowTs: 1, LimitFills: 1,
	}, &maker, makerMargin, 0)
	bidder := perpaccount.New(fixedpoint.Zero, fixedpoint.Zero)
	bidderMargin := margin.New(common.HexToAddress("0xC"))
	m.PlaceOrder(OrderInput{
		Owner: common.HexToAddress("0xC"), Side: SideBid, PriceLots: 100, BaseQty: 10,
		OrderType: book.OrderTypePostOnly, ClientID: 2, NowTs: 1, LimitFills: 1,
	}, &bidder, bidderMargin, 0)

	if err := m.UpdateFunding(fixedpoint.FromInt64(100), 86401); err != nil {
		t.Fatalf("update_funding: %v", err)
	}
	first := m.LongFunding
	if first.Sign() == 0 {
		t.Fatalf("expected a nonzero funding delta from the 10%% premium book (mid 110 vs index 100)")
	}

	if err := m.UpdateFunding(fixedpoint.FromInt64(100), 86401); err != nil {
		t.Fatalf("second update_funding: %v", err)
	}
	if !m.LongFunding.Eq(first) {
		t.Fatalf("repeated update_funding at unchanged now moved long_funding to %v, want unchanged %v", m.LongFunding, first)
	}
}
