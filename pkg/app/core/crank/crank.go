// Package crank implements consume_events (spec.md §4.2, §5): the
// deterministic, exactly-once loop that pops an events.Queue, applies each
// Fill to its maker's perp position before popping it, and keeps the
// owning margin.Account's order-slot bookkeeping in sync, grounded on the
// account-manager lookup-then-mutate shape in pkg/app/core/account_manager.go,
// re-expressed over the new address-keyed margin.Account registry instead
// of the legacy Account type.
package crank

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/events"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/fixedpoint"
	"github.com/uhyunpark/hyperlicked/pkg/app/core/margin"
	"go.uber.org/zap"
)

// ErrAccountNotFound is returned when an event references an owner with no
// registered margin.Account — the crank skips it rather than failing the
// whole batch, consistent with spec.md §5's ordering guarantee binding only
// events that can actually be applied.
var ErrAccountNotFound = errors.New("crank: margin account not found for event owner")

// Accounts is the narrow lookup the crank needs from the account registry.
type Accounts interface {
	Get(owner common.Address) (*margin.Account, bool)
}

// Registry is a simple thread-safe Accounts implementation.
type Registry struct {
	mu       sync.RWMutex
	accounts map[common.Address]*margin.Account
}

// NewRegistry returns an empty account registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[common.Address]*margin.Account)}
}

// Put registers or replaces the margin.Account for owner.
func (r *Registry) Put(owner common.Address, acc *margin.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[owner] = acc
}

// Get retrieves the margin.Account for owner.
func (r *Registry) Get(owner common.Address) (*margin.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[owner]
	return acc, ok
}

// Crank drains an events.Queue against an account registry.
type Crank struct {
	Accounts Accounts
	Logger   *zap.SugaredLogger
}

// New returns a Crank reading accounts from the given registry.
func New(accounts Accounts) *Crank {
	return &Crank{Accounts: accounts}
}

func (c *Crank) logw(msg string, kv ...interface{}) {
	if c.Logger != nil {
		c.Logger.Infow(msg, kv...)
	}
}

// ConsumeOne applies the event at the head of the queue and then pops it,
// returning false once the queue is empty. An event whose apply fails stays
// at the head, except an ErrAccountNotFound skip, which is popped.
func (c *Crank) ConsumeOne(q *events.Queue) (bool, error) {
	ev, err := q.Peek()
	if err != nil {
		return false, nil
	}
	if err := c.apply(ev); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			q.Pop()
		}
		c.logw("crank_apply_failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
		return true, err
	}
	q.Pop()
	return true, nil
}

// ConsumeAll drains the entire queue, applying every event in FIFO order
// (spec.md §5: "processed in the order they were pushed"). It returns the
// count of events successfully applied and the first error encountered, if
// any; processing continues past an ErrAccountNotFound skip but stops on
// any other error, leaving the failing event at the head of the queue, so
// the caller can retry the crank later without double-applying
// already-consumed events.
func (c *Crank) ConsumeAll(q *events.Queue) (int, error) {
	applied := 0
	for {
		ev, err := q.Peek()
		if err != nil {
			return applied, nil
		}
		if err := c.apply(ev); err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				q.Pop()
				c.logw("crank_skip_unknown_owner", "seq", ev.Seq, "kind", ev.Kind)
				continue
			}
			return applied, err
		}
		q.Pop()
		applied++
	}
}

func (c *Crank) apply(ev events.Event) error {
	switch ev.Kind {
	case events.KindFill:
		return c.applyFill(ev.Fill)
	case events.KindOut:
		return c.applyOut(ev.Out)
	default:
		return nil
	}
}

// applyFill applies the fill to its maker before releasing any order-slot
// bookkeeping (spec.md §5: "each Fill is applied to its maker by the crank
// before being popped"), then folds the taker's own accumulator — already
// populated synchronously inside PlaceOrder's matching loop — into its
// settled position. Partial maker fills leave the order slot reserved (the
// maker's leaf key is unchanged in the book until it's removed, per
// perpbook.PlaceOrder's own book-side bookkeeping — the crank's job is only
// to keep the MarginAccount's slot table in sync with the book).
func (c *Crank) applyFill(f events.Fill) error {
	makerAcc, ok := c.Accounts.Get(f.Maker)
	if !ok {
		return ErrAccountNotFound
	}

	// TakerSide follows perpbook.OrderInput.Side (0 = bid, 1 = ask); the
	// maker always rests on the opposite side, so its position moves
	// opposite the taker's.
	takerSide := int64(1)
	if f.TakerSide != 0 {
		takerSide = -1
	}
	makerPerp := makerAcc.PerpAccountFor(f.MarketIndex, fixedpoint.Zero, fixedpoint.Zero)
	if err := makerPerp.ApplyTakerFill(-takerSide, f.QuantityLots, f.PriceLots); err != nil {
		return err
	}
	if err := makerPerp.ConsumeTakerAccumulator(); err != nil {
		return err
	}
	if err := makerAcc.ReleaseOrderSlot(int(f.MakerSlot)); err != nil && !errors.Is(err, margin.ErrSlotEmpty) {
		return err
	}

	if takerAcc, ok := c.Accounts.Get(f.Taker); ok {
		takerPerp := takerAcc.PerpAccountFor(f.MarketIndex, fixedpoint.Zero, fixedpoint.Zero)
		if err := takerPerp.ConsumeTakerAccumulator(); err != nil {
			return err
		}
	}

	c.logw("fill_applied", "maker", f.Maker.Hex(), "taker", f.Taker.Hex(), "qty", f.QuantityLots, "price", f.PriceLots)
	return nil
}

// applyOut releases the cancelled/evicted/expired order's slot.
func (c *Crank) applyOut(o events.Out) error {
	acc, ok := c.Accounts.Get(o.Owner)
	if !ok {
		return ErrAccountNotFound
	}
	if err := acc.ReleaseOrderSlot(int(o.OwnerSlot)); err != nil && !errors.Is(err, margin.ErrSlotEmpty) {
		return err
	}
	c.logw("out_applied", "owner", o.Owner.Hex(), "qty", o.QuantityLots, "order_id", o.OrderID)
	return nil
}
