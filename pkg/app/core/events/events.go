// Package events implements the fixed-capacity event ring buffer that a
// PerpBook pushes Fill/Out records into and a consumer crank drains
// (spec.md §3 EventQueue). The mutex-guarded struct with a bounded slice
// ring mirrors the teacher repo's pkg/app/core/mempool.Mempool: a small
// in-memory buffer protected by a single sync.Mutex, not a lock-free
// structure.
package events

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrEmpty is returned by Pop/Peek when the queue has nothing to drain.
var ErrEmpty = errors.New("events: queue is empty")

// Kind discriminates the two event variants stored in the ring.
type Kind uint8

const (
	KindFill Kind = iota
	KindOut
)

// Fill records one maker/taker match (spec.md §3: "Fill events carry maker
// and taker identities, prices, sizes, fee rates applied, timestamps, and
// the pre-trade best-initial for the maker"). MarketIndex is carried so
// the consume_events crank can locate the maker's (and taker's)
// perpaccount.Account without needing side-channel context, mirroring
// mango's FillEvent which carries its market index alongside the fill.
type Fill struct {
	Maker          common.Address
	Taker          common.Address
	MarketIndex    int
	MakerSlot      uint8
	TakerSlot      uint8
	MakerOrderID   uint64
	TakerOrderID   uint64
	PriceLots      int64
	QuantityLots   int64
	MakerFeeRate   int64 // bps, fixed at time of match
	TakerFeeRate   int64
	Timestamp      uint64
	MakerBestInit  int64 // best_initial on the maker's order at placement time
	TakerSide      uint8 // 0 = bid, 1 = ask
}

// Out records a maker order removed from the book without a trade — either
// evicted to make room for a better order, or expired (spec.md §3: "Out
// events carry the maker who was displaced").
type Out struct {
	Owner        common.Address
	OwnerSlot    uint8
	Side         uint8
	QuantityLots int64
	OrderID      uint64
	Timestamp    uint64
}

// Event is one ring cell: exactly one of Fill/Out is meaningful, selected
// by Kind, mirroring the account layout's tagged AnyEvent union (spec.md
// §6.1 discriminant 8 = EventQueue).
type Event struct {
	Kind Kind
	Fill Fill
	Out  Out
	Seq  uint64
}

// Queue is the fixed-capacity ring buffer: header { head, count, seq_num }
// plus a ring of AnyEvent cells (spec.md §3 EventQueue).
type Queue struct {
	mu       sync.Mutex
	ring     []Event
	head     int
	count    int
	seqNum   uint64
	capacity int
}

// NewQueue allocates an empty queue with room for capacity events.
func NewQueue(capacity int) *Queue {
	return &Queue{ring: make([]Event, capacity), capacity: capacity}
}

func (q *Queue) Len() int      { return q.count }
func (q *Queue) Cap() int      { return q.capacity }
func (q *Queue) SeqNum() uint64 { return q.seqNum }
func (q *Queue) IsFull() bool  { return q.count == q.capacity }
func (q *Queue) IsEmpty() bool { return q.count == 0 }

// PushFill appends a Fill event, evicting the oldest event first if the
// ring is already full (a full event queue means the crank has fallen
// behind; the matching loop keeps going rather than blocking a trade on a
// slow consumer, same as a resting order can be evicted for the same
// reason in the book itself).
func (q *Queue) PushFill(f Fill) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(Event{Kind: KindFill, Fill: f})
}

// PushOut appends an Out event.
func (q *Queue) PushOut(o Out) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(Event{Kind: KindOut, Out: o})
}

func (q *Queue) pushLocked(e Event) uint64 {
	e.Seq = q.seqNum
	q.seqNum++
	if q.count == q.capacity {
		// Drop the oldest cell to make room; head advances past it.
		q.head = (q.head + 1) % q.capacity
		q.count--
	}
	idx := (q.head + q.count) % q.capacity
	q.ring[idx] = e
	q.count++
	return e.Seq
}

// Peek returns the oldest unconsumed event without removing it.
func (q *Queue) Peek() (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Event{}, ErrEmpty
	}
	return q.ring[q.head], nil
}

// Pop removes and returns the oldest unconsumed event (the consumer
// crank's exactly-once drain per spec.md §5: "consume_events ... pops from
// head-of-queue unconditionally and applies deterministically").
func (q *Queue) Pop() (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Event{}, ErrEmpty
	}
	e := q.ring[q.head]
	q.head = (q.head + 1) % q.capacity
	q.count--
	return e, nil
}

// PopN drains up to n events in FIFO order, stopping early if the queue
// empties (backs the ConsumeEvents instruction's limit parameter).
func (q *Queue) PopN(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, 0, n)
	for i := 0; i < n && q.count > 0; i++ {
		out = append(out, q.ring[q.head])
		q.head = (q.head + 1) % q.capacity
		q.count--
	}
	return out
}

// RevertPushes truncates seq_num back down to desiredLen, undoing pushes
// made earlier in a transaction that the host is about to roll back
// (spec.md §3: "decrements not allowed except by the explicit
// revert_pushes(desired_len)"). It does not move head/count since the
// ring's physical occupancy already reflects only what was actually
// pushed and not yet popped; it exists purely to restore seq_num's
// monotonic counter to a prior checkpoint.
func (q *Queue) RevertPushes(desiredSeq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if desiredSeq > q.seqNum {
		return errors.New("events: cannot revert forward past current seq_num")
	}
	q.seqNum = desiredSeq
	return nil
}
