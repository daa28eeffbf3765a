package book

import "errors"

// ErrInsertFull is returned when the slab has no free capacity and the
// caller's eviction rules (handled one level up, in perpbook) do not apply.
var ErrInsertFull = errors.New("book: side is full")

// ErrNotFound is returned by RemoveByKey when no leaf matches.
var ErrNotFound = errors.New("book: key not found")

// Side is one slab-backed critbit tree: either the bid side or the ask
// side of a single market's book (spec.md §4.1). Both sides use the same
// implementation; only the Key construction (NewBidKey vs NewAskKey) and
// which extreme counts as "best" differ, and that distinction lives in the
// matching package, not here.
type Side struct {
	slab         []node
	bumpIndex    uint32
	freeListLen  uint32
	freeListHead NodeHandle
	root         NodeHandle
	leafCount    uint32
	capacity     uint32
}

// NewSide allocates an empty side with room for capacity nodes.
func NewSide(capacity uint32) *Side {
	return &Side{
		slab:         make([]node, capacity),
		freeListHead: NullHandle,
		root:         NullHandle,
		capacity:     capacity,
	}
}

func (s *Side) IsEmpty() bool   { return s.leafCount == 0 }
func (s *Side) LeafCount() int  { return int(s.leafCount) }
func (s *Side) FreeListLen() int { return int(s.freeListLen) }
func (s *Side) BumpIndex() int  { return int(s.bumpIndex) }
func (s *Side) Capacity() int   { return int(s.capacity) }

// IsFull reports whether the slab has no spare node for a new insertion
// (spec.md §4.1: free_list_len == 0 && bump_index == MAX_BOOK_NODES).
func (s *Side) IsFull() bool {
	return s.freeListLen == 0 && s.bumpIndex == s.capacity
}

func (s *Side) get(h NodeHandle) *node { return &s.slab[h] }

// allocate pops the free list (LIFO) before growing the bump index, so
// recently-freed slots are reused first (spec.md §4.1 algorithmic contract).
func (s *Side) allocate() (NodeHandle, error) {
	if s.freeListLen > 0 {
		h := s.freeListHead
		n := s.get(h)
		s.freeListHead = n.free
		s.freeListLen--
		return h, nil
	}
	if s.bumpIndex == s.capacity {
		return NullHandle, ErrInsertFull
	}
	h := NodeHandle(s.bumpIndex)
	s.bumpIndex++
	return h, nil
}

// free pushes h back onto the free list. The first node pushed after the
// list was empty is tagged LastFree; every later push is tagged Free with
// next pointing at the previous head — a plain LIFO stack, which is exactly
// what keeps "the last is LastFree iff free_list_len >= 1" true without any
// extra bookkeeping.
func (s *Side) free(h NodeHandle) {
	n := s.get(h)
	*n = node{}
	if s.freeListLen == 0 {
		n.tag = tagLastFree
	} else {
		n.tag = tagFree
		n.free = s.freeListHead
	}
	s.freeListHead = h
	s.freeListLen++
}

// InsertLeaf inserts new, returning its handle and any leaf evicted by an
// exact-key collision (spec.md §4.1: unreachable in practice given the
// seq_num tiebreak, kept for safety).
func (s *Side) InsertLeaf(l Leaf) (NodeHandle, *Leaf, error) {
	if s.IsEmpty() {
		h, err := s.allocate()
		if err != nil {
			return NullHandle, nil, err
		}
		*s.get(h) = node{tag: tagLeaf, leaf: l}
		s.root = h
		s.leafCount = 1
		return h, nil, nil
	}

	cur := s.root
	for {
		n := s.get(cur)
		if n.tag != tagInner {
			break
		}
		spl := sharedPrefixLen(n.inner.key, l.Key)
		if spl < n.inner.prefixLen {
			break
		}
		bit := l.Key.bitAt(127 - n.inner.prefixLen)
		cur = n.inner.children[bit]
	}

	curNode := s.get(cur)
	var curKey Key
	if curNode.tag == tagLeaf {
		curKey = curNode.leaf.Key
	} else {
		curKey = curNode.inner.key
	}

	if curNode.tag == tagLeaf && curKey.Eq(l.Key) {
		evicted := curNode.leaf
		*curNode = node{tag: tagLeaf, leaf: l}
		return cur, &evicted, nil
	}

	spl := sharedPrefixLen(curKey, l.Key)

	newLeafHandle, err := s.allocate()
	if err != nil {
		return NullHandle, nil, err
	}
	*s.get(newLeafHandle) = node{tag: tagLeaf, leaf: l}

	copyHandle, err := s.allocate()
	if err != nil {
		s.free(newLeafHandle)
		return NullHandle, nil, err
	}
	*s.get(copyHandle) = *curNode

	branchBit := l.Key.bitAt(127 - spl)
	var children [2]NodeHandle
	if branchBit == 0 {
		children[0] = newLeafHandle
		children[1] = copyHandle
	} else {
		children[0] = copyHandle
		children[1] = newLeafHandle
	}
	*s.get(cur) = node{tag: tagInner, inner: innerNode{prefixLen: spl, key: l.Key, children: children}}

	s.leafCount++
	return newLeafHandle, nil, nil
}

type pathStep struct {
	handle   NodeHandle
	childIdx uint8
}

// RemoveByKey removes the leaf with key k, promoting its sibling into the
// parent's slot and freeing the leaf plus the collapsed inner node (spec.md
// §4.1 "standard critbit removal").
func (s *Side) RemoveByKey(k Key) (Leaf, error) {
	if s.IsEmpty() {
		return Leaf{}, ErrNotFound
	}

	rootNode := s.get(s.root)
	if rootNode.tag == tagLeaf {
		if !rootNode.leaf.Key.Eq(k) {
			return Leaf{}, ErrNotFound
		}
		removed := rootNode.leaf
		s.free(s.root)
		s.root = NullHandle
		s.leafCount = 0
		return removed, nil
	}

	var path []pathStep
	cur := s.root
	for {
		n := s.get(cur)
		if n.tag == tagLeaf {
			break
		}
		bit := k.bitAt(127 - n.inner.prefixLen)
		path = append(path, pathStep{handle: cur, childIdx: bit})
		cur = n.inner.children[bit]
	}

	leafNode := s.get(cur)
	if !leafNode.leaf.Key.Eq(k) {
		return Leaf{}, ErrNotFound
	}
	removed := leafNode.leaf

	parent := path[len(path)-1]
	parentNode := s.get(parent.handle)
	siblingIdx := 1 - parent.childIdx
	sibling := parentNode.inner.children[siblingIdx]

	if len(path) >= 2 {
		grandparent := path[len(path)-2]
		gp := s.get(grandparent.handle)
		gp.inner.children[grandparent.childIdx] = sibling
	} else {
		s.root = sibling
	}

	s.free(cur)
	s.free(parent.handle)
	s.leafCount--
	return removed, nil
}

func (s *Side) descendExtreme(dir uint8) (NodeHandle, *Leaf, bool) {
	if s.IsEmpty() {
		return NullHandle, nil, false
	}
	cur := s.root
	for {
		n := s.get(cur)
		if n.tag == tagLeaf {
			return cur, &n.leaf, true
		}
		cur = n.inner.children[dir]
	}
}

// FindMin returns the leaf with the smallest key (always taking child 0).
func (s *Side) FindMin() (NodeHandle, *Leaf, bool) { return s.descendExtreme(0) }

// FindMax returns the leaf with the largest key (always taking child 1).
func (s *Side) FindMax() (NodeHandle, *Leaf, bool) { return s.descendExtreme(1) }

// RemoveMin removes and returns the smallest-key leaf, if any.
func (s *Side) RemoveMin() (Leaf, bool) {
	h, l, ok := s.FindMin()
	if !ok {
		return Leaf{}, false
	}
	removed, err := s.RemoveByKey(l.Key)
	if err != nil {
		// unreachable: FindMin just located this exact leaf
		return Leaf{}, false
	}
	_ = h
	return removed, true
}

// RemoveMax removes and returns the largest-key leaf, if any.
func (s *Side) RemoveMax() (Leaf, bool) {
	h, l, ok := s.FindMax()
	if !ok {
		return Leaf{}, false
	}
	removed, err := s.RemoveByKey(l.Key)
	if err != nil {
		return Leaf{}, false
	}
	_ = h
	return removed, true
}

// MutateQuantity updates the resting quantity of the leaf at handle h
// in place, without touching the tree structure (used by the matching loop
// to decrement a partially-filled maker's size).
func (s *Side) MutateQuantity(h NodeHandle, qty int64) {
	s.get(h).leaf.QuantityLots = qty
}

// Get returns the leaf stored at handle h.
func (s *Side) Get(h NodeHandle) Leaf { return s.get(h).leaf }

// Iterate walks every leaf in ascending key order via an explicit stack
// bounded by tree height (at most 128, spec.md §4.1), calling fn for each.
// Iteration stops early if fn returns false.
func (s *Side) Iterate(fn func(h NodeHandle, l Leaf) bool) {
	if s.IsEmpty() {
		return
	}
	type frame struct {
		handle  NodeHandle
		visited uint8 // 0 = not yet descended left, 1 = emit self, 2 = descend right
	}
	stack := make([]frame, 0, 128)
	stack = append(stack, frame{handle: s.root})
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := s.get(top.handle)
		if n.tag == tagLeaf {
			if !fn(top.handle, n.leaf) {
				return
			}
			stack = stack[:len(stack)-1]
			continue
		}
		switch top.visited {
		case 0:
			top.visited = 1
			stack = append(stack, frame{handle: n.inner.children[0]})
		case 1:
			top.visited = 2
			stack = append(stack, frame{handle: n.inner.children[1]})
		default:
			stack = stack[:len(stack)-1]
		}
	}
}
