// Package book implements the slab-allocated critbit radix tree used
// independently for the bid side and the ask side of a PerpBook
// (spec.md §4.1 CritBookSide). Node identity is a 32-bit slab index, not a
// pointer, exactly as the teacher repo's own Pebble-backed stores address
// records by key rather than by in-memory reference — the same
// relocation-safe addressing discipline, applied to an in-memory arena
// instead of an on-disk one.
package book

import (
	"math/bits"
)

// Key is the 128-bit composite sort key: (price_lots << 64) | seq_tie,
// where seq_tie is seq_num for asks and ^seq_num for bids (spec.md §3).
// Hi holds the price_lots half, Lo holds the seq_tie half; sorting Key
// lexicographically (Hi first, then Lo) yields price-ascending order with
// the seq_tie as the priority tiebreak at equal price.
type Key struct {
	Hi uint64
	Lo uint64
}

// NewBidKey builds the key for a resting bid: price ascending still sorts
// lowest-price-first in the tree, so the matching loop takes the *maximum*
// key as best bid; seq_tie is inverted so that, among equal prices, the
// lowest seq_num (earliest order) sorts as the largest key and is matched
// first by find_max.
func NewBidKey(priceLots uint64, seqNum uint64) Key {
	return Key{Hi: priceLots, Lo: ^seqNum}
}

// NewAskKey builds the key for a resting ask: among equal prices, the
// lowest seq_num sorts as the smallest key and is matched first by
// find_min.
func NewAskKey(priceLots uint64, seqNum uint64) Key {
	return Key{Hi: priceLots, Lo: seqNum}
}

// PriceLots extracts the price component of the key.
func (k Key) PriceLots() uint64 { return k.Hi }

// Cmp returns -1, 0, or 1 comparing k and o as unsigned 128-bit integers.
func (k Key) Cmp(o Key) int {
	if k.Hi != o.Hi {
		if k.Hi < o.Hi {
			return -1
		}
		return 1
	}
	if k.Lo != o.Lo {
		if k.Lo < o.Lo {
			return -1
		}
		return 1
	}
	return 0
}

func (k Key) Eq(o Key) bool { return k.Hi == o.Hi && k.Lo == o.Lo }

func (k Key) xor(o Key) Key {
	return Key{Hi: k.Hi ^ o.Hi, Lo: k.Lo ^ o.Lo}
}

// leadingZeros returns the number of leading zero bits in the 128-bit value,
// treating Hi as the most-significant word.
func (k Key) leadingZeros() int {
	if k.Hi != 0 {
		return bits.LeadingZeros64(k.Hi)
	}
	return 64 + bits.LeadingZeros64(k.Lo)
}

// sharedPrefixLen returns the number of leading bits k and o have in common.
func sharedPrefixLen(k, o Key) int {
	return k.xor(o).leadingZeros()
}

// bitAt returns the bit of k at position pos, where pos 127 is the MSB of
// Hi and pos 0 is the LSB of Lo (spec.md §4.1: "the bit at position
// 127 - prefix_len").
func (k Key) bitAt(pos int) uint8 {
	if pos >= 64 {
		return uint8((k.Hi >> uint(pos-64)) & 1)
	}
	return uint8((k.Lo >> uint(pos)) & 1)
}
