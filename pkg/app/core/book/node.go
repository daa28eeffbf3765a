package book

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NodeSize is the fixed footprint every node variant occupies in the slab
// (spec.md §6.1: "Node size in the critbit slab is exactly 88 bytes; all
// three node variants occupy that size").
const NodeSize = 88

// NodeHandle addresses a node by its slab index rather than a pointer, so
// the slab can be serialized as a flat byte array and relocated (spec.md §9).
type NodeHandle uint32

// NullHandle is the sentinel meaning "no node" (empty root, terminal free
// list, absent child).
const NullHandle NodeHandle = 1<<32 - 1

type nodeTag uint32

const (
	tagFree nodeTag = iota
	tagLastFree
	tagInner
	tagLeaf
)

// OrderType mirrors spec.md §4.2's order-type table.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
	OrderTypeMarket
	OrderTypePostOnlySlide
)

// Leaf is a resting order in the book (spec.md §3 CritBookSide leaf shape).
type Leaf struct {
	Owner         common.Address
	OwnerSlot     uint8
	Key           Key
	QuantityLots  int64
	ClientOrderID uint64
	Timestamp     uint64
	BestInitial   int64 // price_lots at the moment this order was placed
	OrderType     OrderType
	ExpiryTs      uint64 // 0 means no expiry
}

type innerNode struct {
	prefixLen int
	key       Key
	children  [2]NodeHandle
}

type node struct {
	tag   nodeTag
	inner innerNode
	leaf  Leaf
	free  NodeHandle // next pointer when tag is tagFree
}

// EncodeNode serializes a node to its fixed 88-byte little-endian layout.
func EncodeNode(n node) [NodeSize]byte {
	var buf [NodeSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n.tag))
	switch n.tag {
	case tagInner:
		binary.LittleEndian.PutUint64(buf[4:12], n.inner.key.Hi)
		binary.LittleEndian.PutUint64(buf[12:20], n.inner.key.Lo)
		binary.LittleEndian.PutUint32(buf[20:24], uint32(n.inner.prefixLen))
		binary.LittleEndian.PutUint32(buf[24:28], uint32(n.inner.children[0]))
		binary.LittleEndian.PutUint32(buf[28:32], uint32(n.inner.children[1]))
	case tagLeaf:
		binary.LittleEndian.PutUint64(buf[4:12], n.leaf.Key.Hi)
		binary.LittleEndian.PutUint64(buf[12:20], n.leaf.Key.Lo)
		copy(buf[20:40], n.leaf.Owner.Bytes())
		buf[40] = n.leaf.OwnerSlot
		buf[41] = uint8(n.leaf.OrderType)
		binary.LittleEndian.PutUint64(buf[44:52], uint64(n.leaf.QuantityLots))
		binary.LittleEndian.PutUint64(buf[52:60], n.leaf.ClientOrderID)
		binary.LittleEndian.PutUint64(buf[60:68], n.leaf.Timestamp)
		binary.LittleEndian.PutUint64(buf[68:76], uint64(n.leaf.BestInitial))
		binary.LittleEndian.PutUint64(buf[76:84], n.leaf.ExpiryTs)
	case tagFree, tagLastFree:
		binary.LittleEndian.PutUint32(buf[4:8], uint32(n.free))
	}
	return buf
}

// DecodeNode parses the fixed 88-byte layout produced by EncodeNode.
func DecodeNode(buf [NodeSize]byte) (node, error) {
	var n node
	n.tag = nodeTag(binary.LittleEndian.Uint32(buf[0:4]))
	switch n.tag {
	case tagInner:
		n.inner.key.Hi = binary.LittleEndian.Uint64(buf[4:12])
		n.inner.key.Lo = binary.LittleEndian.Uint64(buf[12:20])
		n.inner.prefixLen = int(binary.LittleEndian.Uint32(buf[20:24]))
		n.inner.children[0] = NodeHandle(binary.LittleEndian.Uint32(buf[24:28]))
		n.inner.children[1] = NodeHandle(binary.LittleEndian.Uint32(buf[28:32]))
	case tagLeaf:
		n.leaf.Key.Hi = binary.LittleEndian.Uint64(buf[4:12])
		n.leaf.Key.Lo = binary.LittleEndian.Uint64(buf[12:20])
		n.leaf.Owner = common.BytesToAddress(buf[20:40])
		n.leaf.OwnerSlot = buf[40]
		n.leaf.OrderType = OrderType(buf[41])
		n.leaf.QuantityLots = int64(binary.LittleEndian.Uint64(buf[44:52]))
		n.leaf.ClientOrderID = binary.LittleEndian.Uint64(buf[52:60])
		n.leaf.Timestamp = binary.LittleEndian.Uint64(buf[60:68])
		n.leaf.BestInitial = int64(binary.LittleEndian.Uint64(buf[68:76]))
		n.leaf.ExpiryTs = binary.LittleEndian.Uint64(buf[76:84])
	case tagFree, tagLastFree:
		n.free = NodeHandle(binary.LittleEndian.Uint32(buf[4:8]))
	default:
		return node{}, fmt.Errorf("book: unknown node tag %d", n.tag)
	}
	return n, nil
}
