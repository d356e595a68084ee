// Package critbit implements a crit-bit (binary radix) tree stored in a
// fixed-capacity arena. Nodes are addressed by integer handles rather than
// pointers so the whole structure can be persisted as a flat record.
//
// Each leaf has a side-channel callback record of type C stored at the same
// index as the leaf.
package critbit

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrOutOfSpace  = errors.New("critbit: slab out of space")
	ErrBadCapacity = errors.New("critbit: capacity must be positive")
	ErrCorrupt     = errors.New("critbit: slab invariants violated")
)

const nilIndex = math.MaxUint32

// NodeKind distinguishes leaf handles from inner-node handles.
type NodeKind uint8

const (
	KindNone NodeKind = iota
	KindLeaf
	KindInner
)

// NodeRef is a tagged handle into one of the slab's two node arrays.
type NodeRef struct {
	Kind  NodeKind
	Index uint32
}

// IsNil reports whether the handle points nowhere.
func (r NodeRef) IsNil() bool { return r.Kind == KindNone }

func leafRef(i uint32) NodeRef  { return NodeRef{Kind: KindLeaf, Index: i} }
func innerRef(i uint32) NodeRef { return NodeRef{Kind: KindInner, Index: i} }

// Leaf is a resting entry. While the slot is on the free list, BaseQuantity
// holds the index of the next free leaf.
type Leaf struct {
	Key           Key
	BaseQuantity  uint64
	QuoteQuantity uint64
}

// Inner is a branch node. Key holds any key of the subtree; only its first
// PrefixLen bits are meaningful. While the slot is on the free list,
// Children[0].Index holds the index of the next free inner node.
type Inner struct {
	PrefixLen uint64
	Key       Key
	Children  [2]NodeRef
}

// Header carries the allocator state and the tree root.
type Header struct {
	Root          NodeRef
	LeafCount     uint32
	LeafBump      uint32
	LeafFreeHead  uint32
	LeafFreeLen   uint32
	InnerBump     uint32
	InnerFreeHead uint32
	InnerFreeLen  uint32
}

// Slab is the arena holding the tree. Leaves and Callbacks are parallel
// arrays sharing the same index space.
type Slab[C any] struct {
	Header    Header
	Leaves    []Leaf
	Inners    []Inner
	Callbacks []C
}

// NewSlab allocates a slab able to hold capacity leaves.
func NewSlab[C any](capacity uint32) (*Slab[C], error) {
	if capacity == 0 || capacity == nilIndex {
		return nil, ErrBadCapacity
	}
	inners := capacity - 1
	if inners == 0 {
		inners = 1
	}
	return &Slab[C]{
		Header: Header{
			LeafFreeHead:  nilIndex,
			InnerFreeHead: nilIndex,
		},
		Leaves:    make([]Leaf, capacity),
		Inners:    make([]Inner, inners),
		Callbacks: make([]C, capacity),
	}, nil
}

// Len returns the number of live leaves.
func (s *Slab[C]) Len() int { return int(s.Header.LeafCount) }

// Capacity returns the maximum number of leaves the slab can hold.
func (s *Slab[C]) Capacity() int { return len(s.Leaves) }

// Leaf returns a mutable pointer to the leaf behind ref.
func (s *Slab[C]) Leaf(ref NodeRef) *Leaf {
	if ref.Kind != KindLeaf || int(ref.Index) >= len(s.Leaves) {
		return nil
	}
	return &s.Leaves[ref.Index]
}

// Callback returns a mutable pointer to the callback record of a leaf.
func (s *Slab[C]) Callback(ref NodeRef) *C {
	if ref.Kind != KindLeaf || int(ref.Index) >= len(s.Callbacks) {
		return nil
	}
	return &s.Callbacks[ref.Index]
}

func (s *Slab[C]) allocLeaf() (uint32, error) {
	h := &s.Header
	if h.LeafFreeLen > 0 {
		idx := h.LeafFreeHead
		h.LeafFreeHead = uint32(s.Leaves[idx].BaseQuantity)
		h.LeafFreeLen--
		s.Leaves[idx] = Leaf{}
		return idx, nil
	}
	if int(h.LeafBump) >= len(s.Leaves) {
		return 0, ErrOutOfSpace
	}
	idx := h.LeafBump
	h.LeafBump++
	return idx, nil
}

func (s *Slab[C]) freeLeaf(idx uint32) {
	h := &s.Header
	var zero C
	s.Leaves[idx] = Leaf{BaseQuantity: uint64(h.LeafFreeHead)}
	s.Callbacks[idx] = zero
	h.LeafFreeHead = idx
	h.LeafFreeLen++
}

func (s *Slab[C]) allocInner() (uint32, error) {
	h := &s.Header
	if h.InnerFreeLen > 0 {
		idx := h.InnerFreeHead
		h.InnerFreeHead = s.Inners[idx].Children[0].Index
		h.InnerFreeLen--
		s.Inners[idx] = Inner{}
		return idx, nil
	}
	if int(h.InnerBump) >= len(s.Inners) {
		return 0, ErrOutOfSpace
	}
	idx := h.InnerBump
	h.InnerBump++
	return idx, nil
}

func (s *Slab[C]) freeInner(idx uint32) {
	h := &s.Header
	s.Inners[idx] = Inner{Children: [2]NodeRef{{Index: h.InnerFreeHead}}}
	h.InnerFreeHead = idx
	h.InnerFreeLen++
}

// Check verifies the allocator and ordering invariants of the slab.
func (s *Slab[C]) Check() error {
	h := s.Header
	if len(s.Leaves) != len(s.Callbacks) {
		return fmt.Errorf("%w: %d leaves vs %d callbacks", ErrCorrupt, len(s.Leaves), len(s.Callbacks))
	}
	if h.LeafCount+h.LeafFreeLen != h.LeafBump {
		return fmt.Errorf("%w: leaf count %d + free %d != bump %d", ErrCorrupt, h.LeafCount, h.LeafFreeLen, h.LeafBump)
	}
	live := uint32(0)
	if h.LeafCount > 0 {
		live = h.LeafCount - 1
	}
	if live+h.InnerFreeLen != h.InnerBump {
		return fmt.Errorf("%w: inner live %d + free %d != bump %d", ErrCorrupt, live, h.InnerFreeLen, h.InnerBump)
	}
	var (
		seen  uint32
		prev  Key
		first = true
	)
	it := s.Iter(false)
	for {
		ref, ok := it.Next()
		if !ok {
			break
		}
		leaf := s.Leaves[ref.Index]
		if !first && !prev.Less(leaf.Key) {
			return fmt.Errorf("%w: key %s not after %s", ErrCorrupt, leaf.Key, prev)
		}
		prev, first = leaf.Key, false
		seen++
	}
	if seen != h.LeafCount {
		return fmt.Errorf("%w: reachable leaves %d != count %d", ErrCorrupt, seen, h.LeafCount)
	}
	return nil
}
