package critbit

// Insert adds leaf and its callback to the tree. When a leaf with an
// identical key already exists it is overwritten in place and the previous
// leaf and callback are returned with replaced set.
func (s *Slab[C]) Insert(leaf Leaf, cb C) (ref NodeRef, old Leaf, oldCb C, replaced bool, err error) {
	h := &s.Header
	if h.Root.IsNil() {
		idx, err := s.allocLeaf()
		if err != nil {
			return NodeRef{}, Leaf{}, oldCb, false, err
		}
		s.Leaves[idx] = leaf
		s.Callbacks[idx] = cb
		h.Root = leafRef(idx)
		h.LeafCount++
		return h.Root, Leaf{}, oldCb, false, nil
	}

	var (
		parent    NodeRef
		parentDir int
		cur       = h.Root
		shared    uint64
	)
	for {
		if cur.Kind == KindInner {
			inner := &s.Inners[cur.Index]
			shared = inner.Key.commonPrefixLen(leaf.Key)
			if shared >= inner.PrefixLen {
				dir := leaf.Key.bit(inner.PrefixLen)
				parent, parentDir = cur, dir
				cur = inner.Children[dir]
				continue
			}
			break
		}
		existing := &s.Leaves[cur.Index]
		shared = existing.Key.commonPrefixLen(leaf.Key)
		if shared == KeyBits {
			old, oldCb = *existing, s.Callbacks[cur.Index]
			*existing = leaf
			s.Callbacks[cur.Index] = cb
			return cur, old, oldCb, true, nil
		}
		break
	}

	leafIdx, err := s.allocLeaf()
	if err != nil {
		return NodeRef{}, Leaf{}, oldCb, false, err
	}
	innerIdx, err := s.allocInner()
	if err != nil {
		s.freeLeaf(leafIdx)
		return NodeRef{}, Leaf{}, oldCb, false, err
	}
	s.Leaves[leafIdx] = leaf
	s.Callbacks[leafIdx] = cb

	dir := leaf.Key.bit(shared)
	var children [2]NodeRef
	children[dir] = leafRef(leafIdx)
	children[1-dir] = cur
	s.Inners[innerIdx] = Inner{PrefixLen: shared, Key: leaf.Key, Children: children}

	if parent.IsNil() {
		h.Root = innerRef(innerIdx)
	} else {
		s.Inners[parent.Index].Children[parentDir] = innerRef(innerIdx)
	}
	h.LeafCount++
	return leafRef(leafIdx), Leaf{}, oldCb, false, nil
}

// Find returns the handle of the leaf with the given key.
func (s *Slab[C]) Find(key Key) (NodeRef, bool) {
	cur := s.Header.Root
	if cur.IsNil() {
		return NodeRef{}, false
	}
	for cur.Kind == KindInner {
		inner := &s.Inners[cur.Index]
		if inner.Key.commonPrefixLen(key) < inner.PrefixLen {
			return NodeRef{}, false
		}
		cur = inner.Children[key.bit(inner.PrefixLen)]
	}
	if s.Leaves[cur.Index].Key != key {
		return NodeRef{}, false
	}
	return cur, true
}

// RemoveByKey deletes the leaf with the given key, returning it together with
// its callback record. The parent inner node is replaced by the sibling
// subtree and both freed slots return to their free lists.
func (s *Slab[C]) RemoveByKey(key Key) (Leaf, C, bool) {
	var zero C
	h := &s.Header
	cur := h.Root
	if cur.IsNil() {
		return Leaf{}, zero, false
	}
	var (
		parent, grandparent NodeRef
		parentDir, gpDir    int
	)
	for cur.Kind == KindInner {
		inner := &s.Inners[cur.Index]
		if inner.Key.commonPrefixLen(key) < inner.PrefixLen {
			return Leaf{}, zero, false
		}
		dir := key.bit(inner.PrefixLen)
		grandparent, gpDir = parent, parentDir
		parent, parentDir = cur, dir
		cur = inner.Children[dir]
	}
	leaf := s.Leaves[cur.Index]
	if leaf.Key != key {
		return Leaf{}, zero, false
	}
	cb := s.Callbacks[cur.Index]

	if parent.IsNil() {
		h.Root = NodeRef{}
	} else {
		sibling := s.Inners[parent.Index].Children[1-parentDir]
		if grandparent.IsNil() {
			h.Root = sibling
		} else {
			s.Inners[grandparent.Index].Children[gpDir] = sibling
		}
		s.freeInner(parent.Index)
	}
	s.freeLeaf(cur.Index)
	h.LeafCount--
	return leaf, cb, true
}

// FindMin returns the leaf with the smallest key.
func (s *Slab[C]) FindMin() (NodeRef, bool) { return s.walk(0) }

// FindMax returns the leaf with the largest key.
func (s *Slab[C]) FindMax() (NodeRef, bool) { return s.walk(1) }

func (s *Slab[C]) walk(dir int) (NodeRef, bool) {
	cur := s.Header.Root
	if cur.IsNil() {
		return NodeRef{}, false
	}
	for cur.Kind == KindInner {
		cur = s.Inners[cur.Index].Children[dir]
	}
	return cur, true
}

// Iterator walks the live leaves in key order. It is finite and cannot be
// restarted; it must not be used across mutations of the slab.
type Iterator[C any] struct {
	slab       *Slab[C]
	stack      []NodeRef
	descending bool
}

// Iter returns an iterator over the leaves, ascending unless descending is set.
func (s *Slab[C]) Iter(descending bool) *Iterator[C] {
	it := &Iterator[C]{slab: s, descending: descending}
	if !s.Header.Root.IsNil() {
		it.stack = append(it.stack, s.Header.Root)
	}
	return it
}

// Next returns the next leaf handle in order.
func (it *Iterator[C]) Next() (NodeRef, bool) {
	for len(it.stack) > 0 {
		n := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		if n.Kind == KindLeaf {
			return n, true
		}
		children := it.slab.Inners[n.Index].Children
		near, far := children[0], children[1]
		if it.descending {
			near, far = far, near
		}
		it.stack = append(it.stack, far, near)
	}
	return NodeRef{}, false
}

// Keys returns all live keys in the requested order.
func (s *Slab[C]) Keys(descending bool) []Key {
	out := make([]Key, 0, s.Header.LeafCount)
	it := s.Iter(descending)
	for {
		ref, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, s.Leaves[ref.Index].Key)
	}
}
