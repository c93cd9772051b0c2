package quadtree

import "errors"

var (
	// ErrChildrenExist is returned when creating children for a node that
	// already has them.
	ErrChildrenExist = errors.New("quadtree: node already has children")
	// ErrInvalidHandle is returned for handles of released nodes.
	ErrInvalidHandle = errors.New("quadtree: invalid node handle")
	// ErrFloatingConsumed is returned when a floating group is spliced twice.
	ErrFloatingConsumed = errors.New("quadtree: floating children already consumed")
	// ErrFloatingMismatch is returned when a floating group was created for
	// a different parent.
	ErrFloatingMismatch = errors.New("quadtree: floating children belong to another parent")
)

// Handle addresses a node in a Tree. The zero Handle addresses nothing.
// Handles stay comparable values; a handle to a released node is detected
// through its generation.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type node[T any] struct {
	loc         Location
	data        T
	parent      Handle
	children    [4]Handle
	hasChildren bool
	gen         uint32
	live        bool
}

// Tree is an arena of quadtree nodes. A node exclusively owns its four
// children; the parent link is a lookup-only handle.
//
// Tree is not safe for concurrent use.
type Tree[T any] struct {
	nodes []*node[T]
	free  []uint32
	root  Handle
	live  int
}

// NewTree creates a tree holding only the root node.
func NewTree[T any](rootData T) *Tree[T] {
	t := &Tree[T]{}
	t.root = t.alloc(Root, rootData, Handle{})
	return t
}

func (t *Tree[T]) alloc(loc Location, data T, parent Handle) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.nodes))
		t.nodes = append(t.nodes, &node[T]{})
	}
	nd := t.nodes[idx]
	gen := nd.gen + 1
	*nd = node[T]{loc: loc, data: data, parent: parent, gen: gen, live: true}
	t.live++
	return Handle{index: idx, gen: gen}
}

func (t *Tree[T]) release(h Handle) {
	nd := t.nodes[h.index]
	var zero T
	nd.data = zero
	nd.live = false
	nd.hasChildren = false
	nd.children = [4]Handle{}
	nd.parent = Handle{}
	t.free = append(t.free, h.index)
	t.live--
}

func (t *Tree[T]) get(h Handle) *node[T] {
	if h.gen == 0 || int(h.index) >= len(t.nodes) {
		return nil
	}
	nd := t.nodes[h.index]
	if !nd.live || nd.gen != h.gen {
		return nil
	}
	return nd
}

// Root returns the handle of the root node.
func (t *Tree[T]) Root() Handle {
	return t.root
}

// Len returns the number of live nodes.
func (t *Tree[T]) Len() int {
	return t.live
}

// Valid reports whether h addresses a live node.
func (t *Tree[T]) Valid(h Handle) bool {
	return t.get(h) != nil
}

// Location returns the location of the node.
func (t *Tree[T]) Location(h Handle) Location {
	if nd := t.get(h); nd != nil {
		return nd.loc
	}
	return Location{Level: -1}
}

// Data returns a pointer to the node payload, or nil for an invalid
// handle. The pointer stays valid until the node is released.
func (t *Tree[T]) Data(h Handle) *T {
	if nd := t.get(h); nd != nil {
		return &nd.data
	}
	return nil
}

// Parent returns the parent handle. The root has no parent.
func (t *Tree[T]) Parent(h Handle) (Handle, bool) {
	nd := t.get(h)
	if nd == nil || nd.parent.IsZero() {
		return Handle{}, false
	}
	return nd.parent, true
}

// Children returns the four child handles in LB, RB, LT, RT order.
func (t *Tree[T]) Children(h Handle) ([4]Handle, bool) {
	nd := t.get(h)
	if nd == nil || !nd.hasChildren {
		return [4]Handle{}, false
	}
	return nd.children, true
}

// HasChildren reports whether the node has children.
func (t *Tree[T]) HasChildren(h Handle) bool {
	nd := t.get(h)
	return nd != nil && nd.hasChildren
}

// CreateChildren attaches four new children carrying the given payloads.
func (t *Tree[T]) CreateChildren(h Handle, data [4]T) ([4]Handle, error) {
	nd := t.get(h)
	if nd == nil {
		return [4]Handle{}, ErrInvalidHandle
	}
	if nd.hasChildren {
		return [4]Handle{}, ErrChildrenExist
	}
	loc := nd.loc
	var children [4]Handle
	for i := range children {
		children[i] = t.alloc(loc.Child(i), data[i], h)
	}
	// alloc may have grown the arena; nd still points at the same node.
	nd.children = children
	nd.hasChildren = true
	return children, nil
}

// CreateChildrenFrom moves a floating group of children into the tree.
// The floating group is consumed and cannot be spliced again.
func (t *Tree[T]) CreateChildrenFrom(h Handle, f *Floating[T]) ([4]Handle, error) {
	nd := t.get(h)
	if nd == nil {
		return [4]Handle{}, ErrInvalidHandle
	}
	if f.consumed {
		return [4]Handle{}, ErrFloatingConsumed
	}
	if f.parent != nd.loc {
		return [4]Handle{}, ErrFloatingMismatch
	}
	data, err := f.Detach()
	if err != nil {
		return [4]Handle{}, err
	}
	return t.CreateChildren(h, data)
}

// DestroyChildren recursively releases all descendants of the node. It is
// a no-op for a childless node.
func (t *Tree[T]) DestroyChildren(h Handle) {
	nd := t.get(h)
	if nd == nil || !nd.hasChildren {
		return
	}
	children := nd.children
	nd.children = [4]Handle{}
	nd.hasChildren = false
	for _, c := range children {
		t.DestroyChildren(c)
		t.release(c)
	}
}

// Walk visits the node and its descendants depth first, parents before
// children. Returning false from fn skips the node's descendants.
func (t *Tree[T]) Walk(h Handle, fn func(h Handle, data *T) bool) {
	nd := t.get(h)
	if nd == nil {
		return
	}
	if !fn(h, &nd.data) || !nd.hasChildren {
		return
	}
	for _, c := range nd.children {
		t.Walk(c, fn)
	}
}

// Floating holds four detached children of a node. It owns their payloads
// until they are moved into a Tree with CreateChildrenFrom.
type Floating[T any] struct {
	parent   Location
	data     [4]T
	consumed bool
}

// NewFloating creates detached children for the node at parent.
func NewFloating[T any](parent Location) *Floating[T] {
	return &Floating[T]{parent: parent}
}

// Parent returns the location of the node the children belong to.
func (f *Floating[T]) Parent() Location {
	return f.parent
}

// Location returns the location of the child in the given slot.
func (f *Floating[T]) Location(slot int) Location {
	return f.parent.Child(slot)
}

// Data returns a pointer to the payload of the child in the given slot, or
// nil once the group has been consumed.
func (f *Floating[T]) Data(slot int) *T {
	if f.consumed {
		return nil
	}
	return &f.data[slot]
}

// Consumed reports whether the payloads have been moved out.
func (f *Floating[T]) Consumed() bool {
	return f.consumed
}

// Detach moves the payloads out of the group.
func (f *Floating[T]) Detach() ([4]T, error) {
	if f.consumed {
		return [4]T{}, ErrFloatingConsumed
	}
	data := f.data
	f.data = [4]T{}
	f.consumed = true
	return data, nil
}
