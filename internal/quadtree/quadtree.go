package quadtree

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

/*

region quadtree spatial index.

nodes live in a flat arena addressed by NodeID. a stem owns four contiguous
children starting at node.first, in QuadI..QuadIV order. a leaf owns at most
one bin of item indices. the arena is rebuilt from scratch by Construct;
nothing is ever removed mid-build.

*/

// NodeID addresses a node in the tree's arena.
type NodeID int

// Root is always the first node of the arena.
const Root NodeID = 0

const none = -1

// DefaultMaxDepth bounds subdivision. Leaves at this depth keep every item
// pushed into them, so coincident points end up sharing one overflow leaf
// instead of splitting forever.
const DefaultMaxDepth = 32

var (
	ErrZeroCapacity  = errors.New("quadtree: leaf capacity must be at least 1")
	ErrEmptyBoundary = errors.New("quadtree: boundary has no area")
)

// Points is an indexed collection of positioned items. The tree only keeps
// the integer indices, never the items themselves.
type Points interface {
	Len() int
	Pos(i int) mgl64.Vec2
}

type node struct {
	boundary Region
	first    NodeID // first child if this is a stem, else none
	bin      int    // bin index if this is a leaf holding items, else none
	depth    int
}

// Tree is a capacity-bounded region quadtree over item indices.
// Construct, Insert and UpdateRootRegion must not run concurrently with
// anything else; between them every other method is safe for concurrent use.
type Tree struct {
	capacity int
	maxDepth int

	nodes []node
	bins  [][]int
	free  []int // drained bins available for reuse

	generation uint64
	dropped    int
}

// Option configures a Tree.
type Option func(*Tree)

// WithMaxDepth sets the depth at which leaves stop splitting.
func WithMaxDepth(depth int) Option {
	return func(t *Tree) {
		if depth < 0 {
			depth = 0
		}
		t.maxDepth = depth
	}
}

// New creates a tree holding a single empty root leaf covering boundary.
func New(capacity int, boundary Region, opts ...Option) (*Tree, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrZeroCapacity, capacity)
	}
	if boundary.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBoundary, boundary)
	}
	t := &Tree{
		capacity: capacity,
		maxDepth: DefaultMaxDepth,
		nodes:    []node{{boundary: boundary, first: none, bin: none}},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Construct discards everything below the root and inserts every item.
// Items outside the root boundary are dropped.
func (t *Tree) Construct(items Points) {
	t.reset()
	for i := 0; i < items.Len(); i++ {
		t.Insert(items, i)
	}
}

// Insert places item i of items into the tree. It returns false when the
// item lies outside the root boundary, in which case it is dropped.
// items must be the same collection used for every other insert since the
// last Construct, because a split re-reads the positions of drained items.
func (t *Tree) Insert(items Points, i int) bool {
	if !t.nodes[Root].boundary.Contains(items.Pos(i)) {
		t.dropped++
		return false
	}
	t.push(items, Root, i)
	return true
}

// place item i in the subtree rooted at id.
func (t *Tree) push(items Points, id NodeID, i int) {
	p := items.Pos(i)
	if !t.nodes[id].boundary.Contains(p) {
		return
	}

	if first := t.nodes[id].first; first != none {
		t.push(items, first+NodeID(t.nodes[id].boundary.Quadrant(p)), i)
		return
	}

	bin := t.nodes[id].bin
	if bin == none {
		bin = t.allocBin()
		t.nodes[id].bin = bin
	}
	if len(t.bins[bin]) < t.capacity || t.nodes[id].depth >= t.maxDepth {
		t.bins[bin] = append(t.bins[bin], i)
		return
	}

	// full leaf: re-partition its items into four new children,
	// then process the incoming item exactly as for a stem.
	t.split(items, id)
	t.push(items, id, i)
}

// convert leaf id into a stem. drained items are reinserted rather than
// moved since each one may land in any of the new quadrants.
func (t *Tree) split(items Points, id NodeID) {
	n := t.nodes[id]
	first := NodeID(len(t.nodes))
	for _, q := range n.boundary.Quadrants() {
		t.nodes = append(t.nodes, node{boundary: q, first: none, bin: none, depth: n.depth + 1})
	}
	t.nodes[id].first = first
	t.nodes[id].bin = none

	for _, j := range t.bins[n.bin] {
		t.push(items, id, j)
	}
	t.releaseBin(n.bin)
	t.checkNode(id)
}

func (t *Tree) allocBin() int {
	if n := len(t.free); n > 0 {
		b := t.free[n-1]
		t.free = t.free[:n-1]
		return b
	}
	if len(t.bins) < cap(t.bins) {
		// reuse a slice left over from an earlier construction
		t.bins = t.bins[:len(t.bins)+1]
		b := len(t.bins) - 1
		t.bins[b] = t.bins[b][:0]
		return b
	}
	t.bins = append(t.bins, make([]int, 0, t.capacity))
	return len(t.bins) - 1
}

func (t *Tree) releaseBin(b int) {
	t.bins[b] = t.bins[b][:0]
	t.free = append(t.free, b)
}

// panics if a node is both a stem and a leaf holding data.
func (t *Tree) checkNode(id NodeID) {
	n := t.nodes[id]
	if n.first != none && n.bin != none && len(t.bins[n.bin]) > 0 {
		panic(fmt.Sprintf("quadtree: node %d is a stem with %d items", id, len(t.bins[n.bin])))
	}
}

// truncate to a lone empty root.
func (t *Tree) reset() {
	root := t.nodes[Root]
	t.nodes = t.nodes[:1]
	t.nodes[Root] = node{boundary: root.boundary, first: none, bin: none}
	t.bins = t.bins[:0]
	t.free = t.free[:0]
	t.dropped = 0
	t.generation++
}

// QueryRange returns the items of every leaf whose boundary overlaps r.
// This is a superset of the items inside r; callers wanting exact
// containment (or distance) must filter the result themselves.
func (t *Tree) QueryRange(r Region) []int {
	return t.QueryRangeInto(nil, r)
}

// QueryRangeInto is QueryRange appending into dst.
func (t *Tree) QueryRangeInto(dst []int, r Region) []int {
	dst, _ = t.search(Root, r, dst)
	return dst
}

// also reports how many nodes were visited.
func (t *Tree) search(id NodeID, r Region, dst []int) ([]int, int) {
	n := t.nodes[id]
	if !n.boundary.Overlaps(r) {
		return dst, 1
	}
	visits := 1
	if n.first != none {
		for q := NodeID(0); q < 4; q++ {
			var v int
			dst, v = t.search(n.first+q, r, dst)
			visits += v
		}
		return dst, visits
	}
	if n.bin != none {
		dst = append(dst, t.bins[n.bin]...)
	}
	return dst, visits
}

// RootRegion is the boundary of the whole tree.
func (t *Tree) RootRegion() Region { return t.nodes[Root].boundary }

// UpdateRootRegion replaces the root boundary and empties the tree.
// The tree must be constructed again before use. An empty boundary is
// rejected and leaves the tree untouched.
func (t *Tree) UpdateRootRegion(r Region) error {
	if r.Empty() {
		return fmt.Errorf("%w: %s", ErrEmptyBoundary, r)
	}
	t.nodes[Root].boundary = r
	t.reset()
	return nil
}

// Len is the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Capacity() int { return t.capacity }
func (t *Tree) MaxDepth() int { return t.maxDepth }

// Dropped counts items rejected for lying outside the root since the
// last Construct.
func (t *Tree) Dropped() int { return t.dropped }

// Generation changes every time the tree's structure is rebuilt.
// Data derived from the tree can compare it to detect staleness.
func (t *Tree) Generation() uint64 { return t.generation }

func (t *Tree) Boundary(id NodeID) Region { return t.nodes[id].boundary }
func (t *Tree) Depth(id NodeID) int       { return t.nodes[id].depth }

// Children returns the first of id's four contiguous children.
// ok is false for leaves.
func (t *Tree) Children(id NodeID) (first NodeID, ok bool) {
	first = t.nodes[id].first
	return first, first != none
}

func (t *Tree) IsLeaf(id NodeID) bool { return t.nodes[id].first == none }

// Items returns the item indices held directly by id. The slice is owned
// by the tree and is only valid until the next Construct.
func (t *Tree) Items(id NodeID) []int {
	if b := t.nodes[id].bin; b != none {
		return t.bins[b]
	}
	return nil
}

// Walk visits nodes in pre-order, children in quadrant order.
// Returning false from fn skips that node's children.
func (t *Tree) Walk(fn func(id NodeID) bool) {
	t.walk(Root, fn)
}

func (t *Tree) walk(id NodeID, fn func(NodeID) bool) {
	if !fn(id) {
		return
	}
	if first := t.nodes[id].first; first != none {
		for q := NodeID(0); q < 4; q++ {
			t.walk(first+q, fn)
		}
	}
}

// Leaves calls fn for every leaf along with the items it holds.
func (t *Tree) Leaves(fn func(id NodeID, items []int)) {
	t.Walk(func(id NodeID) bool {
		if t.IsLeaf(id) {
			fn(id, t.Items(id))
		}
		return true
	})
}
