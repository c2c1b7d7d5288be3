// Package barneshut aggregates mass over a quadtree and approximates
// gravitational acceleration with the Barnes-Hut opening criterion.
package barneshut

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/quadtree"
)

// MassEpsilon is the total mass at or below which a node is treated as
// massless. Such a node's center is left unnormalized and must be ignored.
const MassEpsilon = 1e-12

// Bodies is a positioned collection that also carries mass.
type Bodies interface {
	quadtree.Points
	Mass(i int) float64
}

// Aggregate is the combined mass of a node's subtree and its center of mass.
type Aggregate struct {
	Mass   float64
	Center mgl64.Vec2
}

// Massless reports whether a contributes nothing.
func (a Aggregate) Massless() bool { return a.Mass <= MassEpsilon }

// Hierarchy holds one Aggregate per node of the tree it was built from.
// It goes stale the moment that tree is rebuilt or resized.
type Hierarchy struct {
	aggs       []Aggregate
	present    []bool
	generation uint64
	built      bool
}

// NewHierarchy returns an empty hierarchy. Reusing one across ticks keeps
// its storage.
func NewHierarchy() *Hierarchy { return &Hierarchy{} }

// BuildHierarchy is NewHierarchy followed by Build.
func BuildHierarchy(t *quadtree.Tree, b Bodies) *Hierarchy {
	h := NewHierarchy()
	h.Build(t, b)
	return h
}

// Build aggregates mass bottom-up over t in a single post-order pass.
// b must be the collection t was last constructed from.
func (h *Hierarchy) Build(t *quadtree.Tree, b Bodies) {
	n := t.Len()
	if cap(h.aggs) < n {
		h.aggs = make([]Aggregate, n)
		h.present = make([]bool, n)
	}
	h.aggs = h.aggs[:n]
	h.present = h.present[:n]
	for i := range h.present {
		h.present[i] = false
	}

	h.aggregate(t, b, quadtree.Root)
	h.generation = t.Generation()
	h.built = true
}

// post-order: children first, then this node from their results.
// returns the subtree's mass and mass-weighted position sum.
func (h *Hierarchy) aggregate(t *quadtree.Tree, b Bodies, id quadtree.NodeID) (mass float64, weighted mgl64.Vec2) {
	if first, ok := t.Children(id); ok {
		for q := quadtree.NodeID(0); q < 4; q++ {
			m, w := h.aggregate(t, b, first+q)
			mass += m
			weighted = weighted.Add(w)
		}
	} else {
		for _, i := range t.Items(id) {
			m := b.Mass(i)
			mass += m
			weighted = weighted.Add(b.Pos(i).Mul(m))
		}
	}

	agg := Aggregate{Mass: mass, Center: weighted}
	if mass > MassEpsilon {
		agg.Center = weighted.Mul(1 / mass)
	}
	h.aggs[id] = agg
	h.present[id] = true
	return mass, weighted
}

// At returns the aggregate for node id. ok is false when the node has no
// entry, which callers treat the same as zero mass.
func (h *Hierarchy) At(id quadtree.NodeID) (agg Aggregate, ok bool) {
	if int(id) < 0 || int(id) >= len(h.aggs) || !h.present[id] {
		return Aggregate{}, false
	}
	return h.aggs[id], true
}

// Root is the aggregate of the whole tree.
func (h *Hierarchy) Root() Aggregate {
	agg, _ := h.At(quadtree.Root)
	return agg
}

// Valid reports whether h was built from t's current structure.
func (h *Hierarchy) Valid(t *quadtree.Tree) bool {
	return h.built && h.generation == t.Generation() && len(h.aggs) == t.Len()
}
