package barneshut

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/quadtree"
)

// Exact sums the pull of every other body on each body, O(n²).
// It uses the same softening and distance guard as the tree walk, so the
// two agree as Theta goes to zero.
func Exact(b Bodies, p Params) []mgl64.Vec2 {
	return ExactInto(nil, b, p)
}

// ExactInto is Exact writing into dst.
func ExactInto(dst []mgl64.Vec2, b Bodies, p Params) []mgl64.Vec2 {
	n := b.Len()
	dst = resize(dst, n)
	for i := 0; i < n; i++ {
		dst[i] = ExactOn(b, i, p)
	}
	return dst
}

// ExactOn is the exact acceleration on body i.
func ExactOn(b Bodies, i int, p Params) (acc mgl64.Vec2) {
	pos := b.Pos(i)
	for j := 0; j < b.Len(); j++ {
		if j == i {
			continue
		}
		acc = acc.Add(pull(b.Pos(j), pos, b.Mass(j), p))
	}
	return
}

// Cutoff sums the pull on each body from the bodies within radius of it,
// found through a range query on t and then filtered by distance. Bodies
// the tree dropped neither exert nor receive any pull.
func Cutoff(t *quadtree.Tree, b Bodies, radius float64, p Params) []mgl64.Vec2 {
	return CutoffInto(nil, t, b, radius, p)
}

// CutoffInto is Cutoff writing into dst.
func CutoffInto(dst []mgl64.Vec2, t *quadtree.Tree, b Bodies, radius float64, p Params) []mgl64.Vec2 {
	n := b.Len()
	dst = resize(dst, n)
	var near []int
	for i := 0; i < n; i++ {
		dst[i] = mgl64.Vec2{}
		pos := b.Pos(i)
		if !t.RootRegion().Contains(pos) {
			continue
		}
		near = t.QueryRangeInto(near[:0], quadtree.Around(pos, radius))
		for _, j := range near {
			if j == i {
				continue
			}
			q := b.Pos(j)
			if q.Sub(pos).Len() > radius {
				continue
			}
			dst[i] = dst[i].Add(pull(q, pos, b.Mass(j), p))
		}
	}
	return dst
}
