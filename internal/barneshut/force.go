package barneshut

import (
	"errors"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/quadtree"
)

// DistanceEpsilon is the separation below which a pair is skipped
// instead of producing a near-infinite pull.
const DistanceEpsilon = 1e-9

var ErrStaleHierarchy = errors.New("barneshut: hierarchy was built for a different tree")

// Params tunes the force pass.
type Params struct {
	// Theta is the opening threshold. A node of size s at distance d from
	// the target is treated as one mass when s/d < Theta. Zero gives the
	// exact pairwise result.
	Theta float64
	// G is the gravitational constant.
	G float64
	// SofteningSq is added to the squared distance of every interaction.
	SofteningSq float64
	// Workers > 1 splits the targets into that many goroutines.
	Workers int
}

// acceleration on a body at to due to mass m at from.
func pull(from, to mgl64.Vec2, m float64, p Params) mgl64.Vec2 {
	d := from.Sub(to)
	r2 := d.Dot(d)
	r := math.Sqrt(r2)
	if r < DistanceEpsilon {
		return mgl64.Vec2{}
	}
	// normalize(d) * G*m / (r² + ε²)
	return d.Mul(p.G * m / ((r2 + p.SofteningSq) * r))
}

// Accelerations approximates the gravitational acceleration on every body.
// h must have been built from t, and t from b, during the current tick.
func Accelerations(t *quadtree.Tree, h *Hierarchy, b Bodies, p Params) ([]mgl64.Vec2, error) {
	return AccelerationsInto(nil, t, h, b, p)
}

// AccelerationsInto is Accelerations writing into dst, which is grown
// as needed and returned.
func AccelerationsInto(dst []mgl64.Vec2, t *quadtree.Tree, h *Hierarchy, b Bodies, p Params) ([]mgl64.Vec2, error) {
	if !h.Valid(t) {
		return dst, ErrStaleHierarchy
	}
	n := b.Len()
	dst = resize(dst, n)

	if p.Workers <= 1 || n < 2*p.Workers {
		for i := 0; i < n; i++ {
			dst[i] = walk(t, h, b, i, p)
		}
		return dst, nil
	}

	// tree and hierarchy are frozen from here on; each goroutine only
	// writes its own contiguous range of dst.
	groupsize := (n + p.Workers - 1) / p.Workers
	wg := sync.WaitGroup{}
	for lo := 0; lo < n; lo += groupsize {
		hi := min(lo+groupsize, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				dst[i] = walk(t, h, b, i, p)
			}
		}(lo, hi)
	}
	wg.Wait()
	return dst, nil
}

// AccelerationOn approximates the acceleration on body i alone.
func AccelerationOn(t *quadtree.Tree, h *Hierarchy, b Bodies, i int, p Params) (mgl64.Vec2, error) {
	if !h.Valid(t) {
		return mgl64.Vec2{}, ErrStaleHierarchy
	}
	return walk(t, h, b, i, p), nil
}

func walk(t *quadtree.Tree, h *Hierarchy, b Bodies, i int, p Params) mgl64.Vec2 {
	return gravity(t, h, b, quadtree.Root, i, b.Pos(i), p)
}

// walk body i at pos through the subtree at id, accumulating pull from
// nearby bodies directly and from distant nodes as aggregate masses.
func gravity(t *quadtree.Tree, h *Hierarchy, b Bodies, id quadtree.NodeID, i int, pos mgl64.Vec2, p Params) (acc mgl64.Vec2) {
	agg, ok := h.At(id)
	if !ok || agg.Massless() {
		return // empty subtree
	}

	bound := t.Boundary(id)
	r := agg.Center.Sub(pos).Len()

	// a node holding the body is never far enough away, otherwise its
	// aggregate would include the body's own mass.
	if !bound.Contains(pos) && r >= DistanceEpsilon && bound.MaxDim()/r < p.Theta {
		return pull(agg.Center, pos, agg.Mass, p)
	}

	if first, ok := t.Children(id); ok {
		for q := quadtree.NodeID(0); q < 4; q++ {
			acc = acc.Add(gravity(t, h, b, first+q, i, pos, p))
		}
		return
	}

	// leaf too close to approximate: sum its bodies one by one.
	for _, j := range t.Items(id) {
		if j == i {
			continue
		}
		acc = acc.Add(pull(b.Pos(j), pos, b.Mass(j), p))
	}
	return
}

func resize(dst []mgl64.Vec2, n int) []mgl64.Vec2 {
	if cap(dst) < n {
		return make([]mgl64.Vec2, n)
	}
	return dst[:n]
}
