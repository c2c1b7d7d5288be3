package quadtree

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// quadrant positions within a split region.
// follows the unit circle convention with the origin in the top left,
// so "up" is towards smaller y.
const (
	QuadI   = iota // x >= cx, y < cy
	QuadII         // x < cx, y < cy
	QuadIII        // x < cx, y >= cy
	QuadIV         // x >= cx, y >= cy
)

// Region is an axis-aligned rectangle. Containment is half-open:
// Min is inside, Max is not.
type Region struct {
	Min, Max mgl64.Vec2
}

// R builds a region from its corner coordinates.
func R(minX, minY, maxX, maxY float64) Region {
	return Region{Min: mgl64.Vec2{minX, minY}, Max: mgl64.Vec2{maxX, maxY}}
}

// Around returns the bounding box of the disk at center with the given radius.
func Around(center mgl64.Vec2, radius float64) Region {
	r := mgl64.Vec2{radius, radius}
	return Region{Min: center.Sub(r), Max: center.Add(r)}
}

func (r Region) Width() float64  { return r.Max[0] - r.Min[0] }
func (r Region) Height() float64 { return r.Max[1] - r.Min[1] }

// MaxDim is the larger of width and height.
func (r Region) MaxDim() float64 { return math.Max(r.Width(), r.Height()) }

func (r Region) Center() mgl64.Vec2 {
	return r.Min.Add(r.Max).Mul(0.5)
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return !(r.Min[0] < r.Max[0] && r.Min[1] < r.Max[1])
}

// does this region contain point?
func (r Region) Contains(p mgl64.Vec2) bool {
	return r.Min[0] <= p[0] && p[0] < r.Max[0] &&
		r.Min[1] <= p[1] && p[1] < r.Max[1]
}

// Overlaps reports whether the interiors of r and o intersect.
// Regions that only share an edge do not overlap, which agrees with
// Contains never placing an edge point in both.
func (r Region) Overlaps(o Region) bool {
	return r.Min[0] < o.Max[0] && o.Min[0] < r.Max[0] &&
		r.Min[1] < o.Max[1] && o.Min[1] < r.Max[1]
}

// Quadrants splits r at its center. Indexed by QuadI..QuadIV.
func (r Region) Quadrants() [4]Region {
	c := r.Center()
	return [4]Region{
		QuadI:   {Min: mgl64.Vec2{c[0], r.Min[1]}, Max: mgl64.Vec2{r.Max[0], c[1]}},
		QuadII:  {Min: r.Min, Max: c},
		QuadIII: {Min: mgl64.Vec2{r.Min[0], c[1]}, Max: mgl64.Vec2{c[0], r.Max[1]}},
		QuadIV:  {Min: c, Max: r.Max},
	}
}

// Quadrant determines which quadrant of r's split holds p.
// The result only matches a child's Contains when r contains p.
func (r Region) Quadrant(p mgl64.Vec2) int {
	c := r.Center()
	right := p[0] >= c[0]
	low := p[1] >= c[1]
	switch {
	case right && !low:
		return QuadI
	case !right && !low:
		return QuadII
	case !right && low:
		return QuadIII
	default:
		return QuadIV
	}
}

func (r Region) String() string {
	return fmt.Sprintf("[(%g, %g), (%g, %g))", r.Min[0], r.Min[1], r.Max[0], r.Max[1])
}
