package sim

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/barneshut"
)

/*

bodies and the bits of physics that belong to them rather than to the
force pass.

*/

// DefaultDensity gives a radius of about 1 to a body of mass π.
const DefaultDensity = 1.0

type Body struct {
	ID   uint64
	Mass float64
	Pos  mgl64.Vec2
	Vel  mgl64.Vec2
	Acc  mgl64.Vec2 // written by the force pass every tick
}

// Radius of the disk of area mass/density.
func (b Body) Radius(density float64) float64 {
	return radiusMassDensity(b.Mass, density)
}

// Momentum is mass times velocity.
func (b Body) Momentum() mgl64.Vec2 { return b.Vel.Mul(b.Mass) }

func (b Body) String() string {
	return fmt.Sprintf("m: %.4f p: [%.2f, %.2f] v: [%.2f, %.2f]",
		b.Mass, b.Pos[0], b.Pos[1], b.Vel[0], b.Vel[1])
}

// Bodies lets the quadtree and force pass read a body slice in place.
type Bodies []Body

func (bs Bodies) Len() int             { return len(bs) }
func (bs Bodies) Pos(i int) mgl64.Vec2 { return bs[i].Pos }
func (bs Bodies) Mass(i int) float64   { return bs[i].Mass }

// disk radius given a mass and (areal) density
func radiusMassDensity(mass, density float64) float64 {
	if density <= 0 {
		density = DefaultDensity
	}
	return math.Sqrt(mass / (math.Pi * density))
}

// calculates the final velocity of a and b in a perfectly inelastic collision.
func inelasticCollision(ma float64, va mgl64.Vec2, mb float64, vb mgl64.Vec2) mgl64.Vec2 {
	return va.Mul(ma).Add(vb.Mul(mb)).Mul(1 / (ma + mb))
}

// combine a and b into a. a ends up at the pair's center of mass with
// their combined momentum. A massless pair has no center of mass, so a
// keeps its position and motion.
func combine(a, b *Body) {
	m := a.Mass + b.Mass
	if m <= barneshut.MassEpsilon {
		a.Mass = m
		return
	}
	a.Pos = a.Pos.Mul(a.Mass).Add(b.Pos.Mul(b.Mass)).Mul(1 / m)
	a.Vel = inelasticCollision(a.Mass, a.Vel, b.Mass, b.Vel)
	a.Acc = inelasticCollision(a.Mass, a.Acc, b.Mass, b.Acc)
	a.Mass = m
}
