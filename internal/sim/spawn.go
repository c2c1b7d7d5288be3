package sim

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/quadtree"
)

// SpawnRange bounds the random bodies made by Spawn.
type SpawnRange struct {
	MassMin, MassMax float64
	SpeedMax         float64 // each velocity component is drawn from ±SpeedMax

	// Cores, when present, are added first. Every other body is placed
	// within Spread of a random core and given a circular orbital velocity
	// around it.
	Cores  []Body
	Spread float64
}

// Spawn adds n random bodies and returns how many bodies (cores
// included) were added.
func (s *State) Spawn(n int, r SpawnRange, rnd *rand.Rand) int {
	for _, c := range r.Cores {
		s.confine(&c)
		s.Add(c)
	}

	for i := 0; i < n; i++ {
		b := Body{Mass: r.MassMin + rnd.Float64()*(r.MassMax-r.MassMin)}
		jitter := mgl64.Vec2{
			(rnd.Float64()*2 - 1) * r.SpeedMax,
			(rnd.Float64()*2 - 1) * r.SpeedMax,
		}

		if len(r.Cores) == 0 {
			b.Pos = mgl64.Vec2{
				s.world.Min[0] + rnd.Float64()*s.world.Width(),
				s.world.Min[1] + rnd.Float64()*s.world.Height(),
			}
			b.Vel = jitter
		} else {
			core := r.Cores[rnd.Intn(len(r.Cores))]
			x, y := uniformSampleDisk(rnd, r.Spread)
			b.Pos = core.Pos.Add(mgl64.Vec2{x, y})

			// apply initial orbital velocity around the core in the
			// direction perpendicular to the body-core vector.
			d := b.Pos.Sub(core.Pos)
			dist := d.Len()
			if dist == 0 {
				dist = 1
			}
			tangent := mgl64.Vec2{-d[1], d[0]}.Mul(1 / dist)
			v := math.Sqrt(s.params.Force.G * core.Mass / dist)
			b.Vel = tangent.Mul(v).Add(core.Vel).Add(jitter)
		}

		s.confine(&b)
		s.Add(b)
	}
	return n + len(r.Cores)
}

// RingCores places n cores of the given mass evenly on a circle around the
// world's center, a quarter of the world's smaller side out.
func RingCores(n int, mass float64, world quadtree.Region) []Body {
	if n <= 0 {
		return nil
	}
	center := world.Center()
	if n == 1 {
		return []Body{{Mass: mass, Pos: center}}
	}
	radius := math.Min(world.Width(), world.Height()) / 4
	cores := make([]Body, n)
	for i := range cores {
		sin, cos := math.Sincos(2 * math.Pi * float64(i) / float64(n))
		cores[i] = Body{Mass: mass, Pos: center.Add(mgl64.Vec2{cos, sin}.Mul(radius))}
	}
	return cores
}

// uniformly (no bias towards center) sample a disk with the given radius.
func uniformSampleDisk(rnd *rand.Rand, radius float64) (x, y float64) {
	r := radius * math.Sqrt(rnd.Float64())
	theta := 2 * math.Pi * rnd.Float64()
	sin, cos := math.Sincos(theta)
	return r * cos, r * sin
}
