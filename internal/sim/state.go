// Package sim owns the simulated bodies and advances them one tick at a
// time: rebuild the quadtree, aggregate mass, compute accelerations,
// integrate and confine the bodies to the world.
package sim

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/barneshut"
	"github.com/quillaja/quadgrav/internal/quadtree"
)

var ErrInvalidParams = errors.New("sim: invalid parameters")

// ForceMode selects how accelerations are computed.
type ForceMode int

const (
	ForceTree   ForceMode = iota // Barnes-Hut walk
	ForceExact                   // all pairs
	ForceCutoff                  // pairs within CutoffRadius, found through the tree
)

func (m ForceMode) String() string {
	switch m {
	case ForceTree:
		return "tree"
	case ForceExact:
		return "exact"
	case ForceCutoff:
		return "cutoff"
	}
	return fmt.Sprintf("ForceMode(%d)", int(m))
}

func ParseForceMode(s string) (ForceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tree", "barneshut", "":
		return ForceTree, nil
	case "exact", "direct":
		return ForceExact, nil
	case "cutoff":
		return ForceCutoff, nil
	}
	return 0, fmt.Errorf("%w: unknown force mode %q", ErrInvalidParams, s)
}

// BoundsMode is what happens to bodies leaving the world.
type BoundsMode int

const (
	BoundsWrap  BoundsMode = iota // reappear on the opposite edge
	BoundsClamp                   // stop at the edge
	BoundsOpen                    // keep going; the tree ignores them
)

func (m BoundsMode) String() string {
	switch m {
	case BoundsWrap:
		return "wrap"
	case BoundsClamp:
		return "clamp"
	case BoundsOpen:
		return "open"
	}
	return fmt.Sprintf("BoundsMode(%d)", int(m))
}

func ParseBoundsMode(s string) (BoundsMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wrap", "":
		return BoundsWrap, nil
	case "clamp":
		return BoundsClamp, nil
	case "open", "none":
		return BoundsOpen, nil
	}
	return 0, fmt.Errorf("%w: unknown bounds mode %q", ErrInvalidParams, s)
}

// Params is everything a tick needs. It is copied into the State, never
// shared.
type Params struct {
	Force        barneshut.Params
	Mode         ForceMode
	ExactBelow   int     // tree mode falls back to the exact sum below this many bodies
	CutoffRadius float64 // neighbour radius for ForceCutoff
	LeafCapacity int
	MaxDepth     int
	Dt           float64 // time step per tick
	Bounds       BoundsMode
	Merge        bool    // merge overlapping bodies
	Density      float64 // areal density used for radii
}

func DefaultParams() Params {
	return Params{
		Force: barneshut.Params{
			Theta:       0.5,
			G:           1,
			SofteningSq: 1,
		},
		Mode:         ForceTree,
		ExactBelow:   32,
		CutoffRadius: 50,
		LeafCapacity: 4,
		MaxDepth:     quadtree.DefaultMaxDepth,
		Dt:           0.1,
		Bounds:       BoundsWrap,
		Density:      DefaultDensity,
	}
}

func (p Params) Validate() error {
	switch {
	case p.LeafCapacity < 1:
		return fmt.Errorf("%w: leaf capacity %d", ErrInvalidParams, p.LeafCapacity)
	case p.MaxDepth < 0:
		return fmt.Errorf("%w: max depth %d", ErrInvalidParams, p.MaxDepth)
	case p.Force.Theta < 0 || math.IsNaN(p.Force.Theta):
		return fmt.Errorf("%w: theta %g", ErrInvalidParams, p.Force.Theta)
	case p.Force.SofteningSq < 0:
		return fmt.Errorf("%w: softening² %g", ErrInvalidParams, p.Force.SofteningSq)
	case p.Dt <= 0:
		return fmt.Errorf("%w: time step %g", ErrInvalidParams, p.Dt)
	case p.Mode == ForceCutoff && p.CutoffRadius <= 0:
		return fmt.Errorf("%w: cutoff radius %g", ErrInvalidParams, p.CutoffRadius)
	case p.Density < 0:
		return fmt.Errorf("%w: density %g", ErrInvalidParams, p.Density)
	}
	return nil
}

// TickStats describes one completed tick.
type TickStats struct {
	Tick    int
	Bodies  int
	Nodes   int
	Dropped int // bodies outside the world when the tree was built
	Merged  int
	Mode    ForceMode // mode actually used

	Build, Aggregate, Force, Integrate time.Duration
}

// Total is the time spent in the whole tick.
func (st TickStats) Total() time.Duration {
	return st.Build + st.Aggregate + st.Force + st.Integrate
}

// State owns the bodies. The tree and hierarchy only ever borrow them for
// the length of a tick.
type State struct {
	params Params
	world  quadtree.Region
	bodies Bodies
	nextID uint64
	tick   int

	tree *quadtree.Tree
	hier *barneshut.Hierarchy

	// scratch reused between ticks
	acc     []mgl64.Vec2
	removed []bool
	near    []int
}

func NewState(p Params, world quadtree.Region) (*State, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	tree, err := quadtree.New(p.LeafCapacity, world, quadtree.WithMaxDepth(p.MaxDepth))
	if err != nil {
		return nil, fmt.Errorf("building world tree: %w", err)
	}
	return &State{
		params: p,
		world:  world,
		tree:   tree,
		hier:   barneshut.NewHierarchy(),
	}, nil
}

// Tick advances the simulation by one time step.
func (s *State) Tick() (TickStats, error) {
	st := TickStats{Tick: s.tick}

	start := time.Now()
	s.tree.Construct(s.bodies)
	if s.params.Merge {
		if st.Merged = s.merge(); st.Merged > 0 {
			s.tree.Construct(s.bodies)
		}
	}
	st.Build = time.Since(start)

	st.Mode = s.params.Mode
	if st.Mode == ForceTree && len(s.bodies) < s.params.ExactBelow {
		st.Mode = ForceExact
	}

	start = time.Now()
	if st.Mode == ForceTree {
		s.hier.Build(s.tree, s.bodies)
	}
	st.Aggregate = time.Since(start)

	start = time.Now()
	switch st.Mode {
	case ForceExact:
		s.acc = barneshut.ExactInto(s.acc, s.bodies, s.params.Force)
	case ForceCutoff:
		s.acc = barneshut.CutoffInto(s.acc, s.tree, s.bodies, s.params.CutoffRadius, s.params.Force)
	default:
		acc, err := barneshut.AccelerationsInto(s.acc, s.tree, s.hier, s.bodies, s.params.Force)
		if err != nil {
			return st, fmt.Errorf("tick %d: %w", s.tick, err)
		}
		s.acc = acc
	}
	st.Force = time.Since(start)

	start = time.Now()
	s.integrate()
	st.Integrate = time.Since(start)

	st.Bodies = len(s.bodies)
	st.Nodes = s.tree.Len()
	st.Dropped = s.tree.Dropped()
	s.tick++
	return st, nil
}

// semi-implicit euler: velocity first, then position from the new velocity.
func (s *State) integrate() {
	dt := s.params.Dt
	for i := range s.bodies {
		b := &s.bodies[i]
		b.Acc = s.acc[i]
		b.Vel = b.Vel.Add(b.Acc.Mul(dt))
		b.Pos = b.Pos.Add(b.Vel.Mul(dt))
		s.confine(b)
	}
}

func (s *State) confine(b *Body) {
	w := s.world
	switch s.params.Bounds {
	case BoundsWrap:
		for a := 0; a < 2; a++ {
			b.Pos[a] = wrap(b.Pos[a], w.Min[a], w.Max[a])
		}
	case BoundsClamp:
		for a := 0; a < 2; a++ {
			switch {
			case b.Pos[a] < w.Min[a]:
				b.Pos[a] = w.Min[a]
				b.Vel[a] = math.Max(b.Vel[a], 0)
			case b.Pos[a] >= w.Max[a]:
				b.Pos[a] = math.Nextafter(w.Max[a], w.Min[a])
				b.Vel[a] = math.Min(b.Vel[a], 0)
			}
		}
	}
}

// wrap x into [lo, hi).
func wrap(x, lo, hi float64) float64 {
	span := hi - lo
	x = math.Mod(x-lo, span)
	if x < 0 {
		x += span
	}
	x += lo
	if x >= hi { // rounding in the addition above
		x = lo
	}
	return x
}

// merge every pair of overlapping bodies, using the freshly built tree to
// find candidates. returns the number of bodies absorbed.
//
// a body that absorbs another moves and grows, so its neighbourhood is
// queried again until nothing more overlaps it. the tree still holds the
// positions from before any merge, so a pair brought together only by
// the movement of two different merged bodies waits for the next tick.
// massless pairs are left alone.
func (s *State) merge() int {
	n := len(s.bodies)
	if cap(s.removed) < n {
		s.removed = make([]bool, n)
	}
	s.removed = s.removed[:n]
	var reach float64
	for i := range s.bodies {
		s.removed[i] = false
		reach = math.Max(reach, s.bodies[i].Radius(s.params.Density))
	}

	merged := 0
	for i := 0; i < n; i++ {
		if s.removed[i] {
			continue
		}
		a := &s.bodies[i]
		ra := a.Radius(s.params.Density)
		for grew := true; grew; {
			grew = false
			s.near = s.tree.QueryRangeInto(s.near[:0], quadtree.Around(a.Pos, ra+reach))
			for _, j := range s.near {
				if j == i || s.removed[j] {
					continue
				}
				b := &s.bodies[j]
				if a.Mass+b.Mass <= barneshut.MassEpsilon {
					continue
				}
				if a.Pos.Sub(b.Pos).Len() <= ra+b.Radius(s.params.Density) {
					combine(a, b)
					ra = a.Radius(s.params.Density)
					reach = math.Max(reach, ra)
					s.removed[j] = true
					merged++
					grew = true
				}
			}
		}
	}
	if merged == 0 {
		return 0
	}

	kept := s.bodies[:0]
	for i := range s.bodies {
		if !s.removed[i] {
			kept = append(kept, s.bodies[i])
		}
	}
	s.bodies = kept
	return merged
}

// Add appends a body, assigning it a fresh ID which is returned.
func (s *State) Add(b Body) uint64 {
	b.ID = s.nextID
	s.nextID++
	s.bodies = append(s.bodies, b)
	return b.ID
}

// Clear removes every body.
func (s *State) Clear() {
	s.bodies = s.bodies[:0]
	s.tree.Construct(s.bodies)
}

// Resize changes the world. Bodies are confined to the new world and the
// tree is rebuilt against it.
func (s *State) Resize(world quadtree.Region) error {
	if err := s.tree.UpdateRootRegion(world); err != nil {
		return err
	}
	s.world = world
	for i := range s.bodies {
		s.confine(&s.bodies[i])
	}
	s.tree.Construct(s.bodies)
	return nil
}

// Refresh rebuilds the tree from the current positions. After a Tick the
// tree still reflects the positions from before integration.
func (s *State) Refresh() {
	s.tree.Construct(s.bodies)
}

// Neighbors returns the bodies within radius of body i, not including i,
// according to the tree as last built.
func (s *State) Neighbors(i int, radius float64) []int {
	p := s.bodies[i].Pos
	var out []int
	for _, j := range s.tree.QueryRange(quadtree.Around(p, radius)) {
		if j == i || j >= len(s.bodies) {
			continue
		}
		if s.bodies[j].Pos.Sub(p).Len() <= radius {
			out = append(out, j)
		}
	}
	return out
}

// Bodies is the live body slice. Callers must not keep it across ticks.
func (s *State) Bodies() Bodies { return s.bodies }

// Tree is the quadtree built during the last Tick, Resize or Refresh.
func (s *State) Tree() *quadtree.Tree { return s.tree }

func (s *State) World() quadtree.Region { return s.world }
func (s *State) Params() Params         { return s.params }
func (s *State) Ticks() int             { return s.tick }

func (s *State) TotalMass() (m float64) {
	for i := range s.bodies {
		m += s.bodies[i].Mass
	}
	return
}

func (s *State) Momentum() (p mgl64.Vec2) {
	for i := range s.bodies {
		p = p.Add(s.bodies[i].Momentum())
	}
	return
}
