package sim

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/quadtree"
)

func newState(t *testing.T, p Params, world quadtree.Region) *State {
	t.Helper()
	s, err := NewState(p, world)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	return s
}

func tick(t *testing.T, s *State) TickStats {
	t.Helper()
	st, err := s.Tick()
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return st
}

func TestParseModes(t *testing.T) {
	for in, want := range map[string]ForceMode{"tree": ForceTree, "": ForceTree, "EXACT": ForceExact, "cutoff": ForceCutoff} {
		got, err := ParseForceMode(in)
		if err != nil || got != want {
			t.Errorf("ParseForceMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseForceMode("bogus"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
	for in, want := range map[string]BoundsMode{"wrap": BoundsWrap, "clamp": BoundsClamp, " open ": BoundsOpen} {
		got, err := ParseBoundsMode(in)
		if err != nil || got != want {
			t.Errorf("ParseBoundsMode(%q) = %v, %v", in, got, err)
		}
	}
	if BoundsClamp.String() != "clamp" || ForceCutoff.String() != "cutoff" {
		t.Error("mode names do not round trip")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"zero capacity", func(p *Params) { p.LeafCapacity = 0 }},
		{"negative theta", func(p *Params) { p.Force.Theta = -1 }},
		{"negative softening", func(p *Params) { p.Force.SofteningSq = -0.1 }},
		{"zero dt", func(p *Params) { p.Dt = 0 }},
		{"cutoff without radius", func(p *Params) { p.Mode = ForceCutoff; p.CutoffRadius = 0 }},
		{"negative depth", func(p *Params) { p.MaxDepth = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			if _, err := NewState(p, quadtree.R(0, 0, 1, 1)); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if _, err := NewState(DefaultParams(), quadtree.R(0, 0, 0, 0)); !errors.Is(err, quadtree.ErrEmptyBoundary) {
		t.Errorf("expected ErrEmptyBoundary, got %v", err)
	}
}

func TestTwoBodiesAttract(t *testing.T) {
	p := DefaultParams()
	p.ExactBelow = 0
	p.Force.Theta = 0
	p.Force.SofteningSq = 0
	s := newState(t, p, quadtree.R(0, 0, 100, 100))
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{45, 50}})
	s.Add(Body{Mass: 2, Pos: mgl64.Vec2{55, 50}})

	st := tick(t, s)
	if st.Mode != ForceTree {
		t.Errorf("expected tree mode, got %v", st.Mode)
	}
	b := s.Bodies()
	if want := p.Force.G * 2 / 100; math.Abs(b[0].Acc[0]-want) > 1e-12 {
		t.Errorf("body 0 acceleration %v, want (%g, 0)", b[0].Acc, want)
	}
	if b[0].Vel[0] <= 0 || b[1].Vel[0] >= 0 {
		t.Errorf("bodies should move towards each other: %v %v", b[0].Vel, b[1].Vel)
	}
	if m := s.Momentum(); math.Abs(m[0]) > 1e-12 || math.Abs(m[1]) > 1e-12 {
		t.Errorf("momentum not conserved: %v", m)
	}
}

func TestExactModeConservesMomentum(t *testing.T) {
	p := DefaultParams()
	p.Mode = ForceExact
	p.Bounds = BoundsOpen
	s := newState(t, p, quadtree.R(0, 0, 200, 200))
	s.Spawn(60, SpawnRange{MassMin: 1, MassMax: 5}, rand.New(rand.NewSource(1)))

	for i := 0; i < 20; i++ {
		st := tick(t, s)
		if st.Mode != ForceExact {
			t.Fatalf("expected exact mode, got %v", st.Mode)
		}
	}
	if m := s.Momentum(); m.Len() > 1e-9 {
		t.Errorf("momentum drifted to %v", m)
	}
}

func TestTreeModeMatchesExactAtThetaZero(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	world := quadtree.R(0, 0, 500, 500)

	p := DefaultParams()
	p.Force.Theta = 0
	p.ExactBelow = 0
	tree := newState(t, p, world)
	p.Mode = ForceExact
	exact := newState(t, p, world)

	tree.Spawn(300, SpawnRange{MassMin: 1, MassMax: 3, SpeedMax: 1}, rnd)
	for _, b := range tree.Bodies() {
		exact.Add(b)
	}

	for i := 0; i < 3; i++ {
		tick(t, tree)
		tick(t, exact)
	}
	for i, b := range tree.Bodies() {
		if d := b.Pos.Sub(exact.Bodies()[i].Pos).Len(); d > 1e-9 {
			t.Fatalf("body %d diverged by %g", i, d)
		}
	}
}

func TestExactBelowFallback(t *testing.T) {
	p := DefaultParams()
	p.ExactBelow = 10
	s := newState(t, p, quadtree.R(0, 0, 100, 100))
	s.Spawn(5, SpawnRange{MassMin: 1, MassMax: 1}, rand.New(rand.NewSource(3)))
	if st := tick(t, s); st.Mode != ForceExact {
		t.Errorf("expected exact fallback, got %v", st.Mode)
	}
}

func TestCutoffMode(t *testing.T) {
	p := DefaultParams()
	p.Mode = ForceCutoff
	p.CutoffRadius = 10
	p.Force.SofteningSq = 0
	s := newState(t, p, quadtree.R(0, 0, 100, 100))
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{10, 10}})
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{15, 10}})
	s.Add(Body{Mass: 1000, Pos: mgl64.Vec2{80, 80}})

	tick(t, s)
	b := s.Bodies()
	if b[2].Acc != (mgl64.Vec2{}) {
		t.Errorf("distant body should feel nothing, got %v", b[2].Acc)
	}
	if b[0].Acc[1] != 0 || b[0].Acc[0] <= 0 {
		t.Errorf("body 0 should only be pulled by body 1, got %v", b[0].Acc)
	}
}

func TestWrap(t *testing.T) {
	tests := []struct{ x, want float64 }{
		{5, 5}, {105, 5}, {-5, 95}, {100, 0}, {0, 0}, {-100, 0}, {250, 50},
	}
	for _, tt := range tests {
		if got := wrap(tt.x, 0, 100); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("wrap(%g) = %g, want %g", tt.x, got, tt.want)
		}
	}
}

func TestBounds(t *testing.T) {
	world := quadtree.R(0, 0, 100, 100)
	tests := []struct {
		mode    BoundsMode
		wantPos mgl64.Vec2
		wantVel mgl64.Vec2
	}{
		{BoundsWrap, mgl64.Vec2{5, 50}, mgl64.Vec2{10, 0}},
		{BoundsClamp, mgl64.Vec2{math.Nextafter(100, 0), 50}, mgl64.Vec2{0, 0}},
		{BoundsOpen, mgl64.Vec2{105, 50}, mgl64.Vec2{10, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p := DefaultParams()
			p.Bounds = tt.mode
			p.Dt = 1
			s := newState(t, p, world)
			s.Add(Body{Mass: 1, Pos: mgl64.Vec2{95, 50}, Vel: mgl64.Vec2{10, 0}})
			tick(t, s)

			b := s.Bodies()[0]
			if !b.Pos.ApproxEqualThreshold(tt.wantPos, 1e-9) || !b.Vel.ApproxEqualThreshold(tt.wantVel, 1e-9) {
				t.Errorf("got pos %v vel %v, want pos %v vel %v", b.Pos, b.Vel, tt.wantPos, tt.wantVel)
			}
			if tt.mode == BoundsOpen {
				if st := tick(t, s); st.Dropped != 1 {
					t.Errorf("body outside the world should be dropped from the tree, got %d", st.Dropped)
				}
			}
		})
	}
}

func TestMerge(t *testing.T) {
	p := DefaultParams()
	p.Merge = true
	p.Bounds = BoundsOpen
	p.Dt = 1e-9
	s := newState(t, p, quadtree.R(0, 0, 100, 100))
	s.Add(Body{Mass: 4, Pos: mgl64.Vec2{50, 50}, Vel: mgl64.Vec2{1, 0}})
	s.Add(Body{Mass: 2, Pos: mgl64.Vec2{50.5, 50}, Vel: mgl64.Vec2{-1, 1}})
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{10, 10}})
	mass, momentum := s.TotalMass(), s.Momentum()

	st := tick(t, s)
	if st.Merged != 1 || len(s.Bodies()) != 2 {
		t.Fatalf("expected one merge leaving 2 bodies, got %d merges and %d bodies", st.Merged, len(s.Bodies()))
	}
	if math.Abs(s.TotalMass()-mass) > 1e-12 {
		t.Errorf("mass changed from %g to %g", mass, s.TotalMass())
	}
	if !s.Momentum().ApproxEqualThreshold(momentum, 1e-6) {
		t.Errorf("momentum changed from %v to %v", momentum, s.Momentum())
	}
	b := s.Bodies()[0]
	if b.Mass != 6 || b.ID != 0 {
		t.Errorf("merged body should keep the first ID with mass 6, got %v (id %d)", b, b.ID)
	}
	if want := (mgl64.Vec2{50 + 0.5/3, 50}); !b.Pos.ApproxEqualThreshold(want, 1e-6) {
		t.Errorf("merged body at %v, want %v", b.Pos, want)
	}
}

func TestMergeMasslessBodies(t *testing.T) {
	p := DefaultParams()
	p.Merge = true
	p.Bounds = BoundsOpen
	s := newState(t, p, quadtree.R(0, 0, 100, 100))
	s.Add(Body{Mass: 0, Pos: mgl64.Vec2{50, 50}})
	s.Add(Body{Mass: 0, Pos: mgl64.Vec2{50, 50}})
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{10, 10}})

	for i := 0; i < 3; i++ {
		st := tick(t, s)
		if st.Merged != 0 || st.Dropped != 0 {
			t.Fatalf("tick %d: %d merges, %d dropped", i, st.Merged, st.Dropped)
		}
		for _, b := range s.Bodies() {
			if math.IsNaN(b.Pos[0]) || math.IsNaN(b.Pos[1]) || math.IsNaN(b.Vel[0]) || math.IsNaN(b.Vel[1]) {
				t.Fatalf("tick %d: body %d went NaN: %+v", i, b.ID, b)
			}
		}
	}
	if len(s.Bodies()) != 3 || s.TotalMass() != 1 {
		t.Errorf("expected 3 bodies of total mass 1, got %d of %g", len(s.Bodies()), s.TotalMass())
	}
}

func TestMergeRequeriesAfterGrowth(t *testing.T) {
	p := DefaultParams()
	p.Merge = true
	p.Bounds = BoundsOpen
	p.Dt = 1e-9
	p.LeafCapacity = 1
	p.Density = 1 / math.Pi // radius is sqrt(mass)
	s := newState(t, p, quadtree.R(0, 0, 128, 128))
	// a and b touch. c only reaches the body they merge into, and sits in
	// a leaf outside the box first searched around a.
	s.Add(Body{Mass: 4, Pos: mgl64.Vec2{50, 1}})
	s.Add(Body{Mass: 4, Pos: mgl64.Vec2{53.9, 1}})
	s.Add(Body{Mass: 0.01, Pos: mgl64.Vec2{54.85, 1}})

	st := tick(t, s)
	if st.Merged != 2 || len(s.Bodies()) != 1 {
		t.Fatalf("expected everything merged into one body, got %d merges and %d bodies", st.Merged, len(s.Bodies()))
	}
	if b := s.Bodies()[0]; b.ID != 0 || math.Abs(b.Mass-8.01) > 1e-12 {
		t.Errorf("unexpected merged body %+v", b)
	}
}

func TestResize(t *testing.T) {
	p := DefaultParams()
	p.Bounds = BoundsClamp
	s := newState(t, p, quadtree.R(0, 0, 100, 100))
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{90, 90}})
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{10, 10}})

	if err := s.Resize(quadtree.R(0, 0, 50, 50)); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if s.Tree().RootRegion() != quadtree.R(0, 0, 50, 50) {
		t.Errorf("tree root not updated: %s", s.Tree().RootRegion())
	}
	if !s.World().Contains(s.Bodies()[0].Pos) {
		t.Errorf("body not confined to new world: %v", s.Bodies()[0].Pos)
	}
	if s.Tree().Dropped() != 0 {
		t.Errorf("expected no drops after resize, got %d", s.Tree().Dropped())
	}
	if err := s.Resize(quadtree.R(0, 0, 0, 10)); !errors.Is(err, quadtree.ErrEmptyBoundary) {
		t.Errorf("expected ErrEmptyBoundary, got %v", err)
	}
}

func TestNeighbors(t *testing.T) {
	s := newState(t, DefaultParams(), quadtree.R(0, 0, 100, 100))
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{50, 50}})
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{53, 54}}) // 5 away
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{55, 55}}) // ~7.07 away
	s.Add(Body{Mass: 1, Pos: mgl64.Vec2{5, 5}})
	s.Refresh()

	got := s.Neighbors(0, 6)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("expected [1], got %v", got)
	}
	if got := s.Neighbors(0, 8); len(got) != 2 {
		t.Errorf("expected 2 neighbours, got %v", got)
	}

	s.Clear()
	if len(s.Bodies()) != 0 || s.Tree().Len() != 1 {
		t.Errorf("clear should leave no bodies and an empty tree")
	}
}

func TestSpawn(t *testing.T) {
	world := quadtree.R(-100, -100, 100, 100)
	s := newState(t, DefaultParams(), world)
	cores := RingCores(2, 1000, world)
	n := s.Spawn(200, SpawnRange{MassMin: 1, MassMax: 2, SpeedMax: 0.5, Cores: cores, Spread: 30}, rand.New(rand.NewSource(4)))

	if n != 202 || len(s.Bodies()) != 202 {
		t.Fatalf("expected 202 bodies, got %d (%d)", len(s.Bodies()), n)
	}
	seen := map[uint64]bool{}
	for i, b := range s.Bodies() {
		if seen[b.ID] {
			t.Errorf("duplicate id %d", b.ID)
		}
		seen[b.ID] = true
		if !world.Contains(b.Pos) {
			t.Errorf("body %d spawned outside the world at %v", i, b.Pos)
		}
		if i >= 2 && (b.Mass < 1 || b.Mass > 2) {
			t.Errorf("body %d mass %g out of range", i, b.Mass)
		}
	}
	if s.Bodies()[0].Mass != 1000 || s.Bodies()[1].Mass != 1000 {
		t.Error("cores should come first")
	}
}

func TestRingCores(t *testing.T) {
	world := quadtree.R(0, 0, 400, 200)
	if RingCores(0, 1, world) != nil {
		t.Error("no cores expected")
	}
	if c := RingCores(1, 5, world); len(c) != 1 || c[0].Pos != world.Center() {
		t.Errorf("single core should sit at the center, got %v", c)
	}
	for _, c := range RingCores(3, 5, world) {
		if d := c.Pos.Sub(world.Center()).Len(); math.Abs(d-50) > 1e-9 {
			t.Errorf("core %v is %g from center, want 50", c.Pos, d)
		}
	}
}
