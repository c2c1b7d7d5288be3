// Package config reads simulation settings from the environment (and an
// optional .env file) and lets the command line override them.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"

	"github.com/quillaja/quadgrav/internal/barneshut"
	"github.com/quillaja/quadgrav/internal/quadtree"
	"github.com/quillaja/quadgrav/internal/sim"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Output names accepted in Config.Outputs.
const (
	OutputSQLite = "sqlite"
	OutputChunks = "chunks"
	OutputPNG    = "png"
)

// Config holds every tunable, derived from QUADGRAV_* environment variables.
type Config struct {
	// Physics
	G            float64
	SofteningSq  float64
	Theta        float64
	ForceMode    string // tree, exact or cutoff
	ExactBelow   int
	CutoffRadius float64
	Workers      int
	LeafCapacity int
	MaxDepth     int
	Dt           float64
	Steps        int
	Bounds       string // wrap, clamp or open
	WorldWidth   float64
	WorldHeight  float64
	Merge        bool
	Density      float64

	// Initial bodies
	Bodies   int
	MassMin  float64
	MassMax  float64
	SpeedMax float64
	Cores    int
	CoreMass float64
	Spread   float64
	Seed     int64 // 0 picks a time-based seed

	// Output
	Outputs        []string
	FrameEvery     int // record every n-th tick
	DBPath         string
	ChunkDir       string
	FramesPerChunk int
	ImageDir       string
	ImageWidth     int
	ImageHeight    int
	DrawTree       bool

	// Observability
	LogLevel      string
	MetricsAddr   string // empty disables the /metrics endpoint
	ProgressEvery int
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached == nil {
		cached = FromEnv()
	}
	return cached
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// FromEnv reads the environment without caching.
func FromEnv() *Config {
	return &Config{
		G:            getEnvAsFloat("QUADGRAV_G", 1),
		SofteningSq:  getEnvAsFloat("QUADGRAV_SOFTENING_SQ", 1),
		Theta:        getEnvAsFloat("QUADGRAV_THETA", 0.5),
		ForceMode:    strings.ToLower(getEnvAsString("QUADGRAV_FORCE", "tree")),
		ExactBelow:   getEnvAsInt("QUADGRAV_EXACT_BELOW", 32),
		CutoffRadius: getEnvAsFloat("QUADGRAV_CUTOFF_RADIUS", 50),
		Workers:      getEnvAsInt("QUADGRAV_WORKERS", 4),
		LeafCapacity: getEnvAsInt("QUADGRAV_LEAF_CAPACITY", 4),
		MaxDepth:     getEnvAsInt("QUADGRAV_MAX_DEPTH", quadtree.DefaultMaxDepth),
		Dt:           getEnvAsFloat("QUADGRAV_DT", 0.1),
		Steps:        getEnvAsInt("QUADGRAV_STEPS", 1000),
		Bounds:       strings.ToLower(getEnvAsString("QUADGRAV_BOUNDS", "wrap")),
		WorldWidth:   getEnvAsFloat("QUADGRAV_WORLD_WIDTH", 1024),
		WorldHeight:  getEnvAsFloat("QUADGRAV_WORLD_HEIGHT", 1024),
		Merge:        getEnvAsBool("QUADGRAV_MERGE", false),
		Density:      getEnvAsFloat("QUADGRAV_DENSITY", sim.DefaultDensity),

		Bodies:   getEnvAsInt("QUADGRAV_BODIES", 1000),
		MassMin:  getEnvAsFloat("QUADGRAV_MASS_MIN", 1),
		MassMax:  getEnvAsFloat("QUADGRAV_MASS_MAX", 10),
		SpeedMax: getEnvAsFloat("QUADGRAV_SPEED_MAX", 0.5),
		Cores:    getEnvAsInt("QUADGRAV_CORES", 0),
		CoreMass: getEnvAsFloat("QUADGRAV_CORE_MASS", 1e4),
		Spread:   getEnvAsFloat("QUADGRAV_SPREAD", 200),
		Seed:     getEnvAsInt64("QUADGRAV_SEED", 0),

		Outputs:        getEnvAsSlice("QUADGRAV_OUTPUTS", nil, ","),
		FrameEvery:     getEnvAsInt("QUADGRAV_FRAME_EVERY", 1),
		DBPath:         getEnvAsString("QUADGRAV_DB", "bodies.sqlite"),
		ChunkDir:       getEnvAsString("QUADGRAV_CHUNK_DIR", "chunks"),
		FramesPerChunk: getEnvAsInt("QUADGRAV_FRAMES_PER_CHUNK", 48),
		ImageDir:       getEnvAsString("QUADGRAV_IMAGE_DIR", "img"),
		ImageWidth:     getEnvAsInt("QUADGRAV_IMAGE_WIDTH", 1024),
		ImageHeight:    getEnvAsInt("QUADGRAV_IMAGE_HEIGHT", 1024),
		DrawTree:       getEnvAsBool("QUADGRAV_DRAW_TREE", false),

		LogLevel:      strings.ToLower(getEnvAsString("LOG_LEVEL", "info")),
		MetricsAddr:   getEnvAsString("QUADGRAV_METRICS_ADDR", ""),
		ProgressEvery: getEnvAsInt("QUADGRAV_PROGRESS_EVERY", 100),
	}
}

// BindFlags registers a flag for every field, defaulting to the current
// value, so the command line overrides the environment.
func (c *Config) BindFlags(flags *flag.FlagSet) {
	flags.Float64Var(&c.G, "g", c.G, "gravitational constant")
	flags.Float64Var(&c.SofteningSq, "soft", c.SofteningSq, "softening length squared")
	flags.Float64Var(&c.Theta, "theta", c.Theta, "Barnes-Hut opening angle, 0 is exact")
	flags.StringVar(&c.ForceMode, "force", c.ForceMode, "force mode: tree, exact or cutoff")
	flags.IntVar(&c.ExactBelow, "exact-below", c.ExactBelow, "use the exact sum below this many bodies")
	flags.Float64Var(&c.CutoffRadius, "cutoff", c.CutoffRadius, "neighbour radius in cutoff mode")
	flags.IntVar(&c.Workers, "workers", c.Workers, "goroutines in the force pass")
	flags.IntVar(&c.LeafCapacity, "capacity", c.LeafCapacity, "items per quadtree leaf")
	flags.IntVar(&c.MaxDepth, "depth", c.MaxDepth, "maximum quadtree depth")
	flags.Float64Var(&c.Dt, "dt", c.Dt, "time step per tick")
	flags.IntVar(&c.Steps, "steps", c.Steps, "number of ticks to run")
	flags.StringVar(&c.Bounds, "bounds", c.Bounds, "world edge behaviour: wrap, clamp or open")
	flags.Float64Var(&c.WorldWidth, "width", c.WorldWidth, "world width")
	flags.Float64Var(&c.WorldHeight, "height", c.WorldHeight, "world height")
	flags.BoolVar(&c.Merge, "merge", c.Merge, "merge colliding bodies")
	flags.Float64Var(&c.Density, "density", c.Density, "areal density used for body radii")

	flags.IntVar(&c.Bodies, "n", c.Bodies, "number of bodies")
	flags.Float64Var(&c.MassMin, "mass-min", c.MassMin, "minimum body mass")
	flags.Float64Var(&c.MassMax, "mass-max", c.MassMax, "maximum body mass")
	flags.Float64Var(&c.SpeedMax, "speed", c.SpeedMax, "maximum random speed per axis")
	flags.IntVar(&c.Cores, "cores", c.Cores, "number of heavy cores to orbit")
	flags.Float64Var(&c.CoreMass, "core-mass", c.CoreMass, "mass of each core")
	flags.Float64Var(&c.Spread, "spread", c.Spread, "radius of the disk around each core")
	flags.Int64Var(&c.Seed, "seed", c.Seed, "random seed, 0 for time based")

	flags.Func("out", "comma separated outputs: sqlite, chunks, png", func(s string) error {
		c.Outputs = nil
		for _, o := range strings.Split(s, ",") {
			if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
				c.Outputs = append(c.Outputs, o)
			}
		}
		return nil
	})
	flags.IntVar(&c.FrameEvery, "every", c.FrameEvery, "record every n-th tick")
	flags.StringVar(&c.DBPath, "db", c.DBPath, "sqlite output file")
	flags.StringVar(&c.ChunkDir, "chunks", c.ChunkDir, "chunk output directory")
	flags.IntVar(&c.FramesPerChunk, "chunk-size", c.FramesPerChunk, "frames per chunk file")
	flags.StringVar(&c.ImageDir, "img", c.ImageDir, "png output directory")
	flags.IntVar(&c.ImageWidth, "img-width", c.ImageWidth, "png width in pixels")
	flags.IntVar(&c.ImageHeight, "img-height", c.ImageHeight, "png height in pixels")
	flags.BoolVar(&c.DrawTree, "draw-tree", c.DrawTree, "draw quadtree nodes in png frames")

	flags.StringVar(&c.LogLevel, "log", c.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "address to serve /metrics on, empty to disable")
	flags.IntVar(&c.ProgressEvery, "progress", c.ProgressEvery, "log progress every n ticks")
}

// Validate checks the settings the simulation parameters don't cover.
func (c *Config) Validate() error {
	if _, err := c.SimParams(); err != nil {
		return err
	}
	switch {
	case c.WorldWidth <= 0 || c.WorldHeight <= 0:
		return fmt.Errorf("%w: world %gx%g", ErrInvalidConfig, c.WorldWidth, c.WorldHeight)
	case c.Steps < 0:
		return fmt.Errorf("%w: steps %d", ErrInvalidConfig, c.Steps)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	case c.Bodies < 0 || c.Cores < 0:
		return fmt.Errorf("%w: %d bodies, %d cores", ErrInvalidConfig, c.Bodies, c.Cores)
	case c.MassMin <= 0 || c.MassMax < c.MassMin:
		return fmt.Errorf("%w: mass range [%g, %g]", ErrInvalidConfig, c.MassMin, c.MassMax)
	case c.FrameEvery < 1:
		return fmt.Errorf("%w: frame interval %d", ErrInvalidConfig, c.FrameEvery)
	}
	for _, o := range c.Outputs {
		switch o {
		case OutputSQLite, OutputChunks:
		case OutputPNG:
			if c.ImageWidth < 1 || c.ImageHeight < 1 {
				return fmt.Errorf("%w: image %dx%d", ErrInvalidConfig, c.ImageWidth, c.ImageHeight)
			}
		default:
			return fmt.Errorf("%w: unknown output %q", ErrInvalidConfig, o)
		}
	}
	if c.Wants(OutputChunks) && c.FramesPerChunk < 1 {
		return fmt.Errorf("%w: frames per chunk %d", ErrInvalidConfig, c.FramesPerChunk)
	}
	return nil
}

// Wants reports whether output o was requested.
func (c *Config) Wants(o string) bool {
	for _, have := range c.Outputs {
		if have == o {
			return true
		}
	}
	return false
}

// World is the simulated region, centered on the origin.
func (c *Config) World() quadtree.Region {
	w, h := c.WorldWidth/2, c.WorldHeight/2
	return quadtree.R(-w, -h, w, h)
}

func (c *Config) ForceParams() barneshut.Params {
	return barneshut.Params{
		Theta:       c.Theta,
		G:           c.G,
		SofteningSq: c.SofteningSq,
		Workers:     c.Workers,
	}
}

// SimParams projects the config into simulation parameters and checks them.
func (c *Config) SimParams() (sim.Params, error) {
	mode, err := sim.ParseForceMode(c.ForceMode)
	if err != nil {
		return sim.Params{}, err
	}
	bounds, err := sim.ParseBoundsMode(c.Bounds)
	if err != nil {
		return sim.Params{}, err
	}
	p := sim.Params{
		Force:        c.ForceParams(),
		Mode:         mode,
		ExactBelow:   c.ExactBelow,
		CutoffRadius: c.CutoffRadius,
		LeafCapacity: c.LeafCapacity,
		MaxDepth:     c.MaxDepth,
		Dt:           c.Dt,
		Bounds:       bounds,
		Merge:        c.Merge,
		Density:      c.Density,
	}
	return p, p.Validate()
}

func (c *Config) SpawnRange() sim.SpawnRange {
	return sim.SpawnRange{
		MassMin:  c.MassMin,
		MassMax:  c.MassMax,
		SpeedMax: c.SpeedMax,
		Cores:    sim.RingCores(c.Cores, c.CoreMass, c.World()),
		Spread:   c.Spread,
	}
}
