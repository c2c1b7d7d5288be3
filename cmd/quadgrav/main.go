// quadgrav runs a 2D n-body simulation using a Barnes-Hut quadtree and
// records frames to sqlite, compressed chunks or PNG images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/quillaja/quadgrav/internal/config"
	"github.com/quillaja/quadgrav/internal/logger"
	"github.com/quillaja/quadgrav/internal/metrics"
	"github.com/quillaja/quadgrav/internal/quadtree"
	"github.com/quillaja/quadgrav/internal/record"
	"github.com/quillaja/quadgrav/internal/render"
	"github.com/quillaja/quadgrav/internal/sim"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg := config.Load()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")
	if err := cfg.Validate(); err != nil {
		log.Error("bad configuration", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("simulation failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	state, err := setup(cfg, log)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warn("metrics endpoint stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}

	sinks, err := openSinks(cfg)
	if err != nil {
		return err
	}
	out := newFanout(ctx, sinks)

	log.Info("starting",
		"bodies", len(state.Bodies()),
		"steps", cfg.Steps,
		"force", cfg.ForceMode,
		"theta", cfg.Theta,
		"dt", cfg.Dt,
		"world", state.World().String(),
		"outputs", cfg.Outputs)

	simErr := loop(ctx, cfg, state, out, log)
	return errors.Join(simErr, out.close())
}

// setup builds the initial state and fills it with random bodies.
func setup(cfg *config.Config, log *slog.Logger) (*sim.State, error) {
	params, err := cfg.SimParams()
	if err != nil {
		return nil, err
	}
	state, err := sim.NewState(params, cfg.World())
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	n := state.Spawn(cfg.Bodies, cfg.SpawnRange(), rand.New(rand.NewSource(seed)))
	log.Debug("spawned bodies", "count", n, "seed", seed)
	return state, nil
}

func openSinks(cfg *config.Config) (sinks []record.Sink, err error) {
	defer func() {
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			sinks = nil
		}
	}()

	for _, o := range cfg.Outputs {
		var s record.Sink
		switch o {
		case config.OutputSQLite:
			s, err = record.OpenSQLite(cfg.DBPath)
		case config.OutputChunks:
			s, err = record.NewChunkSink(cfg.ChunkDir, cfg.FramesPerChunk)
		case config.OutputPNG:
			s, err = render.NewPNGSink(cfg.ImageDir, cfg.ImageWidth, cfg.ImageHeight, cfg.World())
		default:
			err = fmt.Errorf("%w: unknown output %q", config.ErrInvalidConfig, o)
		}
		if err != nil {
			return sinks, fmt.Errorf("opening %s output: %w", o, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// fanout hands every frame to one Pump per sink.
type fanout struct {
	ctx   context.Context
	sinks []record.Sink
	chans []chan *record.Frame
	wg    sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

func newFanout(ctx context.Context, sinks []record.Sink) *fanout {
	f := &fanout{ctx: ctx, sinks: sinks}
	for _, s := range sinks {
		ch := make(chan *record.Frame, 32)
		f.chans = append(f.chans, ch)
		f.wg.Add(1)
		go func(s record.Sink) {
			defer f.wg.Done()
			err := record.Pump(ctx, s, ch, metrics.FrameWritten)
			if err != nil && !errors.Is(err, context.Canceled) {
				f.fail(fmt.Errorf("%s output: %w", s.Name(), err))
			}
		}(s)
	}
	return f
}

func (f *fanout) fail(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *fanout) active() bool { return len(f.chans) > 0 }

func (f *fanout) send(frame *record.Frame) {
	for _, ch := range f.chans {
		select {
		case ch <- frame:
		case <-f.ctx.Done():
			return
		}
	}
}

// close waits for every pump to finish and closes the sinks.
func (f *fanout) close() error {
	for _, ch := range f.chans {
		close(ch)
	}
	f.wg.Wait()
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			f.fail(fmt.Errorf("closing %s output: %w", s.Name(), err))
		}
	}
	return errors.Join(f.errs...)
}

func loop(ctx context.Context, cfg *config.Config, state *sim.State, out *fanout, log *slog.Logger) error {
	density := state.Params().Density
	start := time.Now()
	first := state.Ticks()

	for step := 0; step < cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			log.Warn("interrupted", "tick", state.Ticks())
			return nil
		}

		// enqueue the state before this tick for output
		if out.active() && step%cfg.FrameEvery == 0 {
			var tree *quadtree.Tree
			if cfg.DrawTree {
				state.Refresh()
				tree = state.Tree()
			}
			out.send(record.Snapshot(state.Ticks(), state.Bodies(), tree, density))
		}

		st, err := state.Tick()
		if err != nil {
			return err
		}
		metrics.Observe(st)
		log.Debug("tick",
			"tick", st.Tick,
			"mode", st.Mode.String(),
			"bodies", st.Bodies,
			"nodes", st.Nodes,
			"dropped", st.Dropped,
			"merged", st.Merged,
			"force", st.Force)

		if cfg.ProgressEvery > 0 && (step+1)%cfg.ProgressEvery == 0 {
			done := step + 1
			perTick := time.Since(start) / time.Duration(done)
			log.Info("progress",
				"tick", first+done,
				"percent", fmt.Sprintf("%.1f", 100*float64(done)/float64(cfg.Steps)),
				"bodies", st.Bodies,
				"per_tick", perTick.Round(time.Microsecond),
				"remaining", (perTick * time.Duration(cfg.Steps-done)).Truncate(time.Second),
				"elapsed", time.Since(start).Truncate(time.Second))
		}
	}

	log.Info("done", "ticks", cfg.Steps, "took", time.Since(start).Truncate(time.Millisecond),
		"mass", state.TotalMass(), "momentum", state.Momentum())
	return nil
}
