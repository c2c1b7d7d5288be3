// Package metrics exposes simulation counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillaja/quadgrav/internal/sim"
)

var (
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quadgrav_tick_duration_seconds",
			Help:    "Time spent in each phase of a tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"phase"}, // phase: build, aggregate, force, integrate
	)

	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadgrav_ticks_total",
			Help: "Total number of completed ticks",
		},
		[]string{"mode"}, // force mode actually used
	)

	TreeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quadgrav_tree_nodes",
			Help: "Nodes in the quadtree built during the last tick",
		},
	)

	Bodies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quadgrav_bodies",
			Help: "Bodies in the simulation",
		},
	)

	DroppedPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quadgrav_dropped_points_total",
			Help: "Bodies left out of the quadtree for lying outside the world",
		},
	)

	Merges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quadgrav_merges_total",
			Help: "Bodies absorbed by collisions",
		},
	)

	FramesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadgrav_frames_written_total",
			Help: "Frames written to each output",
		},
		[]string{"sink", "status"}, // status: success, failed
	)
)

// Observe records one tick.
func Observe(st sim.TickStats) {
	TickDuration.WithLabelValues("build").Observe(st.Build.Seconds())
	TickDuration.WithLabelValues("aggregate").Observe(st.Aggregate.Seconds())
	TickDuration.WithLabelValues("force").Observe(st.Force.Seconds())
	TickDuration.WithLabelValues("integrate").Observe(st.Integrate.Seconds())
	Ticks.WithLabelValues(st.Mode.String()).Inc()
	TreeNodes.Set(float64(st.Nodes))
	Bodies.Set(float64(st.Bodies))
	DroppedPoints.Add(float64(st.Dropped))
	Merges.Add(float64(st.Merged))
}

// FrameWritten records the outcome of writing one frame to a sink.
func FrameWritten(sink string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	FramesWritten.WithLabelValues(sink, status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
