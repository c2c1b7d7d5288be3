// Package record writes simulation frames out of the tick loop: to sqlite,
// to compressed gob chunks, or to any other Sink.
package record

import (
	"context"

	"github.com/quillaja/quadgrav/internal/quadtree"
	"github.com/quillaja/quadgrav/internal/sim"
)

// FrameBody is a body as it is stored, in single precision. The ID is the
// body's full id; the sqlite output holds ids below 1<<63.
type FrameBody struct {
	ID           uint64
	X, Y         float32
	Mass, Radius float32
}

// Frame is an immutable copy of the simulation at one tick. Sinks may
// share a frame, so they must not modify it.
type Frame struct {
	Tick   int
	Bodies []FrameBody
	Nodes  []quadtree.Region // quadtree node boundaries, optional
}

// Snapshot copies bodies into a new frame. When tree is not nil the
// boundary of every node is copied as well.
func Snapshot(tick int, bodies sim.Bodies, tree *quadtree.Tree, density float64) *Frame {
	f := &Frame{
		Tick:   tick,
		Bodies: make([]FrameBody, len(bodies)),
	}
	for i, b := range bodies {
		f.Bodies[i] = FrameBody{
			ID:     b.ID,
			X:      float32(b.Pos[0]),
			Y:      float32(b.Pos[1]),
			Mass:   float32(b.Mass),
			Radius: float32(b.Radius(density)),
		}
	}
	if tree != nil {
		f.Nodes = make([]quadtree.Region, 0, tree.Len())
		tree.Walk(func(id quadtree.NodeID) bool {
			f.Nodes = append(f.Nodes, tree.Boundary(id))
			return true
		})
	}
	return f
}

// Sink consumes frames in tick order.
type Sink interface {
	Name() string
	WriteFrame(f *Frame) error
	Close() error
}

// Pump writes every frame from ch to sink until ch is closed or ctx is
// done. After the first failed write the remaining frames are drained
// without being written, so the sender never blocks, and that error is
// returned in preference to ctx's. onWrite, if not nil, sees the outcome
// of each write.
func Pump(ctx context.Context, sink Sink, ch <-chan *Frame, onWrite func(sink string, err error)) error {
	var first error
	for {
		select {
		case <-ctx.Done():
			if first != nil {
				return first
			}
			return ctx.Err()
		case f, ok := <-ch:
			if !ok {
				return first
			}
			if first != nil {
				continue
			}
			err := sink.WriteFrame(f)
			if onWrite != nil {
				onWrite(sink.Name(), err)
			}
			if err != nil {
				first = err
			}
		}
	}
}
