package record

import (
	"compress/zlib"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

/*
chunked compressed gobs. frames are collected in memory and, once a chunk
is full, written in the background to <dir>/<last tick>.chunk as a zlib
compressed gob of tick -> body id -> body.

the body id is only stored as the map key. gob doesn't write zero-value
fields either, so this is about as compact as it gets without a custom
format.
*/

type chunkIndex map[uint32]map[uint64]chunkBody

type chunkBody struct {
	X, Y         float32
	Mass, Radius float32
}

// ChunkSink batches frames into compressed gob files.
type ChunkSink struct {
	dir            string
	framesPerChunk int
	pending        chunkIndex
	last           int

	dumpers sync.WaitGroup
	sem     chan struct{}
	mu      sync.Mutex
	err     error
}

// NewChunkSink writes chunks of framesPerChunk frames into dir, creating
// it if necessary.
func NewChunkSink(dir string, framesPerChunk int) (*ChunkSink, error) {
	if framesPerChunk < 1 {
		return nil, fmt.Errorf("record: %d frames per chunk", framesPerChunk)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ChunkSink{
		dir:            dir,
		framesPerChunk: framesPerChunk,
		pending:        make(chunkIndex, framesPerChunk),
		sem:            make(chan struct{}, 4),
	}, nil
}

func (c *ChunkSink) Name() string { return "chunks" }

func (c *ChunkSink) WriteFrame(f *Frame) error {
	if err := c.failed(); err != nil {
		return err
	}
	frame := make(map[uint64]chunkBody, len(f.Bodies))
	for _, b := range f.Bodies {
		frame[b.ID] = chunkBody{X: b.X, Y: b.Y, Mass: b.Mass, Radius: b.Radius}
	}
	c.pending[uint32(f.Tick)] = frame
	c.last = f.Tick
	if len(c.pending) >= c.framesPerChunk {
		c.flush()
	}
	return nil
}

// hand the pending frames to a background dumper.
func (c *ChunkSink) flush() {
	if len(c.pending) == 0 {
		return
	}
	dump, name := c.pending, filepath.Join(c.dir, fmt.Sprintf("%010d.chunk", c.last))
	c.pending = make(chunkIndex, c.framesPerChunk)

	c.dumpers.Add(1)
	go func() {
		defer c.dumpers.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()
		if err := writeChunk(name, dump); err != nil {
			c.mu.Lock()
			c.err = errors.Join(c.err, err)
			c.mu.Unlock()
		}
	}()
}

func (c *ChunkSink) failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close writes any partial chunk and waits for every dumper.
func (c *ChunkSink) Close() error {
	c.flush()
	c.dumpers.Wait()
	return c.failed()
}

func writeChunk(name string, dump chunkIndex) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	zw, err := zlib.NewWriterLevel(file, zlib.DefaultCompression)
	if err != nil {
		file.Close()
		return err
	}
	if err := gob.NewEncoder(zw).Encode(dump); err != nil {
		zw.Close()
		file.Close()
		os.Remove(name)
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadChunk decodes a chunk file back into frames ordered by tick, with
// bodies ordered by id.
func ReadChunk(name string) ([]*Frame, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	zr, err := zlib.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	defer zr.Close()

	var dump chunkIndex
	if err := gob.NewDecoder(zr).Decode(&dump); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}

	frames := make([]*Frame, 0, len(dump))
	for tick, bodies := range dump {
		f := &Frame{Tick: int(tick), Bodies: make([]FrameBody, 0, len(bodies))}
		for id, b := range bodies {
			f.Bodies = append(f.Bodies, FrameBody{ID: id, X: b.X, Y: b.Y, Mass: b.Mass, Radius: b.Radius})
		}
		sort.Slice(f.Bodies, func(i, j int) bool { return f.Bodies[i].ID < f.Bodies[j].ID })
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Tick < frames[j].Tick })
	return frames, nil
}
