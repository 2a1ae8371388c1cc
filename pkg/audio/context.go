// Package audio provides the real-time processing primitives the engine drives:
// a sample clock, a pull-based node graph with implicit summation on inputs,
// and parameter automation scheduled against context time.
package audio

import (
	"errors"
	"sync"
)

// RenderQuantum is the number of frames processed per graph pull.
const RenderQuantum = 128

// DefaultSampleRate is used when a context is created with a non-positive rate.
const DefaultSampleRate = 48000

var (
	ErrContextMismatch = errors.New("nodes belong to different contexts")
	ErrIndexOutOfRange = errors.New("input or output index out of range")
	ErrNotConnected    = errors.New("nodes are not connected")
	ErrInvalidState    = errors.New("invalid node state")
)

// Context owns the sample clock and the render lock of a node graph.
//
// Graph edits and parameter automation take the context lock for a few
// microseconds; Render holds it for one call. Atomically keeps the renderer
// out for the whole of a multi-step edit.
type Context struct {
	mu      sync.Mutex
	batchMu sync.Mutex

	sampleRate float64
	frame      int64

	dest  *Destination
	block []float64
	pos   int
}

// NewContext creates a context running at sampleRate frames per second.
func NewContext(sampleRate float64) *Context {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	c := &Context{
		sampleRate: sampleRate,
		block:      make([]float64, RenderQuantum),
		pos:        RenderQuantum,
	}
	c.dest = newDestination(c)
	return c
}

// SampleRate returns the context sample rate.
func (c *Context) SampleRate() float64 {
	return c.sampleRate
}

// CurrentTime returns the context time in seconds of the next frame to be rendered.
// It is monotonic and independent of wall-clock time.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeLocked()
}

func (c *Context) timeLocked() float64 {
	return float64(c.frame-int64(RenderQuantum-c.pos)) / c.sampleRate
}

// Destination returns the terminal node whose input is rendered.
func (c *Context) Destination() *Destination {
	return c.dest
}

// Atomically runs fn while rendering is held off, so a sequence of graph edits
// is observed by the renderer as a single change.
func (c *Context) Atomically(fn func() error) error {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	return fn()
}

// Render fills dst with the next len(dst) frames of the destination signal.
// The graph is mono; both channels carry the same sample.
func (c *Context) Render(dst [][2]float64) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range dst {
		if c.pos >= RenderQuantum {
			c.renderQuantum()
		}
		s := c.block[c.pos]
		dst[i] = [2]float64{s, s}
		c.pos++
	}
}

func (c *Context) renderQuantum() {
	out := c.pull(c.dest, c.frame)
	copy(c.block, out[0])
	c.frame += RenderQuantum
	c.pos = 0
}

// pull renders n for the quantum starting at frame start. A node already on the
// current pull path (a feedback cycle) yields its previous quantum.
func (c *Context) pull(n Node, start int64) [][]float64 {
	nc := n.core()
	if nc.renderedAt == start || nc.busy {
		return nc.out
	}
	nc.busy = true
	for i, srcs := range nc.inputs {
		buf := nc.in[i]
		clear(buf)
		for _, s := range srcs {
			mix(buf, c.pull(s.node, start)[s.index])
		}
	}
	for _, p := range nc.params {
		p.render(start)
	}
	nc.kernel(nc.in, nc.out, start)
	nc.renderedAt = start
	nc.busy = false
	return nc.out
}

func mix(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}
