package module

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
)

// PortKind tags what a port carries.
type PortKind string

const (
	Audio PortKind = "audio"
	Midi  PortKind = "midi"
)

// Direction is the side of a module a port sits on.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Port is a named endpoint of a module. Its primitive endpoints are resolved
// on every link, so a port stays valid when the module rebuilds its primitive.
type Port struct {
	Name      string    `json:"name"`
	Kind      PortKind  `json:"kind"`
	Direction Direction `json:"direction"`
	// Param marks an audio input that drives an automatable parameter.
	Param bool `json:"param,omitempty"`

	moduleID  string
	endpoints func() []audio.Endpoint
	handler   func(midi.Event)

	mu      sync.RWMutex
	targets []*Port
}

// ModuleID returns the id of the owning module.
func (p *Port) ModuleID() string { return p.moduleID }

// Endpoints returns the primitive endpoints currently behind an audio port.
func (p *Port) Endpoints() []audio.Endpoint {
	if p.endpoints == nil {
		return nil
	}
	return p.endpoints()
}

// Emit delivers e to every midi input linked to this output.
func (p *Port) Emit(e midi.Event) {
	p.mu.RLock()
	targets := slices.Clone(p.targets)
	p.mu.RUnlock()
	for _, t := range targets {
		t.Deliver(e)
	}
}

// Deliver hands e to a midi input's handler.
func (p *Port) Deliver(e midi.Event) {
	if p.handler != nil {
		p.handler(e)
	}
}

// CanLink reports whether src may feed dst: an output into an input of the
// same kind. Audio outputs may also drive parameter inputs.
func CanLink(src, dst *Port) error {
	if src.Direction != Output || dst.Direction != Input {
		return fmt.Errorf("%s %q -> %s %q: %w", src.Direction, src.Name, dst.Direction, dst.Name, ErrIncompatiblePorts)
	}
	if src.Kind != dst.Kind {
		return fmt.Errorf("%s %q -> %s %q: %w", src.Kind, src.Name, dst.Kind, dst.Name, ErrIncompatiblePorts)
	}
	return nil
}

// pairs matches n sources with m destinations: index k < max(n, m) links
// source k%n to destination k%m, so equal counts connect i to i, a single
// source fans out and a single destination sums.
func pairs(n, m int) [][2]int {
	if n == 0 || m == 0 {
		return nil
	}
	out := make([][2]int, max(n, m))
	for k := range out {
		out[k] = [2]int{k % n, k % m}
	}
	return out
}

// Link connects src to dst at the primitive level. It connects every pair or
// none.
func Link(src, dst *Port) error {
	if err := CanLink(src, dst); err != nil {
		return err
	}
	if src.Kind == Midi {
		src.mu.Lock()
		defer src.mu.Unlock()
		if !slices.Contains(src.targets, dst) {
			src.targets = append(src.targets, dst)
		}
		return nil
	}

	srcs, dsts := src.Endpoints(), dst.Endpoints()
	if len(srcs) == 0 || len(dsts) == 0 {
		return fmt.Errorf("link %q -> %q: port has no primitive: %w", src.Name, dst.Name, ErrNotReady)
	}
	done := make([][2]int, 0, max(len(srcs), len(dsts)))
	for _, pr := range pairs(len(srcs), len(dsts)) {
		if err := audio.Connect(srcs[pr[0]], dsts[pr[1]]); err != nil {
			for _, d := range done {
				_ = audio.Disconnect(srcs[d[0]], dsts[d[1]])
			}
			return fmt.Errorf("link %q -> %q: %w", src.Name, dst.Name, err)
		}
		done = append(done, pr)
	}
	return nil
}

// Unlink removes what Link connected. Edges already gone are ignored.
func Unlink(src, dst *Port) error {
	if err := CanLink(src, dst); err != nil {
		return err
	}
	if src.Kind == Midi {
		src.mu.Lock()
		defer src.mu.Unlock()
		if i := slices.Index(src.targets, dst); i >= 0 {
			src.targets = slices.Delete(src.targets, i, i+1)
		}
		return nil
	}

	srcs, dsts := src.Endpoints(), dst.Endpoints()
	var errs []error
	for _, pr := range pairs(len(srcs), len(dsts)) {
		err := audio.Disconnect(srcs[pr[0]], dsts[pr[1]])
		if err != nil && !errors.Is(err, audio.ErrNotConnected) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IO is the port registry of a module.
type IO struct {
	moduleID string
	mu       sync.RWMutex
	inputs   []*Port
	outputs  []*Port
}

func (io *IO) register(p *Port) *Port {
	io.mu.Lock()
	defer io.mu.Unlock()
	p.moduleID = io.moduleID
	list := &io.inputs
	if p.Direction == Output {
		list = &io.outputs
	}
	for i, existing := range *list {
		if existing.Name == p.Name {
			(*list)[i] = p
			return p
		}
	}
	*list = append(*list, p)
	return p
}

// RegisterAudioInput adds an audio input backed by the endpoints fn returns.
func (io *IO) RegisterAudioInput(name string, fn func() []audio.Endpoint) *Port {
	return io.register(&Port{Name: name, Kind: Audio, Direction: Input, endpoints: fn})
}

// RegisterParamInput adds an audio input that modulates parameters.
func (io *IO) RegisterParamInput(name string, fn func() []audio.Endpoint) *Port {
	return io.register(&Port{Name: name, Kind: Audio, Direction: Input, Param: true, endpoints: fn})
}

// RegisterAudioOutput adds an audio output backed by the endpoints fn returns.
func (io *IO) RegisterAudioOutput(name string, fn func() []audio.Endpoint) *Port {
	return io.register(&Port{Name: name, Kind: Audio, Direction: Output, endpoints: fn})
}

// RegisterMidiInput adds a midi input delivering events to handler.
func (io *IO) RegisterMidiInput(name string, handler func(midi.Event)) *Port {
	return io.register(&Port{Name: name, Kind: Midi, Direction: Input, handler: handler})
}

// RegisterMidiOutput adds a midi output; the module emits on it with Port.Emit.
func (io *IO) RegisterMidiOutput(name string) *Port {
	return io.register(&Port{Name: name, Kind: Midi, Direction: Output})
}

// Inputs returns the input ports in registration order.
func (io *IO) Inputs() []*Port {
	io.mu.RLock()
	defer io.mu.RUnlock()
	return slices.Clone(io.inputs)
}

// Outputs returns the output ports in registration order.
func (io *IO) Outputs() []*Port {
	io.mu.RLock()
	defer io.mu.RUnlock()
	return slices.Clone(io.outputs)
}

// Port looks up a port by direction and name.
func (io *IO) Port(dir Direction, name string) (*Port, bool) {
	io.mu.RLock()
	defer io.mu.RUnlock()
	list := io.inputs
	if dir == Output {
		list = io.outputs
	}
	for _, p := range list {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
