// Package module defines the graph node abstraction: mono modules owning at
// most one processing primitive, poly modules holding a bank of mono voices,
// the property setter protocol and port-level linking.
package module

import (
	"errors"
	"fmt"
	"sync"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidProp       = errors.New("invalid prop")
	ErrInvalidRoute      = errors.New("invalid route")
	ErrIncompatiblePorts = errors.New("incompatible ports")
	ErrPortNotFound      = errors.New("port not found")
	ErrNotReady          = errors.New("module not ready")
)

// Module is a node of the routing graph.
type Module interface {
	ID() string
	Type() string
	Name() string
	SetName(name string)
	Props() Props
	SetProps(update Props) (Props, error)
	Schema() Schema
	Inputs() []*Port
	Outputs() []*Port
	Port(dir Direction, name string) (*Port, bool)
	// Activate builds the primitive. Routes may be linked once Ready is closed.
	Activate() error
	Ready() <-chan struct{}
	Dispose()
	Serialize() Serialized
}

// NoteHandler is implemented by modules and voices that play notes.
type NoteHandler interface {
	TriggerAttack(note uint8, velocity uint8, at float64)
	TriggerRelease(note uint8, at float64)
}

// Serialized is the persistence record of a module.
type Serialized struct {
	ID         string       `json:"id"`
	ModuleType string       `json:"moduleType"`
	Name       string       `json:"name"`
	Props      Props        `json:"props"`
	Voices     []Serialized `json:"voices,omitempty"`
}

// Config carries identity and initial props into a constructor.
type Config struct {
	ID    string
	Name  string
	Props Props
}

// Options are the per-type parts of a Base.
type Options struct {
	Schema Schema
	Hooks  Hooks
	// Build creates the primitive. It runs on Activate and on every RePlugAll.
	Build func() error
	// Teardown releases the primitive. It runs on Dispose.
	Teardown func()
}

// Base implements Module for a mono module. Concrete types embed it and
// register their ports in their constructor.
type Base struct {
	IO

	id   string
	typ  string
	host Host
	log  logrus.FieldLogger

	props *Controller
	opts  Options

	mu       sync.Mutex
	name     string
	ready    chan struct{}
	isReady  bool
	disposed bool
}

// NewBase validates cfg.Props against opts.Schema and allocates the module
// identity. Nothing touches the audio graph until Activate.
func NewBase(host Host, typ string, cfg Config, opts Options) (*Base, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%s: empty module id: %w", typ, ErrInvalidProp)
	}
	props, err := NewController(opts.Schema, cfg.Props, opts.Hooks)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", typ, cfg.ID, err)
	}
	name := cfg.Name
	if name == "" {
		name = typ
	}
	return &Base{
		IO:    IO{moduleID: cfg.ID},
		id:    cfg.ID,
		typ:   typ,
		host:  host,
		log:   host.Logger().WithFields(logrus.Fields{"module": cfg.ID, "moduleType": typ}),
		props: props,
		opts:  opts,
		name:  name,
		ready: make(chan struct{}),
	}, nil
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Type() string { return b.typ }

// Host returns the engine the module belongs to.
func (b *Base) Host() Host { return b.host }

// Log returns the module's logger.
func (b *Base) Log() logrus.FieldLogger { return b.log }

// Context returns the shared audio context.
func (b *Base) Context() *audio.Context { return b.host.AudioContext() }

func (b *Base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

func (b *Base) Props() Props   { return b.props.Props() }
func (b *Base) Schema() Schema { return b.props.Schema() }

// Prop returns a single prop value.
func (b *Base) Prop(key string) any { return b.props.Get(key) }

// Float returns a number prop.
func (b *Base) Float(key string) float64 {
	f, _ := b.props.Get(key).(float64)
	return f
}

// NextFloat returns a number prop as it will be once the update in
// progress commits.
func (b *Base) NextFloat(key string) float64 {
	f, _ := b.props.Next(key).(float64)
	return f
}

// Str returns a string or enum prop.
func (b *Base) Str(key string) string {
	s, _ := b.props.Get(key).(string)
	return s
}

// Bool returns a boolean prop.
func (b *Base) Bool(key string) bool {
	v, _ := b.props.Get(key).(bool)
	return v
}

// SetProps applies a sparse update through the setter hooks.
func (b *Base) SetProps(update Props) (Props, error) {
	p, _, err := b.props.SetProps(update)
	return p, err
}

// Controller exposes the props controller for change detection.
func (b *Base) Controller() *Controller { return b.props }

// Activate builds the primitive, applies every prop to it and marks the module ready.
func (b *Base) Activate() error {
	b.mu.Lock()
	if b.isReady {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if b.opts.Build != nil {
		if err := b.opts.Build(); err != nil {
			return fmt.Errorf("activate %s %s: %w", b.typ, b.id, err)
		}
	}
	b.props.Replay()

	b.mu.Lock()
	b.isReady = true
	close(b.ready)
	b.mu.Unlock()
	return nil
}

func (b *Base) Ready() <-chan struct{} { return b.ready }

// IsReady reports whether Activate completed.
func (b *Base) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isReady
}

// Dispose tears down the primitive. It is safe to call more than once.
func (b *Base) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.mu.Unlock()
	if b.opts.Teardown != nil {
		b.opts.Teardown()
	}
}

func (b *Base) Serialize() Serialized {
	return Serialized{ID: b.id, ModuleType: b.typ, Name: b.Name(), Props: b.Props()}
}

// RegisterDefaultIOs registers an "in" and an "out" audio port mapped to
// input 0 and output 0 of the node primitive returns.
func (b *Base) RegisterDefaultIOs(primitive func() audio.Node) {
	b.RegisterAudioInput("in", func() []audio.Endpoint {
		if n := primitive(); n != nil && n.NumInputs() > 0 {
			return []audio.Endpoint{audio.In(n, 0)}
		}
		return nil
	})
	b.RegisterAudioOutput("out", func() []audio.Endpoint {
		if n := primitive(); n != nil && n.NumOutputs() > 0 {
			return []audio.Endpoint{audio.Out(n, 0)}
		}
		return nil
	})
}

// EmitMidi sends e out of the named midi output.
func (b *Base) EmitMidi(port string, e midi.Event) {
	if p, ok := b.Port(Output, port); ok {
		p.Emit(e)
	}
}

// RePlugAll swaps the primitive without losing edges: every route touching
// the module is unlinked, rebuild runs, and every route is linked again, all
// while rendering is held off.
func (b *Base) RePlugAll(rebuild func() error) error {
	routes := b.host.RoutesFor(b.id)
	return b.Context().Atomically(func() error {
		type link struct{ src, dst *Port }
		links := make([]link, 0, len(routes))
		for _, r := range routes {
			src, dst, err := ResolveRoute(b.host, r)
			if err != nil {
				return fmt.Errorf("replug %s: route %s: %w", b.id, r.ID, err)
			}
			links = append(links, link{src, dst})
		}
		for _, l := range links {
			if err := Unlink(l.src, l.dst); err != nil {
				b.log.WithError(err).Warn("unlink before rebuild")
			}
		}
		rebuildErr := rebuild()
		var errs []error
		if rebuildErr != nil {
			errs = append(errs, rebuildErr)
		}
		for _, l := range links {
			if err := Link(l.src, l.dst); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("replug %s: %w", b.id, errors.Join(errs...))
		}
		return nil
	})
}
