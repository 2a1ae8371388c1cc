// Package engine owns the module registry, the routing table, the transport
// and the MIDI device manager, and exposes the command surface over them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/modules"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateID = errors.New("id already in use")
	ErrDisposed    = errors.New("engine disposed")
)

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	SampleRate    float64
	BPM           float64
	TimeSignature transport.TimeSignature
	// Driver enumerates MIDI ports. Nil runs without hardware.
	Driver         drivers.Driver
	PollInterval   time.Duration
	FuzzyThreshold float64
	Registry       *modules.Registry
	Logger         logrus.FieldLogger
}

// PropsUpdate is delivered to OnPropsUpdate subscribers after a committed
// prop change.
type PropsUpdate struct {
	ModuleID string       `json:"moduleId"`
	Props    module.Props `json:"props"`
}

type propsListener struct {
	id int
	fn func(PropsUpdate)
}

// Engine is the orchestrator of one patch. It implements module.Host.
type Engine struct {
	id        string
	ctx       *audio.Context
	tr        *transport.Transport
	devices   *midi.Manager
	registry  *modules.Registry
	threshold float64
	log       logrus.FieldLogger

	mu         sync.RWMutex
	modules    map[string]module.Module
	order      []string
	routes     map[string]module.Route
	routeOrder []string
	disposed   bool

	lmu       sync.Mutex
	nextID    int
	listeners []propsListener
}

// New creates an engine with an empty patch. Devices are enumerated once
// before New returns; Run keeps polling.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Registry == nil {
		opts.Registry = modules.Default()
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = midi.DefaultMatchThreshold
	}

	id := uuid.NewString()
	log := opts.Logger.WithField("engine", id)
	ctx := audio.NewContext(opts.SampleRate)
	e := &Engine{
		id:        id,
		ctx:       ctx,
		registry:  opts.Registry,
		threshold: opts.FuzzyThreshold,
		log:       log,
		modules:   make(map[string]module.Module),
		routes:    make(map[string]module.Route),
	}
	e.tr = transport.New(ctx, transport.Options{
		BPM:           opts.BPM,
		TimeSignature: opts.TimeSignature,
		Logger:        log,
	})
	e.devices = midi.NewManager(opts.Driver, midi.ManagerOptions{
		PollInterval: opts.PollInterval,
		Now:          ctx.CurrentTime,
		Logger:       log,
	})
	if err := e.devices.Poll(); err != nil {
		log.WithError(err).Warn("initial midi scan failed")
	}
	return e, nil
}

func (e *Engine) ID() string                      { return e.id }
func (e *Engine) AudioContext() *audio.Context    { return e.ctx }
func (e *Engine) Transport() *transport.Transport { return e.tr }
func (e *Engine) Logger() logrus.FieldLogger      { return e.log }
func (e *Engine) Devices() *midi.Manager          { return e.devices }
func (e *Engine) Registry() *modules.Registry     { return e.registry }
func (e *Engine) FuzzyThreshold() float64         { return e.threshold }

// Run drives the transport scheduler and hot-plug polling until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tr.Run(ctx) })
	g.Go(func() error { return e.devices.Run(ctx) })
	return g.Wait()
}

// Render renders len(dst) frames offline, advancing the transport in step
// with the audio clock.
func (e *Engine) Render(dst [][2]float64) {
	sr := e.ctx.SampleRate()
	for len(dst) > 0 {
		n := min(len(dst), audio.RenderQuantum)
		e.tr.Advance(e.ctx.CurrentTime() + float64(n)/sr)
		e.ctx.Render(dst[:n])
		dst = dst[n:]
	}
}

// Start starts or resumes the transport now.
func (e *Engine) Start() { e.tr.Start(e.ctx.CurrentTime()) }

// Stop stops the transport now and rewinds it.
func (e *Engine) Stop() { e.tr.Stop(e.ctx.CurrentTime()) }

// Pause pauses the transport now.
func (e *Engine) Pause() { e.tr.Pause(e.ctx.CurrentTime()) }

// OnPropsUpdate subscribes fn to committed prop changes and returns a
// function removing it.
func (e *Engine) OnPropsUpdate(fn func(PropsUpdate)) (remove func()) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, propsListener{id: id, fn: fn})
	return func() {
		e.lmu.Lock()
		defer e.lmu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) notify(u PropsUpdate) {
	e.lmu.Lock()
	ls := make([]propsListener, len(e.listeners))
	copy(ls, e.listeners)
	e.lmu.Unlock()
	for _, l := range ls {
		l.fn(u)
	}
}

// Dispose stops the transport, disposes every module and closes the
// device manager. The engine is unusable afterwards.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	mods := e.modulesLocked()
	e.modules = make(map[string]module.Module)
	e.order = nil
	e.routes = make(map[string]module.Route)
	e.routeOrder = nil
	e.mu.Unlock()

	e.tr.Stop(e.ctx.CurrentTime())
	for _, m := range mods {
		m.Dispose()
	}
	if err := e.devices.Close(); err != nil {
		return fmt.Errorf("close midi: %w", err)
	}
	e.log.Info("engine disposed")
	return nil
}
