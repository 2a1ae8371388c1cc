package modules

import (
	"fmt"
	"sync"
	"testing"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeHost implements module.Host over the default registry
type fakeHost struct {
	t    *testing.T
	ctx  *audio.Context
	tr   *transport.Transport
	log  *logrus.Logger
	hook *test.Hook

	mu      sync.Mutex
	modules map[string]module.Module
	routes  []module.Route
	devices map[string]*midi.Device
	updates []string
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	logger, hook := test.NewNullLogger()
	ctx := audio.NewContext(1000)
	return &fakeHost{
		t:       t,
		ctx:     ctx,
		tr:      transport.New(ctx, transport.Options{Logger: logger}),
		log:     logger,
		hook:    hook,
		modules: make(map[string]module.Module),
		devices: make(map[string]*midi.Device),
	}
}

func (h *fakeHost) AudioContext() *audio.Context                     { return h.ctx }
func (h *fakeHost) Transport() *transport.Transport                  { return h.tr }
func (h *fakeHost) Logger() logrus.FieldLogger                       { return h.log }
func (h *fakeHost) OnDeviceChange(func(midi.Change)) (remove func()) { return func() {} }

func (h *fakeHost) ResolveInput(ref module.DeviceRef) (*midi.Device, bool) {
	return h.resolve(ref)
}

func (h *fakeHost) ResolveOutput(ref module.DeviceRef) (*midi.Device, bool) {
	return h.resolve(ref)
}

func (h *fakeHost) resolve(ref module.DeviceRef) (*midi.Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[ref.ID]
	return d, ok
}

func (h *fakeHost) FindModule(id string) (module.Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, module.ErrNotFound)
	}
	return m, nil
}

func (h *fakeHost) RoutesFor(id string) []module.Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []module.Route
	for _, r := range h.routes {
		if r.Touches(id) {
			out = append(out, r)
		}
	}
	return out
}

func (h *fakeHost) UpdateModuleProps(id string, props module.Props) (module.Props, error) {
	m, err := h.FindModule(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.updates = append(h.updates, id)
	h.mu.Unlock()
	return m.SetProps(props)
}

// create builds, activates and registers a module of a registered type
func (h *fakeHost) create(typ, id string, props module.Props) module.Module {
	h.t.Helper()
	m, err := Default().Create(h, typ, module.Config{ID: id, Props: props})
	if err != nil {
		h.t.Fatalf("create %s: %v", typ, err)
	}
	return h.add(m)
}

func (h *fakeHost) add(m module.Module) module.Module {
	h.t.Helper()
	if err := m.Activate(); err != nil {
		h.t.Fatalf("activate %s: %v", m.ID(), err)
	}
	h.mu.Lock()
	h.modules[m.ID()] = m
	h.mu.Unlock()
	return m
}

func (h *fakeHost) plug(src, srcPort, dst, dstPort string) {
	h.t.Helper()
	r := module.Route{
		ID:          fmt.Sprintf("r%d", len(h.routes)),
		Source:      module.Endpoint{ModuleID: src, PortName: srcPort},
		Destination: module.Endpoint{ModuleID: dst, PortName: dstPort},
	}
	s, d, err := module.ResolveRoute(h, r)
	if err != nil {
		h.t.Fatalf("resolve %s: %v", r.ID, err)
	}
	if err := module.Link(s, d); err != nil {
		h.t.Fatalf("link %s: %v", r.ID, err)
	}
	h.mu.Lock()
	h.routes = append(h.routes, r)
	h.mu.Unlock()
}

func (h *fakeHost) render(frames int) [][2]float64 {
	buf := make([][2]float64, frames)
	h.ctx.Render(buf)
	return buf
}

// recorder records the midi events it receives
type recorder struct {
	*module.Base
	mu     sync.Mutex
	events []midi.Event
}

func (h *fakeHost) addRecorder(id string) *recorder {
	h.t.Helper()
	b, err := module.NewBase(h, "recorder", module.Config{ID: id}, module.Options{Schema: module.Schema{}})
	if err != nil {
		h.t.Fatal(err)
	}
	p := &recorder{Base: b}
	p.RegisterMidiInput("midi in", func(e midi.Event) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.events = append(p.events, e)
	})
	h.add(p)
	return p
}

func (p *recorder) received() []midi.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]midi.Event(nil), p.events...)
}

// constSource is an audio source emitting a fixed level
type constSource struct {
	*module.Base
	node *audio.ConstantSource
}

func (h *fakeHost) addConst(id string, level float64) *constSource {
	h.t.Helper()
	c := &constSource{}
	b, err := module.NewBase(h, "const", module.Config{ID: id}, module.Options{
		Schema: module.Schema{},
		Build: func() error {
			c.node = audio.NewConstantSource(h.ctx, level)
			return nil
		},
	})
	if err != nil {
		h.t.Fatal(err)
	}
	c.Base = b
	c.RegisterAudioOutput("out", func() []audio.Endpoint {
		if c.node == nil {
			return nil
		}
		return []audio.Endpoint{audio.Out(c.node, 0)}
	})
	h.add(c)
	return c
}

func approx(a, b, eps float64) bool {
	d := a - b
	return d < eps && d > -eps
}
