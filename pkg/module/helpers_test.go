package module

import (
	"fmt"
	"sync"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeHost implements Host for testing
type fakeHost struct {
	ctx     *audio.Context
	tr      *transport.Transport
	log     *logrus.Logger
	mu      sync.Mutex
	modules map[string]Module
	routes  []Route
}

func newFakeHost() *fakeHost {
	logger, _ := test.NewNullLogger()
	ctx := audio.NewContext(1000)
	return &fakeHost{
		ctx:     ctx,
		tr:      transport.New(ctx, transport.Options{Logger: logger}),
		log:     logger,
		modules: make(map[string]Module),
	}
}

func (h *fakeHost) AudioContext() *audio.Context                 { return h.ctx }
func (h *fakeHost) Transport() *transport.Transport              { return h.tr }
func (h *fakeHost) Logger() logrus.FieldLogger                   { return h.log }
func (h *fakeHost) ResolveInput(DeviceRef) (*midi.Device, bool)  { return nil, false }
func (h *fakeHost) ResolveOutput(DeviceRef) (*midi.Device, bool) { return nil, false }
func (h *fakeHost) OnDeviceChange(func(midi.Change)) func()      { return func() {} }

func (h *fakeHost) FindModule(id string) (Module, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (h *fakeHost) RoutesFor(id string) []Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Route
	for _, r := range h.routes {
		if r.Touches(id) {
			out = append(out, r)
		}
	}
	return out
}

func (h *fakeHost) UpdateModuleProps(id string, props Props) (Props, error) {
	m, err := h.FindModule(id)
	if err != nil {
		return nil, err
	}
	return m.SetProps(props)
}

func (h *fakeHost) add(m Module) Module {
	if err := m.Activate(); err != nil {
		panic(err)
	}
	h.mu.Lock()
	h.modules[m.ID()] = m
	h.mu.Unlock()
	return m
}

func (h *fakeHost) plug(src, srcPort, dst, dstPort string) error {
	r := Route{
		ID:          fmt.Sprintf("r%d", len(h.routes)),
		Source:      Endpoint{ModuleID: src, PortName: srcPort},
		Destination: Endpoint{ModuleID: dst, PortName: dstPort},
	}
	s, d, err := ResolveRoute(h, r)
	if err != nil {
		return err
	}
	if err := Link(s, d); err != nil {
		return err
	}
	h.mu.Lock()
	h.routes = append(h.routes, r)
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) render(frames int) [][2]float64 {
	buf := make([][2]float64, frames)
	h.ctx.Render(buf)
	return buf
}

// constModule is a mono source emitting its "value" prop
type constModule struct {
	*Base
	node *audio.ConstantSource
}

var constSchema = Schema{
	"value": {Kind: Number, Min: -10, Max: 10, Default: 0.0},
}

func newConst(h Host, cfg Config) (Module, error) {
	m := &constModule{}
	b, err := NewBase(h, "const", cfg, Options{
		Schema: constSchema,
		Hooks: Hooks{
			"value": {OnAfterSet: func(v any) { m.node.Offset().SetValue(v.(float64)) }},
		},
		Build: func() error {
			m.node = audio.NewConstantSource(h.AudioContext(), 0)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	m.Base = b
	m.RegisterAudioOutput("out", func() []audio.Endpoint {
		if m.node == nil {
			return nil
		}
		return []audio.Endpoint{audio.Out(m.node, 0)}
	})
	return m, nil
}

// gainModule rebuilds its node whenever "rebuilds" changes
type gainModule struct {
	*Base
	node   *audio.Gain
	builds int
}

var gainSchema = Schema{
	"gain":     {Kind: Number, Min: 0, Max: 2, Default: 1.0},
	"rebuilds": {Kind: Number, Default: 0.0},
}

func newGainModule(h Host, cfg Config) (Module, error) {
	m := &gainModule{}
	build := func() error {
		m.node = audio.NewGain(h.AudioContext(), m.Float("gain"))
		m.builds++
		return nil
	}
	b, err := NewBase(h, "gain", cfg, Options{
		Schema: gainSchema,
		Hooks: Hooks{
			"gain": {OnAfterSet: func(v any) { m.node.Gain().SetValue(v.(float64)) }},
			"rebuilds": {OnAfterSet: func(any) {
				if m.IsReady() {
					_ = m.RePlugAll(build)
				}
			}},
		},
		Build: build,
	})
	if err != nil {
		return nil, err
	}
	m.Base = b
	m.RegisterDefaultIOs(func() audio.Node {
		if m.node == nil {
			return nil
		}
		return m.node
	})
	return m, nil
}

// sinkModule feeds the context destination
type sinkModule struct{ *Base }

func newSink(h Host, cfg Config) (Module, error) {
	b, err := NewBase(h, "sink", cfg, Options{Schema: Schema{}})
	if err != nil {
		return nil, err
	}
	b.RegisterAudioInput("in", func() []audio.Endpoint {
		return []audio.Endpoint{audio.In(h.AudioContext().Destination(), 0)}
	})
	return &sinkModule{b}, nil
}

// noteVoice records note calls
type noteVoice struct {
	*Base
	mu     sync.Mutex
	events []string
}

func newNoteVoice(h Host, cfg Config) (Module, error) {
	b, err := NewBase(h, "note", cfg, Options{Schema: constSchema})
	if err != nil {
		return nil, err
	}
	return &noteVoice{Base: b}, nil
}

func (v *noteVoice) TriggerAttack(note, _ uint8, at float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, fmt.Sprintf("on %d@%g", note, at))
}

func (v *noteVoice) TriggerRelease(note uint8, at float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, fmt.Sprintf("off %d@%g", note, at))
}

func (v *noteVoice) calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.events...)
}
