package engine

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/modules"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestEngine(t *testing.T, ports ...string) (*Engine, *test.Hook) {
	t.Helper()
	return newTestEngineWith(t, midi.NewLoopback(ports...))
}

func newTestEngineWith(t *testing.T, drv *midi.Loopback) (*Engine, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	e, err := New(Options{SampleRate: 8000, Driver: drv, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Dispose() })
	return e, hook
}

func mustAdd(t *testing.T, e *Engine, id, typ string, props module.Props) {
	t.Helper()
	if _, err := e.AddModule(ModuleSpec{ID: id, ModuleType: typ, Props: props}); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func mustRoute(t *testing.T, e *Engine, src, srcPort, dst, dstPort string) module.Route {
	t.Helper()
	r, err := e.AddRoute(route(src, srcPort, dst, dstPort))
	if err != nil {
		t.Fatalf("route %s.%s -> %s.%s: %v", src, srcPort, dst, dstPort, err)
	}
	return r
}

func route(src, srcPort, dst, dstPort string) module.Route {
	return module.Route{
		Source:      module.Endpoint{ModuleID: src, PortName: srcPort},
		Destination: module.Endpoint{ModuleID: dst, PortName: dstPort},
	}
}

func peak(buf [][2]float64) float64 {
	p := 0.0
	for _, f := range buf {
		p = math.Max(p, math.Abs(f[0]))
	}
	return p
}

func TestAddAndFindModule(t *testing.T) {
	e, _ := newTestEngine(t)
	s, err := e.AddModule(ModuleSpec{ModuleType: modules.TypeGain, Name: "amp"})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" || s.Name != "amp" || s.ModuleType != modules.TypeGain {
		t.Errorf("AddModule() = %+v", s)
	}
	if _, err := e.FindModule(s.ID); err != nil {
		t.Errorf("FindModule() error = %v", err)
	}
	if _, err := e.FindModule("nope"); !errors.Is(err, module.ErrNotFound) {
		t.Errorf("FindModule(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAddModuleErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "g", modules.TypeGain, nil)

	tests := []struct {
		name string
		spec ModuleSpec
		want error
	}{
		{"duplicate id", ModuleSpec{ID: "g", ModuleType: modules.TypeGain}, ErrDuplicateID},
		{"unknown type", ModuleSpec{ModuleType: "theremin"}, modules.ErrUnknownModuleType},
		{"bad prop", ModuleSpec{ModuleType: modules.TypeGain, Props: module.Props{"gain": -5.0}}, module.ErrInvalidProp},
		{"unknown prop", ModuleSpec{ModuleType: modules.TypeGain, Props: module.Props{"colour": "red"}}, module.ErrInvalidProp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.AddModule(tt.spec); !errors.Is(err, tt.want) {
				t.Errorf("AddModule() error = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(e.Modules()); n != 1 {
		t.Errorf("got %d modules after failures, want 1", n)
	}
}

func TestAddRouteValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "osc", modules.TypeOscillator, nil)
	mustAdd(t, e, "out", modules.TypeMaster, nil)
	mustAdd(t, e, "kb", modules.TypeVirtualMidi, nil)

	tests := []struct {
		name  string
		route module.Route
		want  []error
	}{
		{"missing module", route("ghost", "out", "out", "in"), []error{module.ErrInvalidRoute, module.ErrNotFound}},
		{"missing port", route("osc", "sideways", "out", "in"), []error{module.ErrInvalidRoute, module.ErrPortNotFound}},
		{"empty endpoint", route("", "", "out", "in"), []error{module.ErrInvalidRoute}},
		{"input as source", route("out", "in", "osc", "frequency"), []error{module.ErrInvalidRoute}},
		{"midi into audio", route("kb", "midi out", "out", "in"), []error{module.ErrIncompatiblePorts}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddRoute(tt.route)
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("AddRoute() error = %v, want %v", err, want)
				}
			}
		})
	}
	if n := len(e.Routes()); n != 0 {
		t.Errorf("got %d routes after rejected adds, want 0", n)
	}
	if got := peak(render(e, 256)); got != 0 {
		t.Errorf("rejected routes left edges: peak %g", got)
	}

	r := mustRoute(t, e, "osc", "out", "out", "in")
	if _, err := e.AddRoute(module.Route{ID: r.ID, Source: r.Source, Destination: r.Destination}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate route error = %v", err)
	}
}

func render(e *Engine, frames int) [][2]float64 {
	buf := make([][2]float64, frames)
	e.Render(buf)
	return buf
}

func TestRouteAndRemove(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "osc", modules.TypeOscillator, module.Props{"voices": 1.0})
	mustAdd(t, e, "out", modules.TypeMaster, module.Props{"volume": 1.0})
	r := mustRoute(t, e, "osc", "out", "out", "in")

	if got := peak(render(e, 1024)); got < 0.9 {
		t.Fatalf("peak = %g, want a full-scale sine", got)
	}

	if err := e.RemoveRoute(r.ID); err != nil {
		t.Fatal(err)
	}
	render(e, 128)
	if got := peak(render(e, 512)); got != 0 {
		t.Errorf("peak after RemoveRoute = %g, want silence", got)
	}
	if err := e.RemoveRoute(r.ID); !errors.Is(err, module.ErrNotFound) {
		t.Errorf("second RemoveRoute() error = %v, want ErrNotFound", err)
	}
}

func TestRemoveModuleSeversRoutes(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "osc", modules.TypeOscillator, module.Props{"voices": 1.0})
	mustAdd(t, e, "g", modules.TypeGain, nil)
	mustAdd(t, e, "out", modules.TypeMaster, nil)
	mustRoute(t, e, "osc", "out", "g", "in")
	keep := mustRoute(t, e, "g", "out", "out", "in")

	if err := e.RemoveModule("osc"); err != nil {
		t.Fatal(err)
	}
	routes := e.Routes()
	if len(routes) != 1 || routes[0].ID != keep.ID {
		t.Errorf("Routes() = %+v, want only %s", routes, keep.ID)
	}
	if got := e.RoutesFor("osc"); len(got) != 0 {
		t.Errorf("RoutesFor(removed) = %+v", got)
	}
	if err := e.RemoveModule("osc"); !errors.Is(err, module.ErrNotFound) {
		t.Errorf("second RemoveModule() error = %v", err)
	}
	render(e, 128)
	if got := peak(render(e, 256)); got != 0 {
		t.Errorf("peak = %g after removing the source", got)
	}
}

func TestDependentPropClampIsNotified(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "d", modules.TypeDelay, module.Props{"time": 0.8})

	var updates []PropsUpdate
	e.OnPropsUpdate(func(u PropsUpdate) { updates = append(updates, u) })

	next, err := e.UpdateModuleProps("d", module.Props{"maxTime": 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if next["time"] != 0.5 {
		t.Errorf("returned time = %v, want 0.5", next["time"])
	}
	if len(updates) == 0 {
		t.Fatal("no notification")
	}
	for i, u := range updates {
		if u.Props["time"] != 0.5 || u.Props["maxTime"] != 0.5 {
			t.Errorf("update %d carries time %v maxTime %v, want 0.5 0.5", i, u.Props["time"], u.Props["maxTime"])
		}
	}
}

func TestUpdateModuleNotifies(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "g", modules.TypeGain, nil)

	var updates []PropsUpdate
	remove := e.OnPropsUpdate(func(u PropsUpdate) { updates = append(updates, u) })

	s, err := e.UpdateModule(ModuleSpec{ID: "g", Name: "amp", Props: module.Props{"gain": 2.0}})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "amp" || s.Props["gain"] != 2.0 {
		t.Errorf("UpdateModule() = %+v", s)
	}
	if len(updates) != 1 || updates[0].ModuleID != "g" || updates[0].Props["gain"] != 2.0 {
		t.Fatalf("updates = %+v, want one for gain 2", updates)
	}

	// an update that changes nothing is silent
	if _, err := e.UpdateModule(ModuleSpec{ID: "g", Props: module.Props{"gain": 2.0}}); err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Errorf("got %d updates, want no notification for an unchanged value", len(updates))
	}

	remove()
	if _, err := e.UpdateModuleProps("g", module.Props{"gain": 3.0}); err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Error("removed listener still notified")
	}

	if _, err := e.UpdateModule(ModuleSpec{ID: "g", ModuleType: modules.TypeDelay}); !errors.Is(err, module.ErrInvalidProp) {
		t.Errorf("type change error = %v", err)
	}
	if _, err := e.UpdateModule(ModuleSpec{ID: "missing"}); !errors.Is(err, module.ErrNotFound) {
		t.Errorf("missing module error = %v", err)
	}
}

func TestMapperWritesNotify(t *testing.T) {
	e, _ := newTestEngine(t)
	cc := 74
	mustAdd(t, e, "kb", modules.TypeVirtualMidi, nil)
	mustAdd(t, e, "amp", modules.TypeGain, nil)
	mustAdd(t, e, "map", modules.TypeMidiMapper, module.Props{
		"mappings": []modules.Mapping{{CC: &cc, ModuleID: "amp", PropName: "gain"}},
	})
	mustRoute(t, e, "kb", "midi out", "map", "midi in")

	var updates []PropsUpdate
	e.OnPropsUpdate(func(u PropsUpdate) { updates = append(updates, u) })

	kb, _ := e.FindModule("kb")
	kb.(*modules.VirtualMidi).ControlChange(74, 127)

	amp, _ := e.FindModule("amp")
	if got := amp.Props()["gain"]; got != 10.0 {
		t.Errorf("gain = %v, want 10", got)
	}
	if len(updates) != 1 || updates[0].ModuleID != "amp" {
		t.Errorf("updates = %+v, want one for amp", updates)
	}
}

func TestPolyVoiceCountChangeKeepsRoutes(t *testing.T) {
	e, _ := newTestEngine(t)
	// a square wave at 0 Hz holds +1, so the mix level counts the voices
	mustAdd(t, e, "osc", modules.TypeOscillator, module.Props{"voices": 2.0, "wave": "square", "frequency": 0.0, "keyTrack": false})
	mustAdd(t, e, "out", modules.TypeMaster, module.Props{"volume": 0.25})
	mustRoute(t, e, "osc", "out", "out", "in")

	if got := peak(render(e, 256)); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("two voices: peak %g, want 0.5", got)
	}
	s, err := e.UpdateModule(ModuleSpec{ID: "osc", Props: module.Props{"voices": 4.0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Voices) != 4 {
		t.Fatalf("got %d voices, want 4", len(s.Voices))
	}
	if got := peak(render(e, 256)); math.Abs(got-1) > 1e-9 {
		t.Errorf("four voices: peak %g, want 1", got)
	}
	if n := len(e.RoutesFor("osc")); n != 1 {
		t.Errorf("got %d routes after resize, want 1", n)
	}
}

func TestSequencedVoiceRendersAndStops(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "seq", modules.TypeSequencer, module.Props{"division": "1/4", "gate": 0.5})
	mustAdd(t, e, "osc", modules.TypeOscillator, nil)
	mustAdd(t, e, "env", modules.TypeEnvelope, module.Props{"attack": 0.0, "decay": 0.0, "sustain": 1.0, "release": 0.0})
	mustAdd(t, e, "out", modules.TypeMaster, module.Props{"volume": 1.0})
	mustRoute(t, e, "seq", "midi out", "osc", "midi in")
	mustRoute(t, e, "seq", "midi out", "env", "midi in")
	mustRoute(t, e, "osc", "out", "env", "in")
	mustRoute(t, e, "env", "out", "out", "in")

	if got := peak(render(e, 800)); got != 0 {
		t.Fatalf("peak before start = %g, want silence", got)
	}
	e.Start()
	// the first quarter note starts at 0.1s and is gated open for 0.25s
	if got := peak(render(e, 800)); got < 0.5 {
		t.Errorf("peak while playing = %g", got)
	}
	// 0.4s to 0.6s falls between the note-off and the next beat
	render(e, 1600)
	if got := peak(render(e, 1600)); got > 1e-9 {
		t.Errorf("peak after note off = %g, want silence", got)
	}
	if pos := e.Transport().Position(); pos == 0 {
		t.Error("transport did not advance")
	}
}

func TestSerializeLoadRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Transport().SetBPM(140); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, e, "osc", modules.TypeOscillator, module.Props{"voices": 3.0, "wave": "square"})
	mustAdd(t, e, "seq", modules.TypeSequencer, module.Props{"steps": []modules.Step{{Note: 48, Velocity: 80, Active: true}}})
	mustAdd(t, e, "out", modules.TypeMaster, nil)
	mustRoute(t, e, "osc", "out", "out", "in")
	mustRoute(t, e, "seq", "midi out", "osc", "midi in")

	raw, err := json.Marshal(e.Serialize())
	if err != nil {
		t.Fatal(err)
	}
	var s Serialized
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Modules[0].Voices) != 3 {
		t.Errorf("serialized poly has %d voices, want 3", len(s.Modules[0].Voices))
	}

	other, _ := newTestEngine(t)
	if err := other.Load(s); err != nil {
		t.Fatal(err)
	}
	got := other.Serialize()
	if got.BPM != 140 || len(got.Modules) != 3 || len(got.Routes) != 2 {
		t.Fatalf("loaded = bpm %g, %d modules, %d routes", got.BPM, len(got.Modules), len(got.Routes))
	}
	osc, _ := other.FindModule("osc")
	if osc.Props()["wave"] != "square" || osc.Props()["voices"] != 3.0 {
		t.Errorf("osc props = %v", osc.Props())
	}
	seq, _ := other.FindModule("seq")
	if steps := seq.(*modules.StepSequencer).Steps(); len(steps) != 1 || steps[0].Note != 48 {
		t.Errorf("steps = %v", steps)
	}

	// loading again replaces rather than appends
	if err := other.Load(s); err != nil {
		t.Fatal(err)
	}
	if n := len(other.Modules()); n != 3 {
		t.Errorf("got %d modules after reload, want 3", n)
	}
}

func TestDisposeIsFinal(t *testing.T) {
	e, _ := newTestEngine(t)
	mustAdd(t, e, "out", modules.TypeMaster, nil)
	if err := e.Dispose(); err != nil {
		t.Fatal(err)
	}
	if err := e.Dispose(); err != nil {
		t.Errorf("second Dispose() = %v", err)
	}
	if len(e.Modules()) != 0 {
		t.Error("modules survive Dispose")
	}
	if _, err := e.AddModule(ModuleSpec{ModuleType: modules.TypeGain}); !errors.Is(err, ErrDisposed) {
		t.Errorf("AddModule() after Dispose = %v", err)
	}
}

func TestCurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	SetCurrent(e)
	t.Cleanup(func() { SetCurrent(nil) })
	if got, ok := Current(); !ok || got != e {
		t.Error("Current() did not return the installed engine")
	}
}
