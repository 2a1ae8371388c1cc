package midi

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"gitlab.com/gomidi/midi/v2/drivers"
)

func newTestManager(drv drivers.Driver) *Manager {
	logger, _ := test.NewNullLogger()
	return NewManager(drv, ManagerOptions{Logger: logger, Now: func() float64 { return 1.5 }})
}

func TestDeviceID(t *testing.T) {
	tests := []struct {
		typ  DeviceType
		name string
		occ  int
		want string
	}{
		{Input, "Launchkey", 0, "input:Launchkey"},
		{Output, "Launchkey", 0, "output:Launchkey"},
		{Input, "Launchkey", 1, "input:Launchkey#2"},
	}
	for _, tt := range tests {
		if got := DeviceID(tt.typ, tt.name, tt.occ); got != tt.want {
			t.Errorf("DeviceID() = %q, want %q", got, tt.want)
		}
	}
}

func TestPollEmitsChanges(t *testing.T) {
	in := newFakeIn("Launchkey Mini MK3 MIDI 1")
	out := newFakeOut("Launchkey Mini MK3 MIDI 1")
	drv := &fakeDriver{ins: []drivers.In{in}, outs: []drivers.Out{out}}
	m := newTestManager(drv)

	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })

	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	for _, c := range changes {
		if c.Kind != DeviceConnected {
			t.Errorf("change kind = %v, want connected", c.Kind)
		}
	}

	// unchanged enumeration emits nothing
	changes = nil
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("steady state emitted %d changes", len(changes))
	}

	drv.ins = nil
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != DeviceDisconnected || changes[0].Device.Type() != Input {
		t.Fatalf("changes = %+v, want one input disconnect", changes)
	}
	if got := len(m.Devices()); got != 2 {
		t.Errorf("Devices() = %d, want disconnected handle retained (2)", got)
	}
}

func TestReplugReusesHandleAndListeners(t *testing.T) {
	in := newFakeIn("Launchkey Mini MK3 MIDI 1")
	drv := &fakeDriver{ins: []drivers.In{in}}
	m := newTestManager(drv)
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}

	dev, ok := m.FindInputByName("Launchkey Mini MK3 MIDI 1")
	if !ok {
		t.Fatal("device not found")
	}
	var got []Event
	if _, err := dev.AddListener(func(e Event) { got = append(got, e) }); err != nil {
		t.Fatal(err)
	}
	in.push(0x90, 60, 100)

	drv.ins = nil
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if dev.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", dev.State())
	}
	if in.listening() {
		t.Error("listener left on removed port")
	}

	// the platform hands back a fresh port object for the same device
	replugged := newFakeIn("Launchkey Mini MK3 MIDI 1")
	drv.ins = []drivers.In{replugged}
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}

	again, _ := m.FindInput(dev.ID())
	if again != dev {
		t.Fatal("replug created a new handle")
	}
	replugged.push(0x80, 60, 0)

	if len(got) != 2 {
		t.Fatalf("listener received %d events, want 2", len(got))
	}
	if got[0].Type != NoteOn || got[1].Type != NoteOff {
		t.Errorf("events = %v", got)
	}
	if got[1].Time != 1.5 {
		t.Errorf("event time = %v, want clock time 1.5", got[1].Time)
	}
}

func TestDuplicateNamesGetDistinctIDs(t *testing.T) {
	drv := &fakeDriver{ins: []drivers.In{newFakeIn("IAC Bus"), newFakeIn("IAC Bus")}}
	m := newTestManager(drv)
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.FindInput("input:IAC Bus"); !ok {
		t.Error("first port missing")
	}
	if _, ok := m.FindInput("input:IAC Bus#2"); !ok {
		t.Error("second port missing")
	}
}

func TestLookups(t *testing.T) {
	drv := &fakeDriver{
		ins:  []drivers.In{newFakeIn("nanoKONTROL2 MIDI 1")},
		outs: []drivers.Out{newFakeOut("Launchkey Mini MK3:Launchkey Mini MK3 MIDI 1 20:0")},
	}
	m := newTestManager(drv)
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.FindOutput("input:nanoKONTROL2 MIDI 1"); ok {
		t.Error("FindOutput returned an input")
	}
	if _, ok := m.FindInputByName("nanoKONTROL2"); ok {
		t.Error("exact lookup matched a partial name")
	}
	d, score, ok := m.FindOutputByFuzzyName("Launchkey Mini MK3 MIDI 1", DefaultMatchThreshold)
	if !ok || d.Name() != "Launchkey Mini MK3:Launchkey Mini MK3 MIDI 1 20:0" {
		t.Fatalf("fuzzy lookup = %v, %v", d, ok)
	}
	if score <= 0.7 {
		t.Errorf("score = %v, want > 0.7", score)
	}
	if _, _, ok := m.FindInputByFuzzyName("Launchkey Mini MK3", DefaultMatchThreshold); ok {
		t.Error("fuzzy lookup crossed device types")
	}
}

func TestDeviceSend(t *testing.T) {
	out := newFakeOut("Synth")
	drv := &fakeDriver{outs: []drivers.Out{out}, ins: []drivers.In{newFakeIn("Keys")}}
	m := newTestManager(drv)
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}

	synth, _ := m.FindOutputByName("Synth")
	if err := synth.Send(NewControlChange(1, 20, 64, 0)); err != nil {
		t.Fatal(err)
	}
	if len(out.sent) != 1 || out.sent[0][0] != 0xB1 || out.sent[0][1] != 20 || out.sent[0][2] != 64 {
		t.Errorf("sent = % X", out.sent)
	}

	keys, _ := m.FindInputByName("Keys")
	if err := keys.Send(NewNoteOn(0, 60, 1, 0)); !errors.Is(err, ErrWrongType) {
		t.Errorf("Send on input error = %v, want ErrWrongType", err)
	}
	if _, err := synth.AddListener(func(Event) {}); !errors.Is(err, ErrWrongType) {
		t.Errorf("AddListener on output error = %v, want ErrWrongType", err)
	}

	drv.outs = nil
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if err := synth.Send(NewNoteOn(0, 60, 1, 0)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send after unplug error = %v, want ErrDisconnected", err)
	}
}

func TestNilDriver(t *testing.T) {
	m := newTestManager(nil)
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if len(m.Devices()) != 0 {
		t.Error("nil driver reported devices")
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
}

func TestRank(t *testing.T) {
	m := newTestManager(NewLoopback("Midi Through Port-0", "Launchkey Mini MK3:Launchkey Mini MK3 MIDI 1 20:0", "nanoKONTROL2"))
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	ranked := m.Rank(Input, "Launchkey Mini MK3 MIDI 1")
	if len(ranked) != 3 {
		t.Fatalf("got %d candidates, want 3", len(ranked))
	}
	if ranked[0].Name != "Launchkey Mini MK3:Launchkey Mini MK3 MIDI 1 20:0" || ranked[0].Score != 1 {
		t.Errorf("best = %+v", ranked[0])
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Errorf("candidates not sorted: %+v", ranked)
		}
		if ranked[i].Type != Input {
			t.Errorf("candidate %d is an %s", i, ranked[i].Type)
		}
	}
}
