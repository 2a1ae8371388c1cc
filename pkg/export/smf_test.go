package export

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/james-see/patchbay/pkg/modules"
	"github.com/james-see/patchbay/pkg/transport"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

func testPattern() Pattern {
	steps := make([]modules.Step, 8)
	steps[0] = modules.Step{Note: 36, Velocity: 110, Active: true}
	steps[3] = modules.Step{Note: 43, Velocity: 90, Active: true}
	steps[6] = modules.Step{Note: 48, Velocity: 0, Active: true}
	steps[7] = modules.Step{Note: 50, Velocity: 80}
	return Pattern{
		Name:          "bassline",
		Steps:         steps,
		Division:      "1/16",
		Gate:          0.5,
		Channel:       2,
		BPM:           128,
		TimeSignature: transport.TimeSignature{4, 4},
	}
}

func TestGenerateMIDI(t *testing.T) {
	m := NewMIDIConverter()
	data, err := m.GenerateMIDI(testPattern())
	if err != nil {
		t.Fatal(err)
	}
	if DetectFormatFromContent(data) != FormatMIDI {
		t.Fatal("output is not an SMF")
	}

	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(s.Tracks))
	}

	type note struct {
		tick uint32
		on   bool
		key  uint8
	}
	var (
		notes []note
		tick  uint32
		bpm   float64
	)
	for _, ev := range s.Tracks[0] {
		tick += ev.Delta
		var ch, key, vel uint8
		switch {
		case midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel):
			if ch != 2 {
				t.Errorf("note on channel %d, want 2", ch)
			}
			notes = append(notes, note{tick, true, key})
		case midi.Message(ev.Message).GetNoteEnd(&ch, &key):
			notes = append(notes, note{tick, false, key})
		case ev.Message.GetMetaTempo(&bpm):
		}
	}
	// 1/16 at 480 ppq is 120 ticks; gate 0.5 holds each note 60 ticks
	want := []note{
		{0, true, 36}, {60, false, 36},
		{360, true, 43}, {420, false, 43},
		{720, true, 48}, {780, false, 48},
	}
	if len(notes) != len(want) {
		t.Fatalf("notes = %v, want %v", notes, want)
	}
	for i := range want {
		if notes[i] != want[i] {
			t.Errorf("note %d = %v, want %v", i, notes[i], want[i])
		}
	}
	if math.Abs(bpm-128) > 0.01 {
		t.Errorf("tempo = %g, want 128", bpm)
	}
	if tick != 960 {
		t.Errorf("track length = %d ticks, want 960 (8 steps)", tick)
	}
}

func TestGenerateMIDIErrors(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
	}{
		{"empty", Pattern{}},
		{"bad division", Pattern{Steps: []modules.Step{{Active: true}}, Division: "1/5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMIDIConverter().GenerateMIDI(tt.pattern); err == nil {
				t.Error("GenerateMIDI() expected error")
			}
		})
	}
}

func TestMIDIRoundTrip(t *testing.T) {
	m := NewMIDIConverter()
	p := testPattern()
	path := filepath.Join(t.TempDir(), "bassline.mid")
	if err := m.WriteMIDIFile(p, path); err != nil {
		t.Fatal(err)
	}
	got, err := m.ParseMIDIFile(path, "1/16")
	if err != nil {
		t.Fatal(err)
	}

	if got.Name != "bassline" {
		t.Errorf("Name = %q", got.Name)
	}
	if len(got.Steps) != len(p.Steps) {
		t.Fatalf("got %d steps, want %d", len(got.Steps), len(p.Steps))
	}
	for i, st := range p.Steps {
		want := st
		if !want.Active {
			want = modules.Step{}
		} else if want.Velocity == 0 {
			want.Velocity = 100
		}
		if got.Steps[i] != want {
			t.Errorf("step %d = %+v, want %+v", i, got.Steps[i], want)
		}
	}
	if got.Channel != 2 {
		t.Errorf("Channel = %d, want 2", got.Channel)
	}
	if math.Abs(got.Gate-0.5) > 1e-9 {
		t.Errorf("Gate = %g, want 0.5", got.Gate)
	}
	if math.Abs(got.BPM-128) > 0.01 {
		t.Errorf("BPM = %g, want 128", got.BPM)
	}
	if got.TimeSignature != (transport.TimeSignature{4, 4}) {
		t.Errorf("TimeSignature = %v", got.TimeSignature)
	}
}

func TestParseMIDIQuantizesToDivision(t *testing.T) {
	m := NewMIDIConverter()
	p := testPattern()
	data, err := m.GenerateMIDI(p)
	if err != nil {
		t.Fatal(err)
	}
	// read back on an eighth-note grid: 8 sixteenths become 4 eighths
	got, err := m.ParseMIDI(data, "1/8")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(got.Steps))
	}
	if !got.Steps[0].Active || got.Steps[0].Note != 36 {
		t.Errorf("step 0 = %+v", got.Steps[0])
	}
	// the note at sixteenth 3 rounds to eighth 2
	if !got.Steps[2].Active || got.Steps[2].Note != 43 {
		t.Errorf("step 2 = %+v", got.Steps[2])
	}
}
