package midi

import (
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  midi.Message
		want Event
	}{
		{"note on", midi.Message{0x92, 60, 100}, Event{Type: NoteOn, Channel: 2, Note: 60, Velocity: 100}},
		{"note on zero velocity", midi.Message{0x90, 60, 0}, Event{Type: NoteOff, Channel: 0, Note: 60}},
		{"note off", midi.Message{0x81, 64, 10}, Event{Type: NoteOff, Channel: 1, Note: 64}},
		{"control change", midi.Message{0xB0, 7, 127}, Event{Type: ControlChange, Controller: 7, Value: 127}},
		{"pitch bend", midi.Message{0xE0, 0, 64}, Event{Type: Other}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.msg, 0.25)
			if got.Type != tt.want.Type || got.Channel != tt.want.Channel || got.Note != tt.want.Note ||
				got.Velocity != tt.want.Velocity || got.Controller != tt.want.Controller || got.Value != tt.want.Value {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
			if got.Time != 0.25 {
				t.Errorf("Time = %v, want 0.25", got.Time)
			}
		})
	}
}

func TestEventMessage(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []byte
	}{
		{"note on", NewNoteOn(3, 60, 90, 0), []byte{0x93, 60, 90}},
		{"note off", NewNoteOff(0, 60, 0), []byte{0x80, 60, 0}},
		{"cc", NewControlChange(15, 1, 2, 0), []byte{0xBF, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := tt.ev.Message()
			if err != nil {
				t.Fatal(err)
			}
			if string(msg) != string(tt.want) {
				t.Errorf("Message() = % X, want % X", msg, tt.want)
			}
		})
	}

	if _, err := (Event{Type: Other}).Message(); err == nil {
		t.Error("expected error encoding an empty event")
	}
}

func TestNotes(t *testing.T) {
	if f := NoteFrequency(69); f != 440 {
		t.Errorf("NoteFrequency(69) = %v", f)
	}
	if f := NoteFrequency(81); math.Abs(f-880) > 1e-9 {
		t.Errorf("NoteFrequency(81) = %v", f)
	}
	tests := []struct {
		name string
		note uint8
	}{
		{"C4", 60},
		{"A4", 69},
		{"C#3", 49},
		{"Bb2", 46},
		{"C-1", 0},
	}
	for _, tt := range tests {
		got, err := ParseNote(tt.name)
		if err != nil || got != tt.note {
			t.Errorf("ParseNote(%q) = %d, %v; want %d", tt.name, got, err, tt.note)
		}
	}
	if NoteName(60) != "C4" || NoteName(61) != "C#4" {
		t.Errorf("NoteName() = %s %s", NoteName(60), NoteName(61))
	}
	if _, err := ParseNote("H2"); err == nil {
		t.Error("ParseNote(H2) expected error")
	}
}
