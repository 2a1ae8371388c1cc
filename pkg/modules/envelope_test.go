package modules

import (
	"testing"

	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
)

func newTestEnvelope(t *testing.T) (*fakeHost, *Envelope, *EnvelopeVoice) {
	t.Helper()
	h := newFakeHost(t)
	m := h.create(TypeEnvelope, "env", module.Props{
		"voices":  1.0,
		"attack":  0.1,
		"decay":   0.1,
		"sustain": 0.5,
		"release": 0.2,
	}).(*Envelope)
	return h, m, m.Voice(0).(*EnvelopeVoice)
}

func TestEnvelopeADSR(t *testing.T) {
	_, _, v := newTestEnvelope(t)
	v.TriggerAttack(60, 100, 1)
	v.TriggerRelease(60, 2)

	tests := []struct {
		at   float64
		want float64
	}{
		{1, 0},
		{1.05, 0.5},
		{1.1, 1},
		{1.15, 0.75},
		{1.5, 0.5},
		{2, 0.5},
		{2.1, 0.25},
		{2.2, 0},
		{3, 0},
	}
	for _, tt := range tests {
		if got := v.Gain().ValueAt(tt.at); !approx(got, tt.want, 1e-9) {
			t.Errorf("gain at %g = %g, want %g", tt.at, got, tt.want)
		}
	}
}

func TestEnvelopeLastNoteRelease(t *testing.T) {
	_, _, v := newTestEnvelope(t)
	v.TriggerAttack(60, 100, 1)
	v.TriggerAttack(64, 100, 1.5)
	v.TriggerRelease(60, 2)

	if got := v.ActiveNotes(); len(got) != 1 || got[0] != 64 {
		t.Fatalf("ActiveNotes() = %v, want [64]", got)
	}
	if got := v.Gain().ValueAt(2.5); !approx(got, 0.5, 1e-9) {
		t.Errorf("gain while 64 held = %g, want sustain 0.5", got)
	}

	v.TriggerRelease(64, 3)
	if got := v.Gain().ValueAt(3.2); !approx(got, 0, 1e-9) {
		t.Errorf("gain after last release = %g, want 0", got)
	}
}

func TestEnvelopeSameInstantRetrigger(t *testing.T) {
	tests := []struct {
		name  string
		apply func(v *EnvelopeVoice)
	}{
		{"release then attack", func(v *EnvelopeVoice) {
			v.TriggerRelease(60, 2)
			v.TriggerAttack(60, 100, 2)
		}},
		{"attack then release", func(v *EnvelopeVoice) {
			v.TriggerAttack(60, 100, 2)
			v.TriggerRelease(60, 2)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, v := newTestEnvelope(t)
			v.TriggerAttack(60, 100, 1)
			tt.apply(v)
			if got := v.Gain().ValueAt(2.1); !approx(got, 1, 1e-9) {
				t.Errorf("gain at attack peak = %g, want 1", got)
			}
			if got := v.Gain().ValueAt(2.2); !approx(got, 0.5, 1e-9) {
				t.Errorf("gain after decay = %g, want 0.5", got)
			}
		})
	}
}

func TestEnvelopeTapWithinOneClockStep(t *testing.T) {
	tests := []struct {
		name  string
		apply func(v *EnvelopeVoice)
		want  float64
	}{
		{"tap on a silent voice", func(v *EnvelopeVoice) {
			v.TriggerAttack(60, 100, 1)
			v.TriggerRelease(60, 1)
		}, 0},
		{"tap after an earlier note", func(v *EnvelopeVoice) {
			v.TriggerAttack(60, 100, 1)
			v.TriggerRelease(60, 1.2)
			v.TriggerAttack(62, 100, 2)
			v.TriggerRelease(62, 2)
		}, 0},
		{"release of another note at the same instant", func(v *EnvelopeVoice) {
			v.TriggerAttack(62, 100, 2)
			v.TriggerRelease(60, 2)
		}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, v := newTestEnvelope(t)
			tt.apply(v)
			if got := v.Gain().ValueAt(2.5); !approx(got, tt.want, 1e-9) {
				t.Errorf("gain at 2.5 = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestEnvelopeAttackFromCurrentLevel(t *testing.T) {
	_, _, v := newTestEnvelope(t)
	v.TriggerAttack(60, 100, 1)
	v.TriggerRelease(60, 2)
	// half way through the release
	v.TriggerAttack(62, 100, 2.1)
	if got := v.Gain().ValueAt(2.1); !approx(got, 0.25, 1e-9) {
		t.Errorf("gain at retrigger = %g, want 0.25", got)
	}
	if got := v.Gain().ValueAt(2.15); !approx(got, 0.625, 1e-9) {
		t.Errorf("gain mid attack = %g, want 0.625", got)
	}
}

func TestEnvelopeStolenVoiceKeepsSounding(t *testing.T) {
	_, m, v := newTestEnvelope(t)
	m.HandleNote(midi.NewNoteOn(0, 60, 100, 1))
	m.HandleNote(midi.NewNoteOn(0, 64, 100, 1.5))

	if got := v.ActiveNotes(); len(got) != 1 || got[0] != 64 {
		t.Fatalf("ActiveNotes() = %v, want [64]", got)
	}
	if got := v.Gain().ValueAt(1.6); !approx(got, 1, 1e-9) {
		t.Errorf("gain at new peak = %g, want 1", got)
	}

	// the stolen note's own note-off is stale
	m.HandleNote(midi.NewNoteOff(0, 60, 1.7))
	if got := v.Gain().ValueAt(1.8); !approx(got, 0.5, 1e-9) {
		t.Errorf("gain after stale note off = %g, want 0.5", got)
	}
}
