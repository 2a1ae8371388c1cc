package modules

import (
	"slices"
	"sync"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/module"
)

var envelopeSchema = module.Schema{
	"attack":  {Kind: module.Number, Min: 0, Max: 10, Step: 0.001, Default: 0.01, Label: "Attack"},
	"decay":   {Kind: module.Number, Min: 0, Max: 10, Step: 0.001, Default: 0.1, Label: "Decay"},
	"sustain": {Kind: module.Number, Min: 0, Max: 1, Step: 0.01, Default: 0.7, Label: "Sustain"},
	"release": {Kind: module.Number, Min: 0, Max: 10, Step: 0.001, Default: 0.3, Label: "Release"},
}

// Envelope is a poly bank of ADSR amplifiers.
type Envelope struct {
	*module.Poly
}

// NewEnvelope creates an envelope module.
func NewEnvelope(host module.Host, cfg module.Config) (module.Module, error) {
	p, err := module.NewPoly(host, TypeEnvelope, cfg, envelopeSchema, newEnvelopeVoice)
	if err != nil {
		return nil, err
	}
	p.RegisterNoteInput("midi in")
	p.RegisterDefaultIOs()
	return &Envelope{Poly: p}, nil
}

// EnvelopeVoice is one ADSR amplifier. Overlapping notes on the voice share
// one envelope: only the release of the last held note closes it.
type EnvelopeVoice struct {
	*module.Base
	vca *audio.Gain

	mu          sync.Mutex
	activeNotes []uint8
	lastAttack  float64
	lastNote    uint8
	retriggered bool
	attacked    bool
}

func newEnvelopeVoice(host module.Host, cfg module.Config) (module.Module, error) {
	v := &EnvelopeVoice{}
	base, err := module.NewBase(host, TypeEnvelope, cfg, module.Options{
		Schema: envelopeSchema,
		Build: func() error {
			v.vca = audio.NewGain(v.Context(), 0)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	v.Base = base
	v.RegisterDefaultIOs(func() audio.Node {
		if v.vca == nil {
			return nil
		}
		return v.vca
	})
	return v, nil
}

// Gain exposes the amplifier parameter.
func (v *EnvelopeVoice) Gain() *audio.Param { return v.vca.Gain() }

// ActiveNotes returns the notes currently held on the voice.
func (v *EnvelopeVoice) ActiveNotes() []uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.activeNotes)
}

// TriggerAttack starts the attack ramp at time at, from whatever level the
// envelope has reached by then.
func (v *EnvelopeVoice) TriggerAttack(note, _ uint8, at float64) {
	v.mu.Lock()
	retrigger := slices.Contains(v.activeNotes, note)
	if !retrigger {
		v.activeNotes = append(v.activeNotes, note)
	}
	if !v.attacked || at >= v.lastAttack {
		v.lastAttack, v.lastNote, v.retriggered, v.attacked = at, note, retrigger, true
	}
	v.mu.Unlock()

	attack, decay, sustain := v.Float("attack"), v.Float("decay"), v.Float("sustain")
	g := v.vca.Gain()
	g.CancelAndHoldAtTime(at)
	g.LinearRampToValueAtTime(1, at+attack)
	g.LinearRampToValueAtTime(sustain, at+attack+decay)
}

// TriggerRelease starts the release ramp once no note is held. A release
// before the latest attack loses to it. At the same instant it loses only to
// another note's attack or to a retrigger of a note that was already held,
// so a tap shorter than one clock step still closes the envelope.
func (v *EnvelopeVoice) TriggerRelease(note uint8, at float64) {
	v.mu.Lock()
	if i := slices.Index(v.activeNotes, note); i >= 0 {
		v.activeNotes = slices.Delete(v.activeNotes, i, i+1)
	}
	held := len(v.activeNotes) > 0
	superseded := false
	if v.attacked {
		switch {
		case at < v.lastAttack:
			superseded = true
		case at == v.lastAttack && v.lastNote != note:
			superseded = true
		case at == v.lastAttack && v.retriggered:
			// the release belongs to the note-on the retrigger replaced
			superseded, v.retriggered = true, false
		}
	}
	v.mu.Unlock()
	if held || superseded {
		return
	}

	g := v.vca.Gain()
	g.CancelAndHoldAtTime(at)
	g.LinearRampToValueAtTime(0, at+v.Float("release"))
}
