package modules

import (
	"errors"
	"math"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
)

var waveforms = []string{string(audio.Sine), string(audio.Square), string(audio.Sawtooth), string(audio.Triangle)}

var oscillatorSchema = module.Schema{
	"wave":      {Kind: module.Enum, Options: waveforms, Default: string(audio.Sine), Label: "Waveform"},
	"frequency": {Kind: module.Number, Min: 0, Max: 20000, Step: 0.01, Default: 440.0, Label: "Frequency"},
	"fine":      {Kind: module.Number, Min: -100, Max: 100, Step: 1, Default: 0.0, Label: "Fine (cents)"},
	"octave":    {Kind: module.Number, Min: -4, Max: 4, Step: 1, Default: 0.0, Label: "Octave"},
	"keyTrack":  {Kind: module.Boolean, Default: true, Label: "Key tracking"},
}

// Oscillator is a poly bank of free-running oscillators. With key tracking
// on, each voice retunes to the note it is allocated.
type Oscillator struct {
	*module.Poly
}

// NewOscillator creates an oscillator module.
func NewOscillator(host module.Host, cfg module.Config) (module.Module, error) {
	p, err := module.NewPoly(host, TypeOscillator, cfg, oscillatorSchema, newOscillatorVoice)
	if err != nil {
		return nil, err
	}
	p.RegisterNoteInput("midi in")
	p.RegisterVoiceParamInput("frequency")
	p.RegisterVoiceParamInput("detune")
	p.RegisterVoiceAudioOutput("out")
	return &Oscillator{Poly: p}, nil
}

type oscillatorVoice struct {
	*module.Base
	osc *audio.Oscillator
}

func newOscillatorVoice(host module.Host, cfg module.Config) (module.Module, error) {
	v := &oscillatorVoice{}
	base, err := module.NewBase(host, TypeOscillator, cfg, module.Options{
		Schema: oscillatorSchema,
		Hooks: module.Hooks{
			"wave":      {OnAfterSet: func(w any) { v.osc.SetWaveform(audio.Waveform(w.(string))) }},
			"frequency": {OnAfterSet: func(any) { v.retune(v.Float("frequency"), v.Context().CurrentTime()) }},
			"octave":    {OnAfterSet: func(any) { v.retune(v.Float("frequency"), v.Context().CurrentTime()) }},
			"fine":      {OnAfterSet: func(c any) { v.osc.Detune().SetValue(c.(float64)) }},
		},
		Build:    v.build,
		Teardown: v.teardown,
	})
	if err != nil {
		return nil, err
	}
	v.Base = base
	v.RegisterAudioOutput("out", func() []audio.Endpoint {
		if v.osc == nil {
			return nil
		}
		return []audio.Endpoint{audio.Out(v.osc, 0)}
	})
	v.RegisterParamInput("frequency", paramEndpoints(func() *audio.Param {
		if v.osc == nil {
			return nil
		}
		return v.osc.Frequency()
	}))
	v.RegisterParamInput("detune", paramEndpoints(func() *audio.Param {
		if v.osc == nil {
			return nil
		}
		return v.osc.Detune()
	}))
	return v, nil
}

func (v *oscillatorVoice) build() error {
	ctx := v.Context()
	v.osc = audio.NewOscillator(ctx, audio.Waveform(v.Str("wave")), v.Float("frequency"))
	return v.osc.Start(ctx.CurrentTime())
}

func (v *oscillatorVoice) retune(freq, at float64) {
	v.osc.Frequency().SetValueAtTime(freq*math.Pow(2, v.Float("octave")), at)
}

func (v *oscillatorVoice) TriggerAttack(note, _ uint8, at float64) {
	if v.Bool("keyTrack") {
		v.retune(midi.NoteFrequency(note), at)
	}
}

func (v *oscillatorVoice) TriggerRelease(uint8, float64) {}

func (v *oscillatorVoice) teardown() {
	if v.osc == nil {
		return
	}
	stopSource(v.Base, v.osc, v.Context().CurrentTime())
}

type stoppable interface {
	Stop(at float64) error
}

// stopSource stops a source node; a source that is already stopped is not an error.
func stopSource(b *module.Base, s stoppable, at float64) {
	if err := s.Stop(at); err != nil {
		if errors.Is(err, audio.ErrInvalidState) {
			b.Log().WithError(err).Debug("source already stopped")
			return
		}
		b.Log().WithError(err).Warn("stop source")
	}
}
