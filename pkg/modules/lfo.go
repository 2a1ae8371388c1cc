package modules

import (
	"sync"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/transport"
)

var divisions = []string{"4/1", "2/1", "1/1", "1/2", "1/4", "1/8", "1/16", "1/32", "1/2t", "1/4t", "1/8t", "1/16t", "1/2d", "1/4d", "1/8d"}

var lfoSchema = module.Schema{
	"wave":      {Kind: module.Enum, Options: waveforms, Default: string(audio.Sine), Label: "Waveform"},
	"frequency": {Kind: module.Number, Min: 0.01, Max: 50, Step: 0.01, Default: 1.0, Label: "Rate"},
	"amount":    {Kind: module.Number, Min: 0, Max: 10000, Step: 0.01, Default: 1.0, Label: "Amount"},
	"sync":      {Kind: module.Boolean, Default: false, Label: "Tempo sync"},
	"division":  {Kind: module.Enum, Options: divisions, Default: "1/4", Label: "Division"},
}

// LFO is a low frequency modulation source. With sync on, its period is one
// note division at the transport tempo and its phase restarts on every
// division boundary.
type LFO struct {
	*module.Base
	osc    *audio.Oscillator
	amount *audio.Gain

	mu     sync.Mutex
	remove func()
}

// NewLFO creates an LFO module.
func NewLFO(host module.Host, cfg module.Config) (module.Module, error) {
	m := &LFO{}
	base, err := module.NewBase(host, TypeLFO, cfg, module.Options{
		Schema: lfoSchema,
		Hooks: module.Hooks{
			"wave":      {OnAfterSet: func(w any) { m.osc.SetWaveform(audio.Waveform(w.(string))) }},
			"frequency": {OnAfterSet: func(any) { m.retune(m.Context().CurrentTime()) }},
			"sync":      {OnAfterSet: func(any) { m.retune(m.Context().CurrentTime()) }},
			"division":  {OnAfterSet: func(any) { m.retune(m.Context().CurrentTime()) }},
			"amount":    {OnAfterSet: func(v any) { m.amount.Gain().SetValue(v.(float64)) }},
		},
		Build:    m.build,
		Teardown: m.teardown,
	})
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterAudioOutput("out", func() []audio.Endpoint {
		if m.amount == nil {
			return nil
		}
		return []audio.Endpoint{audio.Out(m.amount, 0)}
	})
	m.RegisterParamInput("frequency", paramEndpoints(func() *audio.Param {
		if m.osc == nil {
			return nil
		}
		return m.osc.Frequency()
	}))
	return m, nil
}

func (m *LFO) build() error {
	ctx := m.Context()
	m.osc = audio.NewOscillator(ctx, audio.Waveform(m.Str("wave")), m.Float("frequency"))
	m.amount = audio.NewGain(ctx, m.Float("amount"))
	if err := audio.Connect(audio.Out(m.osc, 0), audio.In(m.amount, 0)); err != nil {
		return err
	}
	if err := m.osc.Start(ctx.CurrentTime()); err != nil {
		return err
	}
	remove := m.Host().Transport().AddClockCallback(m.onTick)
	m.mu.Lock()
	m.remove = remove
	m.mu.Unlock()
	return nil
}

// Rate returns the oscillator frequency the LFO runs at now.
func (m *LFO) Rate() float64 {
	if !m.Bool("sync") {
		return m.Float("frequency")
	}
	secs, err := transport.DivisionSeconds(m.Str("division"), m.Host().Transport().BPM())
	if err != nil || secs <= 0 {
		return m.Float("frequency")
	}
	return 1 / secs
}

func (m *LFO) retune(at float64) {
	m.osc.Frequency().SetValueAtTime(m.Rate(), at)
}

// onTick realigns a synced LFO on division boundaries and follows tempo changes.
func (m *LFO) onTick(tick transport.Tick) {
	if !m.Bool("sync") {
		return
	}
	ticks, err := transport.DivisionTicks(m.Str("division"))
	if err != nil || tick.Index%ticks != 0 {
		return
	}
	m.osc.SyncAt(tick.Time)
	m.retune(tick.Time)
}

func (m *LFO) teardown() {
	m.mu.Lock()
	remove := m.remove
	m.remove = nil
	m.mu.Unlock()
	if remove != nil {
		remove()
	}
	if m.osc != nil {
		stopSource(m.Base, m.osc, m.Context().CurrentTime())
	}
}
