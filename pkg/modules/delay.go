package modules

import (
	"math"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/module"
)

var delaySchema = module.Schema{
	"time":     {Kind: module.Number, Min: 0, Max: 5, Step: 0.001, Default: 0.25, Label: "Time"},
	"feedback": {Kind: module.Number, Min: 0, Max: 0.95, Step: 0.01, Default: 0.3, Label: "Feedback"},
	"mix":      {Kind: module.Number, Min: 0, Max: 1, Step: 0.01, Default: 0.5, Label: "Mix"},
	"maxTime":  {Kind: module.Number, Min: 0.01, Max: 5, Step: 0.01, Default: 1.0, Label: "Max time"},
}

// EqualPowerGains returns the dry and wet gains of an equal-power crossfade:
// dry² + wet² = 1 for every mix in [0, 1].
func EqualPowerGains(mix float64) (dry, wet float64) {
	mix = math.Max(0, math.Min(1, mix))
	return math.Cos(mix * math.Pi / 2), math.Sin(mix * math.Pi / 2)
}

// Delay is a feedback delay. Changing maxTime reallocates the delay line, so
// the whole primitive graph is rebuilt and re-plugged.
type Delay struct {
	*module.Base

	input, output *audio.Gain
	dry, wet, fb  *audio.Gain
	line          *audio.Delay
}

// NewDelay creates a delay module.
func NewDelay(host module.Host, cfg module.Config) (module.Module, error) {
	m := &Delay{}
	base, err := module.NewBase(host, TypeDelay, cfg, module.Options{
		Schema: delaySchema,
		Hooks: module.Hooks{
			"time": {
				OnSet: func(v any) any { return math.Min(v.(float64), m.NextFloat("maxTime")) },
				OnAfterSet: func(v any) {
					m.line.DelayTime().SetValueAtTime(v.(float64), m.Context().CurrentTime())
				},
			},
			"feedback": {OnAfterSet: func(v any) { m.fb.Gain().SetValue(v.(float64)) }},
			"mix":      {OnAfterSet: func(v any) { m.applyMix(v.(float64)) }},
			"maxTime":  {OnAfterSet: func(any) { m.resize() }},
		},
		Build:    m.build,
		Teardown: m.teardown,
	})
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterAudioInput("in", func() []audio.Endpoint {
		if m.input == nil {
			return nil
		}
		return []audio.Endpoint{audio.In(m.input, 0)}
	})
	m.RegisterAudioOutput("out", func() []audio.Endpoint {
		if m.output == nil {
			return nil
		}
		return []audio.Endpoint{audio.Out(m.output, 0)}
	})
	m.RegisterParamInput("time", paramEndpoints(func() *audio.Param {
		if m.line == nil {
			return nil
		}
		return m.line.DelayTime()
	}))
	return m, nil
}

func (m *Delay) build() error {
	ctx := m.Context()
	m.input = audio.NewGain(ctx, 1)
	m.output = audio.NewGain(ctx, 1)
	m.line = audio.NewDelay(ctx, m.Float("maxTime"))
	m.line.DelayTime().SetValue(math.Min(m.Float("time"), m.Float("maxTime")))
	m.fb = audio.NewGain(ctx, m.Float("feedback"))
	dry, wet := EqualPowerGains(m.Float("mix"))
	m.dry = audio.NewGain(ctx, dry)
	m.wet = audio.NewGain(ctx, wet)

	edges := [][2]audio.Endpoint{
		{audio.Out(m.input, 0), audio.In(m.dry, 0)},
		{audio.Out(m.dry, 0), audio.In(m.output, 0)},
		{audio.Out(m.input, 0), audio.In(m.line, 0)},
		{audio.Out(m.line, 0), audio.In(m.wet, 0)},
		{audio.Out(m.wet, 0), audio.In(m.output, 0)},
		{audio.Out(m.line, 0), audio.In(m.fb, 0)},
		{audio.Out(m.fb, 0), audio.In(m.line, 0)},
	}
	for _, e := range edges {
		if err := audio.Connect(e[0], e[1]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Delay) applyMix(mix float64) {
	dry, wet := EqualPowerGains(mix)
	m.dry.Gain().SetValue(dry)
	m.wet.Gain().SetValue(wet)
}

func (m *Delay) resize() {
	if !m.IsReady() {
		return
	}
	if m.Float("time") > m.Float("maxTime") {
		if _, err := m.Host().UpdateModuleProps(m.ID(), module.Props{"time": m.Float("maxTime")}); err != nil {
			m.Log().WithError(err).Warn("clamp delay time")
		}
	}
	if err := m.RePlugAll(m.build); err != nil {
		m.Log().WithError(err).Error("rebuild delay line")
	}
}

// teardown breaks the feedback loop so the old graph can be collected.
func (m *Delay) teardown() {
	if m.fb == nil {
		return
	}
	if err := audio.Disconnect(audio.Out(m.fb, 0), audio.In(m.line, 0)); err != nil {
		m.Log().WithError(err).Debug("disconnect feedback")
	}
}

// DryWet returns the current dry and wet gain values.
func (m *Delay) DryWet() (dry, wet float64) {
	return m.dry.Gain().Value(), m.wet.Gain().Value()
}
