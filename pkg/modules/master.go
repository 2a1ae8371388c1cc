package modules

import (
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/module"
)

var masterSchema = module.Schema{
	"volume": {Kind: module.Number, Min: 0, Max: 1, Step: 0.01, Default: 0.8, Label: "Volume"},
	"mute":   {Kind: module.Boolean, Default: false, Label: "Mute"},
}

// Master feeds the audio context destination.
type Master struct {
	*module.Base
	node *audio.Gain
}

// NewMaster creates a master output module.
func NewMaster(host module.Host, cfg module.Config) (module.Module, error) {
	m := &Master{}
	base, err := module.NewBase(host, TypeMaster, cfg, module.Options{
		Schema: masterSchema,
		Hooks: module.Hooks{
			"volume": {OnAfterSet: func(any) { m.apply() }},
			"mute":   {OnAfterSet: func(any) { m.apply() }},
		},
		Build:    m.build,
		Teardown: m.teardown,
	})
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterAudioInput("in", func() []audio.Endpoint {
		if m.node == nil {
			return nil
		}
		return []audio.Endpoint{audio.In(m.node, 0)}
	})
	return m, nil
}

func (m *Master) build() error {
	ctx := m.Context()
	m.node = audio.NewGain(ctx, 0)
	return audio.Connect(audio.Out(m.node, 0), audio.In(ctx.Destination(), 0))
}

func (m *Master) apply() {
	v := m.Float("volume")
	if m.Bool("mute") {
		v = 0
	}
	m.node.Gain().SetValue(v)
}

func (m *Master) teardown() {
	if m.node == nil {
		return
	}
	if err := audio.Disconnect(audio.Out(m.node, 0), audio.In(m.Context().Destination(), 0)); err != nil {
		m.Log().WithError(err).Debug("disconnect master")
	}
}
