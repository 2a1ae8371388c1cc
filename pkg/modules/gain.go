package modules

import (
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/module"
)

var gainSchema = module.Schema{
	"gain": {Kind: module.Number, Min: 0, Max: 10, Step: 0.01, Default: 1.0, Label: "Gain"},
}

// Gain is a mono amplifier whose gain can also be modulated at audio rate.
type Gain struct {
	*module.Base
	node *audio.Gain
}

// NewGain creates a gain module.
func NewGain(host module.Host, cfg module.Config) (module.Module, error) {
	m := &Gain{}
	base, err := module.NewBase(host, TypeGain, cfg, module.Options{
		Schema: gainSchema,
		Hooks: module.Hooks{
			"gain": {OnAfterSet: func(v any) { m.node.Gain().SetValue(v.(float64)) }},
		},
		Build: func() error {
			m.node = audio.NewGain(m.Context(), m.Float("gain"))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterDefaultIOs(m.primitive)
	m.RegisterParamInput("gain", paramEndpoints(func() *audio.Param {
		if m.node == nil {
			return nil
		}
		return m.node.Gain()
	}))
	return m, nil
}

func (m *Gain) primitive() audio.Node {
	if m.node == nil {
		return nil
	}
	return m.node
}

// paramEndpoints adapts a parameter getter to a port endpoint function.
func paramEndpoints(get func() *audio.Param) func() []audio.Endpoint {
	return func() []audio.Endpoint {
		if p := get(); p != nil {
			return []audio.Endpoint{audio.ParamEndpoint(p)}
		}
		return nil
	}
}
