package modules

import (
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/module"
)

var filterSchema = module.Schema{
	"type":   {Kind: module.Enum, Options: []string{string(audio.Lowpass), string(audio.Highpass), string(audio.Bandpass)}, Default: string(audio.Lowpass), Label: "Type"},
	"cutoff": {Kind: module.Number, Min: 20, Max: 20000, Step: 1, Default: 1000.0, Label: "Cutoff"},
	"Q":      {Kind: module.Number, Min: 0.1, Max: 30, Step: 0.1, Default: 1.0, Label: "Resonance"},
}

// Filter is a poly bank of biquad filters.
type Filter struct {
	*module.Poly
}

// NewFilter creates a filter module.
func NewFilter(host module.Host, cfg module.Config) (module.Module, error) {
	p, err := module.NewPoly(host, TypeFilter, cfg, filterSchema, newFilterVoice)
	if err != nil {
		return nil, err
	}
	p.RegisterDefaultIOs()
	p.RegisterVoiceParamInput("cutoff")
	return &Filter{Poly: p}, nil
}

type filterVoice struct {
	*module.Base
	node *audio.BiquadFilter
}

func newFilterVoice(host module.Host, cfg module.Config) (module.Module, error) {
	v := &filterVoice{}
	base, err := module.NewBase(host, TypeFilter, cfg, module.Options{
		Schema: filterSchema,
		Hooks: module.Hooks{
			"type":   {OnAfterSet: func(t any) { v.node.SetType(audio.FilterType(t.(string))) }},
			"cutoff": {OnAfterSet: func(f any) { v.node.Frequency().SetValue(f.(float64)) }},
			"Q":      {OnAfterSet: func(q any) { v.node.Q().SetValue(q.(float64)) }},
		},
		Build: func() error {
			v.node = audio.NewBiquadFilter(v.Context(), audio.FilterType(v.Str("type")), v.Float("cutoff"), v.Float("Q"))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	v.Base = base
	v.RegisterDefaultIOs(func() audio.Node {
		if v.node == nil {
			return nil
		}
		return v.node
	})
	v.RegisterParamInput("cutoff", paramEndpoints(func() *audio.Param {
		if v.node == nil {
			return nil
		}
		return v.node.Frequency()
	}))
	return v, nil
}
