// Package modules holds the concrete module types and the registry the
// engine creates them from.
package modules

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/james-see/patchbay/pkg/module"
)

var ErrUnknownModuleType = errors.New("unknown module type")

// Module type tags.
const (
	TypeMaster      = "master"
	TypeGain        = "gain"
	TypeOscillator  = "oscillator"
	TypeEnvelope    = "envelope"
	TypeFilter      = "filter"
	TypeDelay       = "delay"
	TypeLFO         = "lfo"
	TypeSequencer   = "stepSequencer"
	TypeMidiInput   = "midiInput"
	TypeMidiOutput  = "midiOutput"
	TypeMidiMapper  = "midiMapper"
	TypeVirtualMidi = "virtualMidi"
)

// Factory creates an unactivated module.
type Factory func(host module.Host, cfg module.Config) (module.Module, error)

// TypeInfo describes a registered module type.
type TypeInfo struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Poly        bool          `json:"poly"`
	Schema      module.Schema `json:"schema"`
}

type entry struct {
	info    TypeInfo
	factory Factory
}

// Registry maps module type tags to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces a module type.
func (r *Registry) Register(info TypeInfo, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Type] = entry{info: info, factory: f}
}

// Create builds a module of type typ. The module still has to be activated.
func (r *Registry) Create(host module.Host, typ string, cfg module.Config) (module.Module, error) {
	r.mu.RLock()
	e, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", typ, ErrUnknownModuleType)
	}
	return e.factory(host, cfg)
}

// Types lists the registered types sorted by tag.
func (r *Registry) Types() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Default returns a registry holding every built-in module type.
func Default() *Registry {
	r := NewRegistry()
	r.Register(TypeInfo{Type: TypeMaster, Description: "Output to the audio device", Schema: masterSchema}, NewMaster)
	r.Register(TypeInfo{Type: TypeGain, Description: "Amplifier", Schema: gainSchema}, NewGain)
	r.Register(TypeInfo{Type: TypeOscillator, Description: "Polyphonic oscillator", Poly: true, Schema: oscillatorSchema}, NewOscillator)
	r.Register(TypeInfo{Type: TypeEnvelope, Description: "Polyphonic ADSR amplifier", Poly: true, Schema: envelopeSchema}, NewEnvelope)
	r.Register(TypeInfo{Type: TypeFilter, Description: "Polyphonic biquad filter", Poly: true, Schema: filterSchema}, NewFilter)
	r.Register(TypeInfo{Type: TypeDelay, Description: "Feedback delay with equal-power mix", Schema: delaySchema}, NewDelay)
	r.Register(TypeInfo{Type: TypeLFO, Description: "Tempo-syncable low frequency oscillator", Schema: lfoSchema}, NewLFO)
	r.Register(TypeInfo{Type: TypeSequencer, Description: "Transport-driven step sequencer", Schema: sequencerSchema}, NewStepSequencer)
	r.Register(TypeInfo{Type: TypeMidiInput, Description: "Hardware MIDI input", Schema: deviceSchema}, NewMidiInput)
	r.Register(TypeInfo{Type: TypeMidiOutput, Description: "Hardware MIDI output", Schema: deviceSchema}, NewMidiOutput)
	r.Register(TypeInfo{Type: TypeMidiMapper, Description: "CC to property mapper with controller feedback", Schema: mapperSchema}, NewMidiMapper)
	r.Register(TypeInfo{Type: TypeVirtualMidi, Description: "Software keyboard", Schema: virtualSchema}, NewVirtualMidi)
	return r
}
