package module

import (
	"fmt"
	"maps"
	"sync"

	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
)

// DefaultVoices is the voice count of a new poly module.
const DefaultVoices = 8

// MaxVoices bounds the voices prop.
const MaxVoices = 32

// VoiceFactory builds one mono voice. The voice host reports the parent's
// routes, so a voice rebuilding its primitive re-plugs the poly's edges.
type VoiceFactory func(host Host, cfg Config) (Module, error)

// Poly is a bank of mono voices sharing one prop schema. Poly-level props are
// forwarded to every voice; the "voices" prop sets the bank size.
type Poly struct {
	*Base

	voiceSchema Schema
	factory     VoiceFactory
	alloc       *VoiceAllocator

	vmu    sync.RWMutex
	voices []Module
}

type voiceHost struct {
	Host
	parent string
}

func (h voiceHost) RoutesFor(string) []Route { return h.Host.RoutesFor(h.parent) }

// NewPoly creates the poly module and its voices. Voices are activated with
// the poly.
func NewPoly(host Host, typ string, cfg Config, voiceSchema Schema, factory VoiceFactory) (*Poly, error) {
	p := &Poly{voiceSchema: voiceSchema, factory: factory}

	schema := maps.Clone(voiceSchema)
	schema["voices"] = PropSchema{Kind: Number, Min: 1, Max: MaxVoices, Step: 1, Default: float64(DefaultVoices), Label: "Voices"}

	hooks := make(Hooks, len(schema))
	for key := range voiceSchema {
		key := key
		hooks[key] = Hook{OnAfterSet: func(v any) { p.forward(key, v) }}
	}
	hooks["voices"] = Hook{
		OnSet:      func(v any) any { return float64(int(v.(float64))) },
		OnAfterSet: func(v any) { p.resize(int(v.(float64))) },
	}

	base, err := NewBase(host, typ, cfg, Options{
		Schema:   schema,
		Hooks:    hooks,
		Build:    p.activateVoices,
		Teardown: p.disposeVoices,
	})
	if err != nil {
		return nil, err
	}
	p.Base = base

	n := int(base.Float("voices"))
	p.alloc = NewVoiceAllocator(n)
	for i := 0; i < n; i++ {
		v, err := p.newVoice(i)
		if err != nil {
			return nil, err
		}
		p.voices = append(p.voices, v)
	}
	return p, nil
}

func (p *Poly) newVoice(i int) (Module, error) {
	props := maps.Clone(p.Props())
	delete(props, "voices")
	v, err := p.factory(voiceHost{Host: p.host, parent: p.id}, Config{
		ID:    fmt.Sprintf("%s/voice-%d", p.id, i),
		Name:  fmt.Sprintf("%s voice %d", p.Name(), i),
		Props: props,
	})
	if err != nil {
		return nil, fmt.Errorf("voice %d: %w", i, err)
	}
	return v, nil
}

// Voices returns the voice modules.
func (p *Poly) Voices() []Module {
	p.vmu.RLock()
	defer p.vmu.RUnlock()
	out := make([]Module, len(p.voices))
	copy(out, p.voices)
	return out
}

// Voice returns voice i, or nil.
func (p *Poly) Voice(i int) Module {
	p.vmu.RLock()
	defer p.vmu.RUnlock()
	if i < 0 || i >= len(p.voices) {
		return nil
	}
	return p.voices[i]
}

// Allocator returns the note-to-voice allocator.
func (p *Poly) Allocator() *VoiceAllocator { return p.alloc }

func (p *Poly) activateVoices() error {
	for _, v := range p.Voices() {
		if err := v.Activate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poly) disposeVoices() {
	for _, v := range p.Voices() {
		v.Dispose()
	}
}

func (p *Poly) forward(key string, value any) {
	for _, v := range p.Voices() {
		if _, err := v.SetProps(Props{key: value}); err != nil {
			p.log.WithError(err).WithField("prop", key).Error("forward prop to voice")
		}
	}
}

func (p *Poly) resize(n int) {
	if n == len(p.Voices()) {
		return
	}
	if !p.IsReady() {
		if err := p.setVoiceCount(n, false); err != nil {
			p.log.WithError(err).Error("resize voices")
		}
		return
	}
	if err := p.RePlugAll(func() error { return p.setVoiceCount(n, true) }); err != nil {
		p.log.WithError(err).Error("resize voices")
	}
}

func (p *Poly) setVoiceCount(n int, activate bool) error {
	cur := p.Voices()
	switch {
	case n > len(cur):
		for i := len(cur); i < n; i++ {
			v, err := p.newVoice(i)
			if err != nil {
				return err
			}
			if activate {
				if err := v.Activate(); err != nil {
					return err
				}
			}
			cur = append(cur, v)
		}
	case n < len(cur):
		for _, v := range cur[n:] {
			v.Dispose()
		}
		cur = cur[:n]
	}
	p.vmu.Lock()
	p.voices = cur
	p.vmu.Unlock()
	p.alloc.Resize(n)
	return nil
}

func (p *Poly) voiceEndpoints(dir Direction, name string) func() []audio.Endpoint {
	return func() []audio.Endpoint {
		var eps []audio.Endpoint
		for _, v := range p.Voices() {
			if port, ok := v.Port(dir, name); ok {
				eps = append(eps, port.Endpoints()...)
			}
		}
		return eps
	}
}

// RegisterVoiceAudioInput exposes the voices' audio input name as one poly input.
func (p *Poly) RegisterVoiceAudioInput(name string) *Port {
	return p.RegisterAudioInput(name, p.voiceEndpoints(Input, name))
}

// RegisterVoiceParamInput exposes the voices' parameter input name as one poly input.
func (p *Poly) RegisterVoiceParamInput(name string) *Port {
	return p.RegisterParamInput(name, p.voiceEndpoints(Input, name))
}

// RegisterVoiceAudioOutput exposes the voices' audio output name; the
// destination sums the voices.
func (p *Poly) RegisterVoiceAudioOutput(name string) *Port {
	return p.RegisterAudioOutput(name, p.voiceEndpoints(Output, name))
}

// RegisterDefaultIOs exposes the voices' "in" and "out" ports.
func (p *Poly) RegisterDefaultIOs() {
	p.RegisterVoiceAudioInput("in")
	p.RegisterVoiceAudioOutput("out")
}

// RegisterNoteInput adds a midi input that allocates voices for notes.
func (p *Poly) RegisterNoteInput(name string) *Port {
	return p.RegisterMidiInput(name, p.HandleNote)
}

// HandleNote routes a note event to the allocated voice. A stolen voice
// receives a release for its old note at the same instant as the new attack.
func (p *Poly) HandleNote(e midi.Event) {
	switch e.Type {
	case midi.NoteOn:
		a := p.alloc.NoteOn(e.Note, e.Time)
		h, ok := p.Voice(a.Voice).(NoteHandler)
		if !ok {
			return
		}
		if a.Stolen {
			h.TriggerRelease(a.StolenNote, e.Time)
		}
		h.TriggerAttack(e.Note, e.Velocity, e.Time)
	case midi.NoteOff:
		i, ok := p.alloc.NoteOff(e.Note)
		if !ok {
			return
		}
		if h, ok := p.Voice(i).(NoteHandler); ok {
			h.TriggerRelease(e.Note, e.Time)
		}
	}
}

// Serialize includes every voice.
func (p *Poly) Serialize() Serialized {
	s := p.Base.Serialize()
	for _, v := range p.Voices() {
		s.Voices = append(s.Voices, v.Serialize())
	}
	return s
}
