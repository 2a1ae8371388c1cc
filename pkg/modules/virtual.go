package modules

import (
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
)

var virtualSchema = module.Schema{
	"channel": {Kind: module.Number, Min: 0, Max: 15, Step: 1, Default: 0.0, Label: "Channel"},
}

// VirtualMidi is a software keyboard. Notes played on it are stamped with
// the current context time and sent out of its midi output.
type VirtualMidi struct {
	*module.Base
}

// NewVirtualMidi creates a virtual keyboard module.
func NewVirtualMidi(host module.Host, cfg module.Config) (module.Module, error) {
	base, err := module.NewBase(host, TypeVirtualMidi, cfg, module.Options{Schema: virtualSchema})
	if err != nil {
		return nil, err
	}
	m := &VirtualMidi{Base: base}
	m.RegisterMidiOutput("midi out")
	return m, nil
}

func (m *VirtualMidi) channel() uint8 { return uint8(m.Float("channel")) }

// NoteOn plays note now.
func (m *VirtualMidi) NoteOn(note, velocity uint8) {
	m.EmitMidi("midi out", midi.NewNoteOn(m.channel(), note, velocity, m.Context().CurrentTime()))
}

// NoteOff releases note now.
func (m *VirtualMidi) NoteOff(note uint8) {
	m.EmitMidi("midi out", midi.NewNoteOff(m.channel(), note, m.Context().CurrentTime()))
}

// ControlChange sends a controller value now.
func (m *VirtualMidi) ControlChange(controller, value uint8) {
	m.EmitMidi("midi out", midi.NewControlChange(m.channel(), controller, value, m.Context().CurrentTime()))
}
