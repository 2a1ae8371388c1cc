package modules

import (
	"sync"

	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/transport"
)

// Step is one sequencer step.
type Step struct {
	Note     uint8 `json:"note"`
	Velocity uint8 `json:"velocity"`
	Active   bool  `json:"active"`
}

// DefaultSteps is a 16-step pattern with C4 on every quarter note.
func DefaultSteps() []Step {
	steps := make([]Step, 16)
	for i := range steps {
		steps[i] = Step{Note: 60, Velocity: 100, Active: i%4 == 0}
	}
	return steps
}

var sequencerSchema = module.Schema{
	"steps":    {Kind: module.Array, Default: DefaultSteps(), Decode: module.DecodeJSON[[]Step], Label: "Steps"},
	"division": {Kind: module.Enum, Options: divisions, Default: "1/16", Label: "Division"},
	"gate":     {Kind: module.Number, Min: 0.05, Max: 1, Step: 0.01, Default: 0.5, Label: "Gate"},
	"channel":  {Kind: module.Number, Min: 0, Max: 15, Step: 1, Default: 0.0, Label: "Channel"},
}

// StepSequencer emits notes on its midi output from transport ticks. Each
// note-off is emitted together with its note-on, stamped gate divisions later.
type StepSequencer struct {
	*module.Base

	mu     sync.Mutex
	remove []func()
	// sounding is the note whose note-off is still in the future
	sounding   *midi.Event
	lastOffset int
}

// NewStepSequencer creates a step sequencer module.
func NewStepSequencer(host module.Host, cfg module.Config) (module.Module, error) {
	m := &StepSequencer{lastOffset: -1}
	base, err := module.NewBase(host, TypeSequencer, cfg, module.Options{
		Schema:   sequencerSchema,
		Build:    m.build,
		Teardown: m.teardown,
	})
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterMidiOutput("midi out")
	return m, nil
}

func (m *StepSequencer) build() error {
	tr := m.Host().Transport()
	m.mu.Lock()
	m.remove = append(m.remove, tr.AddClockCallback(m.onTick), tr.OnStateChange(m.onState))
	m.mu.Unlock()
	return nil
}

// Steps returns the current pattern.
func (m *StepSequencer) Steps() []Step {
	steps, _ := m.Prop("steps").([]Step)
	return steps
}

// CurrentStep returns the index of the last step played, or -1.
func (m *StepSequencer) CurrentStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOffset
}

func (m *StepSequencer) onTick(tick transport.Tick) {
	steps := m.Steps()
	if len(steps) == 0 {
		return
	}
	div, err := transport.DivisionTicks(m.Str("division"))
	if err != nil || tick.Index%div != 0 {
		return
	}
	i := int(tick.Index/div) % len(steps)
	m.mu.Lock()
	m.lastOffset = i
	m.mu.Unlock()

	s := steps[i]
	if !s.Active {
		return
	}
	ch := uint8(m.Float("channel"))
	length := float64(div) * transport.SecondsPerTick(m.Host().Transport().BPM()) * m.Float("gate")
	on := midi.NewNoteOn(ch, s.Note, s.Velocity, tick.Time)
	off := midi.NewNoteOff(ch, s.Note, tick.Time+length)

	m.mu.Lock()
	m.sounding = &off
	m.mu.Unlock()
	m.EmitMidi("midi out", on)
	m.EmitMidi("midi out", off)
}

// onState silences a pending note when the transport stops or pauses.
func (m *StepSequencer) onState(state transport.State, at float64) {
	if state == transport.Playing {
		return
	}
	m.mu.Lock()
	pending := m.sounding
	m.sounding = nil
	if state == transport.Stopped {
		m.lastOffset = -1
	}
	m.mu.Unlock()
	if pending != nil && pending.Time > at {
		m.EmitMidi("midi out", pending.At(at))
	}
}

func (m *StepSequencer) teardown() {
	m.mu.Lock()
	remove := m.remove
	m.remove = nil
	m.mu.Unlock()
	for _, r := range remove {
		r()
	}
}
