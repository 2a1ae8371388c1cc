package modules

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
)

var ErrUnsupportedPropKind = errors.New("prop kind cannot be driven by a controller")

// DefaultThrottle bounds how often one CC number is applied.
const DefaultThrottle = 5 * time.Millisecond

// Mapping binds a CC number to a module prop. CC is nil until assigned;
// AutoAssign marks the slot as waiting for the next incoming CC. When two
// mappings share a CC the earlier one in the list wins.
type Mapping struct {
	CC         *int   `json:"cc"`
	ModuleID   string `json:"moduleId"`
	ModuleType string `json:"moduleType,omitempty"`
	PropName   string `json:"propName"`
	AutoAssign bool   `json:"autoAssign,omitempty"`
}

// Complete reports whether the mapping can be applied.
func (m Mapping) Complete() bool {
	return m.CC != nil && m.ModuleID != "" && m.PropName != ""
}

var mapperSchema = module.Schema{
	"mappings":            {Kind: module.Array, Default: []Mapping{}, Decode: module.DecodeJSON[[]Mapping], Label: "Mappings"},
	"feedbackChannel":     {Kind: module.Number, Min: 0, Max: 15, Step: 1, Default: 0.0, Label: "Feedback channel"},
	"transportFeedbackCC": {Kind: module.Number, Min: -1, Max: 127, Step: 1, Default: -1.0, Label: "Transport feedback CC"},
}

// ScaleCC converts a 0..127 controller value into a value of the prop's kind.
func ScaleCC(s module.PropSchema, value uint8) (any, error) {
	v := float64(min(value, 127))
	switch s.Kind {
	case module.Number:
		return s.Min + v/127*(s.Max-s.Min), nil
	case module.Enum:
		n := len(s.Options)
		if n == 0 {
			return nil, fmt.Errorf("enum without options: %w", ErrUnsupportedPropKind)
		}
		i := int(math.Floor(v / 127 * float64(n)))
		return s.Options[max(0, min(i, n-1))], nil
	case module.Boolean:
		return value >= 64, nil
	}
	return nil, fmt.Errorf("%s: %w", s.Kind, ErrUnsupportedPropKind)
}

// UnscaleCC is the inverse of ScaleCC, used to light controller feedback.
func UnscaleCC(s module.PropSchema, v any) (uint8, bool) {
	switch s.Kind {
	case module.Number:
		f, ok := v.(float64)
		if !ok || s.Max == s.Min {
			return 0, false
		}
		return uint8(math.Round(max(0, min(1, (f-s.Min)/(s.Max-s.Min))) * 127)), true
	case module.Enum:
		str, _ := v.(string)
		for i, o := range s.Options {
			if o == str {
				// centre of the option's bucket so ScaleCC maps it back
				return uint8(min(127, math.Floor((float64(i)+0.5)*127/float64(len(s.Options))))), true
			}
		}
	case module.Boolean:
		if b, _ := v.(bool); b {
			return 127, true
		}
		return 0, true
	}
	return 0, false
}

// MidiMapper writes incoming controller values into module props and echoes
// the committed values back to the controller.
type MidiMapper struct {
	*module.Base

	// Throttle is the per-CC rate limit. Zero applies every event.
	Throttle time.Duration

	mu      sync.Mutex
	pending map[uint8]*ccSlot
	remove  func()
}

type ccSlot struct {
	latest  midi.Event
	waiting bool
	timer   *time.Timer
}

// NewMidiMapper creates a midi mapper module.
func NewMidiMapper(host module.Host, cfg module.Config) (module.Module, error) {
	m := &MidiMapper{Throttle: DefaultThrottle, pending: make(map[uint8]*ccSlot)}
	base, err := module.NewBase(host, TypeMidiMapper, cfg, module.Options{
		Schema:   mapperSchema,
		Build:    m.build,
		Teardown: m.teardown,
	})
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterMidiInput("midi in", m.receive)
	m.RegisterMidiOutput("midi out")
	return m, nil
}

// Mappings returns the current mapping list.
func (m *MidiMapper) Mappings() []Mapping {
	ms, _ := m.Prop("mappings").([]Mapping)
	return ms
}

func (m *MidiMapper) build() error {
	remove := m.Host().Transport().OnStateChange(m.transportFeedback)
	m.mu.Lock()
	m.remove = remove
	m.mu.Unlock()
	return nil
}

func (m *MidiMapper) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remove != nil {
		m.remove()
		m.remove = nil
	}
	for cc, s := range m.pending {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(m.pending, cc)
	}
}

// receive throttles per CC number: the first event in a window is applied at
// once and the latest of the rest when the window closes.
func (m *MidiMapper) receive(e midi.Event) {
	if e.Type != midi.ControlChange {
		return
	}
	if m.Throttle <= 0 {
		m.apply(e)
		return
	}
	m.mu.Lock()
	s, ok := m.pending[e.Controller]
	if !ok {
		s = &ccSlot{}
		m.pending[e.Controller] = s
	}
	if s.timer != nil {
		s.latest, s.waiting = e, true
		m.mu.Unlock()
		return
	}
	s.timer = time.AfterFunc(m.Throttle, func() { m.flush(e.Controller) })
	m.mu.Unlock()
	m.apply(e)
}

func (m *MidiMapper) flush(cc uint8) {
	m.mu.Lock()
	s, ok := m.pending[cc]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, cc)
	latest, waiting := s.latest, s.waiting
	m.mu.Unlock()
	if waiting {
		m.apply(latest)
	}
}

func (m *MidiMapper) apply(e midi.Event) {
	if err := m.HandleCC(e); err != nil {
		m.Log().WithError(err).WithFields(logrus.Fields{"cc": e.Controller, "value": e.Value}).Error("midi mapping failed")
	}
}

// HandleCC applies one controller event without throttling. A mapping slot
// in learn mode is bound to the event's CC first. Only the first mapping
// bound to the CC is applied; an incomplete one swallows the event.
func (m *MidiMapper) HandleCC(e midi.Event) error {
	for _, mp := range m.learn(e.Controller) {
		if mp.CC == nil || *mp.CC != int(e.Controller) {
			continue
		}
		if !mp.Complete() {
			return nil
		}
		return m.write(mp, e.Value)
	}
	return nil
}

// learn binds the first slot waiting for a CC and returns the resulting list.
func (m *MidiMapper) learn(cc uint8) []Mapping {
	mappings := m.Mappings()
	for i, mp := range mappings {
		if !mp.AutoAssign {
			continue
		}
		next := make([]Mapping, len(mappings))
		copy(next, mappings)
		n := int(cc)
		next[i].CC, next[i].AutoAssign = &n, false
		if _, err := m.Host().UpdateModuleProps(m.ID(), module.Props{"mappings": next}); err != nil {
			m.Log().WithError(err).Warn("store learned mapping")
			return mappings
		}
		m.Log().WithFields(logrus.Fields{"cc": cc, "target": mp.ModuleID, "prop": mp.PropName}).Info("midi learn")
		return next
	}
	return mappings
}

func (m *MidiMapper) write(mp Mapping, value uint8) error {
	target, err := m.Host().FindModule(mp.ModuleID)
	if err != nil {
		return fmt.Errorf("cc %d: %w", *mp.CC, err)
	}
	s, ok := target.Schema()[mp.PropName]
	if !ok {
		return fmt.Errorf("cc %d: %s has no prop %q: %w", *mp.CC, mp.ModuleID, mp.PropName, module.ErrInvalidProp)
	}
	v, err := ScaleCC(s, value)
	if err != nil {
		return fmt.Errorf("cc %d -> %s.%s: %w", *mp.CC, mp.ModuleID, mp.PropName, err)
	}
	props, err := m.Host().UpdateModuleProps(mp.ModuleID, module.Props{mp.PropName: v})
	if err != nil {
		return fmt.Errorf("cc %d -> %s.%s: %w", *mp.CC, mp.ModuleID, mp.PropName, err)
	}
	if fb, ok := UnscaleCC(s, props[mp.PropName]); ok {
		m.feedback(uint8(*mp.CC), fb)
	}
	return nil
}

func (m *MidiMapper) feedback(cc, value uint8) {
	ch := uint8(m.Float("feedbackChannel"))
	m.EmitMidi("midi out", midi.NewControlChange(ch, cc, value, m.Context().CurrentTime()))
}

func (m *MidiMapper) transportFeedback(state transport.State, at float64) {
	cc := int(m.Float("transportFeedbackCC"))
	if cc < 0 {
		return
	}
	var v uint8
	if state == transport.Playing {
		v = 127
	}
	ch := uint8(m.Float("feedbackChannel"))
	m.EmitMidi("midi out", midi.NewControlChange(ch, uint8(cc), v, at))
}
