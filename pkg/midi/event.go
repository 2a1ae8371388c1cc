// Package midi wraps gomidi ports as stable device handles, keeps the device
// map current across hot-plug, and reconciles device names that different
// platforms report differently.
package midi

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// EventType classifies the messages the engine routes.
type EventType string

const (
	NoteOn        EventType = "noteOn"
	NoteOff       EventType = "noteOff"
	ControlChange EventType = "controlChange"
	Other         EventType = "other"
)

// Event is a decoded channel message stamped with audio-context time.
type Event struct {
	Type       EventType `json:"type"`
	Channel    uint8     `json:"channel"`
	Note       uint8     `json:"note,omitempty"`
	Velocity   uint8     `json:"velocity,omitempty"`
	Controller uint8     `json:"controller,omitempty"`
	Value      uint8     `json:"value,omitempty"`
	Time       float64   `json:"time"`

	raw midi.Message
}

// Decode converts a wire message. A note-on with velocity zero is a note-off.
func Decode(msg midi.Message, at float64) Event {
	e := Event{Type: Other, Time: at, raw: msg}
	var ch, a, b uint8
	switch {
	case msg.GetNoteStart(&ch, &a, &b):
		e.Type, e.Channel, e.Note, e.Velocity = NoteOn, ch, a, b
	case msg.GetNoteEnd(&ch, &a):
		e.Type, e.Channel, e.Note = NoteOff, ch, a
	case msg.GetControlChange(&ch, &a, &b):
		e.Type, e.Channel, e.Controller, e.Value = ControlChange, ch, a, b
	}
	return e
}

// NewNoteOn builds a note-on event.
func NewNoteOn(channel, note, velocity uint8, at float64) Event {
	return Event{Type: NoteOn, Channel: channel, Note: note, Velocity: velocity, Time: at}
}

// NewNoteOff builds a note-off event.
func NewNoteOff(channel, note uint8, at float64) Event {
	return Event{Type: NoteOff, Channel: channel, Note: note, Time: at}
}

// NewControlChange builds a control-change event.
func NewControlChange(channel, controller, value uint8, at float64) Event {
	return Event{Type: ControlChange, Channel: channel, Controller: controller, Value: value, Time: at}
}

// Message encodes the event as a 3-byte channel message.
func (e Event) Message() (midi.Message, error) {
	switch e.Type {
	case NoteOn:
		return midi.NoteOn(e.Channel, e.Note, e.Velocity), nil
	case NoteOff:
		return midi.NoteOff(e.Channel, e.Note), nil
	case ControlChange:
		return midi.ControlChange(e.Channel, e.Controller, e.Value), nil
	}
	if e.raw != nil {
		return e.raw, nil
	}
	return nil, fmt.Errorf("cannot encode %s event", e.Type)
}

// At returns a copy of the event stamped with time t.
func (e Event) At(t float64) Event {
	e.Time = t
	return e
}

// Frequency returns the equal-tempered frequency of the event's note (A4 = 440 Hz).
func (e Event) Frequency() float64 {
	return NoteFrequency(e.Note)
}

func (e Event) String() string {
	switch e.Type {
	case NoteOn:
		return fmt.Sprintf("noteOn ch=%d note=%d vel=%d", e.Channel, e.Note, e.Velocity)
	case NoteOff:
		return fmt.Sprintf("noteOff ch=%d note=%d", e.Channel, e.Note)
	case ControlChange:
		return fmt.Sprintf("cc ch=%d cc=%d val=%d", e.Channel, e.Controller, e.Value)
	}
	return fmt.Sprintf("other % X", []byte(e.raw))
}
