package export

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/modules"
	"github.com/james-see/patchbay/pkg/transport"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// maxImportSteps bounds the pattern length inferred from a file.
const maxImportSteps = 256

// Pattern is a step sequencer's pattern together with the timing it plays at.
type Pattern struct {
	Name          string
	Steps         []modules.Step
	Division      string
	Gate          float64
	Channel       uint8
	BPM           float64
	TimeSignature transport.TimeSignature
}

// PatternOf snapshots what seq plays at the transport's tempo.
func PatternOf(seq *modules.StepSequencer, tr *transport.Transport) Pattern {
	return Pattern{
		Name:          seq.Name(),
		Steps:         seq.Steps(),
		Division:      seq.Str("division"),
		Gate:          seq.Float("gate"),
		Channel:       uint8(seq.Float("channel")),
		BPM:           tr.BPM(),
		TimeSignature: tr.TimeSignature(),
	}
}

// Props returns the sequencer props that reproduce p.
func (p Pattern) Props() module.Props {
	return module.Props{
		"steps":    p.Steps,
		"division": p.Division,
		"gate":     p.Gate,
		"channel":  float64(p.Channel),
	}
}

// MIDIConverter reads and writes patterns as Standard MIDI Files.
type MIDIConverter struct {
	ticksPerQuarter uint16
}

// NewMIDIConverter creates a converter writing 480 ticks per quarter note.
func NewMIDIConverter() *MIDIConverter {
	return &MIDIConverter{ticksPerQuarter: 480}
}

// stepTicks converts a note division to file ticks.
func (m *MIDIConverter) stepTicks(division string) (uint32, error) {
	div, err := transport.DivisionTicks(division)
	if err != nil {
		return 0, err
	}
	return uint32(div) * uint32(m.ticksPerQuarter) / transport.TicksPerBeat, nil
}

// GenerateMIDI encodes one pass of the pattern as a single-track SMF. The
// track is padded to the full pattern length so the file loops cleanly.
func (m *MIDIConverter) GenerateMIDI(p Pattern) ([]byte, error) {
	if len(p.Steps) == 0 {
		return nil, errors.New("empty pattern")
	}
	if p.BPM <= 0 {
		p.BPM = transport.DefaultBPM
	}
	if p.Division == "" {
		p.Division = "1/16"
	}
	if p.TimeSignature == (transport.TimeSignature{}) {
		p.TimeSignature = transport.TimeSignature{4, 4}
	}
	step, err := m.stepTicks(p.Division)
	if err != nil {
		return nil, err
	}
	length := uint32(math.Round(float64(step) * p.Gate))
	length = max(1, min(length, step))

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(m.ticksPerQuarter)

	var track smf.Track
	if p.Name != "" {
		track.Add(0, smf.MetaTrackSequenceName(p.Name))
	}
	track.Add(0, smf.MetaTempo(p.BPM))
	track.Add(0, smf.MetaMeter(uint8(p.TimeSignature[0]), uint8(p.TimeSignature[1])))

	var current uint32
	for i, st := range p.Steps {
		if !st.Active {
			continue
		}
		velocity := st.Velocity
		if velocity == 0 {
			velocity = 100
		}
		at := uint32(i) * step
		track.Add(at-current, midi.NoteOn(p.Channel, st.Note, velocity))
		track.Add(length, midi.NoteOff(p.Channel, st.Note))
		current = at + length
	}

	total := uint32(len(p.Steps)) * step
	if current < total {
		track.Add(total-current, smf.Message([]byte{0xFF, 0x06, 0x00}))
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteMIDIFile writes the pattern to filename.
func (m *MIDIConverter) WriteMIDIFile(p Pattern, filename string) error {
	data, err := m.GenerateMIDI(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ParseMIDIFile reads a pattern from filename.
func (m *MIDIConverter) ParseMIDIFile(filename, division string) (Pattern, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return m.ParseMIDI(data, division)
}

type noteSpan struct {
	start, end int64
	note, vel  uint8
	channel    uint8
	open       bool
}

// ParseMIDI quantizes the notes of every track onto a grid of division
// steps. The pattern length follows the longest track; notes beyond it
// wrap. Gate is the mean note length relative to a step.
func (m *MIDIConverter) ParseMIDI(data []byte, division string) (Pattern, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	resolution := m.ticksPerQuarter
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		resolution = mt.Resolution()
	}
	if division == "" {
		division = "1/16"
	}
	div, err := transport.DivisionTicks(division)
	if err != nil {
		return Pattern{}, err
	}
	step := int64(div) * int64(resolution) / transport.TicksPerBeat
	if step <= 0 {
		return Pattern{}, fmt.Errorf("resolution %d too coarse for %s steps", resolution, division)
	}

	p := Pattern{
		Name:          "MIDI Pattern",
		Division:      division,
		Gate:          0.5,
		BPM:           transport.DefaultBPM,
		TimeSignature: transport.TimeSignature{4, 4},
	}

	var (
		spans []noteSpan
		end   int64
	)
	for _, track := range s.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message
			var name string
			switch {
			case msg.GetMetaTempo(&p.BPM):
			case msg.GetMetaTrackName(&name) && name != "":
				p.Name = name
			case len(msg) >= 5 && msg[0] == 0xFF && msg[1] == 0x58 && msg[2] == 0x04:
				p.TimeSignature = transport.TimeSignature{int(msg[3]), 1 << msg[4]}
			}

			var ch, key, vel uint8
			cm := midi.Message(msg)
			switch {
			case cm.GetNoteStart(&ch, &key, &vel):
				spans = append(spans, noteSpan{start: tick, note: key, vel: vel, channel: ch, open: true})
			case cm.GetNoteEnd(&ch, &key):
				for i := len(spans) - 1; i >= 0; i-- {
					if spans[i].open && spans[i].note == key && spans[i].channel == ch {
						spans[i].end, spans[i].open = tick, false
						break
					}
				}
			}
		}
		end = max(end, tick)
	}

	n := int((end + step - 1) / step)
	n = max(1, min(n, maxImportSteps))
	p.Steps = make([]modules.Step, n)

	var gateSum float64
	for i, sp := range spans {
		idx := int((sp.start+step/2)/step) % n
		p.Steps[idx] = modules.Step{Note: sp.note, Velocity: sp.vel, Active: true}
		if i == 0 {
			p.Channel = sp.channel
		}
		if sp.open {
			sp.end = end
		}
		gateSum += float64(sp.end-sp.start) / float64(step)
	}
	if len(spans) > 0 {
		p.Gate = math.Max(0.05, math.Min(1, gateSum/float64(len(spans))))
	}
	return p, nil
}
