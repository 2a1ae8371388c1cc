// Package transport implements the tempo clock that drives tick callbacks
// against the audio context's sample clock.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TicksPerBeat is the fixed subdivision of one quarter note.
const TicksPerBeat = 96

const (
	DefaultBPM       = 120.0
	DefaultLookahead = 100 * time.Millisecond
	DefaultInterval  = 25 * time.Millisecond
)

var (
	ErrInvalidBPM       = errors.New("bpm must be positive")
	ErrInvalidDivision  = errors.New("invalid note division")
	ErrInvalidSignature = errors.New("invalid time signature")
)

// State is the transport play state.
type State string

const (
	Stopped State = "stopped"
	Playing State = "playing"
	Paused  State = "paused"
)

// Clock reports monotonic time in seconds. *audio.Context satisfies it.
type Clock interface {
	CurrentTime() float64
}

// TimeSignature is beats per bar over the beat note value, e.g. {4, 4}.
type TimeSignature [2]int

// Tick is one scheduled clock pulse. Time is in clock seconds and is
// usually slightly ahead of the clock's current time.
type Tick struct {
	Index int64
	Time  float64
}

// Beat reports whether the tick falls on a quarter-note boundary.
func (t Tick) Beat() bool { return t.Index%TicksPerBeat == 0 }

// Callback receives ticks while the transport is playing.
// It runs on the scheduler goroutine and must not block.
type Callback func(Tick)

// StateListener is notified after every state transition.
type StateListener func(state State, at float64)

// Options configures a Transport. Zero fields take defaults.
type Options struct {
	BPM           float64
	TimeSignature TimeSignature
	Lookahead     time.Duration
	Interval      time.Duration
	Logger        logrus.FieldLogger
}

type callbackEntry struct {
	id int
	fn Callback
}

type listenerEntry struct {
	id int
	fn StateListener
}

// Transport schedules ticks ahead of the clock and dispatches them to callbacks.
type Transport struct {
	mu    sync.Mutex
	clock Clock
	log   logrus.FieldLogger

	state State
	bpm   float64
	sig   TimeSignature

	// the next tick to emit is tick; its time is anchorTime plus
	// (tick-anchorTick) ticks at the current tempo
	tick       int64
	anchorTick int64
	anchorTime float64

	lookahead time.Duration
	interval  time.Duration

	nextID    int
	callbacks []callbackEntry
	listeners []listenerEntry
}

// New creates a stopped transport reading time from clock.
func New(clock Clock, opts Options) *Transport {
	if opts.BPM <= 0 {
		opts.BPM = DefaultBPM
	}
	if opts.TimeSignature.Validate() != nil {
		opts.TimeSignature = TimeSignature{4, 4}
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Transport{
		clock:     clock,
		log:       opts.Logger.WithField("component", "transport"),
		state:     Stopped,
		bpm:       opts.BPM,
		sig:       opts.TimeSignature,
		lookahead: opts.Lookahead,
		interval:  opts.Interval,
	}
}

// SecondsPerTick converts a tempo to tick duration.
func SecondsPerTick(bpm float64) float64 {
	return (60 / bpm) / TicksPerBeat
}

// State returns the current play state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// BPM returns the current tempo.
func (t *Transport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

// SetBPM changes the tempo. The next tick keeps its scheduled time; the
// spacing of every tick after it follows the new tempo.
func (t *Transport) SetBPM(bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("set bpm %v: %w", bpm, ErrInvalidBPM)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchorTime = t.nextTimeLocked()
	t.anchorTick = t.tick
	t.bpm = bpm
	return nil
}

// TimeSignature returns the current time signature.
func (t *Transport) TimeSignature() TimeSignature {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig
}

// Validate reports ErrInvalidSignature unless the numerator is positive and
// the denominator is a power of two that divides a whole note into ticks.
func (sig TimeSignature) Validate() error {
	d := sig[1]
	if sig[0] <= 0 || d <= 0 || d&(d-1) != 0 || (TicksPerBeat*4)%d != 0 {
		return fmt.Errorf("%d/%d: %w", sig[0], sig[1], ErrInvalidSignature)
	}
	return nil
}

// SetTimeSignature changes the time signature used for bar positions.
func (t *Transport) SetTimeSignature(sig TimeSignature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sig = sig
	return nil
}

// Position returns the index of the next tick to be emitted.
func (t *Transport) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tick
}

// BarBeat converts a tick index into a 1-based bar and beat under the current
// time signature.
func (t *Transport) BarBeat(tick int64) (bar, beat int) {
	t.mu.Lock()
	sig := t.sig
	t.mu.Unlock()
	ticksPerSigBeat := int64(TicksPerBeat * 4 / sig[1])
	beats := tick / ticksPerSigBeat
	return int(beats/int64(sig[0])) + 1, int(beats%int64(sig[0])) + 1
}

// Start begins playback at clock time at. From Stopped the tick position
// starts at zero; from Paused it resumes where it left off.
func (t *Transport) Start(at float64) {
	t.mu.Lock()
	if t.state == Playing {
		t.mu.Unlock()
		return
	}
	if t.state == Stopped {
		t.tick = 0
	}
	t.anchorTick = t.tick
	t.anchorTime = at
	t.state = Playing
	t.mu.Unlock()
	t.notify(Playing, at)
}

// Stop halts playback and resets the tick position.
func (t *Transport) Stop(at float64) {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return
	}
	t.state = Stopped
	t.tick = 0
	t.mu.Unlock()
	t.notify(Stopped, at)
}

// Pause halts playback and keeps the tick position. Pausing a transport
// that is not playing does nothing.
func (t *Transport) Pause(at float64) {
	t.mu.Lock()
	if t.state != Playing {
		t.mu.Unlock()
		return
	}
	t.state = Paused
	t.mu.Unlock()
	t.notify(Paused, at)
}

// AddClockCallback registers fn for every tick and returns a function removing it.
func (t *Transport) AddClockCallback(fn Callback) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.callbacks = append(t.callbacks, callbackEntry{id: id, fn: fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, c := range t.callbacks {
			if c.id == id {
				t.callbacks = append(t.callbacks[:i:i], t.callbacks[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn for state transitions and returns a function removing it.
func (t *Transport) OnStateChange(fn StateListener) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

func (t *Transport) notify(s State, at float64) {
	t.log.WithField("at", at).Debugf("transport %s", s)
	t.mu.Lock()
	ls := make([]listenerEntry, len(t.listeners))
	copy(ls, t.listeners)
	t.mu.Unlock()
	for _, l := range ls {
		l.fn(s, at)
	}
}

func (t *Transport) nextTimeLocked() float64 {
	return t.anchorTime + float64(t.tick-t.anchorTick)*SecondsPerTick(t.bpm)
}

// Advance emits every tick scheduled before clock time until. Callbacks run
// without the transport lock held, so they may change tempo or state; such
// changes apply from the following tick.
func (t *Transport) Advance(until float64) int {
	n := 0
	for {
		t.mu.Lock()
		if t.state != Playing {
			t.mu.Unlock()
			return n
		}
		at := t.nextTimeLocked()
		if at >= until {
			t.mu.Unlock()
			return n
		}
		tick := Tick{Index: t.tick, Time: at}
		t.tick++
		cbs := make([]callbackEntry, len(t.callbacks))
		copy(cbs, t.callbacks)
		t.mu.Unlock()

		for _, c := range cbs {
			c.fn(tick)
		}
		n++
	}
}

// Run drives Advance from a wall-clock ticker, keeping ticks scheduled one
// lookahead window ahead of the clock. It returns when ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		t.Advance(t.clock.CurrentTime() + t.lookahead.Seconds())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DivisionTicks parses a note division such as "1/4", "1/16", "1/8t"
// (triplet) or "1/8d" (dotted) into a tick count.
func DivisionTicks(div string) (int64, error) {
	s := strings.TrimSpace(strings.ToLower(div))
	mul, den := int64(1), int64(1)
	switch {
	case strings.HasSuffix(s, "t"):
		mul, den = 2, 3
		s = strings.TrimSuffix(s, "t")
	case strings.HasSuffix(s, "d"):
		mul, den = 3, 2
		s = strings.TrimSuffix(s, "d")
	}
	num, value, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("%q: %w", div, ErrInvalidDivision)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q: %w", div, ErrInvalidDivision)
	}
	d, err := strconv.Atoi(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%q: %w", div, ErrInvalidDivision)
	}
	whole := int64(TicksPerBeat*4) * int64(n) * mul
	if whole%(int64(d)*den) != 0 {
		return 0, fmt.Errorf("%q is finer than the tick resolution: %w", div, ErrInvalidDivision)
	}
	return whole / (int64(d) * den), nil
}

// DivisionSeconds returns the duration of div at bpm.
func DivisionSeconds(div string, bpm float64) (float64, error) {
	ticks, err := DivisionTicks(div)
	if err != nil {
		return 0, err
	}
	if bpm <= 0 {
		return 0, ErrInvalidBPM
	}
	return float64(ticks) * SecondsPerTick(bpm), nil
}
