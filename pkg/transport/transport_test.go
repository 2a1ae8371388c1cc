package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeClock struct {
	mu  sync.Mutex
	now float64
}

func (c *fakeClock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestTransport(bpm float64) (*Transport, *fakeClock) {
	logger, _ := test.NewNullLogger()
	clock := &fakeClock{}
	return New(clock, Options{BPM: bpm, Logger: logger}), clock
}

func TestSecondsPerTick(t *testing.T) {
	got := SecondsPerTick(120)
	want := 0.5 / 96
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("SecondsPerTick(120) = %v, want %v", got, want)
	}
}

func TestTicksOnlyWhilePlaying(t *testing.T) {
	tr, _ := newTestTransport(120)
	var ticks []Tick
	tr.AddClockCallback(func(tk Tick) { ticks = append(ticks, tk) })

	if n := tr.Advance(10); n != 0 {
		t.Fatalf("stopped transport emitted %d ticks", n)
	}

	tr.Start(0)
	if n := tr.Advance(0.501); n != 97 {
		t.Fatalf("Advance() emitted %d ticks, want 97", n)
	}
	if ticks[0].Index != 0 || ticks[0].Time != 0 {
		t.Errorf("first tick = %+v, want index 0 at 0", ticks[0])
	}
	if !ticks[96].Beat() || ticks[95].Beat() {
		t.Errorf("beat flags wrong around tick 96")
	}
	if math.Abs(ticks[96].Time-0.5) > 1e-9 {
		t.Errorf("tick 96 time = %v, want 0.5", ticks[96].Time)
	}
}

func TestStateTransitions(t *testing.T) {
	tr, _ := newTestTransport(120)
	var states []State
	tr.OnStateChange(func(s State, _ float64) { states = append(states, s) })

	tr.Pause(0) // not playing, ignored
	tr.Start(0)
	tr.Advance(0.0501)
	if pos := tr.Position(); pos != 10 {
		t.Fatalf("Position() = %d, want 10", pos)
	}

	tr.Pause(0.05)
	if n := tr.Advance(1); n != 0 {
		t.Errorf("paused transport emitted %d ticks", n)
	}

	var resumed []Tick
	tr.AddClockCallback(func(tk Tick) { resumed = append(resumed, tk) })
	tr.Start(2)
	tr.Advance(2.001)
	if len(resumed) != 1 || resumed[0].Index != 10 || resumed[0].Time != 2 {
		t.Errorf("resume ticks = %+v, want index 10 at 2", resumed)
	}

	tr.Stop(3)
	if pos := tr.Position(); pos != 0 {
		t.Errorf("Position() after stop = %d, want 0", pos)
	}
	tr.Stop(3) // already stopped, ignored

	want := []State{Playing, Paused, Playing, Stopped}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestSetBPMAppliesFromNextTick(t *testing.T) {
	tr, _ := newTestTransport(120)
	var ticks []Tick
	tr.AddClockCallback(func(tk Tick) { ticks = append(ticks, tk) })

	tr.Start(0)
	tr.Advance(0.006) // ticks 0 and 1
	next := SecondsPerTick(120) * 2

	if err := tr.SetBPM(60); err != nil {
		t.Fatal(err)
	}
	tr.Advance(1)

	if math.Abs(ticks[2].Time-next) > 1e-12 {
		t.Errorf("next tick moved: %v, want %v", ticks[2].Time, next)
	}
	gap := ticks[3].Time - ticks[2].Time
	if math.Abs(gap-SecondsPerTick(60)) > 1e-12 {
		t.Errorf("tick spacing = %v, want %v", gap, SecondsPerTick(60))
	}
}

func TestSetBPMRejectsNonPositive(t *testing.T) {
	tr, _ := newTestTransport(120)
	if err := tr.SetBPM(0); !errors.Is(err, ErrInvalidBPM) {
		t.Errorf("SetBPM(0) error = %v, want ErrInvalidBPM", err)
	}
}

func TestRemoveCallback(t *testing.T) {
	tr, _ := newTestTransport(120)
	count := 0
	remove := tr.AddClockCallback(func(Tick) { count++ })
	tr.Start(0)
	tr.Advance(0.001)
	remove()
	tr.Advance(1)
	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
}

func TestCallbackMayStopTransport(t *testing.T) {
	tr, _ := newTestTransport(120)
	count := 0
	tr.AddClockCallback(func(tk Tick) {
		count++
		if tk.Index == 4 {
			tr.Stop(tk.Time)
		}
	})
	tr.Start(0)
	tr.Advance(10)
	if count != 5 {
		t.Errorf("callback ran %d times, want 5", count)
	}
}

func TestBarBeat(t *testing.T) {
	tr, _ := newTestTransport(120)
	tests := []struct {
		tick      int64
		bar, beat int
	}{
		{0, 1, 1},
		{95, 1, 1},
		{96, 1, 2},
		{96 * 4, 2, 1},
		{96*4 + 96*3, 2, 4},
	}
	for _, tt := range tests {
		bar, beat := tr.BarBeat(tt.tick)
		if bar != tt.bar || beat != tt.beat {
			t.Errorf("BarBeat(%d) = %d.%d, want %d.%d", tt.tick, bar, beat, tt.bar, tt.beat)
		}
	}

	if err := tr.SetTimeSignature(TimeSignature{6, 8}); err != nil {
		t.Fatal(err)
	}
	if bar, beat := tr.BarBeat(48 * 6); bar != 2 || beat != 1 {
		t.Errorf("6/8 BarBeat(288) = %d.%d, want 2.1", bar, beat)
	}
}

func TestSetTimeSignatureValidation(t *testing.T) {
	tests := []struct {
		sig     TimeSignature
		wantErr bool
	}{
		{TimeSignature{4, 4}, false},
		{TimeSignature{7, 8}, false},
		{TimeSignature{3, 2}, false},
		{TimeSignature{1, 1}, false},
		{TimeSignature{5, 128}, false},
		{TimeSignature{4, 512}, true},
		{TimeSignature{4, 256}, true},
		{TimeSignature{4, 3}, true},
		{TimeSignature{4, 6}, true},
		{TimeSignature{0, 4}, true},
		{TimeSignature{4, 0}, true},
		{TimeSignature{4, -4}, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.sig[0], tt.sig[1]), func(t *testing.T) {
			tr, _ := newTestTransport(120)
			err := tr.SetTimeSignature(tt.sig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetTimeSignature(%v) error = %v, wantErr %v", tt.sig, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidSignature) {
					t.Errorf("error = %v, want ErrInvalidSignature", err)
				}
				if got := tr.TimeSignature(); got != (TimeSignature{4, 4}) {
					t.Errorf("rejected signature was stored: %v", got)
				}
			}
			// never divides by zero
			tr.BarBeat(1000)
		})
	}

	if tr := New(&fakeClock{}, Options{TimeSignature: TimeSignature{4, 512}}); tr.TimeSignature() != (TimeSignature{4, 4}) {
		t.Errorf("New kept invalid signature %v", tr.TimeSignature())
	}
}

func TestDivisionTicks(t *testing.T) {
	tests := []struct {
		div     string
		want    int64
		wantErr bool
	}{
		{"1/1", 384, false},
		{"1/4", 96, false},
		{"1/8", 48, false},
		{"1/16", 24, false},
		{"1/32", 12, false},
		{"1/8t", 32, false},
		{"1/4d", 144, false},
		{"3/4", 288, false},
		{"1/128", 3, false},
		{"1/7", 0, true},
		{"quarter", 0, true},
		{"1/0", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.div, func(t *testing.T) {
			got, err := DivisionTicks(tt.div)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDivision) {
					t.Errorf("DivisionTicks(%q) error = %v, want ErrInvalidDivision", tt.div, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DivisionTicks(%q) error = %v", tt.div, err)
			}
			if got != tt.want {
				t.Errorf("DivisionTicks(%q) = %d, want %d", tt.div, got, tt.want)
			}
		})
	}
}

func TestRunSchedulesAhead(t *testing.T) {
	clock := &fakeClock{}
	tr := New(clock, Options{
		BPM:       120,
		Lookahead: 50 * time.Millisecond,
		Interval:  time.Millisecond,
		Logger:    logrus.New(),
	})

	got := make(chan Tick, 1024)
	tr.AddClockCallback(func(tk Tick) { got <- tk })
	tr.Start(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case tk := <-got:
			if tk.Time >= 0.05 {
				t.Fatalf("tick %d at %v scheduled beyond lookahead", tk.Index, tk.Time)
			}
			if tk.Index == 9 {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("Run() error = %v", err)
				}
				return
			}
		case <-deadline:
			cancel()
			t.Fatal("no ticks within deadline")
		}
	}
}
