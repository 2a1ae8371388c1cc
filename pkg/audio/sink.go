package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrNoAudioBackend is returned when the binary was built without a realtime backend.
var ErrNoAudioBackend = errors.New("realtime audio output is not included in this build (build with -tags portaudio)")

// Sink drives a context's Render from a realtime device callback.
type Sink interface {
	Start() error
	Close() error
}

// clockSink renders at wall-clock pace and discards the output, so a
// headless process still advances context time for sequencing and MIDI.
type clockSink struct {
	ctx    *Context
	period time.Duration
	buf    [][2]float64

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewClockSink returns a Sink that pulls framesPerBuffer frames every
// buffer period without an audio device.
func NewClockSink(ctx *Context, framesPerBuffer int) Sink {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 4 * RenderQuantum
	}
	return &clockSink{
		ctx:    ctx,
		period: time.Duration(float64(framesPerBuffer) / ctx.SampleRate() * float64(time.Second)),
		buf:    make([][2]float64, framesPerBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *clockSink) Start() error {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.ctx.Render(s.buf)
			}
		}
	}()
	return nil
}

// Close stops rendering. It must follow Start.
func (s *clockSink) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
