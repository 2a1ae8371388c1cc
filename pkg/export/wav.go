// Package export renders patches and patterns to files other tools can open:
// audio to WAV and step patterns to Standard MIDI Files.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// ErrInvalidDuration is returned for a non-positive render length.
var ErrInvalidDuration = errors.New("render duration must be positive")

// Renderer fills dst with the next frames of a stereo signal.
// *engine.Engine satisfies it and advances its transport while rendering.
type Renderer interface {
	Render(dst [][2]float64)
}

// Streamer adapts a Renderer to beep. It never drains; bound it with beep.Take.
type Streamer struct {
	r Renderer
}

// NewStreamer wraps r.
func NewStreamer(r Renderer) *Streamer {
	return &Streamer{r: r}
}

func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	s.r.Render(samples)
	return len(samples), true
}

func (s *Streamer) Err() error { return nil }

// WAVOptions configures an offline render.
type WAVOptions struct {
	SampleRate float64
	Duration   time.Duration
	// Precision is bytes per sample: 1, 2 or 3. Zero means 2.
	Precision int
}

func (o WAVOptions) format() beep.Format {
	p := o.Precision
	if p == 0 {
		p = 2
	}
	return beep.Format{SampleRate: beep.SampleRate(o.SampleRate), NumChannels: 2, Precision: p}
}

// Frames returns the number of frames the options render.
func (o WAVOptions) Frames() int {
	return o.format().SampleRate.N(o.Duration)
}

// WriteWAV renders opts.Duration of r into w as a stereo PCM WAV file.
func WriteWAV(w io.WriteSeeker, r Renderer, opts WAVOptions) error {
	if opts.Duration <= 0 {
		return ErrInvalidDuration
	}
	if opts.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %v", opts.SampleRate)
	}
	if err := wav.Encode(w, beep.Take(opts.Frames(), NewStreamer(r)), opts.format()); err != nil {
		return fmt.Errorf("failed to encode WAV: %w", err)
	}
	return nil
}

// WriteWAVFile renders into a new file at path.
func WriteWAVFile(path string, r Renderer, opts WAVOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := WriteWAV(f, r, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
