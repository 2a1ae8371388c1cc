//go:build portaudio

package audio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"
)

type portaudioSink struct {
	stream *pa.Stream
	buf    [][2]float64
}

// OpenSink opens the default output device as a stereo stream rendering ctx.
func OpenSink(ctx *Context, framesPerBuffer int) (Sink, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 4 * RenderQuantum
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio initialize: %w", err)
	}
	s := &portaudioSink{buf: make([][2]float64, framesPerBuffer)}
	stream, err := pa.OpenDefaultStream(0, 2, ctx.SampleRate(), framesPerBuffer, func(out [][]float32) {
		frames := len(out[0])
		if frames > len(s.buf) {
			s.buf = make([][2]float64, frames)
		}
		buf := s.buf[:frames]
		ctx.Render(buf)
		for i, f := range buf {
			out[0][i] = float32(f[0])
			out[1][i] = float32(f[1])
		}
	})
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("open default stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *portaudioSink) Start() error {
	return s.stream.Start()
}

func (s *portaudioSink) Close() error {
	_ = s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return err
	}
	return pa.Terminate()
}
