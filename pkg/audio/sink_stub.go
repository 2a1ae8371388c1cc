//go:build !portaudio

package audio

// OpenSink opens the default output device.
// Default builds (without the portaudio tag) have no realtime backend.
func OpenSink(_ *Context, _ int) (Sink, error) {
	return nil, ErrNoAudioBackend
}
