package midi

import "errors"

// ErrNoDriver is returned by NewDriver when the binary was built without a
// native MIDI backend.
var ErrNoDriver = errors.New("no native MIDI driver (build with -tags midi_native)")
