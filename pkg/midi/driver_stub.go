//go:build !midi_native

package midi

import "gitlab.com/gomidi/midi/v2/drivers"

// NewDriver reports that no native backend is compiled in.
func NewDriver() (drivers.Driver, error) {
	return nil, ErrNoDriver
}
