package module

import (
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
)

// DeviceRef is what a module persists about the hardware it is attached to.
type DeviceRef struct {
	ID   string
	Name string
}

// Host is the engine as seen from a module.
type Host interface {
	Finder
	AudioContext() *audio.Context
	Transport() *transport.Transport
	Logger() logrus.FieldLogger
	// RoutesFor returns every route touching the module.
	RoutesFor(moduleID string) []Route
	// UpdateModuleProps writes props through the engine so subscribers are notified.
	UpdateModuleProps(id string, props Props) (Props, error)
	// ResolveInput and ResolveOutput find a device by id, then exact name,
	// then fuzzy name.
	ResolveInput(ref DeviceRef) (*midi.Device, bool)
	ResolveOutput(ref DeviceRef) (*midi.Device, bool)
	// OnDeviceChange subscribes to hot-plug changes.
	OnDeviceChange(fn func(midi.Change)) (remove func())
}
