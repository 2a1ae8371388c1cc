package engine

import (
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/sirupsen/logrus"
)

// ResolveInput finds an input device by id, then by exact name, then by
// fuzzy name. A miss on every tier is not an error.
func (e *Engine) ResolveInput(ref module.DeviceRef) (*midi.Device, bool) {
	return e.resolve(midi.Input, ref)
}

// ResolveOutput is ResolveInput for output devices.
func (e *Engine) ResolveOutput(ref module.DeviceRef) (*midi.Device, bool) {
	return e.resolve(midi.Output, ref)
}

func (e *Engine) resolve(typ midi.DeviceType, ref module.DeviceRef) (*midi.Device, bool) {
	find, byName, byFuzzy := e.devices.FindInput, e.devices.FindInputByName, e.devices.FindInputByFuzzyName
	if typ == midi.Output {
		find, byName, byFuzzy = e.devices.FindOutput, e.devices.FindOutputByName, e.devices.FindOutputByFuzzyName
	}

	if ref.ID != "" {
		if d, ok := find(ref.ID); ok {
			return d, true
		}
	}
	if ref.Name == "" {
		return nil, false
	}
	if d, ok := byName(ref.Name); ok {
		return d, true
	}
	d, score, ok := byFuzzy(ref.Name, e.threshold)
	fields := logrus.Fields{"id": ref.ID, "name": ref.Name, "type": typ}
	if !ok {
		e.log.WithFields(fields).Info("no midi device matches")
		return nil, false
	}
	fields["device"], fields["score"] = d.ID(), score
	e.log.WithFields(fields).Infof("matched midi device %q by fuzzy name", d.Name())
	return d, true
}

// OnDeviceChange subscribes fn to hot-plug changes.
func (e *Engine) OnDeviceChange(fn func(midi.Change)) (remove func()) {
	return e.devices.OnChange(fn)
}
