package modules

import (
	"sync"
	"time"

	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/sirupsen/logrus"
)

var deviceSchema = module.Schema{
	"selectedId":   {Kind: module.String, Default: "", Label: "Device id"},
	"selectedName": {Kind: module.String, Default: "", Label: "Device name"},
}

// deviceBinding keeps a module attached to the device its props name. It
// re-resolves when the props change and when a device is hot-plugged.
type deviceBinding struct {
	base    *module.Base
	typ     midi.DeviceType
	onBind  func(d *midi.Device) (unbind func(), err error)
	mu      sync.Mutex
	device  *midi.Device
	unbind  func()
	unwatch func()
}

func (b *deviceBinding) ref() module.DeviceRef {
	return module.DeviceRef{ID: b.base.Str("selectedId"), Name: b.base.Str("selectedName")}
}

func (b *deviceBinding) start() {
	b.mu.Lock()
	b.unwatch = b.base.Host().OnDeviceChange(func(c midi.Change) {
		if c.Kind == midi.DeviceConnected && c.Device.Type() == b.typ && b.Device() == nil {
			b.resolve()
		}
	})
	b.mu.Unlock()
	b.resolve()
}

// resolve attaches to the device the props name, or detaches when nothing
// matches. The module stays usable while unattached.
func (b *deviceBinding) resolve() {
	ref := b.ref()
	var (
		d  *midi.Device
		ok bool
	)
	if ref.ID != "" || ref.Name != "" {
		if b.typ == midi.Input {
			d, ok = b.base.Host().ResolveInput(ref)
		} else {
			d, ok = b.base.Host().ResolveOutput(ref)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ok && d == b.device {
		return
	}
	if b.unbind != nil {
		b.unbind()
		b.unbind = nil
	}
	b.device = nil
	if !ok {
		if ref.ID != "" || ref.Name != "" {
			b.base.Log().WithFields(logrus.Fields{"id": ref.ID, "name": ref.Name}).Info("midi device not found, leaving unattached")
		}
		return
	}
	unbind, err := b.onBind(d)
	if err != nil {
		b.base.Log().WithError(err).Warn("attach midi device")
		return
	}
	b.device, b.unbind = d, unbind
}

// Device returns the attached device, or nil.
func (b *deviceBinding) Device() *midi.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

func (b *deviceBinding) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unwatch != nil {
		b.unwatch()
		b.unwatch = nil
	}
	if b.unbind != nil {
		b.unbind()
		b.unbind = nil
	}
	b.device = nil
}

// MidiInput forwards events from a hardware input to its midi output port.
type MidiInput struct {
	*module.Base
	binding *deviceBinding
}

// NewMidiInput creates a midi input module.
func NewMidiInput(host module.Host, cfg module.Config) (module.Module, error) {
	m := &MidiInput{}
	m.binding = &deviceBinding{typ: midi.Input, onBind: func(d *midi.Device) (func(), error) {
		return d.AddListener(func(e midi.Event) { m.EmitMidi("midi out", e) })
	}}
	base, err := newDeviceBase(host, TypeMidiInput, cfg, m.binding)
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterMidiOutput("midi out")
	return m, nil
}

// Device returns the attached input device, or nil.
func (m *MidiInput) Device() *midi.Device { return m.binding.Device() }

// MidiOutput sends events arriving on its midi input to a hardware output.
// Events stamped in the future are held back until their time.
type MidiOutput struct {
	*module.Base
	binding *deviceBinding
}

// NewMidiOutput creates a midi output module.
func NewMidiOutput(host module.Host, cfg module.Config) (module.Module, error) {
	m := &MidiOutput{}
	m.binding = &deviceBinding{typ: midi.Output, onBind: func(*midi.Device) (func(), error) {
		return func() {}, nil
	}}
	base, err := newDeviceBase(host, TypeMidiOutput, cfg, m.binding)
	if err != nil {
		return nil, err
	}
	m.Base = base
	m.RegisterMidiInput("midi in", m.send)
	return m, nil
}

// Device returns the attached output device, or nil.
func (m *MidiOutput) Device() *midi.Device { return m.binding.Device() }

func (m *MidiOutput) send(e midi.Event) {
	d := m.binding.Device()
	if d == nil {
		return
	}
	deliver := func() {
		if err := d.Send(e); err != nil {
			m.Log().WithError(err).Warn("midi send")
		}
	}
	delay := time.Duration((e.Time - m.Context().CurrentTime()) * float64(time.Second))
	if delay <= 0 {
		deliver()
		return
	}
	time.AfterFunc(delay, deliver)
}

func newDeviceBase(host module.Host, typ string, cfg module.Config, b *deviceBinding) (*module.Base, error) {
	rebind := func(any) {
		if b.base != nil && b.base.IsReady() {
			b.resolve()
		}
	}
	base, err := module.NewBase(host, typ, cfg, module.Options{
		Schema: deviceSchema,
		Hooks: module.Hooks{
			"selectedId":   {OnAfterSet: rebind},
			"selectedName": {OnAfterSet: rebind},
		},
		Build: func() error {
			b.start()
			return nil
		},
		Teardown: b.stop,
	})
	if err != nil {
		return nil, err
	}
	b.base = base
	return base, nil
}
