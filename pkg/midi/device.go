package midi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

var (
	ErrDisconnected = errors.New("device disconnected")
	ErrWrongType    = errors.New("wrong device type")
)

// DeviceType is the port direction.
type DeviceType string

const (
	Input  DeviceType = "input"
	Output DeviceType = "output"
)

// DeviceState is the hot-plug state of a handle.
type DeviceState string

const (
	Connected    DeviceState = "connected"
	Disconnected DeviceState = "disconnected"
)

// DeviceInfo is the serializable view of a device.
type DeviceInfo struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Type  DeviceType  `json:"type"`
	State DeviceState `json:"state"`
}

// Listener receives events from an input device.
type Listener func(Event)

type deviceListener struct {
	id int
	fn Listener
}

// Device is a stable handle for one MIDI port. The manager keeps the same
// handle across disconnect and reconnect, so listeners survive a replug.
type Device struct {
	mu    sync.Mutex
	id    string
	name  string
	typ   DeviceType
	state DeviceState

	in   drivers.In
	out  drivers.Out
	stop func()
	send func(midi.Message) error

	nextID    int
	listeners []deviceListener

	now func() float64
	log logrus.FieldLogger
}

func newDevice(id, name string, typ DeviceType, now func() float64, log logrus.FieldLogger) *Device {
	return &Device{
		id:    id,
		name:  name,
		typ:   typ,
		state: Disconnected,
		now:   now,
		log:   log.WithFields(logrus.Fields{"device": id}),
	}
}

func (d *Device) ID() string       { return d.id }
func (d *Device) Name() string     { return d.name }
func (d *Device) Type() DeviceType { return d.typ }

// State returns whether the underlying port is present.
func (d *Device) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Info returns the serializable view of the device.
func (d *Device) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{ID: d.id, Name: d.name, Type: d.typ, State: d.state}
}

// AddListener subscribes fn to events from an input device and returns a
// function removing it. The port is opened on the first subscription.
func (d *Device) AddListener(fn Listener) (remove func(), err error) {
	if d.typ != Input {
		return nil, fmt.Errorf("listen on %s: %w", d.id, ErrWrongType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, deviceListener{id: id, fn: fn})
	if d.state == Connected && d.stop == nil {
		if err := d.listenLocked(); err != nil {
			d.listeners = d.listeners[:len(d.listeners)-1]
			return nil, err
		}
	}
	return func() { d.removeListener(id) }, nil
}

func (d *Device) removeListener(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			break
		}
	}
	if len(d.listeners) == 0 && d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *Device) listenLocked() error {
	stop, err := midi.ListenTo(d.in, func(msg midi.Message, _ int32) {
		d.dispatch(Decode(msg, d.now()))
	}, midi.HandleError(func(err error) {
		d.log.WithError(err).Warn("midi listen error")
	}))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.id, err)
	}
	d.stop = stop
	return nil
}

func (d *Device) dispatch(e Event) {
	d.mu.Lock()
	ls := make([]deviceListener, len(d.listeners))
	copy(ls, d.listeners)
	d.mu.Unlock()
	for _, l := range ls {
		l.fn(e)
	}
}

// Send writes an event to an output device.
func (d *Device) Send(e Event) error {
	if d.typ != Output {
		return fmt.Errorf("send to %s: %w", d.id, ErrWrongType)
	}
	msg, err := e.Message()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Connected {
		return fmt.Errorf("send to %s: %w", d.id, ErrDisconnected)
	}
	if d.send == nil {
		send, err := midi.SendTo(d.out)
		if err != nil {
			return fmt.Errorf("open %s: %w", d.id, err)
		}
		d.send = send
	}
	return d.send(msg)
}

// attach binds a present port to the handle and resumes listening.
func (d *Device) attach(in drivers.In, out drivers.Out) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in, d.out = in, out
	d.state = Connected
	if d.typ == Input && len(d.listeners) > 0 && d.stop == nil {
		if err := d.listenLocked(); err != nil {
			d.log.WithError(err).Warn("could not resume listening")
		}
	}
}

// detach releases the port after it disappeared.
func (d *Device) detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	d.send = nil
	var port drivers.Port
	if d.in != nil {
		port = d.in
	} else if d.out != nil {
		port = d.out
	}
	if port != nil && port.IsOpen() {
		if err := port.Close(); err != nil {
			d.log.WithError(err).Debug("close port")
		}
	}
	d.in, d.out = nil, nil
	d.state = Disconnected
}

// Emit delivers e to the device's listeners as if it had arrived on the port.
// Virtual keyboards and tests use it to inject events.
func (d *Device) Emit(e Event) {
	d.dispatch(e)
}
