package midi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// DefaultPollInterval is the hot-plug rescan period.
const DefaultPollInterval = time.Second

// ChangeKind is a hot-plug transition.
type ChangeKind string

const (
	DeviceConnected    ChangeKind = "connected"
	DeviceDisconnected ChangeKind = "disconnected"
)

// Change reports a device that appeared or disappeared.
type Change struct {
	Kind   ChangeKind
	Device *Device
}

// ManagerOptions configures a Manager. Zero fields take defaults.
type ManagerOptions struct {
	PollInterval time.Duration
	// Now stamps incoming events; the engine passes its audio clock.
	Now    func() float64
	Logger logrus.FieldLogger
}

type changeListener struct {
	id int
	fn func(Change)
}

// Manager enumerates ports through a driver and keeps one Device handle per
// port identity. Poll is the only writer of the device map.
type Manager struct {
	drv      drivers.Driver
	interval time.Duration
	now      func() float64
	log      logrus.FieldLogger

	mu      sync.RWMutex
	devices map[string]*Device
	order   []string

	lmu       sync.Mutex
	nextID    int
	listeners []changeListener
}

// NewManager creates a manager over drv. drv may be nil, in which case the
// manager never reports devices.
func NewManager(drv drivers.Driver, opts ManagerOptions) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		start := time.Now()
		opts.Now = func() float64 { return time.Since(start).Seconds() }
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Manager{
		drv:      drv,
		interval: opts.PollInterval,
		now:      opts.Now,
		log:      opts.Logger.WithField("component", "midi"),
		devices:  make(map[string]*Device),
	}
}

// DeviceID derives the stable identity of a port. Duplicate names within one
// enumeration get a "#n" suffix in enumeration order.
func DeviceID(typ DeviceType, name string, occurrence int) string {
	if occurrence == 0 {
		return fmt.Sprintf("%s:%s", typ, name)
	}
	return fmt.Sprintf("%s:%s#%d", typ, name, occurrence+1)
}

type presentPort struct {
	name string
	typ  DeviceType
	in   drivers.In
	out  drivers.Out
}

func (m *Manager) enumerate() (map[string]presentPort, error) {
	present := make(map[string]presentPort)
	if m.drv == nil {
		return present, nil
	}
	ins, err := m.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("enumerate inputs: %w", err)
	}
	outs, err := m.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("enumerate outputs: %w", err)
	}
	seen := make(map[string]int)
	for _, in := range ins {
		name := in.String()
		id := DeviceID(Input, name, seen[string(Input)+name])
		seen[string(Input)+name]++
		present[id] = presentPort{name: name, typ: Input, in: in}
	}
	for _, out := range outs {
		name := out.String()
		id := DeviceID(Output, name, seen[string(Output)+name])
		seen[string(Output)+name]++
		present[id] = presentPort{name: name, typ: Output, out: out}
	}
	return present, nil
}

// Poll re-enumerates the driver and emits a Change for every device that
// appeared or disappeared since the last poll.
func (m *Manager) Poll() error {
	present, err := m.enumerate()
	if err != nil {
		return err
	}

	var changes []Change
	m.mu.Lock()
	ids := make([]string, 0, len(present))
	for id := range present {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := present[id]
		d, ok := m.devices[id]
		if !ok {
			d = newDevice(id, p.name, p.typ, m.now, m.log)
			m.devices[id] = d
			m.order = append(m.order, id)
		}
		if d.State() == Connected {
			continue
		}
		d.attach(p.in, p.out)
		changes = append(changes, Change{Kind: DeviceConnected, Device: d})
	}
	for _, id := range m.order {
		d := m.devices[id]
		if _, ok := present[id]; ok || d.State() != Connected {
			continue
		}
		d.detach()
		changes = append(changes, Change{Kind: DeviceDisconnected, Device: d})
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.log.WithFields(logrus.Fields{"device": c.Device.ID(), "name": c.Device.Name()}).Infof("midi device %s", c.Kind)
		m.emit(c)
	}
	return nil
}

// Run polls until ctx is done. Poll errors are logged and polling continues.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.Poll(); err != nil {
			m.log.WithError(err).Warn("midi poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// OnChange registers fn for hot-plug changes and returns a function removing it.
func (m *Manager) OnChange(fn func(Change)) (remove func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, changeListener{id: id, fn: fn})
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(c Change) {
	m.lmu.Lock()
	ls := make([]changeListener, len(m.listeners))
	copy(ls, m.listeners)
	m.lmu.Unlock()
	for _, l := range ls {
		l.fn(c)
	}
}

// Devices returns every known device in discovery order, including
// disconnected ones.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.devices[id])
	}
	return out
}

func (m *Manager) ofType(typ DeviceType) []*Device {
	var out []*Device
	for _, d := range m.Devices() {
		if d.Type() == typ {
			out = append(out, d)
		}
	}
	return out
}

// Inputs returns the known input devices.
func (m *Manager) Inputs() []*Device { return m.ofType(Input) }

// Outputs returns the known output devices.
func (m *Manager) Outputs() []*Device { return m.ofType(Output) }

// Find returns the device with the given id.
func (m *Manager) Find(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

func (m *Manager) find(typ DeviceType, id string) (*Device, bool) {
	d, ok := m.Find(id)
	if !ok || d.Type() != typ {
		return nil, false
	}
	return d, true
}

// byName prefers a connected device when several share the name.
func (m *Manager) byName(typ DeviceType, name string) (*Device, bool) {
	var found *Device
	for _, d := range m.ofType(typ) {
		if d.Name() != name {
			continue
		}
		if d.State() == Connected {
			return d, true
		}
		if found == nil {
			found = d
		}
	}
	return found, found != nil
}

func (m *Manager) byFuzzyName(typ DeviceType, name string, threshold float64) (*Device, float64, bool) {
	devs := m.ofType(typ)
	names := make([]string, len(devs))
	for i, d := range devs {
		names[i] = d.Name()
	}
	match, ok := FindBestMatch(name, names, threshold)
	if !ok {
		return nil, 0, false
	}
	return devs[match.Index], match.Score, true
}

// Scored is a device with its similarity to a queried name.
type Scored struct {
	DeviceInfo
	Score float64 `json:"score"`
}

// Rank scores every device of typ against name, best first. Equal scores
// keep enumeration order.
func (m *Manager) Rank(typ DeviceType, name string) []Scored {
	devs := m.ofType(typ)
	out := make([]Scored, 0, len(devs))
	for _, d := range devs {
		out = append(out, Scored{DeviceInfo: d.Info(), Score: CalculateSimilarity(name, d.Name())})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// FindInput returns the input device with the given id.
func (m *Manager) FindInput(id string) (*Device, bool) { return m.find(Input, id) }

// FindOutput returns the output device with the given id.
func (m *Manager) FindOutput(id string) (*Device, bool) { return m.find(Output, id) }

// FindInputByName returns an input device whose name equals name.
func (m *Manager) FindInputByName(name string) (*Device, bool) { return m.byName(Input, name) }

// FindOutputByName returns an output device whose name equals name.
func (m *Manager) FindOutputByName(name string) (*Device, bool) { return m.byName(Output, name) }

// FindInputByFuzzyName returns the input whose name best matches name, with its score.
func (m *Manager) FindInputByFuzzyName(name string, threshold float64) (*Device, float64, bool) {
	return m.byFuzzyName(Input, name, threshold)
}

// FindOutputByFuzzyName returns the output whose name best matches name, with its score.
func (m *Manager) FindOutputByFuzzyName(name string, threshold float64) (*Device, float64, bool) {
	return m.byFuzzyName(Output, name, threshold)
}

// Close detaches every device and closes the driver.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, d := range m.devices {
		if d.State() == Connected {
			d.detach()
		}
	}
	m.mu.Unlock()
	if m.drv == nil {
		return nil
	}
	return m.drv.Close()
}
