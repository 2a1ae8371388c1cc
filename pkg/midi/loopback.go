package midi

import (
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
)

// Loopback is an in-process driver of virtual cables. Each cable has an
// input and an output port sharing its name; bytes sent to the output
// arrive on the input. Headless runs use it when no native backend is
// compiled in, and cables can be plugged and unplugged to exercise hot-plug.
type Loopback struct {
	mu     sync.Mutex
	cables []*cable
}

// NewLoopback creates a driver with one cable per name.
func NewLoopback(names ...string) *Loopback {
	l := &Loopback{}
	for _, n := range names {
		l.Plug(n)
	}
	return l
}

// Plug adds a cable.
func (l *Loopback) Plug(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &cable{}
	c.in = &loopIn{loopPort: loopPort{name: name, num: len(l.cables)}, cable: c}
	c.out = &loopOut{loopPort: loopPort{name: name, num: len(l.cables)}, cable: c}
	l.cables = append(l.cables, c)
}

// Unplug removes every cable called name.
func (l *Loopback) Unplug(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.cables[:0]
	for _, c := range l.cables {
		if c.in.name != name {
			kept = append(kept, c)
		}
	}
	l.cables = kept
}

func (l *Loopback) Ins() ([]drivers.In, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ins := make([]drivers.In, len(l.cables))
	for i, c := range l.cables {
		ins[i] = c.in
	}
	return ins, nil
}

func (l *Loopback) Outs() ([]drivers.Out, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	outs := make([]drivers.Out, len(l.cables))
	for i, c := range l.cables {
		outs[i] = c.out
	}
	return outs, nil
}

func (l *Loopback) String() string { return "loopback" }
func (l *Loopback) Close() error   { return nil }

type cable struct {
	mu    sync.Mutex
	onMsg func([]byte, int32)
	in    *loopIn
	out   *loopOut
}

type loopPort struct {
	mu   sync.Mutex
	name string
	num  int
	open bool
}

func (p *loopPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return nil
}

func (p *loopPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

func (p *loopPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *loopPort) Number() int             { return p.num }
func (p *loopPort) String() string          { return p.name }
func (p *loopPort) Underlying() interface{} { return nil }

type loopIn struct {
	loopPort
	cable *cable
}

func (p *loopIn) Listen(onMsg func(msg []byte, milliseconds int32), _ drivers.ListenConfig) (func(), error) {
	if err := p.Open(); err != nil {
		return nil, err
	}
	p.cable.mu.Lock()
	p.cable.onMsg = onMsg
	p.cable.mu.Unlock()
	return func() {
		p.cable.mu.Lock()
		p.cable.onMsg = nil
		p.cable.mu.Unlock()
	}, nil
}

type loopOut struct {
	loopPort
	cable *cable
}

func (p *loopOut) Send(b []byte) error {
	p.cable.mu.Lock()
	fn := p.cable.onMsg
	p.cable.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), b...), 0)
	}
	return nil
}
