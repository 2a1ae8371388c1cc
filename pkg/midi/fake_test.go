package midi

import (
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
)

// fakePort implements drivers.Port for testing
type fakePort struct {
	name string
	num  int
	open bool
}

func (p *fakePort) Open() error             { p.open = true; return nil }
func (p *fakePort) Close() error            { p.open = false; return nil }
func (p *fakePort) IsOpen() bool            { return p.open }
func (p *fakePort) Number() int             { return p.num }
func (p *fakePort) String() string          { return p.name }
func (p *fakePort) Underlying() interface{} { return nil }

type fakeIn struct {
	fakePort
	mu    sync.Mutex
	onMsg func([]byte, int32)
}

func (p *fakeIn) Listen(onMsg func(msg []byte, milliseconds int32), _ drivers.ListenConfig) (func(), error) {
	p.mu.Lock()
	p.onMsg = onMsg
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onMsg = nil
		p.mu.Unlock()
	}, nil
}

func (p *fakeIn) push(b ...byte) {
	p.mu.Lock()
	fn := p.onMsg
	p.mu.Unlock()
	if fn != nil {
		fn(b, 0)
	}
}

func (p *fakeIn) listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onMsg != nil
}

type fakeOut struct {
	fakePort
	sent [][]byte
}

func (p *fakeOut) Send(b []byte) error {
	p.sent = append(p.sent, append([]byte(nil), b...))
	return nil
}

// fakeDriver implements drivers.Driver with a mutable port list
type fakeDriver struct {
	ins  []drivers.In
	outs []drivers.Out
}

func (d *fakeDriver) Ins() ([]drivers.In, error)   { return d.ins, nil }
func (d *fakeDriver) Outs() ([]drivers.Out, error) { return d.outs, nil }
func (d *fakeDriver) String() string               { return "fake" }
func (d *fakeDriver) Close() error                 { return nil }

func newFakeIn(name string) *fakeIn   { return &fakeIn{fakePort: fakePort{name: name}} }
func newFakeOut(name string) *fakeOut { return &fakeOut{fakePort: fakePort{name: name}} }
