package audio

import (
	"fmt"
	"math"
)

const maxParam = math.MaxFloat32

// Destination is the terminal node rendered by Context.Render.
type Destination struct {
	*nodeCore
}

func newDestination(ctx *Context) *Destination {
	d := &Destination{nodeCore: newCore(ctx, 1, 1)}
	d.kernel = func(in, out [][]float64, _ int64) {
		copy(out[0], in[0])
	}
	return d
}

// Gain multiplies its input by the gain parameter.
type Gain struct {
	*nodeCore
	gain *Param
}

// NewGain creates a gain node with the given initial gain.
func NewGain(ctx *Context, gain float64) *Gain {
	g := &Gain{nodeCore: newCore(ctx, 1, 1)}
	g.gain = g.addParam(newParam(ctx, "gain", gain, -maxParam, maxParam))
	g.kernel = func(in, out [][]float64, _ int64) {
		for i, s := range in[0] {
			out[0][i] = s * g.gain.buf[i]
		}
	}
	return g
}

// Gain returns the gain parameter.
func (g *Gain) Gain() *Param { return g.gain }

// Waveform selects the oscillator shape.
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

// ParseWaveform validates a waveform name.
func ParseWaveform(s string) (Waveform, error) {
	switch w := Waveform(s); w {
	case Sine, Square, Sawtooth, Triangle:
		return w, nil
	}
	return "", fmt.Errorf("unknown waveform %q", s)
}

// Oscillator is a periodic source with frequency and detune (cents) parameters.
// It produces silence outside its [start, stop) window.
type Oscillator struct {
	*nodeCore
	frequency *Param
	detune    *Param

	wave    Waveform
	phase   float64
	started bool
	startAt float64
	stopped bool
	stopAt  float64
	syncs   []float64
}

// NewOscillator creates an unstarted oscillator.
func NewOscillator(ctx *Context, wave Waveform, frequency float64) *Oscillator {
	o := &Oscillator{nodeCore: newCore(ctx, 0, 1), wave: wave}
	o.frequency = o.addParam(newParam(ctx, "frequency", frequency, -ctx.sampleRate/2, ctx.sampleRate/2))
	o.detune = o.addParam(newParam(ctx, "detune", 0, -maxParam, maxParam))
	o.kernel = o.process
	return o
}

// Frequency returns the frequency parameter in hertz.
func (o *Oscillator) Frequency() *Param { return o.frequency }

// Detune returns the detune parameter in cents.
func (o *Oscillator) Detune() *Param { return o.detune }

// SetWaveform changes the shape without interrupting phase.
func (o *Oscillator) SetWaveform(w Waveform) {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	o.wave = w
}

// Waveform returns the current shape.
func (o *Oscillator) Waveform() Waveform {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	return o.wave
}

// Start begins output at context time t. A source starts at most once.
func (o *Oscillator) Start(t float64) error {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	if o.started {
		return fmt.Errorf("oscillator already started: %w", ErrInvalidState)
	}
	o.started, o.startAt = true, t
	return nil
}

// Stop ends output at context time t. Stopping an unstarted or already
// stopped source returns ErrInvalidState.
func (o *Oscillator) Stop(t float64) error {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	if !o.started || o.stopped {
		return fmt.Errorf("oscillator not running: %w", ErrInvalidState)
	}
	o.stopped, o.stopAt = true, t
	return nil
}

// SyncAt resets the phase to zero at context time t.
func (o *Oscillator) SyncAt(t float64) {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	o.syncs = append(o.syncs, t)
}

func (o *Oscillator) process(_, out [][]float64, start int64) {
	sr := o.ctx.sampleRate
	for i := range out[0] {
		t := float64(start+int64(i)) / sr
		if !o.started || t < o.startAt || (o.stopped && t >= o.stopAt) {
			out[0][i] = 0
			continue
		}
		for len(o.syncs) > 0 && o.syncs[0] <= t {
			o.phase = 0
			o.syncs = o.syncs[1:]
		}
		out[0][i] = sample(o.wave, o.phase)
		f := o.frequency.buf[i] * math.Pow(2, o.detune.buf[i]/1200)
		o.phase += f / sr
		o.phase -= math.Floor(o.phase)
	}
}

func sample(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return 2*phase - 1
	case Triangle:
		return 1 - 4*math.Abs(phase-0.5)
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// FilterType selects the biquad response.
type FilterType string

const (
	Lowpass  FilterType = "lowpass"
	Highpass FilterType = "highpass"
	Bandpass FilterType = "bandpass"
)

// BiquadFilter is a second-order filter using the RBJ cookbook coefficients.
// Coefficients are computed once per render quantum.
type BiquadFilter struct {
	*nodeCore
	frequency *Param
	q         *Param

	typ            FilterType
	x1, x2, y1, y2 float64
}

// NewBiquadFilter creates a filter of type typ.
func NewBiquadFilter(ctx *Context, typ FilterType, frequency, q float64) *BiquadFilter {
	f := &BiquadFilter{nodeCore: newCore(ctx, 1, 1), typ: typ}
	f.frequency = f.addParam(newParam(ctx, "frequency", frequency, 10, ctx.sampleRate/2))
	f.q = f.addParam(newParam(ctx, "Q", q, 0.0001, 1000))
	f.kernel = f.process
	return f
}

// Frequency returns the cutoff parameter.
func (f *BiquadFilter) Frequency() *Param { return f.frequency }

// Q returns the resonance parameter.
func (f *BiquadFilter) Q() *Param { return f.q }

// SetType changes the response.
func (f *BiquadFilter) SetType(t FilterType) {
	f.ctx.mu.Lock()
	defer f.ctx.mu.Unlock()
	f.typ = t
}

func (f *BiquadFilter) process(in, out [][]float64, _ int64) {
	w0 := 2 * math.Pi * f.frequency.buf[0] / f.ctx.sampleRate
	alpha := math.Sin(w0) / (2 * f.q.buf[0])
	cos := math.Cos(w0)

	var b0, b1, b2 float64
	switch f.typ {
	case Highpass:
		b0, b1, b2 = (1+cos)/2, -(1 + cos), (1+cos)/2
	case Bandpass:
		b0, b1, b2 = alpha, 0, -alpha
	default:
		b0, b1, b2 = (1-cos)/2, 1-cos, (1-cos)/2
	}
	a0, a1, a2 := 1+alpha, -2*cos, 1-alpha

	for i, x := range in[0] {
		y := (b0*x + b1*f.x1 + b2*f.x2 - a1*f.y1 - a2*f.y2) / a0
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		out[0][i] = y
	}
}

// Delay is a delay line with a fixed maximum length.
type Delay struct {
	*nodeCore
	delayTime *Param

	line  []float64
	write int
}

// NewDelay creates a delay line able to hold maxTime seconds.
func NewDelay(ctx *Context, maxTime float64) *Delay {
	n := int(math.Ceil(maxTime*ctx.sampleRate)) + 1
	d := &Delay{nodeCore: newCore(ctx, 1, 1), line: make([]float64, n)}
	d.delayTime = d.addParam(newParam(ctx, "delayTime", 0, 0, maxTime))
	d.kernel = d.process
	return d
}

// DelayTime returns the delay time parameter in seconds.
func (d *Delay) DelayTime() *Param { return d.delayTime }

// MaxTime returns the delay line capacity in seconds.
func (d *Delay) MaxTime() float64 {
	return float64(len(d.line)-1) / d.ctx.sampleRate
}

func (d *Delay) process(in, out [][]float64, _ int64) {
	n := len(d.line)
	for i, x := range in[0] {
		pos := d.delayTime.buf[i] * d.ctx.sampleRate
		back := int(pos)
		frac := pos - float64(back)
		a := d.line[((d.write-back)%n+n)%n]
		b := d.line[((d.write-back-1)%n+n)%n]
		d.line[d.write] = x
		if back == 0 {
			a = x
		}
		out[0][i] = a + (b-a)*frac
		d.write = (d.write + 1) % n
	}
}

// ConstantSource outputs its offset parameter.
type ConstantSource struct {
	*nodeCore
	offset *Param
}

// NewConstantSource creates a source emitting offset on every frame.
func NewConstantSource(ctx *Context, offset float64) *ConstantSource {
	c := &ConstantSource{nodeCore: newCore(ctx, 0, 1)}
	c.offset = c.addParam(newParam(ctx, "offset", offset, -maxParam, maxParam))
	c.kernel = func(_, out [][]float64, _ int64) {
		copy(out[0], c.offset.buf)
	}
	return c
}

// Offset returns the offset parameter.
func (c *ConstantSource) Offset() *Param { return c.offset }
