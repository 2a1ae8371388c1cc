package audio

import (
	"math"
	"sort"
)

type eventKind int

const (
	setValue eventKind = iota
	linearRamp
)

type paramEvent struct {
	kind  eventKind
	time  float64
	value float64
	// start is the context time a ramp was scheduled at; it anchors a ramp
	// that has no preceding event.
	start float64
}

// Param is an automatable value read once per frame by its owning node.
// Audio edges connected to a Param are summed onto the automation value.
type Param struct {
	ctx     *Context
	name    string
	value   float64
	min     float64
	max     float64
	events  []paramEvent
	sources []outputRef
	buf     []float64
}

func newParam(ctx *Context, name string, value, min, max float64) *Param {
	return &Param{
		ctx:   ctx,
		name:  name,
		value: value,
		min:   min,
		max:   max,
		buf:   make([]float64, RenderQuantum),
	}
}

// Name returns the parameter name.
func (p *Param) Name() string { return p.name }

// Value returns the automation value at the current context time.
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.timeLocked())
}

// ValueAt returns the automation value at context time t, excluding audio-rate inputs.
func (p *Param) ValueAt(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(t)
}

// SetValue sets the value immediately, discarding scheduled automation.
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.events = nil
	p.value = p.clamp(v)
}

// SetValueAtTime schedules a step to v at time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insert(paramEvent{kind: setValue, time: t, value: p.clamp(v)})
}

// LinearRampToValueAtTime schedules a linear ramp from the previous event to v, ending at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insert(paramEvent{kind: linearRamp, time: t, value: p.clamp(v), start: p.ctx.timeLocked()})
}

// CancelScheduledValues removes every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.truncate(t)
}

// CancelAndHoldAtTime removes every event at or after t and holds the value
// the automation had at t, so a new ramp can start from it without a jump.
func (p *Param) CancelAndHoldAtTime(t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	held := p.valueAt(t)
	p.truncate(t)
	p.insert(paramEvent{kind: setValue, time: t, value: held})
}

func (p *Param) clamp(v float64) float64 {
	return math.Max(p.min, math.Min(p.max, v))
}

func (p *Param) truncate(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// insert keeps events ordered by time; events at an equal time keep insertion order.
func (p *Param) insert(e paramEvent) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > e.time })
	p.events = append(p.events, paramEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = e
}

func (p *Param) valueAt(t float64) float64 {
	v := p.value
	prevT, prevV, hasPrev := 0.0, p.value, false
	for _, e := range p.events {
		if e.time <= t {
			v = e.value
			prevT, prevV, hasPrev = e.time, e.value, true
			continue
		}
		if e.kind == linearRamp {
			startT := prevT
			if !hasPrev {
				startT = e.start
			}
			if t <= startT || e.time <= startT {
				return prevV
			}
			return prevV + (e.value-prevV)*(t-startT)/(e.time-startT)
		}
		return v
	}
	return v
}

// prune drops events superseded before t, folding the last one into the intrinsic value.
func (p *Param) prune(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t })
	if i == 0 {
		return
	}
	p.value = p.events[i-1].value
	if i == len(p.events) {
		p.events = p.events[:0]
		return
	}
	// keep the anchor event so a ramp in progress still has its start point
	p.events = p.events[i-1:]
}

func (p *Param) render(start int64) {
	sr := p.ctx.sampleRate
	p.prune(float64(start) / sr)
	for i := range p.buf {
		p.buf[i] = p.valueAt(float64(start+int64(i)) / sr)
	}
	if len(p.sources) == 0 {
		return
	}
	for _, s := range p.sources {
		mix(p.buf, p.ctx.pull(s.node, start)[s.index])
	}
	for i, v := range p.buf {
		p.buf[i] = p.clamp(v)
	}
}
