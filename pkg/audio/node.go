package audio

import "fmt"

// Node is a processing primitive in a context graph.
type Node interface {
	Context() *Context
	NumInputs() int
	NumOutputs() int
	core() *nodeCore
}

type outputRef struct {
	node  Node
	index int
}

type nodeCore struct {
	ctx        *Context
	inputs     [][]outputRef
	in         [][]float64
	out        [][]float64
	params     []*Param
	renderedAt int64
	busy       bool
	kernel     func(in, out [][]float64, start int64)
}

func newCore(ctx *Context, inputs, outputs int) *nodeCore {
	nc := &nodeCore{
		ctx:        ctx,
		inputs:     make([][]outputRef, inputs),
		in:         make([][]float64, inputs),
		out:        make([][]float64, outputs),
		renderedAt: -1,
	}
	for i := range nc.in {
		nc.in[i] = make([]float64, RenderQuantum)
	}
	for i := range nc.out {
		nc.out[i] = make([]float64, RenderQuantum)
	}
	return nc
}

func (nc *nodeCore) Context() *Context { return nc.ctx }
func (nc *nodeCore) NumInputs() int    { return len(nc.inputs) }
func (nc *nodeCore) NumOutputs() int   { return len(nc.out) }
func (nc *nodeCore) core() *nodeCore   { return nc }

func (nc *nodeCore) addParam(p *Param) *Param {
	nc.params = append(nc.params, p)
	return p
}

// Endpoint addresses one side of a primitive-level edge: an output or input
// index of a node, or an automatable parameter.
type Endpoint struct {
	Node  Node
	Index int
	Param *Param
}

// Out addresses output index of n.
func Out(n Node, index int) Endpoint { return Endpoint{Node: n, Index: index} }

// In addresses input index of n.
func In(n Node, index int) Endpoint { return Endpoint{Node: n, Index: index} }

// ParamEndpoint addresses an automatable parameter.
func ParamEndpoint(p *Param) Endpoint { return Endpoint{Param: p} }

// Valid reports whether the endpoint references a primitive.
func (e Endpoint) Valid() bool {
	return e.Node != nil || e.Param != nil
}

// Connect adds an edge from the src output to the dst input or parameter.
// Several edges into the same input are summed.
func Connect(src, dst Endpoint) error {
	if src.Node == nil {
		return fmt.Errorf("connect: source is not a node output: %w", ErrInvalidState)
	}
	ctx := src.Node.Context()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if src.Index < 0 || src.Index >= src.Node.NumOutputs() {
		return fmt.Errorf("connect output %d: %w", src.Index, ErrIndexOutOfRange)
	}
	ref := outputRef{node: src.Node, index: src.Index}
	if dst.Param != nil {
		if dst.Param.ctx != ctx {
			return ErrContextMismatch
		}
		dst.Param.sources = append(dst.Param.sources, ref)
		return nil
	}
	if dst.Node == nil {
		return fmt.Errorf("connect: empty destination: %w", ErrInvalidState)
	}
	if dst.Node.Context() != ctx {
		return ErrContextMismatch
	}
	nc := dst.Node.core()
	if dst.Index < 0 || dst.Index >= len(nc.inputs) {
		return fmt.Errorf("connect input %d: %w", dst.Index, ErrIndexOutOfRange)
	}
	nc.inputs[dst.Index] = append(nc.inputs[dst.Index], ref)
	return nil
}

// Disconnect removes one edge previously added by Connect.
func Disconnect(src, dst Endpoint) error {
	if src.Node == nil {
		return fmt.Errorf("disconnect: source is not a node output: %w", ErrInvalidState)
	}
	ctx := src.Node.Context()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ref := outputRef{node: src.Node, index: src.Index}
	if dst.Param != nil {
		var ok bool
		dst.Param.sources, ok = removeRef(dst.Param.sources, ref)
		if !ok {
			return ErrNotConnected
		}
		return nil
	}
	if dst.Node == nil {
		return fmt.Errorf("disconnect: empty destination: %w", ErrInvalidState)
	}
	nc := dst.Node.core()
	if dst.Index < 0 || dst.Index >= len(nc.inputs) {
		return fmt.Errorf("disconnect input %d: %w", dst.Index, ErrIndexOutOfRange)
	}
	var ok bool
	nc.inputs[dst.Index], ok = removeRef(nc.inputs[dst.Index], ref)
	if !ok {
		return ErrNotConnected
	}
	return nil
}

func removeRef(refs []outputRef, ref outputRef) ([]outputRef, bool) {
	for i, r := range refs {
		if r == ref {
			return append(refs[:i:i], refs[i+1:]...), true
		}
	}
	return refs, false
}
