package module

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"sort"
	"sync"
)

// Props is a module's property surface. The map held by a Controller is
// never mutated in place; every committed change produces a new map.
type Props map[string]any

// PropKind is the declared type of a property.
type PropKind string

const (
	Number  PropKind = "number"
	Enum    PropKind = "enum"
	Boolean PropKind = "boolean"
	String  PropKind = "string"
	Array   PropKind = "array"
)

// PropSchema declares one property.
type PropSchema struct {
	Kind    PropKind `json:"kind"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Step    float64  `json:"step,omitempty"`
	Options []string `json:"options,omitempty"`
	Default any      `json:"default"`
	Label   string   `json:"label,omitempty"`

	// Decode converts loosely typed input (decoded JSON) for array props
	// into the module's own representation.
	Decode func(any) (any, error) `json:"-"`
}

// Schema declares every property of a module type.
type Schema map[string]PropSchema

// Defaults returns the default props of the schema.
func (s Schema) Defaults() Props {
	p := make(Props, len(s))
	for k, ps := range s {
		p[k] = ps.Default
	}
	return p
}

// Keys returns the property names in sorted order.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Coerce validates v against the schema of key and returns its canonical form:
// numbers become float64, array values pass through Decode.
func (s Schema) Coerce(key string, v any) (any, error) {
	ps, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("unknown prop %q: %w", key, ErrInvalidProp)
	}
	switch ps.Kind {
	case Number:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("prop %q: %v is not a number: %w", key, v, ErrInvalidProp)
		}
		if ps.Max > ps.Min && (f < ps.Min || f > ps.Max) {
			return nil, fmt.Errorf("prop %q: %v outside [%v, %v]: %w", key, f, ps.Min, ps.Max, ErrInvalidProp)
		}
		return f, nil
	case Enum:
		str, ok := v.(string)
		if !ok || !slices.Contains(ps.Options, str) {
			return nil, fmt.Errorf("prop %q: %v not one of %v: %w", key, v, ps.Options, ErrInvalidProp)
		}
		return str, nil
	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("prop %q: %v is not a boolean: %w", key, v, ErrInvalidProp)
		}
		return b, nil
	case String:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("prop %q: %v is not a string: %w", key, v, ErrInvalidProp)
		}
		return str, nil
	case Array:
		if ps.Decode == nil {
			return v, nil
		}
		out, err := ps.Decode(v)
		if err != nil {
			return nil, fmt.Errorf("prop %q: %v: %w", key, err, ErrInvalidProp)
		}
		return out, nil
	}
	return nil, fmt.Errorf("prop %q has unknown kind %q: %w", key, ps.Kind, ErrInvalidProp)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint8:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// DecodeJSON re-marshals loosely typed input into T. Array props use it as
// their Decode hook.
func DecodeJSON[T any](v any) (any, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Hook is the two-phase setter of one property. OnSet runs before commit and
// returns the value to store; returning the current value vetoes the change.
// OnAfterSet runs after commit and applies the value to the primitive.
type Hook struct {
	OnSet      func(v any) any
	OnAfterSet func(v any)
}

// Hooks maps property names to their setters.
type Hooks map[string]Hook

// Controller stores a module's props and dispatches setter hooks.
type Controller struct {
	mu     sync.Mutex
	props  Props
	staged Props
	schema Schema
	hooks  Hooks
}

// NewController validates initial over the schema defaults.
func NewController(schema Schema, initial Props, hooks Hooks) (*Controller, error) {
	props := schema.Defaults()
	for k, v := range initial {
		if v == nil {
			continue
		}
		cv, err := schema.Coerce(k, v)
		if err != nil {
			return nil, err
		}
		props[k] = cv
	}
	if hooks == nil {
		hooks = Hooks{}
	}
	return &Controller{props: props, schema: schema, hooks: hooks}, nil
}

// Props returns the current props. Callers must treat the map as read-only.
func (c *Controller) Props() Props {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props
}

// Get returns one prop value.
func (c *Controller) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props[key]
}

// Next returns the value key will hold once the update in progress commits.
// Outside an update's OnSet phase it is the stored value. OnSet hooks that
// depend on a sibling prop read it through Next.
func (c *Controller) Next(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.staged[key]; ok {
		return v
	}
	return c.props[key]
}

// Schema returns the declared props.
func (c *Controller) Schema() Schema { return c.schema }

// SetProps merges a sparse update. Nil values are ignored. When no value
// differs from the stored one the stored map is returned unchanged and
// changed is false; otherwise a new map holding the merge is committed and
// the props stored after every OnAfterSet hook ran are returned, so a hook
// that writes a dependent prop is reflected in the result.
// The whole update is validated before any hook runs.
func (c *Controller) SetProps(update Props) (props Props, changed bool, err error) {
	c.mu.Lock()
	current := c.props
	c.mu.Unlock()

	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pending := make(map[string]any, len(update))
	var order []string
	for _, k := range keys {
		v := update[k]
		if v == nil {
			continue
		}
		cv, err := c.schema.Coerce(k, v)
		if err != nil {
			return current, false, err
		}
		if reflect.DeepEqual(current[k], cv) {
			continue
		}
		pending[k] = cv
		order = append(order, k)
	}

	c.mu.Lock()
	c.staged = maps.Clone(pending)
	c.mu.Unlock()

	var committed []string
	for _, k := range order {
		v := pending[k]
		if h := c.hooks[k]; h.OnSet != nil {
			v = h.OnSet(v)
			if reflect.DeepEqual(current[k], v) {
				continue
			}
			pending[k] = v
			c.mu.Lock()
			c.staged[k] = v
			c.mu.Unlock()
		}
		committed = append(committed, k)
	}

	c.mu.Lock()
	c.staged = nil
	if len(committed) == 0 {
		c.mu.Unlock()
		return current, false, nil
	}
	next := maps.Clone(c.props)
	for _, k := range committed {
		next[k] = pending[k]
	}
	c.props = next
	c.mu.Unlock()

	for _, k := range committed {
		if h := c.hooks[k]; h.OnAfterSet != nil {
			h.OnAfterSet(pending[k])
		}
	}
	return c.Props(), true, nil
}

// Replay runs every OnAfterSet hook with the stored value, in key order.
// Modules call it once their primitive exists so it reflects every prop.
func (c *Controller) Replay() {
	props := c.Props()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if h := c.hooks[k]; h.OnAfterSet != nil {
			h.OnAfterSet(props[k])
		}
	}
}
