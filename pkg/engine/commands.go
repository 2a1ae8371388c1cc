package engine

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/sirupsen/logrus"
)

// ModuleSpec is the command payload of AddModule and UpdateModule.
type ModuleSpec struct {
	ID         string       `json:"id,omitempty"`
	ModuleType string       `json:"moduleType,omitempty"`
	Name       string       `json:"name,omitempty"`
	Props      module.Props `json:"props,omitempty"`
}

// lockedFinder resolves modules while e.mu is already held.
type lockedFinder struct{ e *Engine }

func (f lockedFinder) FindModule(id string) (module.Module, error) {
	m, ok := f.e.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, module.ErrNotFound)
	}
	return m, nil
}

// FindModule returns the module with the given id.
func (e *Engine) FindModule(id string) (module.Module, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return lockedFinder{e}.FindModule(id)
}

// Modules returns every module in creation order.
func (e *Engine) Modules() []module.Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modulesLocked()
}

func (e *Engine) modulesLocked() []module.Module {
	out := make([]module.Module, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.modules[id])
	}
	return out
}

// AddModule creates, activates and registers a module. An empty id is
// replaced by a random one.
func (e *Engine) AddModule(spec ModuleSpec) (module.Serialized, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	e.mu.RLock()
	_, exists := e.modules[spec.ID]
	disposed := e.disposed
	e.mu.RUnlock()
	if disposed {
		return module.Serialized{}, ErrDisposed
	}
	if exists {
		return module.Serialized{}, fmt.Errorf("module %s: %w", spec.ID, ErrDuplicateID)
	}

	m, err := e.registry.Create(e, spec.ModuleType, module.Config{ID: spec.ID, Name: spec.Name, Props: spec.Props})
	if err != nil {
		return module.Serialized{}, fmt.Errorf("add module: %w", err)
	}
	if err := m.Activate(); err != nil {
		m.Dispose()
		return module.Serialized{}, fmt.Errorf("add module: %w", err)
	}

	e.mu.Lock()
	if _, exists := e.modules[spec.ID]; exists {
		e.mu.Unlock()
		m.Dispose()
		return module.Serialized{}, fmt.Errorf("module %s: %w", spec.ID, ErrDuplicateID)
	}
	e.modules[spec.ID] = m
	e.order = append(e.order, spec.ID)
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"module": spec.ID, "moduleType": spec.ModuleType}).Info("module added")
	return m.Serialize(), nil
}

// UpdateModule renames a module and applies a sparse props update.
func (e *Engine) UpdateModule(spec ModuleSpec) (module.Serialized, error) {
	m, err := e.FindModule(spec.ID)
	if err != nil {
		return module.Serialized{}, err
	}
	if spec.ModuleType != "" && spec.ModuleType != m.Type() {
		return module.Serialized{}, fmt.Errorf("module %s is a %s, not a %s: %w", spec.ID, m.Type(), spec.ModuleType, module.ErrInvalidProp)
	}
	if spec.Name != "" {
		m.SetName(spec.Name)
	}
	if len(spec.Props) > 0 {
		if _, err := e.UpdateModuleProps(spec.ID, spec.Props); err != nil {
			return module.Serialized{}, err
		}
	}
	return m.Serialize(), nil
}

type controlled interface {
	Controller() *module.Controller
}

// UpdateModuleProps writes props through the module's setters and notifies
// subscribers when anything changed.
func (e *Engine) UpdateModuleProps(id string, props module.Props) (module.Props, error) {
	m, err := e.FindModule(id)
	if err != nil {
		return nil, err
	}
	var (
		next    module.Props
		changed = true
	)
	if c, ok := m.(controlled); ok {
		next, changed, err = c.Controller().SetProps(props)
	} else {
		next, err = m.SetProps(props)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if changed {
		e.notify(PropsUpdate{ModuleID: id, Props: next})
	}
	return next, nil
}

// RemoveModule severs every route touching the module and disposes it.
func (e *Engine) RemoveModule(id string) error {
	var (
		m       module.Module
		severed int
	)
	err := e.ctx.Atomically(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		var ok bool
		if m, ok = e.modules[id]; !ok {
			return fmt.Errorf("module %s: %w", id, module.ErrNotFound)
		}
		for _, rid := range e.routeOrder {
			r := e.routes[rid]
			if !r.Touches(id) {
				continue
			}
			src, dst, err := module.ResolveRoute(lockedFinder{e}, r)
			if err == nil {
				err = module.Unlink(src, dst)
			}
			if err != nil {
				e.log.WithError(err).WithField("route", rid).Warn("unlink route")
			}
			delete(e.routes, rid)
			severed++
		}
		e.routeOrder = slices.DeleteFunc(e.routeOrder, func(rid string) bool {
			_, ok := e.routes[rid]
			return !ok
		})
		delete(e.modules, id)
		e.order = slices.DeleteFunc(e.order, func(mid string) bool { return mid == id })
		return nil
	})
	if err != nil {
		return err
	}
	m.Dispose()
	e.log.WithFields(logrus.Fields{"module": id, "routes": severed}).Info("module removed")
	return nil
}

// Routes returns every route in creation order.
func (e *Engine) Routes() []module.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]module.Route, 0, len(e.routeOrder))
	for _, id := range e.routeOrder {
		out = append(out, e.routes[id])
	}
	return out
}

// RoutesFor returns every route touching the module.
func (e *Engine) RoutesFor(moduleID string) []module.Route {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []module.Route
	for _, id := range e.routeOrder {
		if r := e.routes[id]; r.Touches(moduleID) {
			out = append(out, r)
		}
	}
	return out
}

// FindRoute returns the route with the given id.
func (e *Engine) FindRoute(id string) (module.Route, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.routes[id]
	if !ok {
		return module.Route{}, fmt.Errorf("route %s: %w", id, module.ErrNotFound)
	}
	return r, nil
}

// AddRoute validates both endpoints and links them. Nothing in the graph
// changes unless every check passes.
func (e *Engine) AddRoute(r module.Route) (module.Route, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	// lock order is render batch first, then the registry
	err := e.ctx.Atomically(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.disposed {
			return ErrDisposed
		}
		if _, exists := e.routes[r.ID]; exists {
			return fmt.Errorf("route %s: %w", r.ID, ErrDuplicateID)
		}
		src, dst, err := module.ResolveRoute(lockedFinder{e}, r)
		if err != nil {
			return fmt.Errorf("route %s: %w: %w", r.ID, module.ErrInvalidRoute, err)
		}
		if err := module.CanLink(src, dst); err != nil {
			return fmt.Errorf("route %s: %w", r.ID, err)
		}
		for _, end := range []string{r.Source.ModuleID, r.Destination.ModuleID} {
			select {
			case <-e.modules[end].Ready():
			default:
				return fmt.Errorf("route %s: %s: %w", r.ID, end, module.ErrNotReady)
			}
		}
		if err := module.Link(src, dst); err != nil {
			return fmt.Errorf("route %s: %w", r.ID, err)
		}
		e.routes[r.ID] = r
		e.routeOrder = append(e.routeOrder, r.ID)
		return nil
	})
	if err != nil {
		return module.Route{}, err
	}
	e.log.WithFields(logrus.Fields{"route": r.ID, "from": r.Source.String(), "to": r.Destination.String()}).Debug("route added")
	return r, nil
}

// RemoveRoute unlinks and forgets a route.
func (e *Engine) RemoveRoute(id string) error {
	return e.ctx.Atomically(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		r, ok := e.routes[id]
		if !ok {
			return fmt.Errorf("route %s: %w", id, module.ErrNotFound)
		}
		delete(e.routes, id)
		e.routeOrder = slices.DeleteFunc(e.routeOrder, func(rid string) bool { return rid == id })
		src, dst, err := module.ResolveRoute(lockedFinder{e}, r)
		if err == nil {
			err = module.Unlink(src, dst)
		}
		if err != nil {
			return fmt.Errorf("remove route %s: %w", id, err)
		}
		return nil
	})
}
