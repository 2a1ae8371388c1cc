package module

import "fmt"

// Endpoint addresses a port by module id and port name.
type Endpoint struct {
	ModuleID string `json:"moduleId"`
	PortName string `json:"portName"`
}

func (e Endpoint) String() string { return e.ModuleID + "." + e.PortName }

// Route is a directed edge from an output port to an input port.
type Route struct {
	ID          string   `json:"id"`
	Source      Endpoint `json:"source"`
	Destination Endpoint `json:"destination"`
}

// Touches reports whether either end of r is on module id.
func (r Route) Touches(id string) bool {
	return r.Source.ModuleID == id || r.Destination.ModuleID == id
}

// Finder looks modules up by id.
type Finder interface {
	FindModule(id string) (Module, error)
}

// ResolvePort finds the port an endpoint names.
func ResolvePort(f Finder, ep Endpoint, dir Direction) (*Port, error) {
	if ep.ModuleID == "" || ep.PortName == "" {
		return nil, fmt.Errorf("endpoint %q: %w", ep, ErrInvalidRoute)
	}
	m, err := f.FindModule(ep.ModuleID)
	if err != nil {
		return nil, err
	}
	p, ok := m.Port(dir, ep.PortName)
	if !ok {
		return nil, fmt.Errorf("%s port %q on %s: %w", dir, ep.PortName, ep.ModuleID, ErrPortNotFound)
	}
	return p, nil
}

// ResolveRoute finds both ports of r.
func ResolveRoute(f Finder, r Route) (src, dst *Port, err error) {
	if src, err = ResolvePort(f, r.Source, Output); err != nil {
		return nil, nil, err
	}
	if dst, err = ResolvePort(f, r.Destination, Input); err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}
