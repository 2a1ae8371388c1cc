package engine

import (
	"errors"
	"fmt"

	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/transport"
)

// Serialized is the persistence record of a whole patch.
type Serialized struct {
	BPM           float64                 `json:"bpm"`
	TimeSignature transport.TimeSignature `json:"timeSignature"`
	Modules       []module.Serialized     `json:"modules"`
	Routes        []module.Route          `json:"routes"`
}

// Serialize snapshots the patch.
func (e *Engine) Serialize() Serialized {
	s := Serialized{
		BPM:           e.tr.BPM(),
		TimeSignature: e.tr.TimeSignature(),
		Modules:       []module.Serialized{},
		Routes:        e.Routes(),
	}
	for _, m := range e.Modules() {
		s.Modules = append(s.Modules, m.Serialize())
	}
	return s
}

// Load replaces the patch with s. Modules are created before routes; the
// first failing module or route aborts the load and is returned, leaving
// what was already loaded in place.
func (e *Engine) Load(s Serialized) error {
	if err := e.Clear(); err != nil {
		return err
	}
	if s.BPM > 0 {
		if err := e.tr.SetBPM(s.BPM); err != nil {
			return err
		}
	}
	if s.TimeSignature != (transport.TimeSignature{}) {
		if err := e.tr.SetTimeSignature(s.TimeSignature); err != nil {
			return err
		}
	}
	for _, m := range s.Modules {
		spec := ModuleSpec{ID: m.ID, ModuleType: m.ModuleType, Name: m.Name, Props: m.Props}
		if _, err := e.AddModule(spec); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}
	for _, r := range s.Routes {
		if _, err := e.AddRoute(r); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}
	e.log.WithField("modules", len(s.Modules)).Info("patch loaded")
	return nil
}

// Clear removes every module and route and stops the transport.
func (e *Engine) Clear() error {
	e.Stop()
	var errs []error
	for _, m := range e.Modules() {
		if err := e.RemoveModule(m.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
