package engine

import "sync/atomic"

var current atomic.Pointer[Engine]

// SetCurrent installs e as the process-wide engine used by command-line
// and export tooling. Library code receives engines explicitly.
func SetCurrent(e *Engine) { current.Store(e) }

// Current returns the engine installed by SetCurrent.
func Current() (*Engine, bool) {
	e := current.Load()
	return e, e != nil
}
