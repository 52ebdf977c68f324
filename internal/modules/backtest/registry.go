package backtest

import (
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned when a second run is started while one is
// active.
var ErrAlreadyRunning = errors.New("a backtest is already running")

// Handle is the cancellable reference to an in-flight run
type Handle struct {
	ID string

	mu        sync.Mutex
	cancelled bool
}

// Cancel flips the flag the runner polls at each day boundary
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

// Cancelled reports whether the run should stop
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Registry is the process-wide active-backtest cell. At most one run is
// active at a time.
type Registry struct {
	mu     sync.Mutex
	active *Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Acquire registers a new run, failing if one is already active
func (r *Registry) Acquire(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrAlreadyRunning
	}
	r.active = &Handle{ID: id}
	return r.active, nil
}

// Active returns the current handle, or nil
func (r *Registry) Active() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Cancel cancels the active run, if any, and reports whether one existed
func (r *Registry) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return false
	}
	r.active.Cancel()
	return true
}

// Release clears the active handle after teardown
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == h {
		r.active = nil
	}
}
