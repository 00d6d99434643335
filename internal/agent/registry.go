package agent

import (
	"log/slog"
	"sync"
)

// Factory builds a session bound to a working directory.
type Factory func(workDir string) *Session

// Registry holds at most one live session at a time, keyed by working
// directory. Requesting a session for a different directory tears the
// current one down synchronously before the new one is created.
type Registry struct {
	mu      sync.Mutex
	current *Session
	factory Factory
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory}
}

// GetOrCreate returns the live session when it is already bound to workDir,
// otherwise recycles it for the new directory.
func (r *Registry) GetOrCreate(workDir string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if r.current.WorkDir() == workDir {
			return r.current
		}
		slog.Info("Recycling agent session", "from", r.current.WorkDir(), "to", workDir)
		r.current.Shutdown()
	}
	r.current = r.factory(workDir)
	return r.current
}

// Current returns the live session, or nil when none exists yet.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// KillCurrent kills the live session's subprocess if one is running.
// The session binding survives; the next Send respawns.
func (r *Registry) KillCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Kill()
	}
}
