// Package shutdown provides the process-wide graceful termination primitives
// shared by every rustyrobot service.
//
// A single Coordinator is created in main, its Handle is passed to every
// long-running component, and a SIGINT hook calls Shutdown. All loops in the
// engine poll ShouldShutdown at their iteration boundary; in-flight work is
// allowed to complete.
package shutdown

import (
	"fmt"
	"sync"

	eve "github.com/rustyrobot/rustyrobot/common"
)

// Coordinator owns the process-wide shutdown flag and the registry of named
// running worker slots. It is safe for concurrent use; Handle values share
// the underlying state.
type Coordinator struct {
	mu       sync.RWMutex
	workers  map[string]struct{}
	shutdown bool
}

// New creates a Coordinator with the shutdown flag cleared.
func New() *Coordinator {
	return &Coordinator{
		workers: make(map[string]struct{}),
	}
}

// Handle returns a shareable view of the coordinator for worker threads.
func (c *Coordinator) Handle() *Handle {
	return &Handle{c: c}
}

// Shutdown requests graceful termination. The flag is monotonic: once set it
// is never cleared.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
}

// ShouldShutdown reports whether termination has been requested.
func (c *Coordinator) ShouldShutdown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdown
}

// Running lists the names of currently registered worker slots.
func (c *Coordinator) Running() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.workers))
	for name := range c.workers {
		names = append(names, name)
	}
	return names
}

// RunningCount returns the number of registered worker slots.
func (c *Coordinator) RunningCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.workers)
}

// Handle is a clonable reference to a Coordinator handed to worker
// goroutines.
type Handle struct {
	c *Coordinator
}

// Started registers a named worker slot and returns a lock whose Release
// deregisters it. Release must be deferred on the worker's goroutine so the
// slot is freed on every exit path.
//
// A duplicate name is a programming error and panics.
func (h *Handle) Started(name string) *StartedLock {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if _, exists := h.c.workers[name]; exists {
		panic(fmt.Sprintf("worker name collision on %q", name))
	}
	h.c.workers[name] = struct{}{}
	eve.Logger.WithField("worker", name).Info("worker started")
	return &StartedLock{name: name, handle: h}
}

// ShouldShutdown reports whether termination has been requested.
func (h *Handle) ShouldShutdown() bool {
	return h.c.ShouldShutdown()
}

// Shutdown requests graceful termination through the handle.
func (h *Handle) Shutdown() {
	h.c.Shutdown()
}

// Running lists the names of currently registered worker slots.
func (h *Handle) Running() []string {
	return h.c.Running()
}

// StartedLock represents a registered worker slot.
type StartedLock struct {
	name    string
	handle  *Handle
	release sync.Once
}

// Release deregisters the worker slot. Safe to call more than once.
func (l *StartedLock) Release() {
	l.release.Do(func() {
		l.handle.c.mu.Lock()
		defer l.handle.c.mu.Unlock()
		delete(l.handle.c.workers, l.name)
		eve.Logger.WithField("worker", l.name).Info("worker stopped")
	})
}
