package scheduler

import (
	"context"
	"sync"
)

// Guard prevents overlapping executions of the same job name.
// Acquire never blocks waiting for a running job: it reports ok=false instead.
type Guard interface {
	Acquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// MemoryGuard is the in-process run-guard: one running flag per job name.
// It does not protect against a second scheduler process; see lease.RedisGuard for that.
type MemoryGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewMemoryGuard creates an empty in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{running: make(map[string]bool)}
}

// Acquire sets the running flag for name if it is clear.
func (g *MemoryGuard) Acquire(_ context.Context, name string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[name] {
		return nil, false, nil
	}
	g.running[name] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, name)
			g.mu.Unlock()
		})
	}
	return release, true, nil
}

// Running reports whether name currently holds the guard.
func (g *MemoryGuard) Running(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[name]
}
