package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// Guard admits at most one run per session within this process
type Guard struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewGuard returns an empty guard
func NewGuard() *Guard {
	return &Guard{active: make(map[uuid.UUID]struct{})}
}

// TryAcquire claims the session. ok is false when a run already holds it.
// release must be called exactly once when the run ends.
func (g *Guard) TryAcquire(sessionID uuid.UUID) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[sessionID]; busy {
		return nil, false
	}
	g.active[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, sessionID)
			g.mu.Unlock()
		})
	}, true
}

// Active reports whether a run currently holds the session
func (g *Guard) Active(sessionID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[sessionID]
	return busy
}

// Len returns the number of sessions currently running
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
