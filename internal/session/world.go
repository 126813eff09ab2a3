package session

import (
	"sync"

	"github.com/YuhIcey/staterelay/internal/protocol"
)

// World holds the single shared world-state instance. Updates are
// last-writer-wins: no versioning, no conflict rejection.
type World struct {
	mu    sync.RWMutex
	state protocol.WorldState
}

// NewWorld creates an empty world store.
func NewWorld() *World {
	return &World{}
}

// Set replaces the world state.
func (w *World) Set(state protocol.WorldState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Get returns a copy of the current world state.
func (w *World) Get() protocol.WorldState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}
