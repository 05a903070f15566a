// Package objectstore resolves the immutable target objects that notes
// attach to. The annotation store never creates or mutates targets; it only
// checks that they exist before linking a note to them.
package objectstore

import (
	"context"
	"sync"
)

// Store answers existence queries for target object ids.
type Store interface {
	Exists(ctx context.Context, targetID string) (bool, error)
}

// AllowAll accepts every non-empty target id. Used when target existence
// is validated upstream of the annotation store.
type AllowAll struct{}

// Exists accepts any non-empty id.
func (AllowAll) Exists(_ context.Context, targetID string) (bool, error) {
	return targetID != "", nil
}

// Mem is an in-memory Store for tests and deployments where targets are
// registered out of band.
type Mem struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMem creates an empty in-memory target store.
func NewMem() *Mem {
	return &Mem{ids: make(map[string]struct{})}
}

// Add registers a target id.
func (m *Mem) Add(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[targetID] = struct{}{}
}

// Exists reports whether the target id has been registered.
func (m *Mem) Exists(_ context.Context, targetID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[targetID]
	return ok, nil
}
