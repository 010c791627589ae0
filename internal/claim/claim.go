// Package claim guarantees at most one in-flight check per page.
//
// A worker claims a slug before fetching and releases it when the attempt is
// recorded or abandoned. Memory covers a single process; Redis covers several
// pollers sharing one store.
package claim

import (
	"context"
	"sync"
)

// Claimer hands out per-slug claims.
type Claimer interface {
	// TryClaim reports whether the caller now holds slug. It never blocks
	// waiting for another holder.
	TryClaim(ctx context.Context, slug string) (bool, error)
	// Release gives up a claim previously obtained with TryClaim.
	Release(ctx context.Context, slug string) error
}

// Memory is an in-process Claimer.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process Claimer.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) TryClaim(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[slug]; ok {
		return false, nil
	}
	m.held[slug] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, slug string) error {
	m.mu.Lock()
	delete(m.held, slug)
	m.mu.Unlock()
	return nil
}

// Held returns the number of outstanding claims.
func (m *Memory) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
