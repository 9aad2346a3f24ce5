// Package cursor persists the event poller's position so a restarted poller
// resumes from the last fully processed block instead of re-reading history
// or skipping ahead.
package cursor

import (
	"context"
	"sync"
)

// Store persists a single monotonic block cursor.
type Store interface {
	// Load returns the persisted cursor. ok is false when no cursor has
	// been saved yet.
	Load(ctx context.Context) (block uint64, ok bool, err error)

	// Save records the cursor. Called only after a block range has been
	// fully emitted to subscribers.
	Save(ctx context.Context, block uint64) error

	// Close releases any resources held by the store.
	Close() error
}

// Memory is an in-process store for tests and ephemeral runs.
type Memory struct {
	mu    sync.Mutex
	block uint64
	set   bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block, m.set, nil
}

func (m *Memory) Save(ctx context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = block
	m.set = true
	return nil
}

func (m *Memory) Close() error { return nil }
