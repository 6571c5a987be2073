package kv

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory is a process-local Backend. Tests use SetOffline to simulate an
// unreachable tier.
type Memory struct {
	name    string
	mu      sync.RWMutex
	values  map[string]string
	offline atomic.Bool
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory backend reporting the given name.
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{name: name, values: make(map[string]string)}
}

func (m *Memory) Name() string { return m.name }

// SetOffline makes every subsequent call fail with ErrUnavailable until it
// is switched back.
func (m *Memory) SetOffline(offline bool) { m.offline.Store(offline) }

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if m.offline.Load() {
		return "", false, ErrUnavailable
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	if m.offline.Load() {
		return ErrUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Len reports how many keys are held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
