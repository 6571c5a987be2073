package kv

import (
	"context"
	"fmt"
)

// Store renders logical Keys into physical keys and delegates to a Backend,
// usually a Chain.
type Store struct {
	backend   Backend
	namespace string
}

// NewStore wraps backend. An empty namespace selects DefaultNamespace.
func NewStore(backend Backend, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{backend: backend, namespace: namespace}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// Path returns the physical key for k.
func (s *Store) Path(k Key) string { return k.Render(s.namespace) }

// Get returns the value stored under k and whether one exists.
func (s *Store) Get(ctx context.Context, k Key) (string, bool, error) {
	v, ok, err := s.backend.Get(ctx, s.Path(k))
	if err != nil {
		return "", false, fmt.Errorf("kv: get %s: %w", s.Path(k), err)
	}
	return v, ok, nil
}

// Set stores value under k. A *WriteError may be returned even though the
// value landed somewhere; inspect it with errors.As.
func (s *Store) Set(ctx context.Context, k Key, value string) error {
	return s.backend.Set(ctx, s.Path(k), value)
}
