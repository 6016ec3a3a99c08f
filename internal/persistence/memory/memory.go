// Package memory is an in-process persistence backend for tests and local
// development. Contents are lost when the process exits.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/utafrali/storefront-cart/internal/persistence"
)

// Backend keeps every client's keys in a map.
type Backend struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{data: make(map[string]map[string][]byte)}
}

// Scope returns the store for clientID.
func (b *Backend) Scope(clientID string) persistence.Store {
	return &store{backend: b, clientID: clientID}
}

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) Close() error { return nil }

// Clients returns the ids that currently hold at least one key.
func (b *Backend) Clients() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.data))
	for id := range b.data {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type store struct {
	backend  *Backend
	clientID string
}

func (s *store) Get(_ context.Context, key string) ([]byte, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	v, ok := s.backend.data[s.clientID][key]
	if !ok {
		return nil, persistence.ErrKeyNotFound
	}
	return slices.Clone(v), nil
}

func (s *store) Set(_ context.Context, key string, value []byte) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	keys, ok := s.backend.data[s.clientID]
	if !ok {
		keys = make(map[string][]byte, len(persistence.Keys))
		s.backend.data[s.clientID] = keys
	}
	keys[key] = slices.Clone(value)
	return nil
}

func (s *store) Delete(_ context.Context, key string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	keys := s.backend.data[s.clientID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.backend.data, s.clientID)
	}
	return nil
}
