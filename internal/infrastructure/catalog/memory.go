// Package catalog provides read access to saved stream definitions and
// the best-effort connected flag written back at session start/stop.
package catalog

import (
	"context"
	"sync"

	"github.com/datacatalyst/streamhub/internal/domain"
)

// MemoryStore is an in-process CatalogStore for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*domain.StreamDefinition
}

// NewMemoryStore returns an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[domain.StreamID]*domain.StreamDefinition)}
}

// Put registers or replaces a stream definition.
func (s *MemoryStore) Put(def *domain.StreamDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *def
	s.streams[def.ID] = &copied
}

// Stream fetches a definition by id.
func (s *MemoryStore) Stream(ctx context.Context, id domain.StreamID) (*domain.StreamDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.streams[id]
	if !ok {
		return nil, domain.NewStreamNotFoundError(id)
	}
	copied := *def
	return &copied, nil
}

// SetConnected updates the display-only connected flag.
func (s *MemoryStore) SetConnected(ctx context.Context, id domain.StreamID, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.streams[id]
	if !ok {
		return domain.NewStreamNotFoundError(id)
	}
	def.Connected = connected
	return nil
}
