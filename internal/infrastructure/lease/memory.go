// Package lease implements the coordination store holding the
// single-owner session lease per stream. A lease is one record keyed by
// stream id whose value is the owning session's token; acquiring always
// overwrites, so the most recent acquirer is authoritative and an older
// session discovers supersession on its next check. TTL expiry reclaims
// leases abandoned by crashed instances.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/datacatalyst/streamhub/internal/domain"
)

type memoryRecord struct {
	token   string
	expires time.Time
}

// MemoryStore is an in-process LeaseStore. Suitable for tests and
// single-instance deployments; multi-instance fleets use the Postgres
// store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[domain.StreamID]memoryRecord
	ttl     time.Duration
	clock   clock.Clock
}

// NewMemoryStore returns an in-memory lease store with the given TTL.
// A nil clk means the wall clock.
func NewMemoryStore(ttl time.Duration, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MemoryStore{
		records: make(map[domain.StreamID]memoryRecord),
		ttl:     ttl,
		clock:   clk,
	}
}

// Acquire writes a fresh token for the stream, overwriting any holder.
func (s *MemoryStore) Acquire(ctx context.Context, id domain.StreamID) (string, error) {
	token := uuid.New().String()
	s.mu.Lock()
	s.records[id] = memoryRecord{token: token, expires: s.clock.Now().Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

// Check reports whether token still owns the stream's lease.
func (s *MemoryStore) Check(ctx context.Context, id domain.StreamID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}
	if !rec.expires.After(s.clock.Now()) {
		delete(s.records, id)
		return false, nil
	}
	return rec.token == token, nil
}

// Release deletes the lease if token still owns it.
func (s *MemoryStore) Release(ctx context.Context, id domain.StreamID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.token == token {
		delete(s.records, id)
	}
	return nil
}
