// Package audit persists the event log. The bus keeps only a bounded
// retention window; the audit store is the durable, append-only record
// observers query for trace history and replay.
package audit

import (
	"context"
	"sync"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Store is an append-only event sink with query-by-trace-id.
type Store interface {
	Append(ctx context.Context, events []model.Event) error
	EventsByTrace(ctx context.Context, traceID string, limit int) ([]model.Event, error)
	Close()
}

// MemoryStore keeps the audit log in memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []model.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) EventsByTrace(_ context.Context, traceID string, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for _, ev := range s.events {
		if ev.TraceID == traceID {
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() {}

// Len returns the total number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
