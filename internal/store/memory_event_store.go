package store

import (
	"context"
	"sync"
	"time"

	"github.com/jirayu-w/eventseat/internal/domain"
)

// MemoryEventStore is an in-memory EventStore, used in tests and
// single-process deployments
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*domain.Event
}

var _ EventStore = (*MemoryEventStore)(nil)

// NewMemoryEventStore creates an empty in-memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[string]*domain.Event),
	}
}

// Create persists a new event at version 1
func (s *MemoryEventStore) Create(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return domain.ErrEventAlreadyExists
	}

	stored := event.Clone()
	stored.Version = 1
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.events[event.ID] = stored
	event.Version = stored.Version
	return nil
}

// Get returns a snapshot of the event
func (s *MemoryEventStore) Get(ctx context.Context, eventID string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[eventID]
	if !exists {
		return nil, domain.ErrEventNotFound
	}

	return event.Clone(), nil
}

// List returns snapshots of all events
func (s *MemoryEventStore) List(ctx context.Context) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*domain.Event, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, event.Clone())
	}

	return events, nil
}

// CompareAndSwap commits the new state if the stored version still matches
func (s *MemoryEventStore) CompareAndSwap(ctx context.Context, event *domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.events[event.ID]
	if !exists {
		return 0, domain.ErrEventNotFound
	}

	if stored.Version != event.Version {
		return 0, domain.ErrVersionConflict
	}

	committed := event.Clone()
	committed.Version = stored.Version + 1
	committed.CreatedAt = stored.CreatedAt
	committed.UpdatedAt = time.Now().UTC()

	s.events[event.ID] = committed
	return committed.Version, nil
}

// Delete removes the event
func (s *MemoryEventStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[eventID]; !exists {
		return domain.ErrEventNotFound
	}

	delete(s.events, eventID)
	return nil
}
