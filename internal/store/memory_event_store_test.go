package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jirayu-w/eventseat/internal/domain"
)

func newStoredEvent(t *testing.T, s *MemoryEventStore, id string, capacity int) *domain.Event {
	t.Helper()

	event := &domain.Event{
		ID:        id,
		Name:      "Test Event",
		Capacity:  capacity,
		StartTime: time.Now().Add(24 * time.Hour),
	}

	if err := s.Create(context.Background(), event); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	return event
}

func TestMemoryEventStore_Create(t *testing.T) {
	s := NewMemoryEventStore()
	event := newStoredEvent(t, s, "evt-1", 10)

	if event.Version != 1 {
		t.Errorf("Version = %d, want 1", event.Version)
	}

	err := s.Create(context.Background(), &domain.Event{ID: "evt-1", Name: "dup", Capacity: 1})
	if !errors.Is(err, domain.ErrEventAlreadyExists) {
		t.Errorf("expected ErrEventAlreadyExists, got %v", err)
	}
}

func TestMemoryEventStore_Get(t *testing.T) {
	s := NewMemoryEventStore()
	newStoredEvent(t, s, "evt-1", 10)

	got, err := s.Get(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "evt-1" || got.Capacity != 10 || got.Version != 1 {
		t.Errorf("unexpected event: %+v", got)
	}

	// Snapshots are isolated from store state
	got.BookedUsers = append(got.BookedUsers, "alice")
	again, _ := s.Get(context.Background(), "evt-1")
	if len(again.BookedUsers) != 0 {
		t.Error("mutating a snapshot affected the stored event")
	}

	_, err = s.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMemoryEventStore_CompareAndSwap(t *testing.T) {
	s := NewMemoryEventStore()
	newStoredEvent(t, s, "evt-1", 10)

	snapshot, _ := s.Get(context.Background(), "evt-1")
	snapshot.BookedUsers = []string{"alice"}

	newVersion, err := s.CompareAndSwap(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if newVersion != 2 {
		t.Errorf("new version = %d, want 2", newVersion)
	}

	// Same stale snapshot again must conflict
	_, err = s.CompareAndSwap(context.Background(), snapshot)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	// Deleted event
	missing := &domain.Event{ID: "missing", Name: "x", Capacity: 1, Version: 1}
	_, err = s.CompareAndSwap(context.Background(), missing)
	if !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMemoryEventStore_CompareAndSwap_Concurrent(t *testing.T) {
	s := NewMemoryEventStore()
	newStoredEvent(t, s, "evt-1", 100)

	const writers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			snapshot, err := s.Get(context.Background(), "evt-1")
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			snapshot.BookedUsers = append(snapshot.BookedUsers, fmt.Sprintf("user-%d", n))

			if _, err := s.CompareAndSwap(context.Background(), snapshot); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrVersionConflict) {
				t.Errorf("unexpected CAS error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	final, _ := s.Get(context.Background(), "evt-1")
	// Every successful CAS bumped the version exactly once
	if final.Version != int64(1+successes) {
		t.Errorf("version = %d, want %d", final.Version, 1+successes)
	}
	if len(final.BookedUsers) > successes {
		t.Errorf("booked %d users from %d successful commits", len(final.BookedUsers), successes)
	}
}

func TestMemoryEventStore_Delete(t *testing.T) {
	s := NewMemoryEventStore()
	newStoredEvent(t, s, "evt-1", 10)

	if err := s.Delete(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if err := s.Delete(context.Background(), "evt-1"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMemoryEventStore_List(t *testing.T) {
	s := NewMemoryEventStore()
	newStoredEvent(t, s, "evt-1", 10)
	newStoredEvent(t, s, "evt-2", 20)

	events, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("List returned %d events, want 2", len(events))
	}
}
