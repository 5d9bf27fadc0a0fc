package store

import (
	"context"

	"github.com/jirayu-w/eventseat/internal/domain"
)

// EventStore persists event aggregates with optimistic concurrency control.
// Each event carries a version counter; CompareAndSwap commits a new state
// only if the stored version still matches the version the caller read.
type EventStore interface {
	// Create persists a new event at version 1.
	// Returns domain.ErrEventAlreadyExists if the ID is taken.
	Create(ctx context.Context, event *domain.Event) error

	// Get returns a snapshot of the event.
	// Returns domain.ErrEventNotFound if it does not exist.
	Get(ctx context.Context, eventID string) (*domain.Event, error)

	// List returns snapshots of all events, in no particular order.
	List(ctx context.Context) ([]*domain.Event, error)

	// CompareAndSwap atomically replaces the stored state if the stored
	// version equals event.Version, committing at event.Version+1. The new
	// version is returned on success.
	// Returns domain.ErrVersionConflict if the version moved,
	// domain.ErrEventNotFound if the event was deleted.
	CompareAndSwap(ctx context.Context, event *domain.Event) (int64, error)

	// Delete removes the event.
	// Returns domain.ErrEventNotFound if it does not exist.
	Delete(ctx context.Context, eventID string) error
}

// Ledger maintains derived per-user booking records, written after a
// successful commit. Writes carry the committing event version; an
// implementation must discard writes older than what it already holds.
type Ledger interface {
	// Append upserts records, discarding any whose EventVersion is not
	// newer than the stored one for the same (event, user) pair.
	Append(ctx context.Context, records []*domain.BookingRecord) error

	// SyncWaitlist rewrites waitlist positions for an event to match
	// orderedUsers, stamped with the committing version.
	SyncWaitlist(ctx context.Context, eventID string, orderedUsers []string, version int64) error

	// ActiveRecordsFor returns the user's live records (booked, waiting or
	// promoted), upcoming events first ordered by start time, past events
	// last.
	ActiveRecordsFor(ctx context.Context, userID string) ([]*domain.BookingRecord, error)

	// RecordsForEvent returns all records for an event, any status.
	RecordsForEvent(ctx context.Context, eventID string) ([]*domain.BookingRecord, error)

	// PurgeEvent removes all records for a deleted event.
	PurgeEvent(ctx context.Context, eventID string) error
}
