package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jirayu-w/eventseat/internal/domain"
)

type recordKey struct {
	eventID string
	userID  string
}

// MemoryLedger is an in-memory Ledger, used in tests and single-process
// deployments
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[recordKey]*domain.BookingRecord
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[recordKey]*domain.BookingRecord),
	}
}

// Append upserts records, discarding stale versions
func (l *MemoryLedger) Append(ctx context.Context, records []*domain.BookingRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range records {
		key := recordKey{eventID: record.EventID, userID: record.UserID}

		if existing, ok := l.records[key]; ok && existing.EventVersion >= record.EventVersion {
			continue
		}

		stored := *record
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now().UTC()
		}
		l.records[key] = &stored
	}

	return nil
}

// SyncWaitlist rewrites waitlist positions for the event
func (l *MemoryLedger) SyncWaitlist(ctx context.Context, eventID string, orderedUsers []string, version int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, userID := range orderedUsers {
		key := recordKey{eventID: eventID, userID: userID}
		existing, ok := l.records[key]
		if !ok || existing.EventVersion > version {
			continue
		}

		updated := *existing
		updated.Status = domain.RecordStatusWaiting
		updated.WaitlistPosition = i + 1
		updated.EventVersion = version
		updated.UpdatedAt = time.Now().UTC()
		l.records[key] = &updated
	}

	return nil
}

// ActiveRecordsFor returns the user's live records, upcoming first
func (l *MemoryLedger) ActiveRecordsFor(ctx context.Context, userID string) ([]*domain.BookingRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []*domain.BookingRecord
	for _, record := range l.records {
		if record.UserID == userID && record.Status.IsActive() {
			clone := *record
			records = append(records, &clone)
		}
	}

	SortByEventStart(records, time.Now())
	return records, nil
}

// RecordsForEvent returns all records for an event
func (l *MemoryLedger) RecordsForEvent(ctx context.Context, eventID string) ([]*domain.BookingRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []*domain.BookingRecord
	for _, record := range l.records {
		if record.EventID == eventID {
			clone := *record
			records = append(records, &clone)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
	return records, nil
}

// PurgeEvent removes all records for the event
func (l *MemoryLedger) PurgeEvent(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.records {
		if key.eventID == eventID {
			delete(l.records, key)
		}
	}

	return nil
}

// SortByEventStart orders records with upcoming events first by start time,
// then past events, most recent first
func SortByEventStart(records []*domain.BookingRecord, now time.Time) {
	sort.SliceStable(records, func(i, j int) bool {
		iPast := records[i].EventStart.Before(now)
		jPast := records[j].EventStart.Before(now)
		if iPast != jPast {
			return !iPast
		}
		if iPast {
			return records[i].EventStart.After(records[j].EventStart)
		}
		return records[i].EventStart.Before(records[j].EventStart)
	})
}
