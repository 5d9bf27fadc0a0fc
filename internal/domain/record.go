package domain

import "time"

// RecordStatus is the lifecycle state of a user's relationship to an event
type RecordStatus string

const (
	RecordStatusBooked    RecordStatus = "BOOKED"
	RecordStatusWaiting   RecordStatus = "WAITING"
	RecordStatusCancelled RecordStatus = "CANCELLED"
	RecordStatusPromoted  RecordStatus = "PROMOTED"
	RecordStatusRemoved   RecordStatus = "REMOVED"
)

// IsActive reports whether the status represents a live claim on the event
func (s RecordStatus) IsActive() bool {
	return s == RecordStatusBooked || s == RecordStatusWaiting || s == RecordStatusPromoted
}

// IsValid reports whether the status is a known value
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordStatusBooked, RecordStatusWaiting, RecordStatusCancelled,
		RecordStatusPromoted, RecordStatusRemoved:
		return true
	}
	return false
}

// BookingRecord is a derived per-user view of event state, maintained by the
// ledger. Records are keyed by (event, user) and stamped with the event
// version that produced them so stale writes can be discarded.
type BookingRecord struct {
	EventID    string       `json:"event_id"`
	UserID     string       `json:"user_id"`
	Status     RecordStatus `json:"status"`
	EventName  string       `json:"event_name"`
	EventStart time.Time    `json:"event_start"`

	// WaitlistPosition is the 1-based position, 0 unless Status is WAITING
	WaitlistPosition int `json:"waitlist_position,omitempty"`

	// EventVersion is the version of the event state this record reflects
	EventVersion int64 `json:"event_version"`

	UpdatedAt time.Time `json:"updated_at"`
}
