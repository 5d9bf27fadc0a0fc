package domain

import "time"

// ReservationEventType identifies a state change published to Kafka
type ReservationEventType string

const (
	ReservationEventBooked          ReservationEventType = "reservation.booked"
	ReservationEventWaitlisted      ReservationEventType = "reservation.waitlisted"
	ReservationEventCancelled       ReservationEventType = "reservation.cancelled"
	ReservationEventPromoted        ReservationEventType = "reservation.promoted"
	ReservationEventWaitlistLeft    ReservationEventType = "reservation.waitlist_left"
	ReservationEventCreated         ReservationEventType = "event.created"
	ReservationEventDeleted         ReservationEventType = "event.deleted"
	ReservationEventCapacityChanged ReservationEventType = "event.capacity_changed"
)

// ReservationEvent is the payload published after each committed change
type ReservationEvent struct {
	ID        string               `json:"id"`
	Type      ReservationEventType `json:"type"`
	EventID   string               `json:"event_id"`
	UserID    string               `json:"user_id,omitempty"`
	Capacity  int                  `json:"capacity"`
	Booked    int                  `json:"booked"`
	Waiting   int                  `json:"waiting"`
	Version   int64                `json:"version"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewReservationEvent builds the payload for a committed event state
func NewReservationEvent(eventType ReservationEventType, event *Event, userID, payloadID string) *ReservationEvent {
	return &ReservationEvent{
		ID:        payloadID,
		Type:      eventType,
		EventID:   event.ID,
		UserID:    userID,
		Capacity:  event.Capacity,
		Booked:    len(event.BookedUsers),
		Waiting:   len(event.Waitlist),
		Version:   event.Version,
		Timestamp: time.Now().UTC(),
	}
}

// Key returns the partition key. Keying by event ID keeps all changes of
// one event ordered within a partition.
func (e *ReservationEvent) Key() string {
	return e.EventID
}
