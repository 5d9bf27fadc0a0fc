package domain

import (
	"slices"
	"time"
)

// Event is the unit of consistency for reservations. Booked users, the
// waitlist, capacity, and the version counter always change together in a
// single committed write.
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Venue       string    `json:"venue"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`

	// Capacity is the maximum number of booked users, never negative
	Capacity int `json:"capacity"`

	// BookedUsers holds confirmed user IDs, no duplicates,
	// len(BookedUsers) <= Capacity
	BookedUsers []string `json:"booked_users"`

	// Waitlist holds waiting user IDs in FIFO order, no duplicates,
	// disjoint from BookedUsers
	Waitlist []string `json:"waitlist"`

	// Version increments on every committed state change
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasBooked reports whether the user holds a confirmed booking
func (e *Event) HasBooked(userID string) bool {
	return slices.Contains(e.BookedUsers, userID)
}

// IsWaitlisted reports whether the user is on the waitlist
func (e *Event) IsWaitlisted(userID string) bool {
	return slices.Contains(e.Waitlist, userID)
}

// WaitlistPosition returns the user's 1-based position in the waitlist,
// or 0 if the user is not waiting
func (e *Event) WaitlistPosition(userID string) int {
	if i := slices.Index(e.Waitlist, userID); i >= 0 {
		return i + 1
	}
	return 0
}

// IsFull reports whether all capacity is taken
func (e *Event) IsFull() bool {
	return len(e.BookedUsers) >= e.Capacity
}

// SeatsAvailable returns the number of unclaimed seats
func (e *Event) SeatsAvailable() int {
	if n := e.Capacity - len(e.BookedUsers); n > 0 {
		return n
	}
	return 0
}

// FillRate returns booked seats as a fraction of capacity
func (e *Event) FillRate() float64 {
	if e.Capacity == 0 {
		return 0
	}
	return float64(len(e.BookedUsers)) / float64(e.Capacity)
}

// IsPast reports whether the event has already started
func (e *Event) IsPast(now time.Time) bool {
	return e.StartTime.Before(now)
}

// Clone returns a deep copy, safe to mutate without affecting the original
func (e *Event) Clone() *Event {
	clone := *e
	clone.BookedUsers = slices.Clone(e.BookedUsers)
	clone.Waitlist = slices.Clone(e.Waitlist)
	return &clone
}

// Validate checks structural invariants of the aggregate
func (e *Event) Validate() error {
	if e.ID == "" {
		return ErrInvalidEventID
	}
	if e.Name == "" {
		return ErrInvalidEventName
	}
	if e.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if len(e.BookedUsers) > e.Capacity {
		return ErrCapacityExceeded
	}

	seen := make(map[string]struct{}, len(e.BookedUsers)+len(e.Waitlist))
	for _, u := range e.BookedUsers {
		if _, dup := seen[u]; dup {
			return ErrDuplicateUser
		}
		seen[u] = struct{}{}
	}
	for _, u := range e.Waitlist {
		if _, dup := seen[u]; dup {
			return ErrDuplicateUser
		}
		seen[u] = struct{}{}
	}

	return nil
}
