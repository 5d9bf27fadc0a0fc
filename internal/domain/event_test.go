package domain

import (
	"testing"
	"time"
)

func newTestEvent() *Event {
	return &Event{
		ID:          "evt-1",
		Name:        "Go Conference",
		Capacity:    2,
		BookedUsers: []string{"alice", "bob"},
		Waitlist:    []string{"carol", "dave"},
		Version:     3,
		StartTime:   time.Now().Add(24 * time.Hour),
	}
}

func TestEvent_HasBooked(t *testing.T) {
	e := newTestEvent()

	if !e.HasBooked("alice") {
		t.Error("expected alice to be booked")
	}
	if e.HasBooked("carol") {
		t.Error("carol is waitlisted, not booked")
	}
	if e.HasBooked("nobody") {
		t.Error("unknown user should not be booked")
	}
}

func TestEvent_IsWaitlisted(t *testing.T) {
	e := newTestEvent()

	if !e.IsWaitlisted("carol") {
		t.Error("expected carol to be waitlisted")
	}
	if e.IsWaitlisted("alice") {
		t.Error("alice is booked, not waitlisted")
	}
}

func TestEvent_WaitlistPosition(t *testing.T) {
	e := newTestEvent()

	tests := []struct {
		userID   string
		expected int
	}{
		{"carol", 1},
		{"dave", 2},
		{"alice", 0},
		{"nobody", 0},
	}

	for _, tt := range tests {
		if got := e.WaitlistPosition(tt.userID); got != tt.expected {
			t.Errorf("WaitlistPosition(%s) = %d, want %d", tt.userID, got, tt.expected)
		}
	}
}

func TestEvent_IsFull(t *testing.T) {
	e := newTestEvent()

	if !e.IsFull() {
		t.Error("expected event with 2/2 booked to be full")
	}

	e.Capacity = 3
	if e.IsFull() {
		t.Error("expected event with 2/3 booked not to be full")
	}

	empty := &Event{ID: "evt-2", Name: "x", Capacity: 0}
	if !empty.IsFull() {
		t.Error("zero-capacity event is always full")
	}
}

func TestEvent_SeatsAvailable(t *testing.T) {
	e := newTestEvent()

	if got := e.SeatsAvailable(); got != 0 {
		t.Errorf("SeatsAvailable() = %d, want 0", got)
	}

	e.Capacity = 5
	if got := e.SeatsAvailable(); got != 3 {
		t.Errorf("SeatsAvailable() = %d, want 3", got)
	}
}

func TestEvent_Clone(t *testing.T) {
	e := newTestEvent()
	clone := e.Clone()

	clone.BookedUsers[0] = "mallory"
	clone.Waitlist = append(clone.Waitlist, "eve")
	clone.Version = 99

	if e.BookedUsers[0] != "alice" {
		t.Error("mutating clone's booked users affected the original")
	}
	if len(e.Waitlist) != 2 {
		t.Error("mutating clone's waitlist affected the original")
	}
	if e.Version != 3 {
		t.Error("mutating clone's version affected the original")
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr error
	}{
		{
			name:    "valid",
			mutate:  func(e *Event) {},
			wantErr: nil,
		},
		{
			name:    "missing id",
			mutate:  func(e *Event) { e.ID = "" },
			wantErr: ErrInvalidEventID,
		},
		{
			name:    "missing name",
			mutate:  func(e *Event) { e.Name = "" },
			wantErr: ErrInvalidEventName,
		},
		{
			name:    "negative capacity",
			mutate:  func(e *Event) { e.Capacity = -1 },
			wantErr: ErrInvalidCapacity,
		},
		{
			name:    "zero capacity",
			mutate:  func(e *Event) { e.Capacity = 0; e.BookedUsers = nil; e.Waitlist = nil },
			wantErr: ErrInvalidCapacity,
		},
		{
			name:    "overbooked",
			mutate:  func(e *Event) { e.Capacity = 1 },
			wantErr: ErrCapacityExceeded,
		},
		{
			name:    "duplicate in booked",
			mutate:  func(e *Event) { e.BookedUsers = []string{"alice", "alice"} },
			wantErr: ErrDuplicateUser,
		},
		{
			name:    "user both booked and waitlisted",
			mutate:  func(e *Event) { e.Waitlist = []string{"alice"} },
			wantErr: ErrDuplicateUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvent()
			tt.mutate(e)

			err := e.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordStatus_IsActive(t *testing.T) {
	active := []RecordStatus{RecordStatusBooked, RecordStatusWaiting, RecordStatusPromoted}
	for _, s := range active {
		if !s.IsActive() {
			t.Errorf("expected %s to be active", s)
		}
	}

	inactive := []RecordStatus{RecordStatusCancelled, RecordStatusRemoved, RecordStatus("UNKNOWN")}
	for _, s := range inactive {
		if s.IsActive() {
			t.Errorf("expected %s not to be active", s)
		}
	}
}
