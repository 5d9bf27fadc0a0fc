package dto

import (
	"time"

	"github.com/jirayu-w/eventseat/internal/domain"
)

// BookResponse represents the outcome of a booking request
type BookResponse struct {
	EventID          string `json:"event_id"`
	UserID           string `json:"user_id"`
	Status           string `json:"status"`
	WaitlistPosition int    `json:"waitlist_position,omitempty"`
}

// CancelResponse represents the outcome of a cancellation
type CancelResponse struct {
	EventID        string `json:"event_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
	PromotedUserID string `json:"promoted_user_id,omitempty"`
}

// LeaveWaitlistResponse represents the outcome of leaving a waitlist
type LeaveWaitlistResponse struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Status  string `json:"status"`
}

// ReservationResponse represents one of the user's live records
type ReservationResponse struct {
	EventID          string    `json:"event_id"`
	EventName        string    `json:"event_name"`
	EventStart       time.Time `json:"event_start"`
	Status           string    `json:"status"`
	WaitlistPosition int       `json:"waitlist_position,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BookOutcomeResponse builds the API shape for a book outcome
func BookOutcomeResponse(eventID, userID string, out domain.BookOutcome) *BookResponse {
	return &BookResponse{
		EventID:          eventID,
		UserID:           userID,
		Status:           string(out.Status),
		WaitlistPosition: out.WaitlistPosition,
	}
}

// CancelOutcomeResponse builds the API shape for a cancel outcome
func CancelOutcomeResponse(eventID, userID string, out domain.CancelOutcome) *CancelResponse {
	return &CancelResponse{
		EventID:        eventID,
		UserID:         userID,
		Status:         string(out.Status),
		PromotedUserID: out.PromotedUserID,
	}
}

// LeaveOutcomeResponse builds the API shape for a leave outcome
func LeaveOutcomeResponse(eventID, userID string, out domain.LeaveOutcome) *LeaveWaitlistResponse {
	return &LeaveWaitlistResponse{
		EventID: eventID,
		UserID:  userID,
		Status:  string(out.Status),
	}
}

// ReservationFromRecord converts a ledger record to its API shape
func ReservationFromRecord(r *domain.BookingRecord) *ReservationResponse {
	return &ReservationResponse{
		EventID:          r.EventID,
		EventName:        r.EventName,
		EventStart:       r.EventStart,
		Status:           string(r.Status),
		WaitlistPosition: r.WaitlistPosition,
		UpdatedAt:        r.UpdatedAt,
	}
}
