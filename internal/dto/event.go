package dto

import (
	"time"

	"github.com/jirayu-w/eventseat/internal/domain"
)

// CreateEventRequest represents request to create an event
type CreateEventRequest struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Capacity    *int      `json:"capacity" binding:"required"`
}

// UpdateCapacityRequest represents request to resize an event
type UpdateCapacityRequest struct {
	Capacity *int `json:"capacity" binding:"required"`
}

// EventResponse represents an event in API responses
type EventResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Venue          string    `json:"venue,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	Capacity       int       `json:"capacity"`
	BookedCount    int       `json:"booked_count"`
	WaitlistCount  int       `json:"waitlist_count"`
	SeatsAvailable int       `json:"seats_available"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EventDetailResponse includes the full booked and waitlist rosters
type EventDetailResponse struct {
	EventResponse
	BookedUsers []string `json:"booked_users"`
	Waitlist    []string `json:"waitlist"`
}

// EventSummaryResponse aggregates occupancy across all events
type EventSummaryResponse struct {
	TotalEvents   int     `json:"total_events"`
	TotalCapacity int     `json:"total_capacity"`
	TotalBooked   int     `json:"total_booked"`
	TotalWaiting  int     `json:"total_waiting"`
	FillRate      float64 `json:"fill_rate"`
}

// EventFromDomain converts a domain event to its API shape
func EventFromDomain(e *domain.Event) *EventResponse {
	return &EventResponse{
		ID:             e.ID,
		Name:           e.Name,
		Description:    e.Description,
		Venue:          e.Venue,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		Capacity:       e.Capacity,
		BookedCount:    len(e.BookedUsers),
		WaitlistCount:  len(e.Waitlist),
		SeatsAvailable: e.SeatsAvailable(),
		Version:        e.Version,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// EventDetailFromDomain converts a domain event including rosters
func EventDetailFromDomain(e *domain.Event) *EventDetailResponse {
	return &EventDetailResponse{
		EventResponse: *EventFromDomain(e),
		BookedUsers:   e.BookedUsers,
		Waitlist:      e.Waitlist,
	}
}
