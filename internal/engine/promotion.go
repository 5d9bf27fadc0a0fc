package engine

import "github.com/jirayu-w/eventseat/internal/domain"

// PromotionCoordinator decides who moves from the waitlist into a freed
// seat. Promotion happens inside the same commit as the change that freed
// the seat, so one cancellation promotes at most one user and a retried
// cancellation can never promote twice.
type PromotionCoordinator struct{}

// NewPromotionCoordinator creates a PromotionCoordinator
func NewPromotionCoordinator() *PromotionCoordinator {
	return &PromotionCoordinator{}
}

// PromoteNext moves the waitlist head into the booked set if a seat is
// free. The event is mutated in place; the promoted user ID is returned,
// or "" if nothing changed.
//
// At most one user is promoted per call: a discrete cancellation frees
// exactly one seat. Capacity increases deliberately do not promote.
func (p *PromotionCoordinator) PromoteNext(event *domain.Event) string {
	if event.IsFull() || len(event.Waitlist) == 0 {
		return ""
	}

	promoted := event.Waitlist[0]
	event.Waitlist = event.Waitlist[1:]
	event.BookedUsers = append(event.BookedUsers, promoted)
	return promoted
}
