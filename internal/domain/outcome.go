package domain

// BookStatus is the result of a booking attempt
type BookStatus string

const (
	BookStatusBooked            BookStatus = "BOOKED"
	BookStatusWaitlisted        BookStatus = "WAITLISTED"
	BookStatusAlreadyBooked     BookStatus = "ALREADY_BOOKED"
	BookStatusAlreadyWaitlisted BookStatus = "ALREADY_WAITLISTED"
)

// BookOutcome describes what a Book call did
type BookOutcome struct {
	Status BookStatus `json:"status"`
	// WaitlistPosition is the 1-based position, set when Status is
	// WAITLISTED or ALREADY_WAITLISTED
	WaitlistPosition int `json:"waitlist_position,omitempty"`
}

// Changed reports whether the attempt modified event state
func (o BookOutcome) Changed() bool {
	return o.Status == BookStatusBooked || o.Status == BookStatusWaitlisted
}

// CancelStatus is the result of a cancellation attempt
type CancelStatus string

const (
	CancelStatusCancelled            CancelStatus = "CANCELLED"
	CancelStatusCancelledAndPromoted CancelStatus = "CANCELLED_AND_PROMOTED"
	CancelStatusNothingToCancel      CancelStatus = "NOTHING_TO_CANCEL"
)

// CancelOutcome describes what a Cancel call did
type CancelOutcome struct {
	Status CancelStatus `json:"status"`
	// PromotedUserID is set when Status is CANCELLED_AND_PROMOTED
	PromotedUserID string `json:"promoted_user_id,omitempty"`
}

// Changed reports whether the attempt modified event state
func (o CancelOutcome) Changed() bool {
	return o.Status != CancelStatusNothingToCancel
}

// LeaveStatus is the result of a leave-waitlist attempt
type LeaveStatus string

const (
	LeaveStatusLeft       LeaveStatus = "LEFT"
	LeaveStatusNotWaiting LeaveStatus = "NOT_WAITING"
)

// LeaveOutcome describes what a LeaveWaitlist call did
type LeaveOutcome struct {
	Status LeaveStatus `json:"status"`
}

// Changed reports whether the attempt modified event state
func (o LeaveOutcome) Changed() bool {
	return o.Status == LeaveStatusLeft
}
