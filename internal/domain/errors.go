package domain

import "errors"

// Domain errors
var (
	// Event errors
	ErrEventNotFound      = errors.New("event not found")
	ErrEventAlreadyExists = errors.New("event already exists")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification, retries exhausted")
	ErrVersionConflict        = errors.New("event version conflict")

	// Infrastructure errors
	ErrStoreUnavailable = errors.New("event store unavailable")

	// Validation errors
	ErrInvalidEventID       = errors.New("invalid event id")
	ErrInvalidEventName     = errors.New("invalid event name")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidCapacity      = errors.New("capacity must be positive")
	ErrCapacityExceeded     = errors.New("booked users exceed capacity")
	ErrCapacityBelowBooked  = errors.New("capacity below current booked count")
	ErrCapacityLimitReached = errors.New("capacity exceeds configured maximum")
	ErrDuplicateUser        = errors.New("duplicate user in event state")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidEventName) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrCapacityBelowBooked) ||
		errors.Is(err, ErrCapacityLimitReached) ||
		errors.Is(err, ErrDuplicateUser)
}

// IsUnavailableError checks if the error is a store availability error
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrEventAlreadyExists)
}
