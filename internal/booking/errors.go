package booking

import "errors"

// Inventory conflicts are expected outcomes the caller can recover from by
// retrying with another seat. They are matched with errors.Is at the API layer
// and must never escape as generic 500s.
var (
	ErrSeatTaken        = errors.New("seat already taken or on hold")
	ErrNoSeatsAvailable = errors.New("no available seats")
	ErrCapacityExceeded = errors.New("no seats available to hold")

	ErrLockNotFound    = errors.New("lock not found or expired")
	ErrListingNotFound = errors.New("listing not found")
	ErrBookingNotFound = errors.New("booking not found")

	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyCancelled = errors.New("booking was cancelled")

	// ErrRefundFailed aborts the enclosing cancellation; the booking stays
	// confirmed so the caller can retry.
	ErrRefundFailed = errors.New("refund processing failed")

	ErrCancellationClosed = errors.New("cancellation not allowed within 24 hours of event")
)

// IsConflict reports whether err is one of the inventory-conflict outcomes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSeatTaken) ||
		errors.Is(err, ErrNoSeatsAvailable) ||
		errors.Is(err, ErrCapacityExceeded)
}
