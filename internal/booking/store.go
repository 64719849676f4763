package booking

import (
	"context"
	"time"

	"ms-booking/internal/models"
)

// DBLayer is the seat ledger contract consumed by the lock manager, the
// availability calculator and the booking state machine. Implemented by
// internal/booking/db against Postgres, and by the same store over in-memory
// SQLite in tests.
type DBLayer interface {
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)
	RefreshAvailableSeats(ctx context.Context, listingID string, available int) error

	SweepExpiredLocks(ctx context.Context, listingID string, now time.Time) (int, error)
	ReleaseLocks(ctx context.Context, f models.LockFilter) (int, error)
	GetHeldLock(ctx context.Context, lockID string, now time.Time) (*models.SeatLock, error)
	ExtendLock(ctx context.Context, lockID string, until time.Time) error
	ActiveHeldLockExists(ctx context.Context, listingID, seatNumber string, now time.Time) (bool, error)
	UserHoldActive(ctx context.Context, listingID, userID, seatNumber string, now time.Time) (bool, error)
	HeldCount(ctx context.Context, listingID string, now time.Time) (int, error)
	HeldSeatNumbers(ctx context.Context, listingID string, now time.Time) ([]string, error)

	GetBookingByID(ctx context.Context, bookingID string) (*models.Booking, error)
	BookingRefExists(ctx context.Context, ref string) (bool, error)
	SeatConfirmed(ctx context.Context, listingID, seatNumber string) (bool, error)
	ConfirmedCount(ctx context.Context, listingID string, freeSeating bool) (int, error)
	BookedSeatNumbers(ctx context.Context, listingID string, now time.Time) ([]string, error)

	CreateHold(ctx context.Context, lock *models.SeatLock, booking *models.Booking) error
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingAndReleaseLocks(ctx context.Context, booking *models.Booking, f models.LockFilter) error
}

// AvailabilityCache is a non-authoritative hint layer over computed
// availability. Implementations must tolerate being skipped entirely.
type AvailabilityCache interface {
	Get(ctx context.Context, listingID string) (*models.Availability, bool)
	Set(ctx context.Context, availability *models.Availability)
	Invalidate(ctx context.Context, listingID string)
}
