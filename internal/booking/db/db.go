package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// DB is the seat ledger store. Locks and bookings are append-mostly: locks are
// flipped held→released, never deleted, and bookings keep their row for audit.
type DB struct {
	Bun *bun.DB
}

var ErrNotFound = errors.New("record not found")

// ---------------- LISTINGS ----------------

func (d *DB) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	var listing models.Listing
	err := d.Bun.NewSelect().
		Model(&listing).
		Where("id = ?", listingID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// RefreshAvailableSeats updates the denormalized available_seats hint. It is
// never read back for decisions, only surfaced to listing views.
func (d *DB) RefreshAvailableSeats(ctx context.Context, listingID string, available int) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("available_seats = ?", available).
		Where("id = ?", listingID).
		Exec(ctx)
	return err
}

// ---------------- SEAT LOCKS ----------------

// SweepExpiredLocks transitions held locks whose expiry has passed to
// released. An empty listingID sweeps every listing.
func (d *DB) SweepExpiredLocks(ctx context.Context, listingID string, now time.Time) (int, error) {
	q := d.Bun.NewUpdate().
		Model((*models.SeatLock)(nil)).
		Set("status = ?", models.LockStatusReleased).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at <= ?", now)
	if listingID != "" {
		q = q.Where("listing_id = ?", listingID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReleaseLocks flips held locks matching the filter to released and reports
// how many rows changed. Releasing an already-released lock is a no-op.
func (d *DB) ReleaseLocks(ctx context.Context, f models.LockFilter) (int, error) {
	return d.releaseLocks(ctx, d.Bun, f)
}

func (d *DB) releaseLocks(ctx context.Context, idb bun.IDB, f models.LockFilter) (int, error) {
	q := idb.NewUpdate().
		Model((*models.SeatLock)(nil)).
		Set("status = ?", models.LockStatusReleased).
		Where("status = ?", models.LockStatusHeld)
	if f.LockID != "" {
		q = q.Where("id = ?", f.LockID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.ListingID != "" {
		q = q.Where("listing_id = ?", f.ListingID)
	}
	if f.SeatNumber != "" {
		q = q.Where("seat_number = ?", f.SeatNumber)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetHeldLock returns the lock only if it is held and unexpired.
func (d *DB) GetHeldLock(ctx context.Context, lockID string, now time.Time) (*models.SeatLock, error) {
	var lock models.SeatLock
	err := d.Bun.NewSelect().
		Model(&lock).
		Where("id = ?", lockID).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at > ?", now).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// ExtendLock moves a held lock's expiry. Returns ErrNotFound when the row is
// no longer held, so a release racing the extend cannot report success.
func (d *DB) ExtendLock(ctx context.Context, lockID string, until time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.SeatLock)(nil)).
		Set("expires_at = ?", until).
		Where("id = ?", lockID).
		Where("status = ?", models.LockStatusHeld).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveHeldLockExists reports whether an unexpired held lock covers the seat.
func (d *DB) ActiveHeldLockExists(ctx context.Context, listingID, seatNumber string, now time.Time) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.SeatLock)(nil)).
		Where("listing_id = ?", listingID).
		Where("seat_number = ?", seatNumber).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at > ?", now).
		Exists(ctx)
}

// UserHoldActive reports whether the user still has an unexpired hold on the
// listing. seatNumber narrows the check for seat-numbered listings; pass ""
// for free seating.
func (d *DB) UserHoldActive(ctx context.Context, listingID, userID, seatNumber string, now time.Time) (bool, error) {
	q := d.Bun.NewSelect().
		Model((*models.SeatLock)(nil)).
		Where("listing_id = ?", listingID).
		Where("user_id = ?", userID).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at > ?", now)
	if seatNumber != "" {
		q = q.Where("seat_number = ?", seatNumber)
	}
	return q.Exists(ctx)
}

// HeldCount counts unexpired held locks for the listing.
func (d *DB) HeldCount(ctx context.Context, listingID string, now time.Time) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.SeatLock)(nil)).
		Where("listing_id = ?", listingID).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at > ?", now).
		Count(ctx)
}

// HeldSeatNumbers returns the seat numbers covered by unexpired held locks.
func (d *DB) HeldSeatNumbers(ctx context.Context, listingID string, now time.Time) ([]string, error) {
	var seats []string
	err := d.Bun.NewSelect().
		Model((*models.SeatLock)(nil)).
		Column("seat_number").
		Where("listing_id = ?", listingID).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at > ?", now).
		Where("seat_number IS NOT NULL").
		Scan(ctx, &seats)
	if err != nil {
		return nil, err
	}
	return seats, nil
}

// ---------------- BOOKINGS ----------------

func (d *DB) GetBookingByID(ctx context.Context, bookingID string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (d *DB) BookingRefExists(ctx context.Context, ref string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Where("booking_ref = ?", ref).
		Exists(ctx)
}

// SeatConfirmed reports whether a confirmed booking already claims the seat.
func (d *DB) SeatConfirmed(ctx context.Context, listingID, seatNumber string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Where("listing_id = ?", listingID).
		Where("seat_number = ?", seatNumber).
		Where("status = ?", models.BookingStatusConfirmed).
		Exists(ctx)
}

// ConfirmedCount counts confirmed bookings for the listing. Seat-numbered
// listings count distinct seats so double-audited rows can never inflate it.
func (d *DB) ConfirmedCount(ctx context.Context, listingID string, freeSeating bool) (int, error) {
	if freeSeating {
		return d.Bun.NewSelect().
			Model((*models.Booking)(nil)).
			Where("listing_id = ?", listingID).
			Where("status = ?", models.BookingStatusConfirmed).
			Count(ctx)
	}
	var count int
	err := d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		ColumnExpr("count(DISTINCT seat_number)").
		Where("listing_id = ?", listingID).
		Where("status = ?", models.BookingStatusConfirmed).
		Scan(ctx, &count)
	return count, err
}

// BookedSeatNumbers returns seats claimed by confirmed bookings plus seats of
// pending bookings whose hold is still alive. A pending booking whose hold
// expired no longer occupies its seat; it is reclaimable by the next acquire.
func (d *DB) BookedSeatNumbers(ctx context.Context, listingID string, now time.Time) ([]string, error) {
	var confirmed []string
	err := d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Column("seat_number").
		Where("listing_id = ?", listingID).
		Where("status = ?", models.BookingStatusConfirmed).
		Where("seat_number IS NOT NULL").
		Scan(ctx, &confirmed)
	if err != nil {
		return nil, err
	}

	var pending []models.Booking
	err = d.Bun.NewSelect().
		Model(&pending).
		Column("user_id", "seat_number").
		Where("listing_id = ?", listingID).
		Where("status = ?", models.BookingStatusPending).
		Where("seat_number IS NOT NULL").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	var holds []models.SeatLock
	err = d.Bun.NewSelect().
		Model(&holds).
		Column("user_id", "seat_number").
		Where("listing_id = ?", listingID).
		Where("status = ?", models.LockStatusHeld).
		Where("expires_at > ?", now).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[string]struct{}, len(holds))
	for _, h := range holds {
		live[h.UserID+"\x00"+h.SeatNumber] = struct{}{}
	}

	seen := make(map[string]struct{}, len(confirmed))
	booked := make([]string, 0, len(confirmed))
	for _, s := range confirmed {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			booked = append(booked, s)
		}
	}
	for _, b := range pending {
		if _, ok := live[b.UserID+"\x00"+b.SeatNumber]; !ok {
			continue
		}
		if _, dup := seen[b.SeatNumber]; !dup {
			seen[b.SeatNumber] = struct{}{}
			booked = append(booked, b.SeatNumber)
		}
	}
	return booked, nil
}

// ---------------- TRANSACTIONAL MUTATIONS ----------------

// CreateHold inserts a held lock and, when booking is non-nil, the pending
// booking tied to it, in one transaction. Both commit or both roll back.
func (d *DB) CreateHold(ctx context.Context, lock *models.SeatLock, booking *models.Booking) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(lock).Exec(ctx); err != nil {
			return err
		}
		if booking != nil {
			if _, err := tx.NewInsert().Model(booking).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateBooking writes the booking's mutable columns without touching locks.
func (d *DB) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	_, err := d.Bun.NewUpdate().
		Model(booking).
		Column("status", "confirmed_at", "cancelled_at", "cancellation_reason",
			"refund_amount", "refund_status", "fraud_score", "fraud_flags", "payment_intent_id").
		Where("id = ?", booking.ID).
		Exec(ctx)
	return err
}

// UpdateBookingAndReleaseLocks writes the booking's new state and releases the
// holds matching the filter in one transaction, so a status flip without the
// matching release is never observable.
func (d *DB) UpdateBookingAndReleaseLocks(ctx context.Context, booking *models.Booking, f models.LockFilter) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model(booking).
			Column("status", "confirmed_at", "cancelled_at", "cancellation_reason",
				"refund_amount", "refund_status", "fraud_score", "fraud_flags", "payment_intent_id").
			Where("id = ?", booking.ID).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = d.releaseLocks(ctx, tx, f)
		return err
	})
}

// CountUserBookingsSince counts bookings a user created after the cutoff,
// regardless of status. Feeds the rapid-booking fraud signal.
func (d *DB) CountUserBookingsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Where("user_id = ?", userID).
		Where("created_at > ?", since).
		Count(ctx)
}

// CountUserActiveBookings counts the user's pending and confirmed bookings on
// one listing. Feeds the duplicate-booking fraud signal.
func (d *DB) CountUserActiveBookings(ctx context.Context, userID, listingID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Where("user_id = ?", userID).
		Where("listing_id = ?", listingID).
		Where("status IN (?)", bun.In([]string{models.BookingStatusPending, models.BookingStatusConfirmed})).
		Count(ctx)
}
