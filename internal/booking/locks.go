package booking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// DefaultLockTTL is how long a hold protects a seat before it self-expires.
const DefaultLockTTL = 15 * time.Minute

// listingMutex serializes mutators per listing id. Calls against different
// listings never contend. This is the in-process realization of the
// per-listing row lock; the ledger transaction inside gives atomicity.
type listingMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newListingMutex() *listingMutex {
	return &listingMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the listing's mutex is held and returns the unlock func.
func (l *listingMutex) Lock(listingID string) func() {
	l.mu.Lock()
	m, ok := l.locks[listingID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[listingID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// LockManager grants exclusive, time-bounded claims on seats. Every mutating
// call first sweeps expired holds for the listing so stale locks never block
// new ones.
type LockManager struct {
	DB     DBLayer
	Cache  AvailabilityCache
	Clock  Clock
	TTL    time.Duration
	Logger *logger.Logger

	listings *listingMutex
}

func NewLockManager(db DBLayer, cache AvailabilityCache, clock Clock, log *logger.Logger) *LockManager {
	return &LockManager{
		DB:       db,
		Cache:    cache,
		Clock:    clock,
		TTL:      lockTTLFromEnv(log),
		Logger:   log,
		listings: newListingMutex(),
	}
}

func lockTTLFromEnv(log *logger.Logger) time.Duration {
	raw := os.Getenv("SEAT_LOCK_TTL_MINUTES")
	if raw == "" {
		return DefaultLockTTL
	}
	mins, err := strconv.Atoi(raw)
	if err != nil || mins <= 0 {
		if log != nil {
			log.Warn("LOCK", fmt.Sprintf("invalid SEAT_LOCK_TTL_MINUTES %q, using default", raw))
		}
		return DefaultLockTTL
	}
	return time.Duration(mins) * time.Minute
}

// Acquire claims a seat (or a capacity unit for free seating) for the user.
// With seatNumber empty on a seat-numbered listing it auto-assigns the lowest
// free seat. Returns ErrSeatTaken, ErrNoSeatsAvailable or ErrCapacityExceeded
// when the inventory decision goes against the caller.
func (m *LockManager) Acquire(ctx context.Context, listingID, userID, seatNumber string) (*models.LockHandle, error) {
	unlock := m.listings.Lock(listingID)
	defer unlock()

	lock, err := m.prepareHold(ctx, listingID, userID, seatNumber)
	if err != nil {
		return nil, err
	}
	if err := m.DB.CreateHold(ctx, lock, nil); err != nil {
		return nil, fmt.Errorf("create hold: %w", err)
	}
	m.invalidate(ctx, listingID)
	m.logf("acquired %s seat=%q user=%s expires=%s", lock.ID, lock.SeatNumber, userID, lock.ExpiresAt.Format(time.RFC3339))
	return handleFor(lock), nil
}

// prepareHold runs the sweep and the availability decision and builds the lock
// row without inserting it. Callers must hold the listing mutex; the state
// machine uses this to commit the lock together with its pending booking.
func (m *LockManager) prepareHold(ctx context.Context, listingID, userID, seatNumber string) (*models.SeatLock, error) {
	listing, err := m.DB.GetListing(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("load listing: %w", err)
	}

	now := m.Clock.Now()
	if _, err := m.DB.SweepExpiredLocks(ctx, listingID, now); err != nil {
		return nil, fmt.Errorf("sweep expired locks: %w", err)
	}

	switch {
	case listing.FreeSeating:
		seatNumber = ""
		ok, err := hasCapacity(ctx, m.DB, listing, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCapacityExceeded
		}

	case seatNumber == "":
		seatNumber, err = m.findAvailableSeat(ctx, listing, now)
		if err != nil {
			return nil, err
		}

	default:
		held, err := m.DB.ActiveHeldLockExists(ctx, listingID, seatNumber, now)
		if err != nil {
			return nil, fmt.Errorf("check held lock: %w", err)
		}
		if held {
			return nil, ErrSeatTaken
		}
		confirmed, err := m.DB.SeatConfirmed(ctx, listingID, seatNumber)
		if err != nil {
			return nil, fmt.Errorf("check confirmed booking: %w", err)
		}
		if confirmed {
			return nil, ErrSeatTaken
		}
	}

	return &models.SeatLock{
		ID:         uuid.NewString(),
		ListingID:  listingID,
		UserID:     userID,
		SeatNumber: seatNumber,
		ExpiresAt:  now.Add(m.TTL),
		Status:     models.LockStatusHeld,
		CreatedAt:  now,
	}, nil
}

// findAvailableSeat scans seats 1..total_seats ascending and returns the first
// not covered by an unexpired hold or a live booking.
func (m *LockManager) findAvailableSeat(ctx context.Context, listing *models.Listing, now time.Time) (string, error) {
	booked, err := m.DB.BookedSeatNumbers(ctx, listing.ID, now)
	if err != nil {
		return "", fmt.Errorf("load booked seats: %w", err)
	}
	held, err := m.DB.HeldSeatNumbers(ctx, listing.ID, now)
	if err != nil {
		return "", fmt.Errorf("load held seats: %w", err)
	}

	occupied := make(map[string]struct{}, len(booked)+len(held))
	for _, s := range booked {
		occupied[s] = struct{}{}
	}
	for _, s := range held {
		occupied[s] = struct{}{}
	}

	for seat := 1; seat <= listing.TotalSeats; seat++ {
		candidate := strconv.Itoa(seat)
		if _, taken := occupied[candidate]; !taken {
			return candidate, nil
		}
	}
	return "", ErrNoSeatsAvailable
}

// Release transitions held locks matching the filter to released. Idempotent:
// an empty match releases nothing and is not an error.
func (m *LockManager) Release(ctx context.Context, f models.LockFilter) (int, error) {
	var unlock func()
	if f.ListingID != "" {
		unlock = m.listings.Lock(f.ListingID)
		defer unlock()
	}
	released, err := m.DB.ReleaseLocks(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("release locks: %w", err)
	}
	if released > 0 && f.ListingID != "" {
		m.invalidate(ctx, f.ListingID)
	}
	if released > 0 {
		m.logf("released %d lock(s) filter=%+v", released, f)
	}
	return released, nil
}

// SweepExpired releases all held locks past their expiry. An empty listingID
// sweeps every listing; the periodic sweeper uses that form. Safe to call
// concurrently and repeatedly.
func (m *LockManager) SweepExpired(ctx context.Context, listingID string) (int, error) {
	expired, err := m.DB.SweepExpiredLocks(ctx, listingID, m.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	if expired > 0 {
		m.logf("swept %d expired lock(s) listing=%q", expired, listingID)
		if listingID != "" {
			m.invalidate(ctx, listingID)
		}
	}
	return expired, nil
}

// Extend pushes a held, unexpired lock's expiry forward by extra. Scoped to
// the owner: another user's lock id reads as not found.
func (m *LockManager) Extend(ctx context.Context, lockID, userID string, extra time.Duration) (*models.LockHandle, error) {
	lock, err := m.getOwnedHeldLock(ctx, lockID, userID)
	if err != nil {
		return nil, err
	}

	unlock := m.listings.Lock(lock.ListingID)
	defer unlock()

	// Re-read under the listing mutex; the hold may have been released or
	// swept between the lookup and here.
	lock, err = m.getOwnedHeldLock(ctx, lockID, userID)
	if err != nil {
		return nil, err
	}

	lock.ExpiresAt = lock.ExpiresAt.Add(extra)
	if err := m.DB.ExtendLock(ctx, lockID, lock.ExpiresAt); err != nil {
		if isNotFound(err) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("extend lock: %w", err)
	}
	m.logf("extended %s until %s", lockID, lock.ExpiresAt.Format(time.RFC3339))
	return handleFor(lock), nil
}

func (m *LockManager) getOwnedHeldLock(ctx context.Context, lockID, userID string) (*models.SeatLock, error) {
	lock, err := m.DB.GetHeldLock(ctx, lockID, m.Clock.Now())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("load lock: %w", err)
	}
	if lock.UserID != userID {
		return nil, ErrLockNotFound
	}
	return lock, nil
}

// lockListing exposes the per-listing critical section to the state machine.
func (m *LockManager) lockListing(listingID string) func() {
	return m.listings.Lock(listingID)
}

func (m *LockManager) invalidate(ctx context.Context, listingID string) {
	if m.Cache != nil {
		m.Cache.Invalidate(ctx, listingID)
	}
}

func (m *LockManager) logf(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Info("LOCK", fmt.Sprintf(format, args...))
	}
}

func handleFor(lock *models.SeatLock) *models.LockHandle {
	return &models.LockHandle{
		LockID:     lock.ID,
		ListingID:  lock.ListingID,
		SeatNumber: lock.SeatNumber,
		ExpiresAt:  lock.ExpiresAt,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}
