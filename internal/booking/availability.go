package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-booking/internal/models"
)

// AvailabilityCalculator answers "what is free right now". It never mutates
// state beyond the expiry sweep it delegates to the lock manager, and it
// computes under the same per-listing mutex as the mutators so counts and the
// seat map reflect one instant.
type AvailabilityCalculator struct {
	DB    DBLayer
	Locks *LockManager
	Cache AvailabilityCache
	Clock Clock
}

func NewAvailabilityCalculator(db DBLayer, locks *LockManager, cache AvailabilityCache, clock Clock) *AvailabilityCalculator {
	return &AvailabilityCalculator{DB: db, Locks: locks, Cache: cache, Clock: clock}
}

func (c *AvailabilityCalculator) Availability(ctx context.Context, listingID string) (*models.Availability, error) {
	if c.Cache != nil {
		if cached, ok := c.Cache.Get(ctx, listingID); ok {
			return cached, nil
		}
	}

	unlock := c.Locks.lockListing(listingID)
	defer unlock()

	listing, err := c.DB.GetListing(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("load listing: %w", err)
	}

	now := c.Clock.Now()
	if _, err := c.DB.SweepExpiredLocks(ctx, listingID, now); err != nil {
		return nil, fmt.Errorf("sweep expired locks: %w", err)
	}

	confirmed, err := c.DB.ConfirmedCount(ctx, listingID, listing.FreeSeating)
	if err != nil {
		return nil, fmt.Errorf("count confirmed: %w", err)
	}
	held, err := c.DB.HeldCount(ctx, listingID, now)
	if err != nil {
		return nil, fmt.Errorf("count held: %w", err)
	}

	available := listing.TotalSeats - confirmed - held
	if available < 0 {
		available = 0
	}

	report := &models.Availability{
		ListingID:      listingID,
		TotalSeats:     listing.TotalSeats,
		ConfirmedCount: confirmed,
		HeldCount:      held,
		AvailableCount: available,
	}

	if !listing.FreeSeating {
		report.SeatMap, err = c.seatMap(ctx, listing, now)
		if err != nil {
			return nil, err
		}
	}

	// Best-effort hint refresh; real availability is always this computation.
	_ = c.DB.RefreshAvailableSeats(ctx, listingID, available)

	// Only hold-free snapshots are cached: a cached held count could outlive
	// the holds' expiry, and a cache hit skips the sweep.
	if c.Cache != nil && report.HeldCount == 0 {
		c.Cache.Set(ctx, report)
	}
	return report, nil
}

// seatMap labels every seat 1..total. Booked wins over locked wins over
// available when a seat somehow appears in both sets.
func (c *AvailabilityCalculator) seatMap(ctx context.Context, listing *models.Listing, now time.Time) ([]models.SeatMapEntry, error) {
	booked, err := c.DB.BookedSeatNumbers(ctx, listing.ID, now)
	if err != nil {
		return nil, fmt.Errorf("load booked seats: %w", err)
	}
	held, err := c.DB.HeldSeatNumbers(ctx, listing.ID, now)
	if err != nil {
		return nil, fmt.Errorf("load held seats: %w", err)
	}

	bookedSet := make(map[string]struct{}, len(booked))
	for _, s := range booked {
		bookedSet[s] = struct{}{}
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, s := range held {
		heldSet[s] = struct{}{}
	}

	entries := make([]models.SeatMapEntry, 0, listing.TotalSeats)
	for seat := 1; seat <= listing.TotalSeats; seat++ {
		number := strconv.Itoa(seat)
		status := models.SeatStatusAvailable
		if _, ok := bookedSet[number]; ok {
			status = models.SeatStatusBooked
		} else if _, ok := heldSet[number]; ok {
			status = models.SeatStatusLocked
		}
		entries = append(entries, models.SeatMapEntry{SeatNumber: number, Status: status})
	}
	return entries, nil
}

// hasCapacity is the capacity guard for free-seating listings:
// confirmed + held < total. A listing with total_seats == 0 is treated as
// unbounded capacity.
func hasCapacity(ctx context.Context, db DBLayer, listing *models.Listing, now time.Time) (bool, error) {
	if listing.TotalSeats <= 0 {
		return true, nil
	}
	confirmed, err := db.ConfirmedCount(ctx, listing.ID, listing.FreeSeating)
	if err != nil {
		return false, fmt.Errorf("count confirmed: %w", err)
	}
	held, err := db.HeldCount(ctx, listing.ID, now)
	if err != nil {
		return false, fmt.Errorf("count held: %w", err)
	}
	return confirmed+held < listing.TotalSeats, nil
}

// CapacityGuard is the exported form used by callers outside the lock
// manager's critical section.
type CapacityGuard struct {
	DB    DBLayer
	Clock Clock
}

func (g *CapacityGuard) HasCapacity(ctx context.Context, listingID string) (bool, error) {
	listing, err := g.DB.GetListing(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return false, ErrListingNotFound
		}
		return false, err
	}
	return hasCapacity(ctx, g.DB, listing, g.Clock.Now())
}
