package fraud

import (
	"context"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Score thresholds. At HighRiskThreshold the booking is blocked outright;
// MediumRiskThreshold only marks it for later review.
const (
	HighRiskThreshold   = 30
	MediumRiskThreshold = 15

	rapidWindow       = 10 * time.Minute
	rapidBookingCount = 3
	highValuePrice    = 1000.0
)

// Store is the ledger surface the scorer reads. Listing lookup supplies the
// price signal; the counts supply velocity and duplication signals.
type Store interface {
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)
	CountUserBookingsSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountUserActiveBookings(ctx context.Context, userID, listingID string) (int, error)
}

// Scorer assigns a rule-based risk score to freshly created bookings.
type Scorer struct {
	DB     Store
	Logger *logger.Logger
}

func NewScorer(store Store, log *logger.Logger) *Scorer {
	return &Scorer{DB: store, Logger: log}
}

func (s *Scorer) Score(ctx context.Context, booking *models.Booking) (models.FraudResult, error) {
	result := models.FraudResult{RiskLevel: "low"}

	recent, err := s.DB.CountUserBookingsSince(ctx, booking.UserID, time.Now().UTC().Add(-rapidWindow))
	if err != nil {
		return result, fmt.Errorf("count recent bookings: %w", err)
	}
	if recent >= rapidBookingCount {
		result.RiskScore += 20
		result.Flags = append(result.Flags, "rapid_bookings")
	}

	// The booking being scored already counts as one active booking.
	active, err := s.DB.CountUserActiveBookings(ctx, booking.UserID, booking.ListingID)
	if err != nil {
		return result, fmt.Errorf("count active bookings: %w", err)
	}
	if active > 1 {
		result.RiskScore += 15
		result.Flags = append(result.Flags, "duplicate_listing_booking")
	}

	listing, err := s.DB.GetListing(ctx, booking.ListingID)
	if err != nil {
		return result, fmt.Errorf("load listing: %w", err)
	}
	if listing.Price > highValuePrice {
		result.RiskScore += 5
		result.Flags = append(result.Flags, "high_value_booking")
	}

	switch {
	case result.RiskScore >= HighRiskThreshold:
		result.RiskLevel = "high"
	case result.RiskScore >= MediumRiskThreshold:
		result.RiskLevel = "medium"
	}

	if s.Logger != nil && result.RiskScore > 0 {
		s.Logger.Warn("BOOKING", fmt.Sprintf("booking %s scored %d (%s): %v",
			booking.ID, result.RiskScore, result.RiskLevel, result.Flags))
	}
	return result, nil
}
