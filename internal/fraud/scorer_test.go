package fraud_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/fraud"
	"ms-booking/internal/models"
)

func setupScorer(t *testing.T) (*fraud.Scorer, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []interface{}{
		(*models.Listing)(nil),
		(*models.Booking)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	return fraud.NewScorer(&bookingdb.DB{Bun: bunDB}, nil), bunDB
}

func addListing(t *testing.T, bunDB *bun.DB, price float64) *models.Listing {
	listing := &models.Listing{
		ID:         uuid.NewString(),
		MerchantID: "mer-1",
		Title:      "Test Listing",
		Price:      price,
		TotalSeats: 50,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := bunDB.NewInsert().Model(listing).Exec(context.Background())
	require.NoError(t, err)
	return listing
}

func addBooking(t *testing.T, bunDB *bun.DB, userID, listingID, status string, age time.Duration) *models.Booking {
	booking := &models.Booking{
		ID:         uuid.NewString(),
		UserID:     userID,
		ListingID:  listingID,
		Status:     status,
		BookingRef: uuid.NewString()[:10],
		CreatedAt:  time.Now().UTC().Add(-age),
	}
	_, err := bunDB.NewInsert().Model(booking).Exec(context.Background())
	require.NoError(t, err)
	return booking
}

func TestScoreLowRisk(t *testing.T) {
	scorer, bunDB := setupScorer(t)
	defer bunDB.Close()
	listing := addListing(t, bunDB, 500)
	booking := addBooking(t, bunDB, "user-a", listing.ID, models.BookingStatusPending, 0)

	result, err := scorer.Score(context.Background(), booking)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RiskScore)
	assert.Equal(t, "low", result.RiskLevel)
	assert.Empty(t, result.Flags)
}

func TestScoreRapidBookings(t *testing.T) {
	scorer, bunDB := setupScorer(t)
	defer bunDB.Close()
	listing := addListing(t, bunDB, 500)
	other := addListing(t, bunDB, 500)

	addBooking(t, bunDB, "user-a", other.ID, models.BookingStatusCancelled, 2*time.Minute)
	addBooking(t, bunDB, "user-a", other.ID, models.BookingStatusCancelled, 4*time.Minute)
	booking := addBooking(t, bunDB, "user-a", listing.ID, models.BookingStatusPending, 0)

	result, err := scorer.Score(context.Background(), booking)
	require.NoError(t, err)
	assert.Equal(t, 20, result.RiskScore)
	assert.Equal(t, "medium", result.RiskLevel)
	assert.Contains(t, result.Flags, "rapid_bookings")
}

func TestScoreStacksToHigh(t *testing.T) {
	scorer, bunDB := setupScorer(t)
	defer bunDB.Close()
	listing := addListing(t, bunDB, 2500)

	// Velocity plus a duplicate active booking on the same listing plus a
	// high-value price crosses the blocking threshold.
	addBooking(t, bunDB, "user-a", listing.ID, models.BookingStatusConfirmed, 2*time.Minute)
	addBooking(t, bunDB, "user-a", listing.ID, models.BookingStatusCancelled, 4*time.Minute)
	booking := addBooking(t, bunDB, "user-a", listing.ID, models.BookingStatusPending, 0)

	result, err := scorer.Score(context.Background(), booking)
	require.NoError(t, err)
	assert.Equal(t, 40, result.RiskScore)
	assert.Equal(t, "high", result.RiskLevel)
	assert.ElementsMatch(t, []string{"rapid_bookings", "duplicate_listing_booking", "high_value_booking"}, result.Flags)
}
