package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-booking/internal/booking"
	"ms-booking/internal/models"
)

// Mock implementations

type MockTickets struct {
	mock.Mock
}

func (m *MockTickets) HasTicket(ctx context.Context, bookingID string) (bool, error) {
	args := m.Called(ctx, bookingID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTickets) Issue(ctx context.Context, booking *models.Booking) (*models.Ticket, error) {
	args := m.Called(ctx, booking)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

type MockPayment struct {
	mock.Mock
}

func (m *MockPayment) Refund(ctx context.Context, paymentIntentID string, amount float64, reason string) (*models.RefundRecord, error) {
	args := m.Called(ctx, paymentIntentID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefundRecord), args.Error(1)
}

type MockFraud struct {
	mock.Mock
}

func (m *MockFraud) Score(ctx context.Context, booking *models.Booking) (models.FraudResult, error) {
	args := m.Called(ctx, booking)
	return args.Get(0).(models.FraudResult), args.Error(1)
}

type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) PublishHoldCreated(booking models.Booking, lock models.SeatLock) error {
	args := m.Called(booking, lock)
	return args.Error(0)
}

func (m *MockEvents) PublishBookingConfirmed(booking models.Booking) error {
	args := m.Called(booking)
	return args.Error(0)
}

func (m *MockEvents) PublishBookingCancelled(booking models.Booking) error {
	args := m.Called(booking)
	return args.Error(0)
}

type serviceFixture struct {
	service *booking.Service
	bunDB   *bun.DB
	clock   *fakeClock
	tickets *MockTickets
	payment *MockPayment
	fraud   *MockFraud
	events  *MockEvents
}

func newServiceFixture(t *testing.T) *serviceFixture {
	store, bunDB := newTestStore(t)
	clock := newFakeClock()
	locks := booking.NewLockManager(store, nil, clock, nil)

	tickets := new(MockTickets)
	payment := new(MockPayment)
	fraud := new(MockFraud)
	events := new(MockEvents)

	// Default behaviors; individual tests override with more specific
	// expectations before these catch-alls fire.
	fraud.On("Score", mock.Anything, mock.Anything).Return(models.FraudResult{RiskLevel: "low"}, nil).Maybe()
	events.On("PublishHoldCreated", mock.Anything, mock.Anything).Return(nil).Maybe()
	events.On("PublishBookingConfirmed", mock.Anything).Return(nil).Maybe()
	events.On("PublishBookingCancelled", mock.Anything).Return(nil).Maybe()

	service := booking.NewService(store, locks, tickets, payment, fraud, events, clock, nil)
	return &serviceFixture{
		service: service,
		bunDB:   bunDB,
		clock:   clock,
		tickets: tickets,
		payment: payment,
		fraud:   fraud,
		events:  events,
	}
}

func TestCreateBookingPendingWithHold(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)

	bk, handle, err := f.service.CreateBooking(context.Background(), listing.ID, "user-a", "3")
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, models.BookingStatusPending, bk.Status)
	assert.Equal(t, "3", bk.SeatNumber)
	assert.Len(t, bk.BookingRef, 10)
	assert.Equal(t, "3", handle.SeatNumber)
	assert.True(t, handle.ExpiresAt.After(f.clock.Now()))
}

func TestCreateBookingSeatConflict(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	_, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	_, _, err = f.service.CreateBooking(ctx, listing.ID, "user-b", "3")
	assert.ErrorIs(t, err, booking.ErrSeatTaken)
}

func TestConfirmIssuesTicketOnce(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	bk, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	f.tickets.On("HasTicket", mock.Anything, bk.ID).Return(false, nil).Once()
	f.tickets.On("Issue", mock.Anything, mock.Anything).Return(&models.Ticket{TicketID: "t1"}, nil).Once()

	confirmed, err := f.service.Confirm(ctx, bk.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, confirmed.Status)
	assert.False(t, confirmed.ConfirmedAt.IsZero())

	// Second confirm is an idempotent no-op; the existing ticket is detected
	// and no new one is minted.
	f.tickets.On("HasTicket", mock.Anything, bk.ID).Return(true, nil).Once()
	again, err := f.service.Confirm(ctx, bk.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, again.Status)

	f.tickets.AssertExpectations(t)
	f.tickets.AssertNumberOfCalls(t, "Issue", 1)
}

func TestConfirmWrongUser(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	bk, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	_, err = f.service.Confirm(ctx, bk.ID, "user-b")
	assert.ErrorIs(t, err, booking.ErrForbidden)
}

func TestConfirmAfterHoldExpiry(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	bk, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	f.clock.Advance(booking.DefaultLockTTL + time.Minute)

	// Nobody claimed the seat meanwhile; the capacity re-check lets the
	// confirmation through.
	f.tickets.On("HasTicket", mock.Anything, bk.ID).Return(false, nil)
	f.tickets.On("Issue", mock.Anything, mock.Anything).Return(&models.Ticket{TicketID: "t1"}, nil)
	confirmed, err := f.service.Confirm(ctx, bk.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, confirmed.Status)
}

func TestConfirmLosesSeatAfterExpiry(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	first, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	f.clock.Advance(booking.DefaultLockTTL + time.Minute)

	// Another user grabs and confirms the seat while the first hold is dead.
	second, _, err := f.service.CreateBooking(ctx, listing.ID, "user-b", "3")
	require.NoError(t, err)
	f.tickets.On("HasTicket", mock.Anything, second.ID).Return(false, nil)
	f.tickets.On("Issue", mock.Anything, mock.Anything).Return(&models.Ticket{TicketID: "t2"}, nil)
	_, err = f.service.Confirm(ctx, second.ID, "user-b")
	require.NoError(t, err)

	_, err = f.service.Confirm(ctx, first.ID, "user-a")
	assert.ErrorIs(t, err, booking.ErrSeatTaken)
}

func TestConfirmLosesSeatToLiveHold(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	first, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	f.clock.Advance(booking.DefaultLockTTL + time.Minute)

	// Another user holds the seat but has not confirmed yet. The late
	// confirmation must still lose, or both bookings end up confirmed.
	second, _, err := f.service.CreateBooking(ctx, listing.ID, "user-b", "3")
	require.NoError(t, err)

	_, err = f.service.Confirm(ctx, first.ID, "user-a")
	assert.ErrorIs(t, err, booking.ErrSeatTaken)

	f.tickets.On("HasTicket", mock.Anything, second.ID).Return(false, nil)
	f.tickets.On("Issue", mock.Anything, mock.Anything).Return(&models.Ticket{TicketID: "t2"}, nil)
	_, err = f.service.Confirm(ctx, second.ID, "user-b")
	require.NoError(t, err)

	count, err := f.bunDB.NewSelect().
		Model((*models.Booking)(nil)).
		Where("listing_id = ?", listing.ID).
		Where("seat_number = ?", "3").
		Where("status = ?", models.BookingStatusConfirmed).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfirmFreeSeatingCountsLiveHolds(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 1, true, 72*time.Hour)
	ctx := context.Background()

	first, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "")
	require.NoError(t, err)

	f.clock.Advance(booking.DefaultLockTTL + time.Minute)

	second, _, err := f.service.CreateBooking(ctx, listing.ID, "user-b", "")
	require.NoError(t, err)

	// The last capacity unit is covered by a live hold; the lapsed booking
	// cannot take it back.
	_, err = f.service.Confirm(ctx, first.ID, "user-a")
	assert.ErrorIs(t, err, booking.ErrCapacityExceeded)

	f.tickets.On("HasTicket", mock.Anything, second.ID).Return(false, nil)
	f.tickets.On("Issue", mock.Anything, mock.Anything).Return(&models.Ticket{TicketID: "t3"}, nil)
	confirmed, err := f.service.Confirm(ctx, second.ID, "user-b")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, confirmed.Status)
}

func TestCancelPendingFreesSeat(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	bk, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	cancelled, err := f.service.Cancel(ctx, bk.ID, "user-a", booking.CancelOptions{Reason: "changed plans"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, models.RefundStatusNotApplicable, cancelled.RefundStatus)

	// Cancelling again is a no-op success.
	again, err := f.service.Cancel(ctx, bk.ID, "user-a", booking.CancelOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, again.Status)

	// The seat is takeable again.
	_, _, err = f.service.CreateBooking(ctx, listing.ID, "user-b", "3")
	assert.NoError(t, err)

	f.payment.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// confirmPaid drives a booking through confirm and attaches a payment intent.
func confirmPaid(t *testing.T, f *serviceFixture, listingID, userID, seat string) *models.Booking {
	ctx := context.Background()
	bk, _, err := f.service.CreateBooking(ctx, listingID, userID, seat)
	require.NoError(t, err)

	f.tickets.On("HasTicket", mock.Anything, bk.ID).Return(false, nil).Once()
	f.tickets.On("Issue", mock.Anything, mock.Anything).Return(&models.Ticket{TicketID: "t-" + bk.ID}, nil).Once()
	confirmed, err := f.service.Confirm(ctx, bk.ID, userID)
	require.NoError(t, err)

	confirmed.PaymentIntentID = "pi_" + bk.ID
	_, err = f.bunDB.NewUpdate().
		Model(confirmed).
		Column("payment_intent_id").
		Where("id = ?", confirmed.ID).
		Exec(ctx)
	require.NoError(t, err)
	return confirmed
}

func TestCancelConfirmedFullRefund(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	bk := confirmPaid(t, f, listing.ID, "user-a", "3")

	f.payment.On("Refund", mock.Anything, bk.PaymentIntentID, listing.Price, "changed plans").
		Return(&models.RefundRecord{RefundID: "re_1", Amount: listing.Price, Status: "succeeded"}, nil).Once()

	cancelled, err := f.service.Cancel(context.Background(), bk.ID, "user-a", booking.CancelOptions{Reason: "changed plans"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, listing.Price, cancelled.RefundAmount)
	assert.Equal(t, models.RefundStatusProcessed, cancelled.RefundStatus)
	f.payment.AssertExpectations(t)
}

func TestCancelConfirmedPartialRefund(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	// Starts in 36h: inside the partial window, 75% back.
	listing := createListing(t, f.bunDB, 10, false, 36*time.Hour)
	bk := confirmPaid(t, f, listing.ID, "user-a", "3")

	want := listing.Price * 0.75
	f.payment.On("Refund", mock.Anything, bk.PaymentIntentID, want, mock.Anything).
		Return(&models.RefundRecord{RefundID: "re_1", Amount: want, Status: "succeeded"}, nil).Once()

	cancelled, err := f.service.Cancel(context.Background(), bk.ID, "user-a", booking.CancelOptions{Reason: "schedule change"})
	require.NoError(t, err)
	assert.Equal(t, want, cancelled.RefundAmount)
	f.payment.AssertExpectations(t)
}

func TestCancelRefundFailureAborts(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	bk := confirmPaid(t, f, listing.ID, "user-a", "3")

	f.payment.On("Refund", mock.Anything, bk.PaymentIntentID, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway timeout")).Once()

	_, err := f.service.Cancel(context.Background(), bk.ID, "user-a", booking.CancelOptions{Reason: "changed plans"})
	assert.ErrorIs(t, err, booking.ErrRefundFailed)

	// The booking stays confirmed for a retry.
	stored, err := f.service.GetBooking(context.Background(), bk.ID, "user-a", false)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
}

func TestCancelWindowClosedForUser(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	// Starts in 12h: confirmed bookings are locked in for plain users.
	listing := createListing(t, f.bunDB, 10, false, 12*time.Hour)
	bk := confirmPaid(t, f, listing.ID, "user-a", "3")
	ctx := context.Background()

	_, err := f.service.Cancel(ctx, bk.ID, "user-a", booking.CancelOptions{})
	assert.ErrorIs(t, err, booking.ErrCancellationClosed)

	// Admin override works; inside 24h the policy refunds nothing, so the
	// gateway is never called.
	cancelled, err := f.service.Cancel(ctx, bk.ID, "admin-1", booking.CancelOptions{Admin: true, Reason: "merchant request"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, models.RefundStatusNotApplicable, cancelled.RefundStatus)
	f.payment.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelAdminRefundOverrideCapped(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 12*time.Hour)
	bk := confirmPaid(t, f, listing.ID, "user-a", "3")

	override := listing.Price * 10
	f.payment.On("Refund", mock.Anything, bk.PaymentIntentID, listing.Price, mock.Anything).
		Return(&models.RefundRecord{RefundID: "re_1", Amount: listing.Price, Status: "succeeded"}, nil).Once()

	cancelled, err := f.service.Cancel(context.Background(), bk.ID, "admin-1", booking.CancelOptions{
		Admin:        true,
		Reason:       "goodwill",
		RefundAmount: &override,
	})
	require.NoError(t, err)
	assert.Equal(t, listing.Price, cancelled.RefundAmount)
	f.payment.AssertExpectations(t)
}

func TestBulkCancelPerItemResults(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	first, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "1")
	require.NoError(t, err)
	second, _, err := f.service.CreateBooking(ctx, listing.ID, "user-b", "2")
	require.NoError(t, err)

	results := f.service.BulkCancel(ctx, []string{first.ID, "missing-id", second.ID}, "event postponed")
	require.Len(t, results, 3)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "error", results[1].Status)
	assert.Equal(t, "success", results[2].Status)

	stored, err := f.service.GetBooking(ctx, second.ID, "user-b", false)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	assert.Equal(t, "event postponed", stored.CancellationReason)
}

func TestHighRiskBookingBlockedAndSeatFreed(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	f.fraud.ExpectedCalls = nil
	f.fraud.On("Score", mock.Anything, mock.Anything).
		Return(models.FraudResult{RiskScore: 35, RiskLevel: "high", Flags: []string{"rapid_bookings", "duplicate_listing_booking"}}, nil).Once()

	bk, handle, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)
	assert.Nil(t, handle)
	assert.Equal(t, models.BookingStatusBlocked, bk.Status)

	// The blocked booking cannot be confirmed.
	_, err = f.service.Confirm(ctx, bk.ID, "user-a")
	assert.ErrorIs(t, err, booking.ErrForbidden)

	// And its hold is gone, so the seat is available.
	f.fraud.On("Score", mock.Anything, mock.Anything).Return(models.FraudResult{RiskLevel: "low"}, nil)
	_, _, err = f.service.CreateBooking(ctx, listing.ID, "user-b", "3")
	assert.NoError(t, err)
}

func TestGetBookingOwnership(t *testing.T) {
	f := newServiceFixture(t)
	defer f.bunDB.Close()
	listing := createListing(t, f.bunDB, 10, false, 72*time.Hour)
	ctx := context.Background()

	bk, _, err := f.service.CreateBooking(ctx, listing.ID, "user-a", "3")
	require.NoError(t, err)

	_, err = f.service.GetBooking(ctx, bk.ID, "user-b", false)
	assert.ErrorIs(t, err, booking.ErrForbidden)

	got, err := f.service.GetBooking(ctx, bk.ID, "user-b", true)
	require.NoError(t, err)
	assert.Equal(t, bk.ID, got.ID)

	_, err = f.service.GetBooking(ctx, "missing", "user-a", false)
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}
