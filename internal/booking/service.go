package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

// TicketIssuer issues the ticket artifact for a confirmed booking. Issue must
// be idempotent; the state machine additionally checks HasTicket first so a
// re-run of confirm never mints a duplicate.
type TicketIssuer interface {
	HasTicket(ctx context.Context, bookingID string) (bool, error)
	Issue(ctx context.Context, booking *models.Booking) (*models.Ticket, error)
}

// PaymentGateway handles refunds for cancelled confirmed bookings.
type PaymentGateway interface {
	Refund(ctx context.Context, paymentIntentID string, amount float64, reason string) (*models.RefundRecord, error)
}

// FraudScorer is consulted right after a pending booking is created; a high
// risk level blocks the booking before it can proceed toward payment.
type FraudScorer interface {
	Score(ctx context.Context, booking *models.Booking) (models.FraudResult, error)
}

// EventPublisher streams booking lifecycle events. Publishing is
// fire-and-forget: a broker outage never fails the booking operation.
type EventPublisher interface {
	PublishHoldCreated(booking models.Booking, lock models.SeatLock) error
	PublishBookingConfirmed(booking models.Booking) error
	PublishBookingCancelled(booking models.Booking) error
}

const (
	refFullWindow    = 48 * time.Hour
	refPartialWindow = 24 * time.Hour
	refPartialRate   = 0.75
)

// Service drives a booking through pending → confirmed/cancelled/blocked,
// coordinating with the lock manager so a lock and its booking always commit
// or roll back together.
type Service struct {
	DB      DBLayer
	Locks   *LockManager
	Tickets TicketIssuer
	Payment PaymentGateway
	Fraud   FraudScorer
	Events  EventPublisher
	Clock   Clock
	Logger  *logger.Logger
}

func NewService(db DBLayer, locks *LockManager, tickets TicketIssuer, payment PaymentGateway, fraud FraudScorer, events EventPublisher, clock Clock, log *logger.Logger) *Service {
	return &Service{
		DB:      db,
		Locks:   locks,
		Tickets: tickets,
		Payment: payment,
		Fraud:   fraud,
		Events:  events,
		Clock:   clock,
		Logger:  log,
	}
}

// CreateBooking acquires a hold and creates the pending booking in the same
// transaction. Seat conflicts surface as typed errors for the caller to retry
// with another seat.
func (s *Service) CreateBooking(ctx context.Context, listingID, userID, seatNumber string) (*models.Booking, *models.LockHandle, error) {
	unlock := s.Locks.lockListing(listingID)

	lock, err := s.Locks.prepareHold(ctx, listingID, userID, seatNumber)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	ref, err := s.uniqueBookingRef(ctx)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	booking := &models.Booking{
		ID:         uuid.NewString(),
		UserID:     userID,
		ListingID:  listingID,
		SeatNumber: lock.SeatNumber,
		Status:     models.BookingStatusPending,
		BookingRef: ref,
		CreatedAt:  s.Clock.Now(),
	}

	if err := s.DB.CreateHold(ctx, lock, booking); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("create hold and booking: %w", err)
	}
	s.Locks.invalidate(ctx, listingID)
	unlock()

	s.logBooking("CREATE", booking.ID, fmt.Sprintf("ref=%s seat=%q hold=%s", ref, lock.SeatNumber, lock.ID))

	// Fraud gate runs outside the critical section; a high score flips the
	// booking to blocked and frees the hold.
	if blocked := s.applyFraudGate(ctx, booking); blocked {
		return booking, nil, nil
	}

	if s.Events != nil {
		if err := s.Events.PublishHoldCreated(*booking, *lock); err != nil {
			s.logError("KAFKA", fmt.Sprintf("publish hold created: %v", err))
		}
	}
	return booking, handleFor(lock), nil
}

func (s *Service) applyFraudGate(ctx context.Context, booking *models.Booking) bool {
	if s.Fraud == nil {
		return false
	}
	result, err := s.Fraud.Score(ctx, booking)
	if err != nil {
		s.logError("BOOKING", fmt.Sprintf("fraud score failed for %s: %v", booking.ID, err))
		return false
	}
	booking.FraudScore = result.RiskScore
	booking.FraudFlags = utils.JoinFlags(result.Flags)
	if result.RiskLevel != "high" {
		if err := s.DB.UpdateBooking(ctx, booking); err != nil {
			s.logError("BOOKING", fmt.Sprintf("store fraud score for %s: %v", booking.ID, err))
		}
		return false
	}

	unlock := s.Locks.lockListing(booking.ListingID)
	defer unlock()

	booking.Status = models.BookingStatusBlocked
	err = s.DB.UpdateBookingAndReleaseLocks(ctx, booking, models.LockFilter{
		UserID:     booking.UserID,
		ListingID:  booking.ListingID,
		SeatNumber: booking.SeatNumber,
	})
	if err != nil {
		s.logError("BOOKING", fmt.Sprintf("block booking %s: %v", booking.ID, err))
		return false
	}
	s.Locks.invalidate(ctx, booking.ListingID)
	s.logBooking("BLOCK", booking.ID, fmt.Sprintf("risk_score=%d", result.RiskScore))
	return true
}

// Confirm moves a pending booking to confirmed. Idempotent: confirming an
// already-confirmed booking returns it unchanged. The caller must own the
// booking. If the hold lapsed but nobody claimed the seat, a capacity
// re-check lets the confirmation through.
func (s *Service) Confirm(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, ErrForbidden
	}

	switch booking.Status {
	case models.BookingStatusConfirmed:
		s.ensureTicket(ctx, booking)
		return booking, nil
	case models.BookingStatusCancelled:
		return nil, ErrAlreadyCancelled
	case models.BookingStatusBlocked:
		return nil, ErrForbidden
	}

	unlock := s.Locks.lockListing(booking.ListingID)

	listing, err := s.DB.GetListing(ctx, booking.ListingID)
	if err != nil {
		unlock()
		if isNotFound(err) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("load listing: %w", err)
	}

	now := s.Clock.Now()
	if _, err := s.DB.SweepExpiredLocks(ctx, booking.ListingID, now); err != nil {
		unlock()
		return nil, fmt.Errorf("sweep expired locks: %w", err)
	}

	validHold, err := s.DB.UserHoldActive(ctx, booking.ListingID, booking.UserID, booking.SeatNumber, now)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("check hold: %w", err)
	}
	if !validHold {
		// Safety net: the hold expired mid-flow. While the seat was
		// unprotected someone else may have confirmed it or taken a live
		// hold on it; either way the late confirmation loses.
		if !listing.FreeSeating && booking.SeatNumber != "" {
			held, err := s.DB.ActiveHeldLockExists(ctx, booking.ListingID, booking.SeatNumber, now)
			if err != nil {
				unlock()
				return nil, fmt.Errorf("check held lock: %w", err)
			}
			if held {
				// The caller's own hold is expired, so a live hold here
				// belongs to another user.
				unlock()
				return nil, ErrSeatTaken
			}
			taken, err := s.DB.SeatConfirmed(ctx, booking.ListingID, booking.SeatNumber)
			if err != nil {
				unlock()
				return nil, fmt.Errorf("check confirmed seat: %w", err)
			}
			if taken {
				unlock()
				return nil, ErrSeatTaken
			}
		}
		if listing.TotalSeats > 0 {
			confirmed, err := s.DB.ConfirmedCount(ctx, booking.ListingID, listing.FreeSeating)
			if err != nil {
				unlock()
				return nil, fmt.Errorf("count confirmed: %w", err)
			}
			occupied := confirmed
			if listing.FreeSeating {
				held, err := s.DB.HeldCount(ctx, booking.ListingID, now)
				if err != nil {
					unlock()
					return nil, fmt.Errorf("count held: %w", err)
				}
				occupied += held
			}
			if occupied >= listing.TotalSeats {
				unlock()
				if listing.FreeSeating {
					return nil, ErrCapacityExceeded
				}
				return nil, ErrNoSeatsAvailable
			}
		}
	}

	booking.Status = models.BookingStatusConfirmed
	booking.ConfirmedAt = now
	err = s.DB.UpdateBookingAndReleaseLocks(ctx, booking, models.LockFilter{
		UserID:     booking.UserID,
		ListingID:  booking.ListingID,
		SeatNumber: booking.SeatNumber,
	})
	if err != nil {
		unlock()
		return nil, fmt.Errorf("confirm booking: %w", err)
	}
	s.Locks.invalidate(ctx, booking.ListingID)
	unlock()

	s.logBooking("CONFIRM", booking.ID, fmt.Sprintf("ref=%s seat=%q", booking.BookingRef, booking.SeatNumber))

	// Ticket issuance happens after commit. A failure here never rolls back
	// the confirmation; the ticket is re-checked on every later confirm call.
	s.ensureTicket(ctx, booking)

	if s.Events != nil {
		if err := s.Events.PublishBookingConfirmed(*booking); err != nil {
			s.logError("KAFKA", fmt.Sprintf("publish booking confirmed: %v", err))
		}
	}
	return booking, nil
}

func (s *Service) ensureTicket(ctx context.Context, booking *models.Booking) {
	if s.Tickets == nil {
		return
	}
	exists, err := s.Tickets.HasTicket(ctx, booking.ID)
	if err != nil {
		s.logError("TICKET", fmt.Sprintf("check ticket for %s: %v", booking.ID, err))
		return
	}
	if exists {
		return
	}
	if _, err := s.Tickets.Issue(ctx, booking); err != nil {
		s.logError("TICKET", fmt.Sprintf("issue ticket for %s: %v", booking.ID, err))
	}
}

// CancelOptions carries the optional cancellation inputs.
type CancelOptions struct {
	Reason       string
	RefundAmount *float64 // admin override, capped at the listing price
	Admin        bool
}

// Cancel moves a booking to cancelled, releasing its hold and refunding
// confirmed paid bookings per the cancellation policy. Idempotent: cancelling
// a cancelled booking is a no-op success with no second refund.
func (s *Service) Cancel(ctx context.Context, bookingID, userID string, opts CancelOptions) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID && !opts.Admin {
		return nil, ErrForbidden
	}
	if booking.Status == models.BookingStatusCancelled {
		return booking, nil
	}

	listing, err := s.DB.GetListing(ctx, booking.ListingID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("load listing: %w", err)
	}

	now := s.Clock.Now()
	wasConfirmed := booking.Status == models.BookingStatusConfirmed

	if wasConfirmed && !opts.Admin && now.After(listing.StartTime.Add(-refPartialWindow)) {
		return nil, ErrCancellationClosed
	}

	// The refund runs before the critical section so the listing mutex is
	// never held across a network call. A refund failure aborts the
	// cancellation entirely; the booking stays confirmed for a retry.
	if wasConfirmed && booking.PaymentIntentID != "" {
		amount := refundAmount(listing, now, opts.RefundAmount)
		reason := opts.Reason
		if reason == "" {
			reason = "requested_by_customer"
		}
		if amount > 0 {
			if s.Payment == nil {
				return nil, fmt.Errorf("%w: payment gateway not configured", ErrRefundFailed)
			}
			record, err := s.Payment.Refund(ctx, booking.PaymentIntentID, amount, reason)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
			}
			booking.RefundAmount = record.Amount
			booking.RefundStatus = models.RefundStatusProcessed
		} else {
			booking.RefundStatus = models.RefundStatusNotApplicable
		}
	} else {
		booking.RefundStatus = models.RefundStatusNotApplicable
	}

	unlock := s.Locks.lockListing(booking.ListingID)

	booking.Status = models.BookingStatusCancelled
	booking.CancelledAt = now
	booking.CancellationReason = opts.Reason
	err = s.DB.UpdateBookingAndReleaseLocks(ctx, booking, models.LockFilter{
		UserID:     booking.UserID,
		ListingID:  booking.ListingID,
		SeatNumber: booking.SeatNumber,
	})
	if err != nil {
		unlock()
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	s.Locks.invalidate(ctx, booking.ListingID)
	unlock()

	s.logBooking("CANCEL", booking.ID, fmt.Sprintf("ref=%s refund=%.2f", booking.BookingRef, booking.RefundAmount))

	if s.Events != nil {
		if err := s.Events.PublishBookingCancelled(*booking); err != nil {
			s.logError("KAFKA", fmt.Sprintf("publish booking cancelled: %v", err))
		}
	}
	return booking, nil
}

// BulkCancel cancels each booking in its own transaction; one failure never
// affects its siblings.
func (s *Service) BulkCancel(ctx context.Context, bookingIDs []string, reason string) []models.BulkCancelItemResult {
	results := make([]models.BulkCancelItemResult, 0, len(bookingIDs))
	for _, id := range bookingIDs {
		_, err := s.Cancel(ctx, id, "", CancelOptions{Reason: reason, Admin: true})
		if err != nil {
			results = append(results, models.BulkCancelItemResult{
				BookingID: id,
				Status:    "error",
				Message:   err.Error(),
			})
			continue
		}
		results = append(results, models.BulkCancelItemResult{BookingID: id, Status: "success"})
	}
	return results
}

// GetBooking returns the booking if the caller owns it (or is admin).
func (s *Service) GetBooking(ctx context.Context, bookingID, userID string, admin bool) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID && !admin {
		return nil, ErrForbidden
	}
	return booking, nil
}

func (s *Service) getBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return booking, nil
}

// refundAmount applies the cancellation policy: full refund at 48h or more
// before start, 75% between 24h and 48h, nothing inside 24h. An explicit
// override is capped at the listing price.
func refundAmount(listing *models.Listing, now time.Time, override *float64) float64 {
	if override != nil {
		if *override > listing.Price {
			return listing.Price
		}
		if *override < 0 {
			return 0
		}
		return *override
	}
	until := listing.StartTime.Sub(now)
	switch {
	case until >= refFullWindow:
		return listing.Price
	case until >= refPartialWindow:
		return listing.Price * refPartialRate
	default:
		return 0
	}
}

func (s *Service) uniqueBookingRef(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		ref := utils.GenerateBookingRef()
		exists, err := s.DB.BookingRefExists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("check booking ref: %w", err)
		}
		if !exists {
			return ref, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique booking ref")
}

func (s *Service) logBooking(action, bookingID, message string) {
	if s.Logger != nil {
		s.Logger.LogBooking(action, bookingID, message)
	}
}

func (s *Service) logError(category, message string) {
	if s.Logger != nil {
		s.Logger.Error(category, message)
	}
}
