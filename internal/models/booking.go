package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	BookingStatusPending       = "pending"
	BookingStatusConfirmed     = "confirmed"
	BookingStatusCancelled     = "cancelled"
	BookingStatusBlocked       = "blocked"
	BookingStatusPaymentFailed = "payment_failed"
)

const (
	RefundStatusPending       = "pending"
	RefundStatusProcessed     = "processed"
	RefundStatusFailed        = "failed"
	RefundStatusNotApplicable = "not_applicable"
)

// Booking is a user's claim on a seat that may become a paid ticket.
// SeatNumber is empty for free-seating listings. Once confirmed or cancelled
// the row is immutable except for refund bookkeeping.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                 string    `bun:"id,pk" json:"id"`
	UserID             string    `bun:"user_id,notnull" json:"user_id"`
	ListingID          string    `bun:"listing_id,notnull" json:"listing_id"`
	SeatNumber         string    `bun:"seat_number,nullzero" json:"seat_number,omitempty"`
	Status             string    `bun:"status,notnull" json:"status"`
	BookingRef         string    `bun:"booking_ref,unique,notnull" json:"booking_ref"`
	PaymentIntentID    string    `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	ConfirmedAt        time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	CancelledAt        time.Time `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	CancellationReason string    `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`
	RefundAmount       float64   `bun:"refund_amount,nullzero" json:"refund_amount,omitempty"`
	RefundStatus       string    `bun:"refund_status,nullzero" json:"refund_status,omitempty"`
	FraudScore         int       `bun:"fraud_score,nullzero" json:"fraud_score,omitempty"`
	FraudFlags         string    `bun:"fraud_flags,nullzero" json:"fraud_flags,omitempty"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type BookingRequest struct {
	ListingID  string `json:"listing_id"`
	SeatNumber string `json:"seat_number,omitempty"`
}

type BookingResponse struct {
	BookingID   string    `json:"booking_id"`
	BookingRef  string    `json:"booking_ref"`
	ListingID   string    `json:"listing_id"`
	SeatNumber  string    `json:"seat_number,omitempty"`
	Status      string    `json:"status"`
	HoldExpires time.Time `json:"hold_expires"`
}

type CancelRequest struct {
	Reason       string   `json:"reason,omitempty"`
	RefundAmount *float64 `json:"refund_amount,omitempty"`
}

type BulkCancelRequest struct {
	BookingIDs []string `json:"booking_ids"`
	Reason     string   `json:"reason"`
}

type BulkCancelItemResult struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// RefundRecord is returned by the payment gateway after a refund succeeds.
type RefundRecord struct {
	RefundID string  `json:"refund_id"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
}

// FraudResult is returned by the fraud scorer collaborator.
type FraudResult struct {
	RiskScore int      `json:"risk_score"`
	RiskLevel string   `json:"risk_level"` // low, medium, high
	Flags     []string `json:"flags"`
}
