package payment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeGateway refunds payment intents for cancelled confirmed bookings.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("PAYMENT", "Stripe secret key not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("PAYMENT", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("PAYMENT", "Stripe client initialized successfully")
	return &StripeGateway{client: sc, log: log}, nil
}

// Refund issues a partial or full refund against the booking's payment
// intent. The amount is in the listing currency's major unit.
func (s *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amount float64, reason string) (*models.RefundRecord, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(toCents(amount)),
	}
	params.Context = ctx
	if reason != "" {
		params.AddMetadata("cancellation_reason", reason)
	}

	ref, err := s.client.Refunds.New(params)
	if err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("refund for intent %s failed: %v", paymentIntentID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("PAYMENT", fmt.Sprintf("refunded %.2f on intent %s (refund %s)", amount, paymentIntentID, ref.ID))
	return &models.RefundRecord{
		RefundID: ref.ID,
		Amount:   amount,
		Status:   string(ref.Status),
	}, nil
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
