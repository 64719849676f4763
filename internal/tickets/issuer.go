package tickets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/tickets/db"
)

// Store is the persistence surface the issuer needs.
type Store interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	TicketExists(ctx context.Context, bookingID string) (bool, error)
}

// Issuer mints one ticket per confirmed booking, with a QR code carrying the
// booking reference for gate scanning.
type Issuer struct {
	DB     Store
	Logger *logger.Logger
}

func NewIssuer(store *db.DB, log *logger.Logger) *Issuer {
	return &Issuer{DB: store, Logger: log}
}

func (i *Issuer) HasTicket(ctx context.Context, bookingID string) (bool, error) {
	return i.DB.TicketExists(ctx, bookingID)
}

func (i *Issuer) Issue(ctx context.Context, booking *models.Booking) (*models.Ticket, error) {
	qrBytes, err := qrcode.Encode("BOOKING_REF:"+booking.BookingRef, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	ticket := &models.Ticket{
		TicketID:   uuid.New().String(),
		BookingID:  booking.ID,
		BookingRef: booking.BookingRef,
		QRCode:     qrBytes,
		IssuedAt:   time.Now().UTC(),
	}

	if err := i.DB.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("persist ticket: %w", err)
	}

	if i.Logger != nil {
		i.Logger.Info("TICKET", fmt.Sprintf("issued ticket %s for booking %s", ticket.TicketID, booking.ID))
	}
	return ticket, nil
}
