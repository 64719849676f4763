package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID   string    `bun:"ticket_id,pk" json:"ticket_id"`
	BookingID  string    `bun:"booking_id,unique,notnull" json:"booking_id"`
	BookingRef string    `bun:"booking_ref,notnull" json:"booking_ref"`
	QRCode     []byte    `bun:"qr_code" json:"qr_code,omitempty"`
	IssuedAt   time.Time `bun:"issued_at,notnull" json:"issued_at"`
}
