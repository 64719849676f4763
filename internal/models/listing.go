package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Listing struct {
	bun.BaseModel `bun:"table:listings"`

	ID         string    `bun:"id,pk" json:"id"`
	MerchantID string    `bun:"merchant_id,notnull" json:"merchant_id"`
	Title      string    `bun:"title,notnull" json:"title"`
	Type       string    `bun:"type" json:"type"` // bus, flight, hotel, event
	Price      float64   `bun:"price" json:"price"`
	TotalSeats int       `bun:"total_seats" json:"total_seats"`
	// FreeSeating listings have no discrete seat numbers; only the aggregate
	// capacity limit applies.
	FreeSeating bool `bun:"free_seating" json:"free_seating"`
	// AvailableSeats is a denormalized hint only. Real availability is always
	// recomputed from bookings and seat locks.
	AvailableSeats int       `bun:"available_seats" json:"available_seats"`
	StartTime      time.Time `bun:"start_time" json:"start_time"`
	Location       string    `bun:"location" json:"location"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
