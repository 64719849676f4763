package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	LockStatusHeld     = "held"
	LockStatusReleased = "released"
)

// SeatLock is a temporary claim on a seat, or on a generic capacity unit when
// SeatNumber is empty (free seating). Locks are never deleted; released locks
// are inert and kept for audit.
type SeatLock struct {
	bun.BaseModel `bun:"table:seat_locks"`

	ID         string    `bun:"id,pk" json:"id"`
	ListingID  string    `bun:"listing_id,notnull" json:"listing_id"`
	UserID     string    `bun:"user_id,notnull" json:"user_id"`
	SeatNumber string    `bun:"seat_number,nullzero" json:"seat_number,omitempty"`
	ExpiresAt  time.Time `bun:"expires_at,notnull" json:"expires_at"`
	Status     string    `bun:"status,notnull" json:"status"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// LockFilter narrows a release to held locks matching every non-empty field.
// An empty filter matches all held locks.
type LockFilter struct {
	LockID     string
	UserID     string
	ListingID  string
	SeatNumber string
}

// LockHandle is what acquire returns to the caller: enough to confirm,
// extend or release the hold later.
type LockHandle struct {
	LockID     string    `json:"lock_id"`
	ListingID  string    `json:"listing_id"`
	SeatNumber string    `json:"seat_number,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}
