package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Merchant owns listings. The booking core only ever reads it.
type Merchant struct {
	bun.BaseModel `bun:"table:merchants"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
