package models

const (
	SeatStatusAvailable = "available"
	SeatStatusLocked    = "locked"
	SeatStatusBooked    = "booked"
)

type SeatMapEntry struct {
	SeatNumber string `json:"seat_number"`
	Status     string `json:"status"`
}

// Availability is a point-in-time snapshot derived from the seat ledger.
// SeatMap is populated only for listings with discrete seat numbers.
type Availability struct {
	ListingID      string         `json:"listing_id"`
	TotalSeats     int            `json:"total_seats"`
	ConfirmedCount int            `json:"confirmed"`
	HeldCount      int            `json:"held"`
	AvailableCount int            `json:"available"`
	SeatMap        []SeatMapEntry `json:"seat_map,omitempty"`
}
