package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SeatStatus string

const (
	SeatBookable SeatStatus = "bookable"
	SeatReserved SeatStatus = "reserved"
	SeatRetired  SeatStatus = "retired"
)

type Seat struct {
	bun.BaseModel `bun:"table:seats"`

	ID         int64      `json:"seatID" bun:"id,pk,autoincrement"`
	StoreID    int64      `json:"storeID" bun:"store_id"`
	SeatNumber string     `json:"seatNumber" bun:"seat_number"`
	SeatType   string     `json:"seatType" bun:"seat_type"`
	Status     SeatStatus `json:"status" bun:"status"`
	CreatedAt  time.Time  `json:"createdAt" bun:"created_at"`
}

// Reservation is one committed time slot on a seat. Intervals are half-open:
// start inclusive, end exclusive. For a given seat no two rows may overlap.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID        int64     `json:"reservationID" bun:"id,pk,autoincrement"`
	UserID    int64     `json:"userID" bun:"user_id"`
	OrderID   string    `json:"orderID" bun:"order_id"`
	SeatID    int64     `json:"seatID" bun:"seat_id"`
	StartTime time.Time `json:"startTime" bun:"start_time"`
	EndTime   time.Time `json:"endTime" bun:"end_time"`
	CreatedAt time.Time `json:"createdAt" bun:"created_at"`
}

// Overlaps reports whether [start,end) intersects the reservation's slot.
// Abutting intervals do not overlap.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && r.EndTime.After(start)
}
