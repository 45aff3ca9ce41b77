package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderAwaitingUse    OrderStatus = "awaiting_use"
	OrderInUse          OrderStatus = "in_use"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID        string      `json:"orderID" bun:"id,pk"`
	UserID    int64       `json:"userID" bun:"user_id"`
	StoreID   int64       `json:"storeID" bun:"store_id"`
	SeatID    *int64      `json:"seatID,omitempty" bun:"seat_id"`
	ServiceID *int64      `json:"serviceID,omitempty" bun:"service_id"`
	Status    OrderStatus `json:"status" bun:"status"`
	StartTime time.Time   `json:"startTime" bun:"start_time"`
	EndTime   time.Time   `json:"endTime" bun:"end_time"`
	CreatedAt time.Time   `json:"createdAt" bun:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" bun:"updated_at"`
}

type CreateOrderRequest struct {
	UserID    int64     `json:"user_id" binding:"required"`
	StoreID   int64     `json:"store_id" binding:"required"`
	SeatID    *int64    `json:"seat_id,omitempty"`
	ServiceID *int64    `json:"service_id,omitempty"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}

type OrderEvent struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	Order     *Order    `json:"order"`
	Amount    float64   `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
