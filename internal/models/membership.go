package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Membership struct {
	bun.BaseModel `bun:"table:memberships"`

	ID        int64      `json:"membershipID" bun:"id,pk,autoincrement"`
	UserID    int64      `json:"userID" bun:"user_id"`
	Balance   float64    `json:"balance" bun:"balance"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" bun:"expires_at"`
	CreatedAt time.Time  `json:"createdAt" bun:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" bun:"updated_at"`
}

type Recharge struct {
	bun.BaseModel `bun:"table:recharges"`

	ID        string    `json:"rechargeID" bun:"id,pk"`
	UserID    int64     `json:"userID" bun:"user_id"`
	Amount    float64   `json:"amount" bun:"amount"`
	Status    string    `json:"status" bun:"status"`
	CreatedAt time.Time `json:"createdAt" bun:"created_at"`
}

type RechargeRequest struct {
	UserID int64   `json:"user_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type RevenueType string

const (
	RevenueMembershipRecharge RevenueType = "membership_recharge"
	RevenueServiceSale        RevenueType = "service_sale"
	RevenueRefund             RevenueType = "refund"
)

// RevenueRecord is append-only: rows are inserted by the order/payment and
// recharge flows and never updated or deleted.
type RevenueRecord struct {
	bun.BaseModel `bun:"table:revenue_records"`

	ID        int64       `json:"revenueID" bun:"id,pk,autoincrement"`
	Type      RevenueType `json:"type" bun:"type"`
	Amount    float64     `json:"amount" bun:"amount"`
	OrderID   string      `json:"orderID,omitempty" bun:"order_id,nullzero"`
	CreatedAt time.Time   `json:"createdAt" bun:"created_at"`
}
