package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID                string        `json:"paymentID" bun:"id,pk"`
	OrderID           string        `json:"orderID" bun:"order_id"`
	Amount            float64       `json:"amount" bun:"amount"`
	Method            string        `json:"method" bun:"method"`
	Status            PaymentStatus `json:"status" bun:"status"`
	ExternalInvoiceID string        `json:"externalInvoiceID,omitempty" bun:"external_invoice_id,nullzero"`
	ExternalPaymentID string        `json:"externalPaymentID,omitempty" bun:"external_payment_id,nullzero"`
	TransactionTime   time.Time     `json:"transactionTime" bun:"transaction_time"`
	UpdatedAt         time.Time     `json:"updatedAt" bun:"updated_at"`
}

type CreatePaymentRequest struct {
	OrderID string  `json:"order_id" binding:"required"`
	Amount  float64 `json:"amount" binding:"required,gt=0"`
	Method  string  `json:"method" binding:"required"`
}

// PaymentCallbackRequest is the payload the gateway pushes to the webhook.
type PaymentCallbackRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status" binding:"required"`
}

type RefundRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
	Reason    string `json:"reason"`
}

type PaymentEvent struct {
	Type      string    `json:"type"`
	PaymentID string    `json:"payment_id"`
	Payment   *Payment  `json:"payment"`
	Timestamp time.Time `json:"timestamp"`
}
