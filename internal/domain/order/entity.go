package order

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents order status
type Status string

const (
	StatusCreated Status = "created"
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Order represents a checkout order. Orders transition to paid exactly
// once and are never deleted.
type Order struct {
	OrderNumber    string       `db:"order_number" json:"order_number"`
	UserID         uuid.UUID    `db:"user_id" json:"user_id"`
	ProductID      string       `db:"product_id" json:"product_id"`
	CreditsGranted int64        `db:"credits_granted" json:"credits_granted"`
	Amount         float64      `db:"amount" json:"amount"`
	InvoiceID      int64        `db:"invoice_id" json:"invoice_id"`
	Status         Status       `db:"status" json:"status"`
	PaidAt         sql.NullTime `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// IsPaid checks if the order has been paid
func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

// NewOrderNumber generates a short, human-readable order reference
func NewOrderNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(raw[:12])
}
