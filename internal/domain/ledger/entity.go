package ledger

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is a closed set of credit transaction types.
type Kind string

const (
	KindPurchase            Kind = "purchase"
	KindMonthlyDistribution Kind = "monthly_distribution"
	KindActivation          Kind = "activation"
	KindBonus               Kind = "bonus"
	KindRefund              Kind = "refund"
	KindConsumption         Kind = "consumption"
	KindFix                 Kind = "fix"
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindMonthlyDistribution, KindActivation, KindBonus, KindRefund, KindConsumption, KindFix:
		return true
	}
	return false
}

// IsGrant reports whether k adds credits. Only grants may carry an expiry;
// consumption and fix rows never do.
func (k Kind) IsGrant() bool {
	switch k {
	case KindPurchase, KindMonthlyDistribution, KindActivation, KindBonus, KindRefund:
		return true
	}
	return false
}

// CreditTransaction is an immutable ledger row.
type CreditTransaction struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	UserID         uuid.UUID      `db:"user_id" json:"user_id"`
	Kind           Kind           `db:"kind" json:"kind"`
	Amount         int64          `db:"amount" json:"amount"`
	IdempotencyKey string         `db:"idempotency_key" json:"idempotency_key"`
	OrderReference sql.NullString `db:"order_reference" json:"order_reference,omitempty"`
	Description    string         `db:"description" json:"description,omitempty"`
	ExpiresAt      sql.NullTime   `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

func (t *CreditTransaction) validate() error {
	if !t.Kind.Valid() {
		return ErrUnknownKind
	}
	if t.Amount == 0 {
		return ErrInvalidAmount
	}
	if t.UserID == uuid.Nil || strings.TrimSpace(t.IdempotencyKey) == "" {
		return ErrInvalidTransaction
	}
	if t.Kind == KindConsumption && t.Amount > 0 {
		return ErrInvalidAmount
	}
	if t.Kind.IsGrant() && t.Amount < 0 {
		return ErrInvalidAmount
	}
	if !t.Kind.IsGrant() && t.ExpiresAt.Valid {
		// Expiring a debit would make a balance grow back over time.
		return ErrInvalidTransaction
	}
	return nil
}

// PurchaseKey derives the idempotency key for an order payment.
// Keys are built from immutable event fields so retries collapse.
func PurchaseKey(orderNumber string) string {
	return orderNumber + ":purchase"
}

// ActivationKey derives the idempotency key for a subscription's initial grant.
func ActivationKey(externalSubscriptionID string) string {
	return externalSubscriptionID + ":activation"
}

// DistributionKey derives the idempotency key for a billing-cycle distribution.
func DistributionKey(subscriptionID uuid.UUID, cycleStart time.Time) string {
	return fmt.Sprintf("%s:%s", subscriptionID, cycleStart.UTC().Format("2006-01-02"))
}

// FixKey derives the idempotency key for a reconciliation correction.
func FixKey(userID uuid.UUID, runID uuid.UUID) string {
	return fmt.Sprintf("fix:%s:%s", userID, runID)
}

// Cursor is a keyset pagination position (most recent first).
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Encode serializes the cursor for use as an opaque query parameter.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an encoded cursor. Empty input means "from the top".
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}
