package ledger

import "time"

// ConsumeRequest for POST /users/{userID}/credits/consume
type ConsumeRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Reason         string `json:"reason" validate:"required,max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=255"`
}

// BalanceResponse for GET /users/{userID}/balance
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// TransactionResponse represents a ledger row in API output
type TransactionResponse struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Amount         int64      `json:"amount"`
	OrderReference *string    `json:"order_reference,omitempty"`
	Description    string     `json:"description,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TransactionResponseFromEntity converts a ledger row to API output
func TransactionResponseFromEntity(t *CreditTransaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:          t.ID.String(),
		Kind:        string(t.Kind),
		Amount:      t.Amount,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
	if t.OrderReference.Valid {
		ref := t.OrderReference.String
		resp.OrderReference = &ref
	}
	if t.ExpiresAt.Valid {
		expiresAt := t.ExpiresAt.Time
		resp.ExpiresAt = &expiresAt
	}
	return resp
}
