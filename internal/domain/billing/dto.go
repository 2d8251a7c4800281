package billing

import "time"

// CheckoutRequest for POST /checkout
type CheckoutRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Plan   string `json:"plan" validate:"required,plan"`
	Email  string `json:"email,omitempty" validate:"omitempty,email,max=255"`
}

// CheckoutResponse carries the created order and the redirect URL
type CheckoutResponse struct {
	OrderNumber string  `json:"order_number"`
	Plan        string  `json:"plan"`
	Amount      float64 `json:"amount"`
	PaymentURL  string  `json:"payment_url"`
}

// SubscriptionEventRequest for POST /webhooks/subscriptions
type SubscriptionEventRequest struct {
	Event                  string     `json:"event" validate:"required,lifecycle_event"`
	ExternalSubscriptionID string     `json:"external_subscription_id" validate:"required,max=255"`
	UserID                 string     `json:"user_id,omitempty" validate:"omitempty,uuid"`
	Plan                   string     `json:"plan,omitempty" validate:"omitempty,plan"`
	StartDate              *time.Time `json:"start_date,omitempty"`
	EndDate                *time.Time `json:"end_date,omitempty"`
}
