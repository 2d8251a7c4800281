package billing

import (
	"time"

	"github.com/google/uuid"
)

// PaymentCompleted is the normalized "payment succeeded for order X"
// fact, however the processor delivered it. Delivery is at-least-once;
// everything downstream is keyed so replays collapse.
type PaymentCompleted struct {
	OrderReference string
	UserID         uuid.UUID
	CreditsGranted int64
}

// SubscriptionActivated is the normalized activation notification
type SubscriptionActivated struct {
	ExternalSubscriptionID string
	UserID                 uuid.UUID
	PlanName               string
	StartDate              time.Time
	EndDate                time.Time
}

// SubscriptionCancelled is the normalized cancellation notification
type SubscriptionCancelled struct {
	ExternalSubscriptionID string
}

// SubscriptionExpired is the normalized expiry notification
type SubscriptionExpired struct {
	ExternalSubscriptionID string
}
