package subscription

import "errors"

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidTransition means a backward or otherwise illegal lifecycle
	// move was attempted. Logged loudly and rejected, never corrected.
	ErrInvalidTransition = errors.New("invalid subscription state transition")

	// ErrDuplicateActivation means the external subscription ID was
	// already registered. At most one activation per external ID.
	ErrDuplicateActivation = errors.New("subscription already activated for this external id")

	// ErrAlreadySubscribed rejects buying a plan type already held active
	ErrAlreadySubscribed = errors.New("user already has an active subscription of this plan")

	// ErrSubscriptionRequired rejects a one-off pack without a base plan
	ErrSubscriptionRequired = errors.New("an active subscription is required for this purchase")

	ErrInvalidPeriod = errors.New("subscription end date must be after start date")
)
