package billing

import "errors"

var (
	// ErrInvalidSignature means the webhook signature did not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrAmountMismatch means the notified amount differs from the order
	ErrAmountMismatch = errors.New("payment amount does not match order")
)
