package order

import "errors"

var (
	// ErrOrderNotFound is returned when the order reference is unknown
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadyPaid means the paid transition already happened. Callers
	// handling payment notifications treat this as success.
	ErrAlreadyPaid = errors.New("order already paid")

	// ErrDuplicateOrder is returned when the order number already exists
	ErrDuplicateOrder = errors.New("duplicate order number")
)
