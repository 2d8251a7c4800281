package ledger

import "errors"

var (
	// ErrDuplicateTransaction means the idempotency key was already applied
	// with the same effect. Callers must treat this as success, not failure.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrKeyConflict means the idempotency key exists but with a different
	// user, kind or amount. This is a real error, never silently absorbed.
	ErrKeyConflict = errors.New("idempotency key conflicts with existing transaction")

	// ErrInsufficientCredits is returned when a consumption would overdraw.
	// Must never be retried automatically.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is zero or has the wrong sign
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownKind is returned for a transaction kind outside the closed set
	ErrUnknownKind = errors.New("unknown transaction kind")

	// ErrInvalidTransaction is returned when required fields are missing
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidCursor is returned for an unparsable pagination cursor
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)
