package robokassa

import (
	"fmt"
	"math/big"
)

// ParseAmount reads a Robokassa decimal string (OutSum and friends) into
// an exact rational. Notifications arrive as "490" or "490.00" depending
// on the merchant settings, so float parsing is off the table.
func ParseAmount(raw string) (*big.Rat, error) {
	amount, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// AmountsEqual reports whether the notified sum matches the order sum
// exactly. Trailing zeros and alternate decimal forms compare equal.
func AmountsEqual(expected, actual *big.Rat) bool {
	return expected.Cmp(actual) == 0
}
