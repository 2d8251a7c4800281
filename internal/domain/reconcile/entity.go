package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// Drift is a mismatch between the denormalized balance column and the
// ledger-derived sum for one user.
type Drift struct {
	UserID  uuid.UUID `db:"user_id" json:"user_id"`
	Cached  int64     `db:"cached_balance" json:"cached_balance"`
	Derived int64     `db:"derived_balance" json:"derived_balance"`
	Delta   int64     `db:"-" json:"delta"`
}

// OrphanedOrder is a paid order with no matching purchase transaction:
// the order transition landed but the ledger append was lost.
type OrphanedOrder struct {
	OrderNumber    string    `db:"order_number" json:"order_number"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	CreditsGranted int64     `db:"credits_granted" json:"credits_granted"`
}

// DuplicateReference is an order reference appearing on more than one
// transaction of the same kind. The uniqueness constraint makes this
// impossible going forward; the scan covers historical data.
type DuplicateReference struct {
	OrderReference string `db:"order_reference" json:"order_reference"`
	Kind           string `db:"kind" json:"kind"`
	Count          int    `db:"cnt" json:"count"`
}

// Report is the read-only output of a reconciliation scan
type Report struct {
	RunID               uuid.UUID            `json:"run_id"`
	GeneratedAt         time.Time            `json:"generated_at"`
	Drifts              []Drift              `json:"drifts"`
	OrphanedOrders      []OrphanedOrder      `json:"orphaned_orders"`
	DuplicateReferences []DuplicateReference `json:"duplicate_references"`
}

// Clean reports whether the scan found nothing to repair
func (r *Report) Clean() bool {
	return len(r.Drifts) == 0 && len(r.OrphanedOrders) == 0 && len(r.DuplicateReferences) == 0
}
