package subscription

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PlanName represents subscription plan type
type PlanName string

const (
	PlanMonthly PlanName = "monthly"
	PlanYearly  PlanName = "yearly"
	PlanOneTime PlanName = "one_time"
)

// Status represents subscription lifecycle state
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
)

// allowedTransitions encodes the forward-only lifecycle:
// pending -> active -> expiring -> expired, with active -> expired for
// uncancelled subscriptions whose paid period ends. Expired is terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusActive},
	StatusActive:   {StatusExpiring, StatusExpired},
	StatusExpiring: {StatusExpired},
	StatusExpired:  {},
}

// CanTransitionTo reports whether moving from s to next is legal
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PlanSpec is the fixed catalog entry for a plan. Amounts are constants,
// not data: a plan change is a code change.
type PlanSpec struct {
	Name              PlanName
	Price             float64
	TermMonths        int   // subscription length; 0 for one-off packs
	CycleCredits      int64 // credits granted per billing cycle
	ActivationCredits int64 // one-time grant on activation
	PackCredits       int64 // credits in a one-off pack
	PackValidityDays  int   // days before pack credits expire
	RequiresBaseSub   bool  // one-off packs need an active monthly/yearly
}

var planCatalog = map[PlanName]PlanSpec{
	PlanMonthly: {
		Name:              PlanMonthly,
		Price:             990,
		TermMonths:        1,
		CycleCredits:      500,
		ActivationCredits: 500,
	},
	PlanYearly: {
		Name:              PlanYearly,
		Price:             9900,
		TermMonths:        12,
		CycleCredits:      500,
		ActivationCredits: 500,
	},
	PlanOneTime: {
		Name:             PlanOneTime,
		Price:            490,
		PackCredits:      1000,
		PackValidityDays: 30,
		RequiresBaseSub:  true,
	},
}

// PlanByName looks up a plan in the catalog
func PlanByName(name string) (*PlanSpec, error) {
	spec, ok := planCatalog[PlanName(name)]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &spec, nil
}

// IsRecurring reports whether the plan gets per-cycle distributions
func (p *PlanSpec) IsRecurring() bool {
	return p.TermMonths > 0
}

// CurrentCycleStart returns the start of the billing cycle containing now,
// anchored at the subscription start date. Each candidate is derived from
// the anchor directly so month-length clamping cannot drift.
func (p *PlanSpec) CurrentCycleStart(anchor, now time.Time) time.Time {
	if now.Before(anchor) {
		return anchor
	}
	n := 0
	for !anchor.AddDate(0, n+1, 0).After(now) {
		n++
	}
	return anchor.AddDate(0, n, 0)
}

// NextCycleStart returns the start of the cycle after the one containing now
func (p *PlanSpec) NextCycleStart(anchor, now time.Time) time.Time {
	current := p.CurrentCycleStart(anchor, now)
	n := 1
	for !anchor.AddDate(0, n, 0).After(current) {
		n++
	}
	return anchor.AddDate(0, n, 0)
}

// Subscription represents a user's subscription
type Subscription struct {
	ID                     uuid.UUID    `db:"id" json:"id"`
	UserID                 uuid.UUID    `db:"user_id" json:"user_id"`
	PlanName               PlanName     `db:"plan_name" json:"plan_name"`
	Status                 Status       `db:"status" json:"status"`
	StartDate              time.Time    `db:"start_date" json:"start_date"`
	EndDate                time.Time    `db:"end_date" json:"end_date"`
	ExternalSubscriptionID string       `db:"external_subscription_id" json:"external_subscription_id"`
	CancelledAt            sql.NullTime `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt              time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at" json:"updated_at"`
}

// IsExpired checks if the paid period has elapsed
func (s *Subscription) IsExpired(now time.Time) bool {
	return now.After(s.EndDate)
}
