package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/domain/distribution"
	"github.com/artfabrik/credits-api/internal/domain/ledger"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
)

// Runner sequences the periodic maintenance passes: activate subscriptions
// whose start date has arrived, expire subscriptions past their end date,
// then distribute the current cycle's credits. Every step is idempotent, so
// overlapping or repeated runs are safe.
type Runner struct {
	subs    *subscription.Service
	dist    *distribution.Service
	store   *ledger.Store
	compact bool
}

func NewRunner(subs *subscription.Service, dist *distribution.Service, store *ledger.Store, compact bool) *Runner {
	return &Runner{subs: subs, dist: dist, store: store, compact: compact}
}

// Report summarizes a single sweep pass
type Report struct {
	Activated int `json:"activated"`
	Expired   int `json:"expired"`
	Scanned   int `json:"scanned"`
	Granted   int `json:"granted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Compacted int `json:"compacted"`
}

func (r *Runner) RunOnce(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{}

	activated, err := r.subs.SweepActivateDue(ctx, now)
	if err != nil {
		return report, err
	}
	report.Activated = activated

	expired, err := r.subs.SweepExpireDue(ctx, now)
	if err != nil {
		return report, err
	}
	report.Expired = expired

	res, err := r.dist.RunOnce(ctx, now)
	if err != nil {
		return report, err
	}
	report.Scanned = res.Scanned
	report.Granted = res.Granted
	report.Skipped = res.Skipped
	report.Failed = res.Failed

	if r.compact {
		// Only grants older than the retention window are folded; the
		// balance-preserving check inside CompactExpired aborts the pass
		// rather than ever change a user's balance.
		compacted, err := r.store.CompactExpired(ctx, now.AddDate(0, -6, 0))
		if err != nil {
			return report, err
		}
		report.Compacted = compacted
	}

	log.Info().
		Int("activated", report.Activated).
		Int("expired", report.Expired).
		Int("granted", report.Granted).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("compacted", report.Compacted).
		Msg("sweep complete")

	return report, nil
}
