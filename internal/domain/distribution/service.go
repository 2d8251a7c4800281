package distribution

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/domain/ledger"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
)

// Service grants the per-cycle credits to active recurring subscriptions.
// Invoked daily; the idempotency key (subscription, cycle start) makes a
// second run in the same cycle a no-op, whatever the overlap or retry.
type Service struct {
	repo  subscription.Repository
	store *ledger.Store
	cache *ledger.BalanceCache
}

func NewService(repo subscription.Repository, store *ledger.Store, cache *ledger.BalanceCache) *Service {
	return &Service{repo: repo, store: store, cache: cache}
}

// Result summarizes a distribution run
type Result struct {
	Scanned int
	Granted int
	Skipped int
	Failed  int
}

// RunOnce walks every active recurring subscription and appends the
// current cycle's distribution where one is due and not yet present.
func (s *Service) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	subs, err := s.repo.ListActiveRecurring(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.Scanned = len(subs)

	for _, sub := range subs {
		plan, err := subscription.PlanByName(string(sub.PlanName))
		if err != nil {
			log.Error().Err(err).
				Str("subscription_id", sub.ID.String()).
				Str("plan", string(sub.PlanName)).
				Msg("unknown plan during distribution")
			res.Failed++
			continue
		}
		if plan.CycleCredits <= 0 {
			res.Skipped++
			continue
		}
		if now.Before(sub.StartDate) || now.After(sub.EndDate) {
			// Not started yet, or the expiry sweep has not caught up.
			res.Skipped++
			continue
		}

		cycleStart := plan.CurrentCycleStart(sub.StartDate, now)
		grant := &ledger.CreditTransaction{
			UserID:         sub.UserID,
			Kind:           ledger.KindMonthlyDistribution,
			Amount:         plan.CycleCredits,
			IdempotencyKey: ledger.DistributionKey(sub.ID, cycleStart),
			Description:    "monthly credit distribution",
			ExpiresAt:      sql.NullTime{Time: plan.NextCycleStart(sub.StartDate, now), Valid: true},
		}

		err = s.store.Append(ctx, grant)
		switch {
		case err == nil:
			s.cache.Invalidate(ctx, sub.UserID)
			res.Granted++
			log.Info().
				Str("subscription_id", sub.ID.String()).
				Str("user_id", sub.UserID.String()).
				Time("cycle_start", cycleStart).
				Int64("amount", plan.CycleCredits).
				Msg("distribution granted")
		case errors.Is(err, ledger.ErrDuplicateTransaction):
			// Already granted for this cycle.
			res.Skipped++
		default:
			log.Error().Err(err).
				Str("subscription_id", sub.ID.String()).
				Msg("distribution append failed")
			res.Failed++
		}
	}

	return res, nil
}
