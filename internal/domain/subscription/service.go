package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/domain/ledger"
)

// Service drives the subscription lifecycle. All credit effects go
// through the ledger store with deterministic idempotency keys, so any
// path (payment event, lifecycle webhook, time sweep) can race or retry
// without double-granting.
type Service struct {
	db    *sqlx.DB
	repo  Repository
	store *ledger.Store
	cache *ledger.BalanceCache
}

func NewService(db *sqlx.DB, repo Repository, store *ledger.Store, cache *ledger.BalanceCache) *Service {
	return &Service{db: db, repo: repo, store: store, cache: cache}
}

// RegisterPending creates a pending subscription anchored to an external
// ID before payment confirms. Duplicate registrations surface as
// ErrDuplicateActivation, which checkout treats as a retry.
func (s *Service) RegisterPending(ctx context.Context, externalID string, userID uuid.UUID, plan *PlanSpec, start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidPeriod
	}
	return s.repo.Create(ctx, &Subscription{
		ID:                     uuid.New(),
		UserID:                 userID,
		PlanName:               plan.Name,
		Status:                 StatusPending,
		StartDate:              start,
		EndDate:                end,
		ExternalSubscriptionID: externalID,
	})
}

// RegisterActivated handles an externally reported activation: create the
// record when it is new, advance it to active when it is pending, and
// ignore replays. A record that already reached expired is never revived.
func (s *Service) RegisterActivated(ctx context.Context, externalID string, userID uuid.UUID, planName string, start, end time.Time) error {
	plan, err := PlanByName(planName)
	if err != nil {
		return err
	}
	if !plan.IsRecurring() {
		return ErrPlanNotFound
	}
	if !end.After(start) {
		return ErrInvalidPeriod
	}

	sub, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	if sub == nil {
		sub = &Subscription{
			ID:                     uuid.New(),
			UserID:                 userID,
			PlanName:               plan.Name,
			Status:                 StatusPending,
			StartDate:              start,
			EndDate:                end,
			ExternalSubscriptionID: externalID,
		}
		if err := s.repo.Create(ctx, sub); err != nil {
			if errors.Is(err, ErrDuplicateActivation) {
				// Lost the creation race; reload and fall through.
				if sub, err = s.repo.GetByExternalID(ctx, externalID); err != nil {
					return err
				}
			} else {
				return err
			}
		}
	}

	switch sub.Status {
	case StatusPending:
		if time.Now().Before(sub.StartDate) {
			// Not due yet; the sweep will pick it up.
			return nil
		}
		return s.Activate(ctx, sub)
	case StatusActive, StatusExpiring:
		// Replayed activation event, nothing to do.
		return nil
	case StatusExpired:
		log.Error().
			Str("external_subscription_id", externalID).
			Str("status", string(sub.Status)).
			Msg("activation attempted on expired subscription")
		return ErrInvalidTransition
	default:
		return fmt.Errorf("unexpected subscription status %q", sub.Status)
	}
}

// Activate performs the pending -> active transition together with the
// plan's one-time initial grant, as a single DB transaction. The grant is
// keyed on the external subscription ID, so reruns cannot double-grant.
func (s *Service) Activate(ctx context.Context, sub *Subscription) error {
	if !sub.Status.CanTransitionTo(StatusActive) {
		log.Error().
			Str("subscription_id", sub.ID.String()).
			Str("status", string(sub.Status)).
			Msg("illegal transition to active rejected")
		return ErrInvalidTransition
	}

	plan, err := PlanByName(string(sub.PlanName))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	activated, err := s.repo.ActivateTx(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	if !activated {
		// Another worker won the guarded update; its transaction also
		// owns the grant.
		return nil
	}

	if plan.ActivationCredits > 0 {
		grant := &ledger.CreditTransaction{
			UserID:         sub.UserID,
			Kind:           ledger.KindActivation,
			Amount:         plan.ActivationCredits,
			IdempotencyKey: ledger.ActivationKey(sub.ExternalSubscriptionID),
			Description:    "initial subscription grant",
			ExpiresAt:      sql.NullTime{Time: plan.NextCycleStart(sub.StartDate, sub.StartDate), Valid: true},
		}
		if err := s.store.AppendTx(ctx, tx, grant); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.cache.Invalidate(ctx, sub.UserID)
	log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("user_id", sub.UserID.String()).
		Str("plan", string(sub.PlanName)).
		Msg("subscription activated")
	return nil
}

// Cancel records a cancellation. While the paid period runs the record
// moves to expiring; past the end date it expires directly. No ledger
// effect either way.
func (s *Service) Cancel(ctx context.Context, externalID string) error {
	sub, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrSubscriptionNotFound
	}

	switch sub.Status {
	case StatusActive:
		if sub.IsExpired(time.Now()) {
			_, err := s.repo.ExpireByExternalID(ctx, externalID)
			return err
		}
		_, err := s.repo.MarkExpiring(ctx, externalID)
		return err
	case StatusExpiring, StatusExpired:
		// Replayed cancellation, nothing to do.
		return nil
	default:
		log.Error().
			Str("external_subscription_id", externalID).
			Str("status", string(sub.Status)).
			Msg("illegal cancellation rejected")
		return ErrInvalidTransition
	}
}

// Expire handles an externally reported expiry
func (s *Service) Expire(ctx context.Context, externalID string) error {
	sub, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrSubscriptionNotFound
	}

	switch sub.Status {
	case StatusActive, StatusExpiring:
		_, err := s.repo.ExpireByExternalID(ctx, externalID)
		return err
	case StatusExpired:
		return nil
	default:
		log.Error().
			Str("external_subscription_id", externalID).
			Str("status", string(sub.Status)).
			Msg("illegal expiry rejected")
		return ErrInvalidTransition
	}
}

// GetActive returns the user's active subscription or nil
func (s *Service) GetActive(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.repo.GetActiveByUserID(ctx, userID)
}

// CheckPurchaseEligibility enforces the purchase policy: one-off packs
// require an active recurring subscription, and a plan type already held
// active cannot be bought again. Read-only against subscription state.
func (s *Service) CheckPurchaseEligibility(ctx context.Context, userID uuid.UUID, plan *PlanSpec) error {
	active, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}

	if plan.RequiresBaseSub {
		if active == nil {
			return ErrSubscriptionRequired
		}
		return nil
	}

	if active != nil && active.PlanName == plan.Name {
		return ErrAlreadySubscribed
	}
	return nil
}

// SweepActivateDue advances every due pending subscription. Part of the
// periodic sweep; each activation goes through the same guarded
// transition and keyed grant as the event path.
func (s *Service) SweepActivateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListDueForActivation(ctx, now)
	if err != nil {
		return 0, err
	}

	activated := 0
	for _, sub := range due {
		if err := s.Activate(ctx, sub); err != nil {
			log.Error().Err(err).
				Str("subscription_id", sub.ID.String()).
				Msg("sweep activation failed")
			continue
		}
		activated++
	}
	return activated, nil
}

// SweepExpireDue expires everything past its end date
func (s *Service) SweepExpireDue(ctx context.Context, now time.Time) (int, error) {
	return s.repo.ExpireDue(ctx, now)
}
