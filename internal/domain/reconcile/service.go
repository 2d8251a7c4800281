package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/domain/ledger"
)

type Service struct {
	db    *sqlx.DB
	store *ledger.Store
	cache *ledger.BalanceCache
}

func NewService(db *sqlx.DB, store *ledger.Store, cache *ledger.BalanceCache) *Service {
	return &Service{db: db, store: store, cache: cache}
}

// Scan recomputes every user's ledger balance and diffs it against the
// denormalized column. It never writes anything.
func (s *Service) Scan(ctx context.Context) (*Report, error) {
	now := time.Now().UTC()
	report := &Report{
		RunID:       uuid.New(),
		GeneratedAt: now,
	}

	var rows []Drift
	query := `
		SELECT b.user_id,
		       b.cached_balance,
		       COALESCE((
		           SELECT SUM(t.amount) FROM credit_transactions t
		           WHERE t.user_id = b.user_id
		             AND (t.expires_at IS NULL OR t.expires_at > $1)
		       ), 0) AS derived_balance
		FROM user_balances b
	`
	if err := s.db.SelectContext(ctx, &rows, query, now); err != nil {
		return nil, fmt.Errorf("scanning balance drift: %w", err)
	}
	for _, d := range rows {
		if d.Cached == d.Derived {
			continue
		}
		d.Delta = d.Derived - d.Cached
		report.Drifts = append(report.Drifts, d)
	}

	orphanQuery := `
		SELECT o.order_number, o.user_id, o.credits_granted
		FROM orders o
		LEFT JOIN credit_transactions t
		       ON t.idempotency_key = o.order_number || ':purchase'
		WHERE o.status = 'paid'
		  AND o.credits_granted > 0
		  AND t.id IS NULL
		ORDER BY o.order_number
	`
	if err := s.db.SelectContext(ctx, &report.OrphanedOrders, orphanQuery); err != nil {
		return nil, fmt.Errorf("scanning orphaned orders: %w", err)
	}

	dupQuery := `
		SELECT order_reference, kind, COUNT(*) AS cnt
		FROM credit_transactions
		WHERE order_reference IS NOT NULL
		GROUP BY order_reference, kind
		HAVING COUNT(*) > 1
	`
	if err := s.db.SelectContext(ctx, &report.DuplicateReferences, dupQuery); err != nil {
		return nil, fmt.Errorf("scanning duplicate references: %w", err)
	}

	log.Info().
		Str("run_id", report.RunID.String()).
		Int("drifts", len(report.Drifts)).
		Int("orphaned_orders", len(report.OrphanedOrders)).
		Int("duplicate_references", len(report.DuplicateReferences)).
		Msg("reconciliation scan complete")

	return report, nil
}

// Apply repairs balance drift for the given users by appending a fix
// transaction per user so the denormalized column once again matches the
// ledger. The ledger stays authoritative: the fix moves the ledger to the
// cached value only when an operator has confirmed the cached value is the
// correct one; the default repair direction is refreshing the cache instead.
//
// Each fix is keyed on the run ID, so re-applying the same run is a no-op.
// Orphaned orders are reported only; repairing them means replaying the
// payment event, which is the payment pipeline's job.
func (s *Service) Apply(ctx context.Context, runID uuid.UUID, userIDs []uuid.UUID) (int, error) {
	now := time.Now().UTC()
	applied := 0

	for _, userID := range userIDs {
		derived, err := s.store.BalanceAsOf(ctx, userID, now)
		if err != nil {
			return applied, fmt.Errorf("recomputing balance for %s: %w", userID, err)
		}
		var cached int64
		err = s.db.GetContext(ctx, &cached,
			`SELECT cached_balance FROM user_balances WHERE user_id = $1`, userID)
		if err != nil {
			return applied, fmt.Errorf("reading cached balance for %s: %w", userID, err)
		}
		if cached == derived {
			// drift healed between scan and apply, refresh and move on
			continue
		}

		delta := cached - derived
		t := &ledger.CreditTransaction{
			ID:             uuid.New(),
			UserID:         userID,
			Kind:           ledger.KindFix,
			Amount:         delta,
			IdempotencyKey: ledger.FixKey(userID, runID),
			Description:    fmt.Sprintf("reconciliation fix, run %s", runID),
		}
		if err := s.store.Append(ctx, t); err != nil {
			if errors.Is(err, ledger.ErrDuplicateTransaction) {
				continue
			}
			return applied, fmt.Errorf("appending fix for %s: %w", userID, err)
		}
		if err := s.store.SetCachedBalance(ctx, userID, derived+delta); err != nil {
			return applied, fmt.Errorf("refreshing cached balance for %s: %w", userID, err)
		}
		s.cache.Invalidate(ctx, userID)

		log.Warn().
			Str("user_id", userID.String()).
			Str("run_id", runID.String()).
			Int64("delta", delta).
			Msg("applied reconciliation fix")
		applied++
	}

	return applied, nil
}

// Refresh recomputes the denormalized column from the ledger for the given
// users without touching the ledger itself. This is the default repair for
// drift caused by a stale cached value.
func (s *Service) Refresh(ctx context.Context, userIDs []uuid.UUID) (int, error) {
	now := time.Now().UTC()
	refreshed := 0
	for _, userID := range userIDs {
		derived, err := s.store.BalanceAsOf(ctx, userID, now)
		if err != nil {
			return refreshed, fmt.Errorf("recomputing balance for %s: %w", userID, err)
		}
		if err := s.store.SetCachedBalance(ctx, userID, derived); err != nil {
			return refreshed, fmt.Errorf("refreshing cached balance for %s: %w", userID, err)
		}
		s.cache.Invalidate(ctx, userID)
		refreshed++
	}
	return refreshed, nil
}
