package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository defines subscription data access
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ActivateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error)
	MarkExpiring(ctx context.Context, externalID string) (bool, error)
	ExpireByExternalID(ctx context.Context, externalID string) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ListDueForActivation(ctx context.Context, now time.Time) ([]*Subscription, error)
	ListActiveRecurring(ctx context.Context) ([]*Subscription, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates subscription repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const subscriptionColumns = `
	id, user_id, plan_name, status, start_date, end_date,
	external_subscription_id, cancelled_at, created_at, updated_at`

func (r *repository) Create(ctx context.Context, sub *Subscription) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO subscriptions (id, user_id, plan_name, status, start_date, end_date, external_subscription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, sub.ID, sub.UserID, sub.PlanName, sub.Status, sub.StartDate, sub.EndDate, sub.ExternalSubscriptionID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateActivation
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub Subscription
	err := r.db.GetContext(ctx2, &sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub Subscription
	err := r.db.GetContext(ctx2, &sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE external_subscription_id = $1
	`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription by external id: %w", err)
	}
	return &sub, nil
}

func (r *repository) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub Subscription
	err := r.db.GetContext(ctx2, &sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

// ActivateTx performs the pending -> active transition inside an external
// transaction. The status predicate is the guard; false means another
// worker already moved the row.
func (r *repository) ActivateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'active', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("activate subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// MarkExpiring records a cancellation while the paid period is still
// running. No ledger effect.
func (r *repository) MarkExpiring(ctx context.Context, externalID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET status = 'expiring', cancelled_at = NOW(), updated_at = NOW()
		WHERE external_subscription_id = $1 AND status = 'active'
	`, externalID)
	if err != nil {
		return false, fmt.Errorf("mark expiring: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *repository) ExpireByExternalID(ctx context.Context, externalID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE external_subscription_id = $1 AND status IN ('active', 'expiring')
	`, externalID)
	if err != nil {
		return false, fmt.Errorf("expire subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// ExpireDue moves all subscriptions past their end date to expired.
// A single guarded UPDATE, safe to re-run at any time.
func (r *repository) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE status IN ('active', 'expiring') AND end_date < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire due subscriptions: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ListDueForActivation returns due pending subscriptions that are safe to
// activate. A record anchored to a local checkout order only counts once
// that order is paid; records reported by the provider have no local
// order and activate on time alone.
func (r *repository) ListDueForActivation(ctx context.Context, now time.Time) ([]*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var subs []*Subscription
	err := r.db.SelectContext(ctx2, &subs, `
		SELECT s.id, s.user_id, s.plan_name, s.status, s.start_date, s.end_date,
		       s.external_subscription_id, s.cancelled_at, s.created_at, s.updated_at
		FROM subscriptions s
		LEFT JOIN orders o ON o.order_number = s.external_subscription_id
		WHERE s.status = 'pending' AND s.start_date <= $1
		  AND (o.order_number IS NULL OR o.status = 'paid')
		ORDER BY s.start_date
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due for activation: %w", err)
	}
	return subs, nil
}

// ListActiveRecurring returns recurring subscriptions still inside their
// paid period. Cancelled ones keep distributing until the end date, so
// expiring is included.
func (r *repository) ListActiveRecurring(ctx context.Context) ([]*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var subs []*Subscription
	err := r.db.SelectContext(ctx2, &subs, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('active', 'expiring') AND plan_name IN ('monthly', 'yearly')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active recurring: %w", err)
	}
	return subs, nil
}
