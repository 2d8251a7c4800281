package billing

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
	"github.com/artfabrik/credits-api/internal/domain/order"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
	"github.com/artfabrik/credits-api/internal/pkg/robokassa"
)

// Service is the idempotency guard in front of the ledger and the
// subscription lifecycle: every externally triggered financial event
// passes through here and is applied at most once.
type Service struct {
	db      *sqlx.DB
	store   *ledger.Store
	cache   *ledger.BalanceCache
	orders  *order.Repository
	subs    *subscription.Service
	gateway *robokassa.Client
}

func NewService(db *sqlx.DB, store *ledger.Store, cache *ledger.BalanceCache, orders *order.Repository, subs *subscription.Service, gateway *robokassa.Client) *Service {
	return &Service{
		db:      db,
		store:   store,
		cache:   cache,
		orders:  orders,
		subs:    subs,
		gateway: gateway,
	}
}

// CreateCheckout creates an order (and, for recurring plans, a pending
// subscription anchored to the order number) and returns the payment URL
// the user is redirected to.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, planName string, email string) (*order.Order, string, error) {
	plan, err := subscription.PlanByName(planName)
	if err != nil {
		return nil, "", err
	}
	if err := s.subs.CheckPurchaseEligibility(ctx, userID, plan); err != nil {
		return nil, "", err
	}

	invoiceID, err := s.orders.NextInvoiceID(ctx)
	if err != nil {
		return nil, "", err
	}

	o := &order.Order{
		OrderNumber: order.NewOrderNumber(),
		UserID:      userID,
		ProductID:   string(plan.Name),
		Amount:      plan.Price,
		InvoiceID:   invoiceID,
		Status:      order.StatusCreated,
	}
	if !plan.IsRecurring() {
		o.CreditsGranted = plan.PackCredits
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, "", err
	}

	if plan.IsRecurring() {
		now := time.Now()
		err := s.subs.RegisterPending(ctx, o.OrderNumber, userID, plan, now, now.AddDate(0, plan.TermMonths, 0))
		if err != nil && !errors.Is(err, subscription.ErrDuplicateActivation) {
			return nil, "", err
		}
	}

	payment, err := s.gateway.CreatePayment(robokassa.CreatePaymentRequest{
		Amount:      plan.Price,
		InvID:       invoiceID,
		Description: fmt.Sprintf("credits-api: %s", plan.Name),
		Email:       email,
		Shp: map[string]string{
			"order": o.OrderNumber,
		},
	})
	if err != nil {
		return nil, "", err
	}

	log.Info().
		Str("order_number", o.OrderNumber).
		Str("user_id", userID.String()).
		Str("plan", planName).
		Int64("invoice_id", invoiceID).
		Msg("checkout created")
	return o, payment.PaymentURL, nil
}

// HandlePaymentCompleted applies a verified payment notification: one
// purchase append and one paid transition, in a single DB transaction.
// Replays hit the idempotency key or the status guard and fall through
// as success. Partial failures (append landed, order update lost) are
// healed on the next delivery because both writes replay cleanly.
func (s *Service) HandlePaymentCompleted(ctx context.Context, ev PaymentCompleted) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	o, err := s.orders.GetByNumberTx(ctx, tx, ev.OrderReference)
	if err != nil {
		return err
	}

	credits := ev.CreditsGranted
	if credits == 0 {
		credits = o.CreditsGranted
	}

	if credits > 0 {
		grant := &ledger.CreditTransaction{
			UserID:         o.UserID,
			Kind:           ledger.KindPurchase,
			Amount:         credits,
			IdempotencyKey: ledger.PurchaseKey(o.OrderNumber),
			OrderReference: sql.NullString{String: o.OrderNumber, Valid: true},
			Description:    "credit pack purchase",
		}
		// Anchored on the order so every redelivery builds the same grant.
		if plan, err := subscription.PlanByName(o.ProductID); err == nil && plan.PackValidityDays > 0 {
			grant.ExpiresAt = sql.NullTime{Time: o.CreatedAt.AddDate(0, 0, plan.PackValidityDays), Valid: true}
		}
		if err := s.store.AppendTx(ctx, tx, grant); err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return err
		}
	}

	if err := s.orders.MarkPaidTx(ctx, tx, o.OrderNumber); err != nil && !errors.Is(err, order.ErrAlreadyPaid) {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.cache.Invalidate(ctx, o.UserID)

	log.Info().
		Str("order_number", o.OrderNumber).
		Str("user_id", o.UserID.String()).
		Int64("credits", credits).
		Msg("payment completed")

	// A paid order for a recurring plan activates its subscription. The
	// activation is keyed on the order number, so a replayed notification
	// is harmless here too.
	if plan, err := subscription.PlanByName(o.ProductID); err == nil && plan.IsRecurring() {
		now := time.Now()
		err := s.subs.RegisterActivated(ctx, o.OrderNumber, o.UserID, o.ProductID, now, now.AddDate(0, plan.TermMonths, 0))
		if err != nil && !errors.Is(err, subscription.ErrInvalidTransition) {
			return err
		}
	}
	return nil
}

// HandleRobokassaResult verifies and applies a ResultURL notification.
// Returns the invoice ID to acknowledge on success.
func (s *Service) HandleRobokassaResult(ctx context.Context, payload *robokassa.WebhookPayload) (int64, error) {
	if !s.gateway.VerifyWebhook(payload) {
		return 0, ErrInvalidSignature
	}

	o, err := s.orders.GetByInvoiceID(ctx, payload.InvId)
	if err != nil {
		return 0, err
	}

	notified, err := robokassa.ParseAmount(payload.OutSum)
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	expected, err := robokassa.ParseAmount(fmt.Sprintf("%.2f", o.Amount))
	if err != nil {
		return 0, fmt.Errorf("parse order amount: %w", err)
	}
	if !robokassa.AmountsEqual(expected, notified) {
		log.Error().
			Str("order_number", o.OrderNumber).
			Str("notified", payload.OutSum).
			Float64("expected", o.Amount).
			Msg("payment amount mismatch")
		return 0, ErrAmountMismatch
	}

	if err := s.HandlePaymentCompleted(ctx, PaymentCompleted{
		OrderReference: o.OrderNumber,
		UserID:         o.UserID,
	}); err != nil {
		return 0, err
	}
	return payload.InvId, nil
}

// HandleSubscriptionActivated applies an activation notification
func (s *Service) HandleSubscriptionActivated(ctx context.Context, ev SubscriptionActivated) error {
	return s.subs.RegisterActivated(ctx, ev.ExternalSubscriptionID, ev.UserID, ev.PlanName, ev.StartDate, ev.EndDate)
}

// HandleSubscriptionCancelled applies a cancellation notification
func (s *Service) HandleSubscriptionCancelled(ctx context.Context, ev SubscriptionCancelled) error {
	return s.subs.Cancel(ctx, ev.ExternalSubscriptionID)
}

// HandleSubscriptionExpired applies an expiry notification
func (s *Service) HandleSubscriptionExpired(ctx context.Context, ev SubscriptionExpired) error {
	return s.subs.Expire(ctx, ev.ExternalSubscriptionID)
}
