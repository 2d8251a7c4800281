package billing_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artfabrik/credits-api/internal/domain/billing"
	"github.com/artfabrik/credits-api/internal/domain/ledger"
	"github.com/artfabrik/credits-api/internal/domain/order"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
	"github.com/artfabrik/credits-api/internal/pkg/robokassa"
	"github.com/artfabrik/credits-api/internal/testutil"
)

const (
	testPassword1 = "pass1"
	testPassword2 = "pass2"
)

type fixture struct {
	svc    *billing.Service
	subs   *subscription.Service
	orders *order.Repository
	store  *ledger.Store
}

func newFixture(db *sqlx.DB) *fixture {
	store := ledger.NewStore(db)
	cache := ledger.NewBalanceCache(nil, 0)
	orders := order.NewRepository(db)
	subs := subscription.NewService(db, subscription.NewRepository(db), store, cache)
	gateway := robokassa.NewClient(robokassa.Config{
		MerchantLogin: "demo",
		Password1:     testPassword1,
		Password2:     testPassword2,
		HashAlgo:      robokassa.HashSHA256,
	})
	svc := billing.NewService(db, store, cache, orders, subs, gateway)
	return &fixture{svc: svc, subs: subs, orders: orders, store: store}
}

func createPackOrder(t *testing.T, f *fixture, userID uuid.UUID) *order.Order {
	t.Helper()
	invoiceID, err := f.orders.NextInvoiceID(context.Background())
	requireNoError(t, err)
	o := &order.Order{
		OrderNumber:    order.NewOrderNumber(),
		UserID:         userID,
		ProductID:      "one_time",
		CreditsGranted: 1000,
		Amount:         490,
		InvoiceID:      invoiceID,
		Status:         order.StatusCreated,
	}
	requireNoError(t, f.orders.Create(context.Background(), o))
	return o
}

func TestPaymentCompletedAppliedOnce(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()
	o := createPackOrder(t, f, userID)

	ev := billing.PaymentCompleted{OrderReference: o.OrderNumber, UserID: userID}

	// The provider retries until acknowledged; every delivery must land
	// on the same single grant.
	for i := 0; i < 4; i++ {
		requireNoError(t, f.svc.HandlePaymentCompleted(context.Background(), ev))
	}

	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 1000 {
		t.Fatalf("expected balance 1000 after replays, got %d", balance)
	}

	got, err := f.orders.GetByNumber(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if got.Status != order.StatusPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}

	txs, err := f.store.ListByOrder(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if len(txs) != 1 {
		t.Fatalf("expected 1 ledger row for order, got %d", len(txs))
	}
	if txs[0].Kind != ledger.KindPurchase {
		t.Fatalf("expected purchase kind, got %s", txs[0].Kind)
	}
}

func TestPaymentCompletedConcurrentDeliveries(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()
	o := createPackOrder(t, f, userID)

	ev := billing.PaymentCompleted{OrderReference: o.OrderNumber, UserID: userID}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.HandlePaymentCompleted(context.Background(), ev)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	txs, err := f.store.ListByOrder(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if len(txs) != 1 {
		t.Fatalf("expected 1 ledger row for order, got %d", len(txs))
	}

	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 1000 {
		t.Fatalf("expected balance 1000, got %d", balance)
	}
}

func TestPackGrantExpires(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()
	o := createPackOrder(t, f, userID)

	requireNoError(t, f.svc.HandlePaymentCompleted(context.Background(), billing.PaymentCompleted{
		OrderReference: o.OrderNumber, UserID: userID,
	}))

	grant, err := f.store.GetByIdempotencyKey(context.Background(), ledger.PurchaseKey(o.OrderNumber))
	requireNoError(t, err)
	if grant == nil || !grant.ExpiresAt.Valid {
		t.Fatal("pack grant missing or without expiry")
	}

	want := time.Now().AddDate(0, 0, 30)
	if delta := grant.ExpiresAt.Time.Sub(want); delta > time.Minute || delta < -time.Minute {
		t.Fatalf("pack expiry %v, want ~%v", grant.ExpiresAt.Time, want)
	}
}

func TestPaymentCompletedActivatesRecurring(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()

	o, payURL, err := f.svc.CreateCheckout(context.Background(), userID, "monthly", "user@example.com")
	requireNoError(t, err)
	if payURL == "" {
		t.Fatal("empty payment url")
	}

	repo := subscription.NewRepository(db)
	sub, err := repo.GetByExternalID(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if sub == nil || sub.Status != subscription.StatusPending {
		t.Fatalf("expected pending subscription after checkout, got %+v", sub)
	}

	for i := 0; i < 3; i++ {
		requireNoError(t, f.svc.HandlePaymentCompleted(context.Background(), billing.PaymentCompleted{
			OrderReference: o.OrderNumber, UserID: userID,
		}))
	}

	sub, err = repo.GetByExternalID(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if sub.Status != subscription.StatusActive {
		t.Fatalf("expected active subscription, got %s", sub.Status)
	}

	// Monthly plan grants only the activation credits on payment.
	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 500 {
		t.Fatalf("expected balance 500, got %d", balance)
	}
}

func TestSweepIgnoresUnpaidCheckout(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	repo := subscription.NewRepository(db)
	userID := uuid.New()

	o, _, err := f.svc.CreateCheckout(context.Background(), userID, "monthly", "user@example.com")
	requireNoError(t, err)

	// The user walked away from the payment page. The sweep must leave
	// the pending record alone and grant nothing.
	_, err = f.subs.SweepActivateDue(context.Background(), time.Now())
	requireNoError(t, err)

	sub, err := repo.GetByExternalID(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if sub == nil || sub.Status != subscription.StatusPending {
		t.Fatalf("expected pending subscription after sweep, got %+v", sub)
	}

	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 0 {
		t.Fatalf("expected balance 0 before payment, got %d", balance)
	}

	// Once payment lands the same record activates and the initial
	// grant applies.
	requireNoError(t, f.svc.HandlePaymentCompleted(context.Background(), billing.PaymentCompleted{
		OrderReference: o.OrderNumber, UserID: userID,
	}))

	sub, err = repo.GetByExternalID(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if sub == nil || sub.Status != subscription.StatusActive {
		t.Fatalf("expected active subscription after payment, got %+v", sub)
	}

	balance, err = f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 500 {
		t.Fatalf("expected activation grant after payment, got %d", balance)
	}
}

func TestSweepActivatesPaidCheckout(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	repo := subscription.NewRepository(db)
	userID := uuid.New()

	o, _, err := f.svc.CreateCheckout(context.Background(), userID, "monthly", "user@example.com")
	requireNoError(t, err)

	// Order is paid but the activation never ran, as after a crash
	// between the ledger commit and the subscription update.
	tx, err := db.Beginx()
	requireNoError(t, err)
	requireNoError(t, f.orders.MarkPaidTx(context.Background(), tx, o.OrderNumber))
	requireNoError(t, tx.Commit())

	_, err = f.subs.SweepActivateDue(context.Background(), time.Now())
	requireNoError(t, err)

	sub, err := repo.GetByExternalID(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if sub == nil || sub.Status != subscription.StatusActive {
		t.Fatalf("expected sweep to activate paid subscription, got %+v", sub)
	}

	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 500 {
		t.Fatalf("expected activation grant after heal, got %d", balance)
	}
}

func TestCheckoutEligibility(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()

	// Packs without a base subscription are rejected at checkout.
	_, _, err := f.svc.CreateCheckout(context.Background(), userID, "one_time", "")
	if !errors.Is(err, subscription.ErrSubscriptionRequired) {
		t.Fatalf("expected ErrSubscriptionRequired, got %v", err)
	}

	_, _, err = f.svc.CreateCheckout(context.Background(), userID, "weekly", "")
	if !errors.Is(err, subscription.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func signedWebhook(o *order.Order) *robokassa.WebhookPayload {
	outSum := fmt.Sprintf("%.2f", o.Amount)
	base := robokassa.BuildResultSignatureBase(outSum, strconv.FormatInt(o.InvoiceID, 10), testPassword2, nil)
	sig, _ := robokassa.Sign(base, robokassa.HashSHA256)
	return &robokassa.WebhookPayload{OutSum: outSum, InvId: o.InvoiceID, SignatureValue: sig}
}

func TestRobokassaResultHappyPath(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()
	o := createPackOrder(t, f, userID)

	invID, err := f.svc.HandleRobokassaResult(context.Background(), signedWebhook(o))
	requireNoError(t, err)
	if invID != o.InvoiceID {
		t.Fatalf("ack invoice %d, want %d", invID, o.InvoiceID)
	}

	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 1000 {
		t.Fatalf("expected balance 1000, got %d", balance)
	}
}

func TestRobokassaResultBadSignature(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	o := createPackOrder(t, f, uuid.New())

	payload := signedWebhook(o)
	payload.SignatureValue = "deadbeef"

	_, err := f.svc.HandleRobokassaResult(context.Background(), payload)
	if !errors.Is(err, billing.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	got, err := f.orders.GetByNumber(context.Background(), o.OrderNumber)
	requireNoError(t, err)
	if got.Status == order.StatusPaid {
		t.Fatal("order paid despite bad signature")
	}
}

func TestRobokassaResultAmountMismatch(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()
	o := createPackOrder(t, f, userID)

	// Correctly signed, but for the wrong sum.
	wrongSum := "1.00"
	base := robokassa.BuildResultSignatureBase(wrongSum, strconv.FormatInt(o.InvoiceID, 10), testPassword2, nil)
	sig, _ := robokassa.Sign(base, robokassa.HashSHA256)

	_, err := f.svc.HandleRobokassaResult(context.Background(), &robokassa.WebhookPayload{
		OutSum: wrongSum, InvId: o.InvoiceID, SignatureValue: sig,
	})
	if !errors.Is(err, billing.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	balance, err := f.store.BalanceAsOf(context.Background(), userID, time.Now())
	requireNoError(t, err)
	if balance != 0 {
		t.Fatalf("credits granted on mismatched amount: %d", balance)
	}
}

func TestRobokassaResultUnknownInvoice(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	base := robokassa.BuildResultSignatureBase("1.00", "424242", testPassword2, nil)
	sig, _ := robokassa.Sign(base, robokassa.HashSHA256)

	_, err := f.svc.HandleRobokassaResult(context.Background(), &robokassa.WebhookPayload{
		OutSum: "1.00", InvId: 424242, SignatureValue: sig,
	})
	if !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSubscriptionLifecycleEvents(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	f := newFixture(db)
	userID := uuid.New()
	externalID := "ext-" + uuid.NewString()
	start := time.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)

	requireNoError(t, f.svc.HandleSubscriptionActivated(context.Background(), billing.SubscriptionActivated{
		ExternalSubscriptionID: externalID,
		UserID:                 userID,
		PlanName:               "monthly",
		StartDate:              start,
		EndDate:                end,
	}))
	requireNoError(t, f.svc.HandleSubscriptionCancelled(context.Background(), billing.SubscriptionCancelled{
		ExternalSubscriptionID: externalID,
	}))
	requireNoError(t, f.svc.HandleSubscriptionExpired(context.Background(), billing.SubscriptionExpired{
		ExternalSubscriptionID: externalID,
	}))

	sub, err := subscription.NewRepository(db).GetByExternalID(context.Background(), externalID)
	requireNoError(t, err)
	if sub.Status != subscription.StatusExpired {
		t.Fatalf("expected expired, got %s", sub.Status)
	}

	// Out-of-order replays after expiry change nothing.
	requireNoError(t, f.svc.HandleSubscriptionCancelled(context.Background(), billing.SubscriptionCancelled{
		ExternalSubscriptionID: externalID,
	}))
	err = f.svc.HandleSubscriptionActivated(context.Background(), billing.SubscriptionActivated{
		ExternalSubscriptionID: externalID,
		UserID:                 userID,
		PlanName:               "monthly",
		StartDate:              start,
		EndDate:                end,
	})
	if !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
