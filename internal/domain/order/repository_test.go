package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/artfabrik/credits-api/internal/domain/order"
	"github.com/artfabrik/credits-api/internal/testutil"
)

func createOrder(t *testing.T, repo *order.Repository) *order.Order {
	t.Helper()
	invoiceID, err := repo.NextInvoiceID(context.Background())
	if err != nil {
		t.Fatalf("next invoice id: %v", err)
	}
	o := &order.Order{
		OrderNumber:    order.NewOrderNumber(),
		UserID:         uuid.New(),
		ProductID:      "one_time",
		CreditsGranted: 1000,
		Amount:         490,
		InvoiceID:      invoiceID,
		Status:         order.StatusCreated,
	}
	if err := repo.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestMarkPaidOnce(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	repo := order.NewRepository(db)
	o := createOrder(t, repo)

	markPaid := func() error {
		tx, err := db.Beginx()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		if err := repo.MarkPaidTx(context.Background(), tx, o.OrderNumber); err != nil {
			return err
		}
		return tx.Commit()
	}

	if err := markPaid(); err != nil {
		t.Fatalf("first mark paid: %v", err)
	}

	// Every later notification reports ErrAlreadyPaid, which callers
	// treat as success.
	for i := 0; i < 3; i++ {
		if err := markPaid(); !errors.Is(err, order.ErrAlreadyPaid) {
			t.Fatalf("replay %d: expected ErrAlreadyPaid, got %v", i, err)
		}
	}

	got, err := repo.GetByNumber(context.Background(), o.OrderNumber)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != order.StatusPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}
	if !got.PaidAt.Valid {
		t.Fatal("paid_at not set")
	}
}

func TestMarkPaidUnknownOrder(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	repo := order.NewRepository(db)
	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	err = repo.MarkPaidTx(context.Background(), tx, "ORD-MISSING")
	if !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMarkFailedNeverDowngradesPaid(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	repo := order.NewRepository(db)
	o := createOrder(t, repo)

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.MarkPaidTx(context.Background(), tx, o.OrderNumber); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := repo.MarkFailed(context.Background(), o.OrderNumber); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := repo.GetByNumber(context.Background(), o.OrderNumber)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != order.StatusPaid {
		t.Fatalf("paid order downgraded to %s", got.Status)
	}
}

func TestGetByInvoiceID(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	repo := order.NewRepository(db)
	o := createOrder(t, repo)

	got, err := repo.GetByInvoiceID(context.Background(), o.InvoiceID)
	if err != nil {
		t.Fatalf("get by invoice: %v", err)
	}
	if got.OrderNumber != o.OrderNumber {
		t.Fatalf("got order %s, want %s", got.OrderNumber, o.OrderNumber)
	}

	if _, err := repo.GetByInvoiceID(context.Background(), 999999999); !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestDuplicateOrderNumber(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	repo := order.NewRepository(db)
	o := createOrder(t, repo)

	dup := *o
	dup.InvoiceID = o.InvoiceID + 1
	if err := repo.Create(context.Background(), &dup); !errors.Is(err, order.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestNextInvoiceIDMonotonic(t *testing.T) {
	db := testutil.ConnectDB(t)
	defer testutil.CleanupDB(db)

	repo := order.NewRepository(db)
	prev, err := repo.NextInvoiceID(context.Background())
	if err != nil {
		t.Fatalf("next invoice id: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := repo.NextInvoiceID(context.Background())
		if err != nil {
			t.Fatalf("next invoice id: %v", err)
		}
		if next <= prev {
			t.Fatalf("invoice id not increasing: %d after %d", next, prev)
		}
		prev = next
	}
}
