package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository provides order data access
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new order in status created
func (r *Repository) Create(ctx context.Context, o *Order) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO orders (order_number, user_id, product_id, credits_granted, amount, invoice_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.OrderNumber, o.UserID, o.ProductID, o.CreditsGranted, o.Amount, o.InvoiceID, o.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// GetByNumber returns an order by its reference
func (r *Repository) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var o Order
	err := r.db.GetContext(ctx2, &o, `
		SELECT order_number, user_id, product_id, credits_granted, amount, invoice_id, status, paid_at, created_at
		FROM orders
		WHERE order_number = $1
	`, orderNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// GetByNumberTx returns an order within an external transaction
func (r *Repository) GetByNumberTx(ctx context.Context, tx *sqlx.Tx, orderNumber string) (*Order, error) {
	var o Order
	err := tx.GetContext(ctx, &o, `
		SELECT order_number, user_id, product_id, credits_granted, amount, invoice_id, status, paid_at, created_at
		FROM orders
		WHERE order_number = $1
	`, orderNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order in tx: %w", err)
	}
	return &o, nil
}

// GetByInvoiceID returns an order by the payment provider invoice number
func (r *Repository) GetByInvoiceID(ctx context.Context, invoiceID int64) (*Order, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var o Order
	err := r.db.GetContext(ctx2, &o, `
		SELECT order_number, user_id, product_id, credits_granted, amount, invoice_id, status, paid_at, created_at
		FROM orders
		WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by invoice: %w", err)
	}
	return &o, nil
}

// MarkPaidTx transitions an order to paid exactly once. The guard is the
// status predicate in the UPDATE itself: a second notification affects
// zero rows and reports ErrAlreadyPaid, which callers treat as success.
func (r *Repository) MarkPaidTx(ctx context.Context, tx *sqlx.Tx, orderNumber string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = 'paid', paid_at = NOW()
		WHERE order_number = $1 AND status <> 'paid'
	`, orderNumber)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetByNumberTx(ctx, tx, orderNumber); err != nil {
			return err
		}
		return ErrAlreadyPaid
	}
	return nil
}

// MarkFailed records a failed payment. Paid orders are never downgraded.
func (r *Repository) MarkFailed(ctx context.Context, orderNumber string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE orders
		SET status = 'failed'
		WHERE order_number = $1 AND status IN ('created', 'pending')
	`, orderNumber)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// NextInvoiceID issues the next provider invoice number from a sequence
func (r *Repository) NextInvoiceID(ctx context.Context) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var invoiceID int64
	if err := r.db.GetContext(ctx2, &invoiceID, `SELECT nextval('order_invoice_seq')`); err == nil {
		return invoiceID, nil
	}

	// Fallback when the sequence is missing (fresh test databases)
	err := r.db.GetContext(ctx2, &invoiceID, `
		SELECT COALESCE(MAX(invoice_id), 0) + 1 FROM orders
	`)
	if err != nil {
		return 0, fmt.Errorf("next invoice id: %w", err)
	}
	if invoiceID < 1000 {
		invoiceID = 1000
	}
	return invoiceID, nil
}
