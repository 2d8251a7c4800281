package ledger

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

// Store provides append-only ledger access. Append is the only write
// primitive; corrections are new rows, never edits.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Append inserts a transaction in its own DB transaction.
// Returns ErrDuplicateTransaction when the idempotency key was already
// applied with the same effect.
func (s *Store) Append(ctx context.Context, t *CreditTransaction) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.AppendTx(ctx2, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AppendTx inserts a transaction within an external DB transaction, so a
// caller can make the append atomic with a dependent state update (order
// paid, subscription activated). Does not commit or rollback.
func (s *Store) AppendTx(ctx context.Context, tx *sqlx.Tx, t *CreditTransaction) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	// A unique violation aborts the surrounding transaction, so the
	// insert runs under a savepoint: on conflict we roll back to it and
	// the outer transaction stays usable for the duplicate lookup and
	// any dependent statements.
	if _, err := tx.ExecContext(ctx, `SAVEPOINT ledger_append`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.UserID, t.Kind, t.Amount, t.IdempotencyKey, t.OrderReference, t.Description, t.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT ledger_append`); rbErr != nil {
				return fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			return s.resolveDuplicateTx(ctx, tx, t)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT ledger_append`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	if err := s.bumpCachedBalanceTx(ctx, tx, t.UserID, t.Amount); err != nil {
		return err
	}
	return nil
}

// resolveDuplicateTx classifies a unique violation: same effect is a benign
// replay, a different effect under the same key is a conflict.
func (s *Store) resolveDuplicateTx(ctx context.Context, tx *sqlx.Tx, t *CreditTransaction) error {
	var existing CreditTransaction
	err := tx.GetContext(ctx, &existing, `
		SELECT id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at, created_at
		FROM credit_transactions
		WHERE idempotency_key = $1
	`, t.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("load existing transaction: %w", err)
	}
	if existing.UserID != t.UserID || existing.Kind != t.Kind || existing.Amount != t.Amount ||
		existing.OrderReference != t.OrderReference ||
		!nullTimesEqual(existing.ExpiresAt, t.ExpiresAt) {
		return ErrKeyConflict
	}
	return ErrDuplicateTransaction
}

// nullTimesEqual compares at microsecond precision, matching what
// timestamptz retains on the round trip through Postgres.
func nullTimesEqual(a, b sql.NullTime) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Time.Truncate(time.Microsecond).Equal(b.Time.Truncate(time.Microsecond))
}

// GetByIdempotencyKey returns the transaction for a key, or nil when absent
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*CreditTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t CreditTransaction
	err := s.db.GetContext(ctx2, &t, `
		SELECT id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at, created_at
		FROM credit_transactions
		WHERE idempotency_key = $1
	`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get by idempotency key: %w", err)
	}
	return &t, nil
}

// BalanceAsOf computes the spendable balance from the ledger: the sum of
// all amounts whose expiry is null or still in the future at asOf.
func (s *Store) BalanceAsOf(ctx context.Context, userID uuid.UUID, asOf time.Time) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int64
	err := s.db.GetContext(ctx2, &balance, `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, userID, asOf)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return balance, nil
}

func balanceAsOfTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, asOf time.Time) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, userID, asOf)
	return balance, err
}

// Consume applies a caller-initiated debit. The user's balance row is
// locked for the duration so sufficiency check and insert are one unit;
// the idempotency key makes retries a no-op.
func (s *Store) Consume(ctx context.Context, userID uuid.UUID, amount int64, idempotencyKey, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.lockBalanceRowTx(ctx2, tx, userID); err != nil {
		return err
	}

	// Replay check before doing any work
	var existing CreditTransaction
	err = tx.GetContext(ctx2, &existing, `
		SELECT id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at, created_at
		FROM credit_transactions
		WHERE idempotency_key = $1
	`, idempotencyKey)
	if err == nil {
		if existing.UserID != userID || existing.Kind != KindConsumption || existing.Amount != -amount {
			return ErrKeyConflict
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check idempotency key: %w", err)
	}

	now := time.Now()
	balance, err := balanceAsOfTx(ctx2, tx, userID, now)
	if err != nil {
		return fmt.Errorf("balance in tx: %w", err)
	}
	if balance < amount {
		return ErrInsufficientCredits
	}

	t := &CreditTransaction{
		ID:             uuid.New(),
		UserID:         userID,
		Kind:           KindConsumption,
		Amount:         -amount,
		IdempotencyKey: idempotencyKey,
		Description:    reason,
	}
	if err := s.AppendTx(ctx2, tx, t); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return nil
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListByUser returns transactions most recent first with keyset pagination.
// A nil cursor starts from the top; the returned cursor restarts after the
// last row, or is nil when the page was short.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *Cursor) ([]CreditTransaction, *Cursor, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	transactions := make([]CreditTransaction, 0, limit)
	var err error
	if cursor == nil {
		err = s.db.SelectContext(ctx2, &transactions, `
			SELECT id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at, created_at
			FROM credit_transactions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, userID, limit)
	} else {
		err = s.db.SelectContext(ctx2, &transactions, `
			SELECT id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at, created_at
			FROM credit_transactions
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, userID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list transactions: %w", err)
	}

	if len(transactions) < limit {
		return transactions, nil, nil
	}
	last := transactions[len(transactions)-1]
	return transactions, &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

// ListByOrder returns all transactions linked to an order reference
func (s *Store) ListByOrder(ctx context.Context, orderReference string) ([]CreditTransaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	transactions := make([]CreditTransaction, 0)
	err := s.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, kind, amount, idempotency_key, order_reference, description, expires_at, created_at
		FROM credit_transactions
		WHERE order_reference = $1
		ORDER BY created_at DESC, id DESC
	`, orderReference)
	if err != nil {
		return nil, fmt.Errorf("list by order: %w", err)
	}
	return transactions, nil
}

// CompactExpired physically removes ledger rows whose expiry has passed.
// Purely an optimization: balance already ignores expired rows, and the
// per-user balance is re-verified inside the transaction before commit.
func (s *Store) CompactExpired(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var affected []uuid.UUID
	if err := tx.SelectContext(ctx, &affected, `
		SELECT DISTINCT user_id
		FROM credit_transactions
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, before); err != nil {
		return 0, fmt.Errorf("select affected users: %w", err)
	}
	if len(affected) == 0 {
		return 0, nil
	}

	pre := make(map[uuid.UUID]int64, len(affected))
	for _, id := range affected {
		balance, err := balanceAsOfTx(ctx, tx, id, before)
		if err != nil {
			return 0, fmt.Errorf("pre-compaction balance: %w", err)
		}
		pre[id] = balance
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM credit_transactions
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}

	for _, id := range affected {
		balance, err := balanceAsOfTx(ctx, tx, id, before)
		if err != nil {
			return 0, fmt.Errorf("post-compaction balance: %w", err)
		}
		if balance != pre[id] {
			return 0, fmt.Errorf("compaction would change balance for user %s: %d -> %d", id, pre[id], balance)
		}
	}

	removed, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return int(removed), nil
}

// lockBalanceRowTx takes the per-user serialization lock, creating the
// denormalized balance row on first use.
func (s *Store) lockBalanceRowTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, cached_balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return 0, fmt.Errorf("ensure balance row: %w", err)
	}

	var cached int64
	if err := tx.GetContext(ctx, &cached, `
		SELECT cached_balance FROM user_balances WHERE user_id = $1 FOR UPDATE
	`, userID); err != nil {
		return 0, fmt.Errorf("lock balance row: %w", err)
	}
	return cached, nil
}

// bumpCachedBalanceTx maintains the denormalized users balance column.
// The column is never authoritative; reconciliation repairs drift.
func (s *Store) bumpCachedBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, cached_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET cached_balance = user_balances.cached_balance + EXCLUDED.cached_balance, updated_at = NOW()
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("bump cached balance: %w", err)
	}
	return nil
}

// SetCachedBalance overwrites the denormalized balance (reconciliation use)
func (s *Store) SetCachedBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, cached_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET cached_balance = EXCLUDED.cached_balance, updated_at = NOW()
	`, userID, balance)
	if err != nil {
		return fmt.Errorf("set cached balance: %w", err)
	}
	return nil
}
