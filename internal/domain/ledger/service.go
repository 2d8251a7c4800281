package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service exposes the query and consumption surface of the ledger.
// All grants arrive through the billing and distribution flows instead.
type Service struct {
	store *Store
	cache *BalanceCache
}

func NewService(store *Store, cache *BalanceCache) *Service {
	return &Service{store: store, cache: cache}
}

// GetBalance returns the spendable balance. The cache is consulted first
// but the ledger sum is the only authority.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if balance, ok := s.cache.Get(ctx, userID); ok {
		return balance, nil
	}

	balance, err := s.store.BalanceAsOf(ctx, userID, time.Now())
	if err != nil {
		return 0, err
	}
	s.cache.Set(ctx, userID, balance)
	return balance, nil
}

// Consume is the only caller-initiated debit path. The caller supplies the
// idempotency key so a retried action (one image generation, one export)
// is charged at most once.
func (s *Service) Consume(ctx context.Context, userID uuid.UUID, amount int64, idempotencyKey, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return ErrInvalidTransaction
	}

	if err := s.store.Consume(ctx, userID, amount, idempotencyKey, reason); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userID)

	log.Info().
		Str("user_id", userID.String()).
		Int64("amount", amount).
		Str("idempotency_key", idempotencyKey).
		Str("reason", reason).
		Msg("credits consumed")
	return nil
}

// ListTransactions returns a page of the user's history, most recent first
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int, encodedCursor string) ([]CreditTransaction, string, error) {
	cursor, err := DecodeCursor(encodedCursor)
	if err != nil {
		return nil, "", err
	}

	transactions, next, err := s.store.ListByUser(ctx, userID, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	if next == nil {
		return transactions, "", nil
	}
	return transactions, next.Encode(), nil
}
