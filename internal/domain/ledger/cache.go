package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BalanceCache is a non-authoritative read cache in front of the ledger
// sum. It must tolerate being absent, stale or reset at any time: every
// miss or error falls through to the ledger, and every write invalidates.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache creates a cache. A nil client disables caching entirely.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID uuid.UUID) string {
	return "balance:" + userID.String()
}

// Get returns the cached balance and whether it was present
func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

// Set stores the balance with the bounded TTL
func (c *BalanceCache) Set(ctx context.Context, userID uuid.UUID, balance int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("user_id", userID.String()).Msg("balance cache set failed")
	}
}

// Invalidate drops the cached balance after a ledger write
func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		log.Debug().Err(err).Str("user_id", userID.String()).Msg("balance cache invalidate failed")
	}
}
