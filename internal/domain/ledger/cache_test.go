package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// The cache must degrade to a no-op without Redis: every Get is a miss
// and writes are swallowed.
func TestBalanceCacheNilClient(t *testing.T) {
	cache := NewBalanceCache(nil, time.Minute)
	userID := uuid.New()

	if _, ok := cache.Get(context.Background(), userID); ok {
		t.Fatal("nil-client cache reported a hit")
	}
	cache.Set(context.Background(), userID, 100)
	cache.Invalidate(context.Background(), userID)
	if _, ok := cache.Get(context.Background(), userID); ok {
		t.Fatal("nil-client cache reported a hit after set")
	}

	var nilCache *BalanceCache
	if _, ok := nilCache.Get(context.Background(), userID); ok {
		t.Fatal("nil cache reported a hit")
	}
	nilCache.Set(context.Background(), userID, 1)
	nilCache.Invalidate(context.Background(), userID)
}
