package throttle

import (
	"context"
	"testing"
	"time"
)

// TestRedisStore_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisStore_Integration(t *testing.T) {
	store := NewRedisStore("localhost:6379", "", 0)
	ctx := context.Background()
	if _, err := store.client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	policy := Policy{Capacity: 1, RefillRate: 1, Step: 0.1, Floor: 0.1}
	agent := "test-redis-agent"
	_ = store.Reset(ctx, agent)

	// 1. Allow
	allowed, err := store.Allow(ctx, agent, policy, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("Expected allowed=true for fresh bucket")
	}

	// 2. Deny (capacity 1, immediate retry)
	allowed, err = store.Allow(ctx, agent, policy, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if allowed {
		t.Errorf("Expected allowed=false (throttled)")
	}

	// 3. Wait and Allow
	time.Sleep(1100 * time.Millisecond)
	allowed, err = store.Allow(ctx, agent, policy, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("Expected allowed=true after refill")
	}

	// 4. Penalized refill is slower: severity 6 halves the rate.
	if err := store.ApplyPenalty(ctx, agent, policy, 6); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	allowed, err = store.Allow(ctx, agent, policy, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if allowed {
		t.Errorf("Expected allowed=false under penalty (0.5x refill)")
	}
}
