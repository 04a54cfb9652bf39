package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"billing-verify/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// OutcomeCache keeps recently verified outcomes in Redis so a fresh request
// within the cache TTL can be answered without touching the database. The
// verification history in the database stays authoritative; the cache only
// mirrors outcomes that were just persisted there, so a hit can never
// diverge from the history-backed answer. A nil client disables the cache.
type OutcomeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOutcomeCache creates a cache with the given TTL. client may be nil.
func NewOutcomeCache(client *redis.Client, ttl time.Duration) *OutcomeCache {
	return &OutcomeCache{client: client, ttl: ttl}
}

type cachedOutcome struct {
	Active       bool   `json:"active"`
	Status       string `json:"status"`
	IsTrial      bool   `json:"is_trial"`
	AutoRenewing bool   `json:"auto_renewing"`
	ExpiryTimeMS int64  `json:"expiry_time_ms"`
}

func outcomeKey(appID, purchaseTokenHash string) string {
	return fmt.Sprintf("verify:%s:%s", appID, purchaseTokenHash)
}

// Get returns the cached outcome for (appID, purchaseTokenHash), or nil on a
// miss. Cache errors degrade to a miss.
func (c *OutcomeCache) Get(ctx context.Context, appID, purchaseTokenHash string) *VerifyOutcome {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, outcomeKey(appID, purchaseTokenHash)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Errorf("Outcome cache read failed: %v", err)
		}
		return nil
	}

	var cached cachedOutcome
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		logging.Errorf("Outcome cache entry corrupt, ignoring: %v", err)
		return nil
	}

	return &VerifyOutcome{
		Active:       cached.Active,
		Status:       cached.Status,
		IsTrial:      cached.IsTrial,
		AutoRenewing: cached.AutoRenewing,
		ExpiryTimeMS: cached.ExpiryTimeMS,
	}
}

// Set stores a just-persisted outcome for the full cache TTL. Best-effort: a
// cache write failure is logged and swallowed.
func (c *OutcomeCache) Set(ctx context.Context, appID, purchaseTokenHash string, outcome *VerifyOutcome) {
	c.SetFor(ctx, appID, purchaseTokenHash, outcome, c.cacheTTL())
}

// SetFor stores an outcome with an explicit TTL. Used when repopulating from
// a history record: the entry must expire when the record leaves the cache
// window, not a full TTL after the repopulating request.
func (c *OutcomeCache) SetFor(ctx context.Context, appID, purchaseTokenHash string, outcome *VerifyOutcome, ttl time.Duration) {
	if c == nil || c.client == nil || ttl <= 0 {
		return
	}

	data, err := json.Marshal(cachedOutcome{
		Active:       outcome.Active,
		Status:       outcome.Status,
		IsTrial:      outcome.IsTrial,
		AutoRenewing: outcome.AutoRenewing,
		ExpiryTimeMS: outcome.ExpiryTimeMS,
	})
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, outcomeKey(appID, purchaseTokenHash), data, ttl).Err(); err != nil {
		logging.Errorf("Outcome cache write failed: %v", err)
	}
}

func (c *OutcomeCache) cacheTTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Invalidate drops the cached outcome, forcing the next non-forced request
// through the database gate.
func (c *OutcomeCache) Invalidate(ctx context.Context, appID, purchaseTokenHash string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, outcomeKey(appID, purchaseTokenHash)).Err(); err != nil {
		logging.Errorf("Outcome cache invalidate failed: %v", err)
	}
}
