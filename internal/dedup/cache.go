// Package dedup implements the best-effort broker-redelivery guard
// (SPEC_FULL.md S11.3): a Redis SETNX marker keyed by job id, consulted
// before Stage 1 of the consumer pipeline.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openlora/gpu-fleet/internal/domain"
)

// Cache implements domain.DedupCache against a Redis client.
type Cache struct {
	rdb *redis.Client
}

// New constructs a Cache.
func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

const keyPrefix = "gpu-fleet:processing:"

// MarkProcessing reports firstSeen=true and sets a TTL-bounded marker
// the first time jobID is seen; subsequent calls before the marker
// expires report firstSeen=false. Errors are returned (not
// swallowed) so the caller can decide to degrade to baseline
// processing rather than silently trusting a dead cache.
func (c *Cache) MarkProcessing(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	if c == nil || c.rdb == nil {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, keyPrefix+jobID, "1", ttl).Result()
	if err != nil {
		return true, fmt.Errorf("op=dedup.mark_processing: %w: %w", domain.ErrInternal, err)
	}
	return ok, nil
}
