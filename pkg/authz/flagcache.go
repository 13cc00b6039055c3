package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/casagrid/gatehouse/pkg/observability"
)

// flagAbsentSentinel marks a cached negative lookup. Flag absence is
// meaningful (fail-open), so misses are cached like hits. A flag row
// always serializes to a JSON object, so the sentinel cannot collide.
const flagAbsentSentinel = "absent"

const defaultFlagCacheTTL = 30 * time.Second

// RedisFlagStore is a read-through cache in front of a FlagStore. Redis
// being unreachable degrades to direct store reads; it never fails a
// decision.
type RedisFlagStore struct {
	store   FlagStore
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisFlagStore wraps a flag store with a Redis cache. A zero ttl
// falls back to 30 seconds; flags are kill switches, so the window for
// stale reads stays short.
func NewRedisFlagStore(store FlagStore, client *redis.Client, ttl time.Duration, logger *observability.Logger) *RedisFlagStore {
	if ttl <= 0 {
		ttl = defaultFlagCacheTTL
	}
	return &RedisFlagStore{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// WithMetrics attaches cache metrics to the store.
func (s *RedisFlagStore) WithMetrics(metrics *observability.Metrics) *RedisFlagStore {
	s.metrics = metrics
	return s
}

// GetFeatureFlag returns the flag row at the given scope, consulting
// the cache first.
func (s *RedisFlagStore) GetFeatureFlag(ctx context.Context, code, scope string, scopeID *int64) (*FeatureFlag, error) {
	key := flagCacheKey(code, scope, scopeID)

	data, err := s.client.Get(ctx, key).Result()
	if err == nil {
		s.recordHit()
		if data == flagAbsentSentinel {
			return nil, nil
		}
		var flag FeatureFlag
		if jsonErr := json.Unmarshal([]byte(data), &flag); jsonErr != nil {
			// Corrupt entry; drop it and fall through to the store.
			s.client.Del(ctx, key)
		} else {
			return &flag, nil
		}
	} else if err != redis.Nil {
		s.logger.WithError(err).Warn("flag cache read failed, falling back to store")
	} else {
		s.recordMiss()
	}

	flag, err := s.store.GetFeatureFlag(ctx, code, scope, scopeID)
	if err != nil {
		return nil, err
	}

	s.fill(ctx, key, flag)
	return flag, nil
}

// Invalidate drops the cached entry for one flag scope. Called after a
// flag write so the new value takes effect within a request, not a TTL.
func (s *RedisFlagStore) Invalidate(ctx context.Context, code, scope string, scopeID *int64) error {
	if err := s.client.Del(ctx, flagCacheKey(code, scope, scopeID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate flag cache: %w", err)
	}
	return nil
}

// fill writes a lookup result back to the cache. Best effort; a failed
// write only costs the next reader a store round trip.
func (s *RedisFlagStore) fill(ctx context.Context, key string, flag *FeatureFlag) {
	value := flagAbsentSentinel
	if flag != nil {
		data, err := json.Marshal(flag)
		if err != nil {
			s.logger.WithError(err).Warn("failed to marshal flag for cache")
			return
		}
		value = string(data)
	}

	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		s.logger.WithError(err).Warn("flag cache write failed")
	}
}

func (s *RedisFlagStore) recordHit() {
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues("flags").Inc()
	}
}

func (s *RedisFlagStore) recordMiss() {
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues("flags").Inc()
	}
}

func flagCacheKey(code, scope string, scopeID *int64) string {
	if scopeID != nil {
		return fmt.Sprintf("gatehouse:flag:%s:%s:%d", code, scope, *scopeID)
	}
	return fmt.Sprintf("gatehouse:flag:%s:%s:-", code, scope)
}
