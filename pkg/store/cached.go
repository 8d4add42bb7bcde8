package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/vine/pkg/metrics"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/redis"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

const (
	// DefaultCacheTTL is how long a chain definition stays cached
	DefaultCacheTTL = 5 * time.Minute

	cacheKeyPrefix = "vine:chain:"
)

// ChainGetter is the read side of a chain store
type ChainGetter interface {
	GetChain(ctx context.Context, id string) (*models.ChainConfiguration, error)
}

// Cache is the subset of the Redis client used for chain caching
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cached is a read-through cache in front of another chain store. Cache failures
// fall back to the underlying store. Not-found results are never cached.
type Cached struct {
	next   ChainGetter
	cache  Cache
	ttl    time.Duration
	logger ectologger.Logger
}

func NewCached(next ChainGetter, cache Cache, ttl time.Duration, logger ectologger.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *Cached) GetChain(ctx context.Context, id string) (*models.ChainConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "Cached.GetChain")
	defer span.End()

	key := cacheKeyPrefix + id
	log := c.logger.WithContext(ctx).WithFields(map[string]any{"chain_id": id})

	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var chain models.ChainConfiguration
		if err := json.Unmarshal(data, &chain); err == nil {
			metrics.RecordChainCacheLookup("hit")
			return &chain, nil
		}
		log.Warn("Discarding undecodable cached chain")
	case !errors.Is(err, redis.ErrCacheMiss):
		log.WithError(err).Warn("Chain cache read failed")
	}
	metrics.RecordChainCacheLookup("miss")

	chain, err := c.next.GetChain(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(chain); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			log.WithError(err).Warn("Chain cache write failed")
		}
	}

	return chain, nil
}

// Invalidate drops a cached chain
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.cache.Del(ctx, cacheKeyPrefix+id)
}
