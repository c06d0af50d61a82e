package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/pkg/circuitbreaker"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM CACHE
// Read-through decorator. Redis failures degrade to the wrapped repository;
// after repeated failures a breaker skips Redis until it probes again.
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumCache caches curricula loaded from another curriculum.Repository.
type CurriculumCache struct {
	next    curriculum.Repository
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

var _ curriculum.Repository = (*CurriculumCache)(nil)

// NewCurriculumCache wraps next. A non-positive ttl uses TTLCurriculumCache.
func NewCurriculumCache(next curriculum.Repository, cache *Cache, ttl time.Duration, log *logger.Logger) *CurriculumCache {
	if ttl <= 0 {
		ttl = TTLCurriculumCache
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("curriculum_cache")
	breaker := circuitbreaker.CacheBreaker("redis-curriculum-cache",
		func(name string, from, to circuitbreaker.State) {
			log.Warn("cache breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
		isCacheFailure,
	)
	return &CurriculumCache{next: next, cache: cache, ttl: ttl, breaker: breaker, log: log}
}

// isCacheFailure counts only errors that say Redis itself is unhealthy.
func isCacheFailure(err error) bool {
	return !errors.Is(err, ErrCacheMiss) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, ErrCacheSerialization)
}

// BreakerState reports whether Redis is currently being bypassed.
func (c *CurriculumCache) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// GetByID returns the cached curriculum or loads and caches it.
func (c *CurriculumCache) GetByID(ctx context.Context, id string) (*curriculum.Curriculum, error) {
	key := CurriculumKey(id)

	var cached curriculum.Curriculum
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, key, &cached)
	})
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) && !circuitbreaker.IsRejected(err) {
		c.log.Warn("curriculum cache read failed", logger.CurriculumID(id), logger.Err(err))
	}

	cur, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key, cur, c.ttl)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		c.log.Warn("curriculum cache write failed", logger.CurriculumID(id), logger.Err(err))
	}
	return cur, nil
}

// Save stores the curriculum and drops the cached copy. Invalidation bypasses
// the breaker so a recovering Redis never serves the replaced version.
func (c *CurriculumCache) Save(ctx context.Context, cur *curriculum.Curriculum) error {
	if err := c.next.Save(ctx, cur); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, CurriculumKey(cur.ID)); err != nil {
		c.log.Warn("curriculum cache invalidation failed", logger.CurriculumID(cur.ID), logger.Err(err))
	}
	return nil
}
