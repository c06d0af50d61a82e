package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION LOCKER
// SET NX PX with a random token; release deletes the key only while it still
// holds our token, so an expired lock taken over by another replica survives.
// ══════════════════════════════════════════════════════════════════════════════

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SubscriptionLocker implements subscription.Locker on Redis.
type SubscriptionLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ subscription.Locker = (*SubscriptionLocker)(nil)

// NewSubscriptionLocker creates a locker. A non-positive ttl uses TTLSubscriptionLock.
func NewSubscriptionLocker(cache *Cache, ttl time.Duration, log *logger.Logger) *SubscriptionLocker {
	if ttl <= 0 {
		ttl = TTLSubscriptionLock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubscriptionLocker{client: cache.Client(), ttl: ttl, log: log.Named("subscription_locker")}
}

// Acquire implements subscription.Locker. It never waits for the holder.
func (l *SubscriptionLocker) Acquire(ctx context.Context, subscriptionID string) (func(), error) {
	key := SubscriptionLockKey(subscriptionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, shared.WrapError("subscription", "Lock", shared.ErrServiceUnavailable, "lock store unavailable", err)
	}
	if !ok {
		return nil, shared.ErrSubscriptionLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				l.log.Warn("failed to release subscription lock",
					logger.SubscriptionID(subscriptionID), logger.Err(err))
			}
		})
	}, nil
}
