package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/pkg/circuitbreaker"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// unreachable returns a cache whose every command fails to dial.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

type countingRepo struct {
	cur   *curriculum.Curriculum
	gets  int
	saves int
}

func (r *countingRepo) GetByID(_ context.Context, id string) (*curriculum.Curriculum, error) {
	r.gets++
	if r.cur == nil || r.cur.ID != id {
		return nil, shared.ErrCurriculumNotFound
	}
	return r.cur, nil
}

func (r *countingRepo) Save(_ context.Context, c *curriculum.Curriculum) error {
	r.saves++
	r.cur = c
	return nil
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "curriculum:go", CurriculumKey("go"))
	assert.Equal(t, "lock:subscription:sub-1", SubscriptionLockKey("sub-1"))
	assert.Equal(t, "pubsub:student.promoted", PubSubChannel("student.promoted"))
}

func TestCache_EmptyKey(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	var v int
	assert.ErrorIs(t, c.Get(ctx, "", &v), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

func TestNewCache_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestCurriculumCache_FallsBackWhenRedisIsDown(t *testing.T) {
	repo := &countingRepo{}
	cached := NewCurriculumCache(repo, unreachable(t), 0, logger.Nop())
	ctx := context.Background()

	cur := &curriculum.Curriculum{ID: "go", Name: "Go", Version: 1,
		Levels: []curriculum.Level{{Order: 1, Name: "Basics"}, {Order: 2, Name: "Advanced"}}}
	require.NoError(t, cached.Save(ctx, cur))
	assert.Equal(t, 1, repo.saves)

	got, err := cached.GetByID(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Name)
	assert.Equal(t, 1, repo.gets)

	_, err = cached.GetByID(ctx, "missing")
	assert.True(t, shared.IsNotFound(err))

	// Three consecutive Redis failures open the breaker; reads then skip the cache.
	assert.Equal(t, circuitbreaker.StateOpen, cached.BreakerState())
	got, err = cached.GetByID(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Name)
	assert.Equal(t, 3, repo.gets)
}

func TestSubscriptionLocker_StoreUnavailable(t *testing.T) {
	locker := NewSubscriptionLocker(unreachable(t), time.Second, logger.Nop())

	release, err := locker.Acquire(context.Background(), "sub-1")
	assert.Nil(t, release)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.True(t, shared.IsRetryable(err))
}

func TestEventPublisher_ReportsFailure(t *testing.T) {
	pub := NewEventPublisher(unreachable(t))
	pub.timeout = 200 * time.Millisecond

	event := shared.SubscriptionExpiredEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventSubscriptionLapse, "sub-1", time.Now()),
		StudentID:    "s1",
		CurriculumID: "go",
	}
	err := pub.Publish(event)
	assert.Error(t, err)
}
