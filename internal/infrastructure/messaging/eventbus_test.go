package messaging

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

type capture struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (c *capture) Publish(e shared.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *capture) handle(e shared.Event) error { return c.Publish(e) }

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type observed struct {
	mu     sync.Mutex
	failed int
	total  int
}

func (o *observed) ObserveEventHandled(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	if err != nil {
		o.failed++
	}
}

func expired(id string) shared.Event {
	return shared.SubscriptionExpiredEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventSubscriptionLapse, id, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
		StudentID:    "s1",
		CurriculumID: "go",
	}
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	typed, all, fwd := &capture{}, &capture{}, &capture{err: errors.New("redis down")}
	obs := &observed{}
	bus := NewInMemoryEventBus(Config{Forward: []shared.EventPublisher{fwd}, Observer: obs})

	require.NoError(t, bus.Subscribe(shared.EventSubscriptionLapse, typed.handle))
	require.NoError(t, bus.Subscribe(shared.EventStudentPromoted, func(shared.Event) error {
		t.Fatal("unexpected handler call")
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(all.handle))

	require.NoError(t, bus.Publish(expired("sub-1")))

	assert.Equal(t, 1, typed.count())
	assert.Equal(t, 1, all.count())
	assert.Equal(t, 1, fwd.count(), "forward failures are logged, not returned")
	assert.Equal(t, 3, obs.total)
	assert.Equal(t, 1, obs.failed)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	got := &capture{}
	bus := NewInMemoryEventBus(Config{AsyncMode: true, WorkerPoolSize: 2})
	require.NoError(t, bus.SubscribeAll(got.handle))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(expired("sub-1")))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, 5, got.count())

	assert.ErrorIs(t, bus.Publish(expired("sub-1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(got.handle), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

func TestInMemoryEventBus_CloseWaitsForQueuedHandlers(t *testing.T) {
	got := &capture{}
	gate := make(chan struct{})
	bus := NewInMemoryEventBus(Config{AsyncMode: true, WorkerPoolSize: 1})
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		<-gate
		return got.handle(e)
	}))

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(expired("sub-1")))
	}

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, bus.Close())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while handlers were blocked")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, 4, got.count())
}

func TestInMemoryEventBus_Rejects(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultConfig())
	assert.ErrorIs(t, bus.Subscribe(shared.EventSubscriptionLapse, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
	assert.Error(t, bus.Publish(nil))
}

func TestAuditLogHandler(t *testing.T) {
	var buf bytes.Buffer
	opts := logger.DefaultOptions()
	opts.Output = &buf
	log := logger.New(opts)

	require.NoError(t, AuditLogHandler(log)(expired("sub-9")))
	assert.Contains(t, buf.String(), "subscription.expired")
	assert.Contains(t, buf.String(), "sub-9")
}
