package messaging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitforge/progression-hub/internal/domain/shared"
)

func newSyncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_PublishToTypedSubscriber(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var received []shared.Event
	err := bus.Subscribe(shared.EventXPGained, func(event shared.Event) error {
		received = append(received, event)
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(shared.NewXPGainedEvent("user-1", 10, 110, "habit_completed", "habit-1"))
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, shared.EventXPGained, received[0].EventType())
	assert.Equal(t, "user-1", received[0].AggregateID())
}

func TestInMemoryEventBus_TypedSubscriberIgnoresOtherTypes(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	calls := 0
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(event shared.Event) error {
		calls++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("user-1", 10, 10, "habit_completed", "habit-1")))
	assert.Zero(t, calls)
}

func TestInMemoryEventBus_SubscribeAllReceivesEverything(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var types []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(event shared.Event) error {
		types = append(types, event.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("user-1", 10, 10, "habit_completed", "habit-1")))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("user-1", 1, 2, []string{"reward"}, false)))

	assert.Equal(t, []shared.EventType{shared.EventXPGained, shared.EventLevelUp}, types)
}

func TestInMemoryEventBus_NilHandlerRejected(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(shared.EventXPGained, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
}

func TestInMemoryEventBus_PublishAfterClose(t *testing.T) {
	bus := newSyncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewXPGainedEvent("user-1", 10, 10, "habit_completed", "habit-1"))
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestInMemoryEventBus_AsyncDelivery(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = true
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	var wg sync.WaitGroup
	wg.Add(3)
	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Subscribe(shared.EventXPGained, func(event shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		wg.Done()
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(shared.NewXPGainedEvent("user-1", 10, 10, "habit_completed", "habit-1")))
	}

	wg.Wait()
	require.NoError(t, bus.Close())
	assert.Equal(t, 3, count)
}

func TestInMemoryEventBus_MetricsCountPublishes(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("user-1", 10, 10, "habit_completed", "habit-1")))
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("user-2", 10, 10, "habit_completed", "habit-1")))

	metrics := bus.Metrics()
	require.NotNil(t, metrics)
	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.TotalPublished)
}
