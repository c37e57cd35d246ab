package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminacrm/copyflow/pkg/channels/gochannel"
	"github.com/luminacrm/copyflow/pkg/eventbus"
	"github.com/luminacrm/copyflow/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	received := make(chan *events.DrainRequested, 1)

	bus := newTestBus(t)

	err := bus.Handle(events.DrainRequestedEvent, func(_ context.Context, event any) error {
		drain, ok := event.(*events.DrainRequested)
		require.True(t, ok)
		received <- drain

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	drain := events.DrainRequested{
		BaseEvent: events.NewBaseEvent(events.DrainRequestedEvent, "generate-social-copy"),
		Remaining: 5,
	}
	require.NoError(t, bus.Publish(ctx, "generate-social-copy", drain))

	select {
	case got := <-received:
		assert.Equal(t, 5, got.Remaining)
		assert.Equal(t, events.DrainRequestedEvent, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drain event")
	}
}

func TestWatermillEventBus_UnhandledTypeIsAcked(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered; publish must not block or error.
	finished := events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, "generate-social-copy"),
		RunID:     "run-1",
	}
	assert.NoError(t, bus.Publish(ctx, "generate-social-copy", finished))
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
