package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strandsflow/telemetry"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus(telemetry.NoopLogger())
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	bus.Publish(ctx, New(EventWorkflowStart, "sess-1", "demo", "chain", nil))
	bus.Publish(ctx, New(EventWorkflowComplete, "sess-1", "demo", "chain", nil))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus(telemetry.NoopLogger())
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(telemetry.NoopLogger())
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)

	bus.Publish(ctx, New(EventWorkflowStart, "sess-1", "demo", "chain", nil))
	require.NoError(t, subscription.Close())
	bus.Publish(ctx, New(EventWorkflowComplete, "sess-1", "demo", "chain", nil))
	require.Equal(t, 1, count)
}

// TestBusPublishSwallowsSubscriberErrors verifies the non-blocking,
// error-swallowing delivery semantics: a failing subscriber never stops
// other subscribers from receiving the event, and Publish never returns an
// error.
func TestBusPublishSwallowsSubscriberErrors(t *testing.T) {
	bus := NewBus(telemetry.NoopLogger())
	ctx := context.Background()

	var secondCalled bool
	failing := SubscriberFunc(func(ctx context.Context, event Event) error {
		return errors.New("boom")
	})
	second := SubscriberFunc(func(ctx context.Context, event Event) error {
		secondCalled = true
		return nil
	})
	_, err := bus.Register(failing)
	require.NoError(t, err)
	_, err = bus.Register(second)
	require.NoError(t, err)

	bus.Publish(ctx, New(EventError, "sess-1", "demo", "chain", map[string]any{"kind": "transient"}))
	require.True(t, secondCalled)
}

func TestBusRegisterAsyncDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(telemetry.NoopLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	slow := SubscriberFunc(func(ctx context.Context, event Event) error {
		defer wg.Done()
		<-release
		return nil
	})
	_, err := bus.RegisterAsync(slow)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		bus.Publish(ctx, New(EventWorkflowStart, "sess-1", "demo", "chain", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on async subscriber")
	}
	close(release)
	wg.Wait()
}
