package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublish_SubscriptionOrder(t *testing.T) {
	engine := NewEngine()
	var calls []string

	engine.Subscribe(DeviceAdded, func(e Event) error {
		calls = append(calls, "first")
		return nil
	})
	engine.Subscribe(DeviceAdded, func(e Event) error {
		calls = append(calls, "second")
		return nil
	})

	require.NoError(t, engine.Publish(Event{Name: DeviceAdded}))
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestPublish_OnlyMatchingName(t *testing.T) {
	engine := NewEngine()
	var got []string

	engine.Subscribe(DeviceMounted, func(e Event) error {
		got = append(got, e.Name)
		return nil
	})

	require.NoError(t, engine.Publish(Event{Name: DeviceUnmounted}))
	require.Empty(t, got)

	require.NoError(t, engine.Publish(Event{Name: DeviceMounted}))
	require.Equal(t, []string{DeviceMounted}, got)
}

func TestPublish_HandlerErrorPropagatesAndStopsDelivery(t *testing.T) {
	engine := NewEngine()
	handlerErr := errors.New("handler exploded")
	secondCalled := false

	engine.Subscribe(JobFailed, func(e Event) error { return handlerErr })
	engine.Subscribe(JobFailed, func(e Event) error {
		secondCalled = true
		return nil
	})

	err := engine.Publish(Event{Name: JobFailed})
	require.ErrorIs(t, err, handlerErr)
	require.False(t, secondCalled)
}

func TestUnsubscribe(t *testing.T) {
	engine := NewEngine()
	var count int

	sub := engine.Subscribe(MediaRemoved, func(e Event) error {
		count++
		return nil
	})

	require.NoError(t, engine.Publish(Event{Name: MediaRemoved}))
	engine.Unsubscribe(sub)
	require.NoError(t, engine.Publish(Event{Name: MediaRemoved}))
	require.Equal(t, 1, count)

	// Unsubscribing twice is harmless.
	engine.Unsubscribe(sub)
}

func TestUnsubscribe_KeepsOthers(t *testing.T) {
	engine := NewEngine()
	var calls []string

	first := engine.Subscribe(DeviceChanged, func(e Event) error {
		calls = append(calls, "first")
		return nil
	})
	engine.Subscribe(DeviceChanged, func(e Event) error {
		calls = append(calls, "second")
		return nil
	})

	engine.Unsubscribe(first)
	require.NoError(t, engine.Publish(Event{Name: DeviceChanged}))
	require.Equal(t, []string{"second"}, calls)
}

func TestNames_Closed(t *testing.T) {
	require.Len(t, Names, 19)
	seen := map[string]bool{}
	for _, name := range Names {
		require.False(t, seen[name], "duplicate event name %s", name)
		seen[name] = true
	}
	require.True(t, seen[JobFailed])
	require.True(t, seen[DeviceChanging])
	require.True(t, seen[MediaAdding])
}
