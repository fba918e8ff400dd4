package diagnostics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	var got []Event
	unsubscribe := bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	defer unsubscribe()

	bus.Publish(Event{Type: EventProbeFailed, Message: "no ffprobe"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, EventProbeFailed, got[0].Type)
	assert.Equal(t, "no ffprobe", got[0].Message)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)

	count := 0
	unsubscribe := bus.Subscribe(func(e Event) { count++ })
	unsubscribe()

	bus.Publish(Event{Type: EventEscalated})

	assert.Equal(t, 0, count)
}

func TestBusHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	bus := New(nil)

	bus.Subscribe(func(e Event) { panic("boom") })

	secondCalled := false
	bus.Subscribe(func(e Event) { secondCalled = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: EventProcessingStarted})
	})
	assert.True(t, secondCalled)
}

func TestBusMultipleSubscribersAllReceive(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	counts := map[int]int{}
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
		})
	}

	bus.Publish(Event{Type: EventProcessingReady})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, counts, 3)
	for _, c := range counts {
		assert.Equal(t, 1, c)
	}
}
