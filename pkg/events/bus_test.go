package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe(4)
	subB := bus.Subscribe(4)
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)

	bus.Publish(Event{Type: TypeJobCompleted, SourceEntityType: "job", SourceEntityID: 1})

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case e := <-sub.C:
			assert.Equal(t, TypeJobCompleted, e.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusPublishDropsOnFullBufferAndIncrementsDropped(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Type: TypeJobProgress})
	bus.Publish(Event{Type: TypeJobProgress}) // buffer full, should be dropped

	assert.Equal(t, int64(1), sub.Dropped())
	<-sub.C // drain the one delivered event
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)
	assert.NotPanics(t, func() { bus.Unsubscribe(sub) })
}

func TestBusSubscriberCount(t *testing.T) {
	bus := NewBus()
	require.Equal(t, 0, bus.SubscriberCount())

	sub := bus.Subscribe(1)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusPublishOnNilBusIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{Type: TypeJobFailed}) })
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusSubscribeDefaultsBufferSize(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(0)
	defer bus.Unsubscribe(sub)
	assert.Equal(t, DefaultBufferSize, cap(sub.sendCh))
}
