package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishToSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(10)
	defer unsubscribe()

	bus.Publish(&Event{Type: OrderSent, Module: "execution"})

	ev := <-ch
	require.NotNil(t, ev)
	assert.Equal(t, OrderSent, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(10, PositionUpdated)
	defer unsubscribe()

	bus.Publish(&Event{Type: OrderSent})
	bus.Publish(&Event{Type: PositionUpdated})

	ev := <-ch
	assert.Equal(t, PositionUpdated, ev.Type)
	assert.Empty(t, ch)
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	_, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	// Second publish overflows the buffer and must simply drop.
	bus.Publish(&Event{Type: OrderSent})
	bus.Publish(&Event{Type: OrderSent})
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(1)
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is a no-op.
	bus.Publish(&Event{Type: OrderSent})
}
