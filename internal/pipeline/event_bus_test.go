package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(*DetectionEvent)

func (f handlerFunc) OnDetection(e *DetectionEvent) { f(e) }

func TestEventBusHandlers(t *testing.T) {
	t.Parallel()
	bus := NewEventBus()

	var mu sync.Mutex
	var all, onlyTwo []int
	unsubAll := bus.Subscribe(handlerFunc(func(e *DetectionEvent) {
		mu.Lock()
		all = append(all, e.ROIID)
		mu.Unlock()
	}))
	bus.SubscribeROI(2, handlerFunc(func(e *DetectionEvent) {
		mu.Lock()
		onlyTwo = append(onlyTwo, e.ROIID)
		mu.Unlock()
	}))
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(&DetectionEvent{ROIID: 1})
	bus.Publish(&DetectionEvent{ROIID: 2})
	bus.Publish(nil)

	assert.Equal(t, []int{1, 2}, all)
	assert.Equal(t, []int{2}, onlyTwo)

	unsubAll()
	bus.Publish(&DetectionEvent{ROIID: 3})
	assert.Equal(t, []int{1, 2}, all)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestEventBusChannelDropsWhenFull(t *testing.T) {
	t.Parallel()
	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(1)

	bus.Publish(&DetectionEvent{ROIID: 1})
	bus.Publish(&DetectionEvent{ROIID: 2})
	assert.EqualValues(t, 1, bus.Dropped())

	ev := <-ch
	assert.Equal(t, 1, ev.ROIID)

	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	// A second call is harmless.
	unsubscribe()
}

func TestEventBusClose(t *testing.T) {
	t.Parallel()
	bus := NewEventBus()
	ch, _ := bus.SubscribeChannel(4)
	bus.Subscribe(handlerFunc(func(*DetectionEvent) {}))
	require.Equal(t, 2, bus.SubscriberCount())

	bus.Close()
	assert.Zero(t, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)
}
