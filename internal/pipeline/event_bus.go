package pipeline

import (
	"sync"
	"sync/atomic"
)

// EventBus fans detection events out to handlers and channels.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
	dropped     atomic.Uint64
}

type eventSubscription struct {
	roiFilter int // zero receives every ROI
	channel   chan *DetectionEvent
	handler   DetectionHandler
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from every ROI and returns an
// unsubscribe function.
func (b *EventBus) Subscribe(handler DetectionHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeROI registers a handler for events from a single ROI.
func (b *EventBus) SubscribeROI(roiID int, handler DetectionHandler) func() {
	return b.add(&eventSubscription{roiFilter: roiID, handler: handler})
}

// SubscribeChannel returns a buffered channel receiving every event. Events
// are dropped when the channel is full. The unsubscribe function closes it.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *DetectionEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *DetectionEvent, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish delivers event to every matching subscriber. Handlers run
// synchronously, in the publisher's goroutine, so they see events in order.
func (b *EventBus) Publish(event *DetectionEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.roiFilter != 0 && sub.roiFilter != event.ROIID {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnDetection(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Dropped returns how many channel deliveries were skipped because the
// subscriber was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes every subscriber and closes subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
