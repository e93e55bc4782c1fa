// Package events provides the daemon's non-blocking event bus and the
// append-only JSONL journal fed from it.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	// EventPlaybackStarted is published when a playback session begins.
	EventPlaybackStarted EventType = "playback_started"
	// EventPlaybackCompleted is published when all loops finish cleanly.
	EventPlaybackCompleted EventType = "playback_completed"
	// EventPlaybackCancelled is published after a stop request drains.
	EventPlaybackCancelled EventType = "playback_cancelled"
	// EventPlaybackFailed is published when the output sink errors.
	EventPlaybackFailed EventType = "playback_failed"
	// EventSkillChanged is published when the skill store is modified.
	EventSkillChanged EventType = "skill_changed"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe fanout. Delivery is asynchronous
// through buffered channels; when a subscriber's channel is full the event
// is dropped for that subscriber. Playback never blocks on a slow consumer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for an event type and returns an unsubscribe
// function. fn runs on its own goroutine; panics are swallowed so one bad
// subscriber cannot disrupt the bus.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking; full channels drop the event.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// channel full; drop rather than stall the publisher
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
