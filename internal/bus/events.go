// Package bus is a small in-process topic pub/sub.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// Event represents a notification broadcast to subscribers
type Event struct {
	Topic     string    // "channels.whatsapp.status", "config.reloaded", ...
	Data      any       // Optional payload
	Timestamp time.Time // When the event was published
	Source    string    // Origin: "monitor", "gateway", ...
}

// EventHandler processes an event (fire and forget)
type EventHandler func(Event)

// SubscriptionID uniquely identifies an event subscription
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	topic   string
	handler EventHandler
}

// Bus dispatches events to subscribers. Handlers run on their own
// goroutines; a panicking handler is logged and does not affect others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Default is the process-wide bus used by the package-level helpers.
var Default = New()

// Wildcard subscribes to every topic.
const Wildcard = "*"

// StatusTopic is the topic channel status snapshots are published on.
func StatusTopic(surface string) string {
	return "channels." + surface + ".status"
}

// Subscribe registers a handler for topic (or Wildcard).
func (b *Bus) Subscribe(topic string, handler EventHandler) SubscriptionID {
	id := SubscriptionID(atomic.AddUint64(&b.nextID, 1))

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, topic: topic, handler: handler})
	b.mu.Unlock()

	L_debug("bus: event subscribed", "topic", topic, "subscriptionID", id)
	return id
}

// Unsubscribe removes a subscription. Returns true if it existed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			L_debug("bus: event unsubscribed", "topic", topic, "subscriptionID", id)
			return true
		}
	}
	return false
}

// Publish broadcasts data on topic.
func (b *Bus) Publish(topic string, data any, source string) {
	event := Event{Topic: topic, Data: data, Timestamp: time.Now(), Source: source}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[topic])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[topic]...)
	if topic != Wildcard {
		targets = append(targets, b.subs[Wildcard]...)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		L_trace("bus: event published (no subscribers)", "topic", topic)
		return
	}
	L_trace("bus: event published", "topic", topic, "subscribers", len(targets), "source", source)

	for _, sub := range targets {
		go func(s subscription) {
			defer func() {
				if r := recover(); r != nil {
					L_error("bus: event handler panic", "topic", topic, "subscriptionID", s.id, "panic", r)
				}
			}()
			s.handler(event)
		}(sub)
	}
}

// Count returns the number of subscribers for a topic.
func (b *Bus) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// SubscribeEvent registers a handler on the default bus.
func SubscribeEvent(topic string, handler EventHandler) SubscriptionID {
	return Default.Subscribe(topic, handler)
}

// UnsubscribeEvent removes a subscription from the default bus.
func UnsubscribeEvent(id SubscriptionID) bool {
	return Default.Unsubscribe(id)
}

// PublishEvent broadcasts on the default bus.
func PublishEvent(topic string, data any, source string) {
	Default.Publish(topic, data, source)
}
