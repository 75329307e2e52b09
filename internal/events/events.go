// Package events is a small typed pub/sub used to route Gateway pushes
// (connection state changes, confirmation prompts, skill dispatches)
// to their consumers. Handlers get an explicit Subscription with an
// Unsubscribe handle; there are no ambient global listeners.
package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// HandlerFunc is the untyped form a subscription handler is stored as.
type HandlerFunc func(context.Context, any) error

// Subscription is a handler registered on a topic. Calling Unsubscribe
// removes it; the handle is safe to call more than once.
type Subscription struct {
	Topic       string
	ID          string
	Handler     HandlerFunc
	Unsubscribe func()
}

// Bus dispatches events to topic subscribers. Delivery is synchronous
// and in emit order, which preserves transport receive order for
// Gateway events.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[string]Subscription
	nextSubID int64
	logger    *slog.Logger
}

// NewBus creates a Bus. The logger is used only for handler errors.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		subs:   make(map[string]map[string]Subscription),
		logger: logger,
	}
}

// Subscribe registers a typed handler on a topic and returns its
// Subscription. Emitted values of a different type fail the handler
// rather than panicking.
func Subscribe[T any](b *Bus, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := HandlerFunc(func(ctx context.Context, v any) error {
		typed, ok := v.(T)
		if !ok {
			return fmt.Errorf("topic %s: got %T, want %T", topic, v, *new(T))
		}
		return handler(ctx, typed)
	})

	id := fmt.Sprintf("%s-%d", topic, atomic.AddInt64(&b.nextSubID, 1))
	sub := Subscription{Topic: topic, ID: id, Handler: wrapped}
	sub.Unsubscribe = func() { b.remove(topic, id) }

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]Subscription)
	}
	b.subs[topic][id] = sub
	b.mu.Unlock()

	return sub
}

// Emit delivers a value to every subscriber of the topic, in line.
func Emit[T any](b *Bus, ctx context.Context, topic string, value T) {
	b.mu.RLock()
	topicSubs := make([]Subscription, 0, len(b.subs[topic]))
	for _, sub := range b.subs[topic] {
		topicSubs = append(topicSubs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range topicSubs {
		if err := sub.Handler(ctx, value); err != nil {
			b.logger.Debug("event handler error",
				"topic", topic, "subscription", sub.ID, "error", err)
		}
	}
}

func (b *Bus) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topicSubs, ok := b.subs[topic]; ok {
		delete(topicSubs, id)
		if len(topicSubs) == 0 {
			delete(b.subs, topic)
		}
	}
}

// SubscriberCount reports how many handlers a topic currently has.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
