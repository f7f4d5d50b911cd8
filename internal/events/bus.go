// Package events carries change notifications between the agent's services
// and its consumers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Topic names a kind of event
type Topic string

const (
	TopicCartUpdated      Topic = "cartUpdated"
	TopicDataSynced       Topic = "dataSynced"
	TopicFavoritesUpdated Topic = "favoritesUpdated"
	TopicSyncStatus       Topic = "syncStatus"
)

// Event is one published notification. Offset is only set once the event
// has been appended to a Log.
type Event struct {
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Topic     Topic     `json:"type"`
	Data      any       `json:"data"`
}

type subscription struct {
	topic Topic // empty matches every topic
	fn    func(Event)
}

// Bus is a synchronous in-process publish/subscribe hub. Publish calls every
// matching handler on the publishing goroutine before returning; handler
// order is unspecified. Publishers must not hold locks that handlers may
// need, since handlers commonly read back from the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
	logger *slog.Logger
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]subscription),
		logger: logger,
	}
}

// Subscribe registers fn for topic and returns the function that removes it
func (b *Bus) Subscribe(topic Topic, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{topic: topic, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeAll registers fn for every topic
func (b *Bus) SubscribeAll(fn func(Event)) func() {
	return b.Subscribe("", fn)
}

// Publish delivers data to the current subscribers of topic
func (b *Bus) Publish(topic Topic, data any) {
	event := Event{Timestamp: time.Now().UTC(), Topic: topic, Data: data}

	b.mu.RLock()
	targets := make([]func(Event), 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.topic == "" || sub.topic == topic {
			targets = append(targets, sub.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		b.deliver(fn, event)
	}
}

func (b *Bus) deliver(fn func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic in event handler", "topic", event.Topic, "panic", r)
		}
	}()
	fn(event)
}
