// Package events provides a small typed pub-sub primitive used to route
// relay messages to the right outbound socket without a global registry.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HandlerFunc is the function called when an event is emitted.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject.
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize   int
	syncDelivery bool
	logger       *slog.Logger
}

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) { cfg.bufferSize = size }
}

// WithLogger sets a structured logger for event-handler errors.
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) { cfg.logger = logger }
}

// WithSyncDelivery forces synchronous (inline) event delivery, serializing
// all handler calls within the single eventLoop goroutine. Required when
// handlers must not run concurrently, e.g. when a handler enqueues onto a
// per-socket writer that itself assumes single-producer ordering per topic.
func WithSyncDelivery() SubjectOption {
	return func(cfg *subjectConfig) { cfg.syncDelivery = true }
}

// Emit emits an event to the given topic.
func Emit[T any](subject *Subject, topic string, value T) error {
	evt := event{topic: topic, message: value}
	select {
	case subject.events <- evt:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("failed to emit event: %v", value)
	}
}

// Subscribe subscribes a typed handler to the given topic. The returned
// Subscription's Unsubscribe must be called exactly once when the
// subscriber goes away.
func Subscribe[T any](subject *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrappedHandler := HandlerFunc(func(ctx context.Context, data any) error {
		if typed, ok := data.(T); ok {
			return handler(ctx, typed)
		}
		return fmt.Errorf("type assertion failed for %T, expected %T", data, *new(T))
	})

	subID := atomic.AddInt64(&subject.nextSubID, 1)

	sub := Subscription{
		Topic:   topic,
		Handler: wrappedHandler,
		ID:      fmt.Sprintf("%s-%d", topic, subID),
	}

	subject.addSubscription(sub)
	sub.Unsubscribe = func() { subject.removeSubscription(sub.ID) }
	return sub
}

// Complete shuts down the event system, stopping its goroutine. Idempotent.
func Complete(s *Subject) {
	if s == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.shutdown)
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
}

type event struct {
	topic   string
	message any
}

// Subscription represents a handler subscribed to a specific topic.
type Subscription struct {
	Topic       string
	Handler     HandlerFunc
	ID          string
	Unsubscribe func()
}

type subscriberMap map[string]map[string]Subscription

// Subject is a lock-free (copy-on-write) typed event bus.
type Subject struct {
	subscribers atomic.Pointer[subscriberMap]
	nextSubID   int64

	events   chan event
	shutdown chan struct{}

	config subjectConfig

	closed int32
	wg     sync.WaitGroup
}

// NewSubject creates a new Subject with optional configuration.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{bufferSize: 512}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subject{
		events:   make(chan event, cfg.bufferSize),
		shutdown: make(chan struct{}),
		config:   cfg,
	}

	emptySubscribers := make(subscriberMap)
	s.subscribers.Store(&emptySubscribers)

	go s.eventLoop()
	return s
}

func (s *Subject) eventLoop() {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case evt := <-s.events:
			subs := s.subscribers.Load()
			if topicSubs, ok := (*subs)[evt.topic]; ok {
				for _, sub := range topicSubs {
					s.sendToSubscriber(sub, evt, s.config.syncDelivery)
				}
			}
		}
	}
}

func (s *Subject) addSubscription(sub Subscription) {
	for {
		oldSubs := s.subscribers.Load()
		newSubs := s.copySubscribers(*oldSubs)

		if _, ok := newSubs[sub.Topic]; !ok {
			newSubs[sub.Topic] = make(map[string]Subscription)
		}
		newSubs[sub.Topic][sub.ID] = sub

		if s.subscribers.CompareAndSwap(oldSubs, &newSubs) {
			return
		}
	}
}

func (s *Subject) removeSubscription(subID string) {
	for {
		oldSubs := s.subscribers.Load()
		newSubs := s.copySubscribers(*oldSubs)

		found := false
		for topic, topicSubs := range newSubs {
			if _, ok := topicSubs[subID]; ok {
				delete(topicSubs, subID)
				if len(topicSubs) == 0 {
					delete(newSubs, topic)
				}
				found = true
				break
			}
		}
		if !found {
			return
		}
		if s.subscribers.CompareAndSwap(oldSubs, &newSubs) {
			return
		}
	}
}

func (s *Subject) copySubscribers(original subscriberMap) subscriberMap {
	cp := make(subscriberMap, len(original))
	for topic, topicSubs := range original {
		cp[topic] = make(map[string]Subscription, len(topicSubs))
		for id, sub := range topicSubs {
			cp[topic][id] = sub
		}
	}
	return cp
}

func (s *Subject) sendToSubscriber(sub Subscription, evt event, sync bool) {
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sub.Handler(ctx, evt.message); err != nil && s.config.logger != nil {
			s.config.logger.Debug("event handler error",
				"topic", evt.topic, "error", err, "subscription_id", sub.ID)
		}
	}
	if sync {
		deliver()
	} else {
		go deliver()
	}
}
