// Package event is the in-process pub/sub layer: typed topics for order,
// call, and escalation lifecycle with non-blocking delivery. Events that
// must leave the process go through the durable outbound queue instead
// (internal/eventqueue); this bus is observability and decoupling only.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// defaultSubscriberDeadline is how long a single subscriber may run per
// event before the bus stops waiting on it. Publishing never blocks the
// caller either way; the deadline only bounds subscriber lag.
const defaultSubscriberDeadline = 1 * time.Second

// EventHandler consumes one event.
type EventHandler func(event *Event)

// EventMiddleware wraps handlers, applied to every subscription.
type EventMiddleware func(next EventHandler) EventHandler

// EventBus is the seam services publish to and subscribe on.
type EventBus interface {
	Publish(eventType EventType, data interface{}) error
	PublishEvent(event *Event) error
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeWithTimeout(eventType EventType, handler EventHandler, timeout time.Duration) error
	Use(middleware EventMiddleware)
	Close() error
	GetStats() BusStats
}

// BusStats is the counter snapshot served at GET /stats.
type BusStats struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	ActiveHandlers  int              `json:"active_handlers"`
	SubscriberCount map[string]int   `json:"subscriber_count"`
}

type commsBus struct {
	subscribers map[EventType][]EventHandler
	middleware  []EventMiddleware
	mutex       sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stats       BusStats
	statsMutex  sync.RWMutex
}

// NewEventBus builds an empty bus.
func NewEventBus() EventBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &commsBus{
		subscribers: make(map[EventType][]EventHandler),
		middleware:  make([]EventMiddleware, 0),
		ctx:         ctx,
		cancel:      cancel,
		stats: BusStats{
			EventsByType:    make(map[string]int64),
			SubscriberCount: make(map[string]int),
		},
	}
}

// Publish wraps data in an event envelope and publishes it. The call and
// order correlation ids are lifted out of the known payload types so
// subscribers can filter without a type switch of their own.
func (b *commsBus) Publish(eventType EventType, data interface{}) error {
	event := NewEvent(eventType, "")
	if data != nil {
		event.Data = data

		switch d := data.(type) {
		case *CallEventData:
			event.CallID = d.CallID
			event.OrderID = d.OrderID
		case *EscalationEventData:
			event.OrderID = d.OrderID
		case *OrderEventData:
			event.OrderID = d.OrderID
		}
	}

	return b.PublishEvent(event)
}

// PublishEvent fans the event out to every subscriber of its type. Each
// handler runs on its own goroutine; a publish returns as soon as the
// fan-out is scheduled.
func (b *commsBus) PublishEvent(event *Event) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	default:
	}

	b.mutex.RLock()
	handlers, exists := b.subscribers[event.Type]
	if !exists {
		b.mutex.RUnlock()
		logger.Base().Debug("event published with no subscribers",
			zap.String("type", string(event.Type)))
		return nil
	}
	handlersCopy := make([]EventHandler, len(handlers))
	copy(handlersCopy, handlers)
	b.mutex.RUnlock()

	b.countEvent(event.Type)

	for _, handler := range handlersCopy {
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("event handler panic",
						zap.String("type", string(event.Type)), zap.Any("panic", r))
				}
			}()

			final := h
			for i := len(b.middleware) - 1; i >= 0; i-- {
				final = b.middleware[i](final)
			}
			final(event)
		}(handler)
	}

	return nil
}

// Subscribe registers a handler with the default per-event deadline. Every
// subscription is timed; a subscriber that cannot keep up loses events
// rather than stalling the bus.
func (b *commsBus) Subscribe(eventType EventType, handler EventHandler) error {
	return b.SubscribeWithTimeout(eventType, handler, defaultSubscriberDeadline)
}

// SubscribeWithTimeout registers a handler with an explicit per-event
// deadline; timeout <= 0 disables the bound.
func (b *commsBus) SubscribeWithTimeout(eventType EventType, handler EventHandler, timeout time.Duration) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	default:
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	final := handler
	if timeout > 0 {
		final = b.withDeadline(handler, timeout)
	}

	b.mutex.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], final)
	b.mutex.Unlock()

	b.statsMutex.Lock()
	b.stats.SubscriberCount[string(eventType)]++
	b.stats.ActiveHandlers++
	b.statsMutex.Unlock()

	return nil
}

// Use appends middleware applied around every handler invocation.
func (b *commsBus) Use(middleware EventMiddleware) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Close stops the bus; later publishes and subscriptions fail.
func (b *commsBus) Close() error {
	b.cancel()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.subscribers = make(map[EventType][]EventHandler)
	b.middleware = make([]EventMiddleware, 0)

	logger.Base().Info("event bus closed")
	return nil
}

// GetStats returns a copy of the counters.
func (b *commsBus) GetStats() BusStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()

	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		EventsByType:    make(map[string]int64),
		ActiveHandlers:  b.stats.ActiveHandlers,
		SubscriberCount: make(map[string]int),
	}
	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	for k, v := range b.stats.SubscriberCount {
		stats.SubscriberCount[k] = v
	}
	return stats
}

// withDeadline bounds one handler invocation. The handler goroutine is not
// killed on timeout (Go cannot), but the bus stops waiting and logs it.
func (b *commsBus) withDeadline(handler EventHandler, timeout time.Duration) EventHandler {
	return func(event *Event) {
		done := make(chan struct{})

		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("event handler panic",
						zap.String("type", string(event.Type)), zap.Any("panic", r))
				}
			}()
			handler(event)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			logger.Base().Warn("slow subscriber dropped for event",
				zap.String("type", string(event.Type)), zap.Duration("deadline", timeout))
		case <-b.ctx.Done():
		}
	}
}

func (b *commsBus) countEvent(eventType EventType) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()

	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
}
