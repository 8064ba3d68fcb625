// internal/queue/queue.go
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Topics used across the engine.
const (
	TopicDispatch          = "campaign_dispatch"
	TopicAutomationEvents  = "automation_events"
	TopicAutomationActions = "automation_actions"
)

// Queue is the task-queue collaborator. Payloads are JSON-encoded before
// delivery; handlers receive the raw bytes. PublishDelayed schedules
// delivery without blocking the caller.
type Queue interface {
	Publish(topic string, payload any) error
	PublishDelayed(topic string, payload any, delay time.Duration) error
	Subscribe(topic string, handler func(body []byte) error) error
}

// InMemoryQueue runs handlers in goroutines with bounded retry. Used in
// tests and in single-process mode when AMQP is not configured.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(body []byte) error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(body []byte) error),
	}
}

const maxDeliveryAttempts = 3

func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		go q.deliver(topic, handler, body)
	}
	return nil
}

func (q *InMemoryQueue) PublishDelayed(topic string, payload any, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(topic, payload)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		handlers := q.handlers[topic]
		q.mu.Unlock()
		for _, handler := range handlers {
			go q.deliver(topic, handler, body)
		}
	})
	return nil
}

func (q *InMemoryQueue) deliver(topic string, handler func(body []byte) error, body []byte) {
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		err := handler(body)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("topic", topic).Int("attempt", attempt).Msg("job failed")
		if attempt == maxDeliveryAttempts {
			log.Error().Str("topic", topic).Msg("job permanently failed")
			return
		}
		time.Sleep(time.Duration(attempt*500) * time.Millisecond)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(body []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}
