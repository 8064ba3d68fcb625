// internal/eventbus/bus.go
package eventbus

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/queue"
)

// Event types the bus accepts. Anything else is logged and dropped.
var knownTypes = map[string]struct{}{
	"lead_created":       {},
	"lead_updated":       {},
	"message_received":   {},
	"campaign_started":   {},
	"campaign_completed": {},
	"voice_failed":       {},
	"voice_completed":    {},
	"scheduled_time":     {},
	"email_opened":       {},
	"email_clicked":      {},
	"sms_delivered":      {},
	"whatsapp_received":  {},
}

// Event is what automation evaluation consumes.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Bus publishes lifecycle events onto the task queue for asynchronous
// automation evaluation.
type Bus struct {
	queue queue.Queue
}

func New(q queue.Queue) *Bus {
	return &Bus{queue: q}
}

// Publish enqueues an event. Unknown event types are dropped without
// retry; a publish failure is logged but never propagated to the caller,
// since event emission must not fail the triggering operation.
func (b *Bus) Publish(eventType, tenantID string, payload map[string]any) {
	if _, ok := knownTypes[eventType]; !ok {
		log.Warn().Str("event_type", eventType).Msg("unknown event type, dropping")
		return
	}

	ev := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	log.Info().Str("event_type", eventType).Str("tenant_id", tenantID).Msg("publishing event")

	if err := b.queue.Publish(queue.TopicAutomationEvents, ev); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}
