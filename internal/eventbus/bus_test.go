package eventbus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/outreach-backend/internal/queue"
)

type recordingQueue struct {
	mu     sync.Mutex
	topics []string
	events []Event
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	q.mu.Lock()
	q.topics = append(q.topics, topic)
	q.events = append(q.events, ev)
	q.mu.Unlock()
	return nil
}

func (q *recordingQueue) PublishDelayed(topic string, payload any, delay time.Duration) error {
	return q.Publish(topic, payload)
}

func (q *recordingQueue) Subscribe(topic string, handler func(body []byte) error) error { return nil }

func TestPublishKnownEvent(t *testing.T) {
	q := &recordingQueue{}
	bus := New(q)

	bus.Publish("lead_created", "tenant-1", map[string]any{"lead_id": "lead-1"})

	if len(q.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(q.events))
	}
	ev := q.events[0]
	if q.topics[0] != queue.TopicAutomationEvents {
		t.Errorf("published to %s, want %s", q.topics[0], queue.TopicAutomationEvents)
	}
	if ev.Type != "lead_created" || ev.TenantID != "tenant-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.ID == "" {
		t.Error("expected generated event ID")
	}
	if ev.Payload["lead_id"] != "lead-1" {
		t.Errorf("payload not carried: %v", ev.Payload)
	}
}

func TestPublishDropsUnknownType(t *testing.T) {
	q := &recordingQueue{}
	bus := New(q)

	bus.Publish("lead_abducted", "tenant-1", nil)

	if len(q.events) != 0 {
		t.Errorf("unknown event type must be dropped, got %v", q.events)
	}
}

func TestAllKnownTypesAccepted(t *testing.T) {
	q := &recordingQueue{}
	bus := New(q)

	types := []string{
		"lead_created", "lead_updated", "message_received",
		"campaign_started", "campaign_completed",
		"voice_failed", "voice_completed", "scheduled_time",
		"email_opened", "email_clicked", "sms_delivered", "whatsapp_received",
	}
	for _, typ := range types {
		bus.Publish(typ, "tenant-1", nil)
	}

	if len(q.events) != len(types) {
		t.Errorf("expected %d events published, got %d", len(types), len(q.events))
	}
}
