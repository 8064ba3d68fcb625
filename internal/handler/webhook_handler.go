// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/eventbus"
	"github.com/unclebandit/outreach-backend/internal/idempotency"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/repository"
)

// voiceRetryDelays maps provider call outcomes to a deferral before the
// next try. Outcomes absent from the map are final.
var voiceRetryDelays = map[string]time.Duration{
	"busy":      30 * time.Minute,
	"no_answer": 120 * time.Minute,
}

// WebhookHandler applies asynchronous delivery/call status updates coming
// back from the channel providers. Every delivery is routed through the
// idempotency guard before any state is touched.
type WebhookHandler struct {
	Targets   repository.TargetRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Guard     *idempotency.Guard
	Events    *eventbus.Bus
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// checkIdempotent returns true when the event was already handled (and
// has answered the request itself).
func (h *WebhookHandler) checkIdempotent(w http.ResponseWriter, r *http.Request, key string) bool {
	processed, err := h.Guard.IsProcessed(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Msg("idempotency check failed, processing anyway")
		return false
	}
	if processed {
		log.Info().Str("idempotency_key", key).Msg("webhook already processed")
		respond(w, http.StatusOK, map[string]string{"status": "already_processed"})
		return true
	}
	return false
}

func (h *WebhookHandler) markProcessed(ctx context.Context, key string) {
	if err := h.Guard.MarkProcessed(ctx, key, ""); err != nil {
		log.Error().Err(err).Str("idempotency_key", key).Msg("failed to mark webhook processed")
	}
}

// SMSStatus handles POST /webhooks/sms/status
func (h *WebhookHandler) SMSStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID string `json:"message-id"`
		Event     string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	key := idempotency.Key("brevo_sms", body.MessageID, body.Event)
	if h.checkIdempotent(w, r, key) {
		return
	}

	h.applyDeliveryStatus(r.Context(), body.MessageID, body.Event)
	h.markProcessed(r.Context(), key)
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EmailStatus handles POST /webhooks/email/status
func (h *WebhookHandler) EmailStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID string `json:"message-id"`
		Event     string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	key := idempotency.Key("brevo_email", body.MessageID, body.Event)
	if h.checkIdempotent(w, r, key) {
		return
	}

	ctx := r.Context()
	switch body.Event {
	case "opened", "click":
		eventType := "email_opened"
		if body.Event == "click" {
			eventType = "email_clicked"
		}
		if target, campaign := h.resolve(ctx, body.MessageID); target != nil && campaign != nil {
			h.Events.Publish(eventType, campaign.TenantID, map[string]any{
				"target_id":   target.ID,
				"campaign_id": campaign.ID,
				"lead_id":     target.LeadID,
			})
		}
	default:
		h.applyDeliveryStatus(ctx, body.MessageID, body.Event)
	}

	h.markProcessed(ctx, key)
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applyDeliveryStatus maps a provider delivery event onto the target
// state machine. Unrecognized events are recorded as metadata only.
func (h *WebhookHandler) applyDeliveryStatus(ctx context.Context, externalID, event string) {
	target, _ := h.resolve(ctx, externalID)
	if target == nil {
		log.Warn().Str("external_id", externalID).Str("event", event).Msg("no target for delivery status")
		return
	}

	meta := map[string]any{"delivery_status": event}
	var err error
	switch event {
	case "delivered":
		err = h.Targets.MarkCompleted(ctx, target.ID, meta)
	case "hard_bounce", "blocked", "invalid":
		err = h.Targets.UpdateStatus(ctx, target.ID, model.TargetFailed, meta)
	default:
		err = h.Targets.UpdateStatus(ctx, target.ID, target.Status, meta)
	}
	if err != nil {
		log.Error().Err(err).Str("target_id", target.ID).Str("event", event).Msg("failed to apply delivery status")
	}
}

func (h *WebhookHandler) resolve(ctx context.Context, externalID string) (*model.CampaignTarget, *model.Campaign) {
	if externalID == "" {
		return nil, nil
	}
	target, err := h.Targets.FindByExternalID(ctx, externalID)
	if err != nil || target == nil {
		return nil, nil
	}
	campaign, err := h.Campaigns.GetByID(ctx, target.CampaignID)
	if err != nil {
		return target, nil
	}
	return target, campaign
}

// VoiceStatus handles POST /webhooks/voice/status. Call outcomes apply
// the per-outcome retry map: busy and no_answer defer the target without
// consuming an attempt, voicemail and completed finish it, anything else
// fails it.
func (h *WebhookHandler) VoiceStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		Call   struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"call"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Call.ID == "" {
		http.Error(w, "missing call ID", http.StatusBadRequest)
		return
	}

	key := idempotency.Key("vapi_call", body.Call.ID, body.Status)
	if h.checkIdempotent(w, r, key) {
		return
	}

	ctx := r.Context()
	target := h.resolveVoiceTarget(ctx, body.Call.ID, body.Call.Metadata)
	if target == nil {
		log.Warn().Str("call_id", body.Call.ID).Msg("no target for call status")
		h.markProcessed(ctx, key)
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	campaign, err := h.Campaigns.GetByID(ctx, target.CampaignID)
	if err != nil || campaign == nil {
		log.Error().Err(err).Str("target_id", target.ID).Msg("missing campaign for call status")
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	h.applyCallStatus(ctx, target, campaign, body.Call.ID, body.Status)
	h.markProcessed(ctx, key)
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) resolveVoiceTarget(ctx context.Context, callID string, metadata map[string]string) *model.CampaignTarget {
	if id := metadata["target_id"]; id != "" {
		if target, err := h.Targets.GetByID(ctx, id); err == nil && target != nil {
			return target
		}
	}
	target, _ := h.Targets.FindByExternalID(ctx, callID)
	return target
}

func (h *WebhookHandler) applyCallStatus(ctx context.Context, target *model.CampaignTarget, campaign *model.Campaign, callID, status string) {
	payload := map[string]any{
		"target_id": target.ID,
		"call_id":   callID,
		"status":    status,
	}

	if delay, ok := voiceRetryDelays[status]; ok {
		nextAt := time.Now().UTC().Add(delay)
		if err := h.Targets.Defer(ctx, target.ID, nextAt, status); err != nil {
			log.Error().Err(err).Str("target_id", target.ID).Msg("failed to defer target")
			return
		}
		log.Info().Str("target_id", target.ID).Str("status", status).Dur("delay", delay).
			Msg("rescheduling call")
		payload["retry_in_minutes"] = int(delay.Minutes())
		h.Events.Publish("voice_failed", campaign.TenantID, payload)
		return
	}

	switch status {
	case "voicemail":
		meta := map[string]any{"call_status": status, "completed_reason": "voicemail"}
		if err := h.Targets.MarkCompleted(ctx, target.ID, meta); err != nil {
			log.Error().Err(err).Str("target_id", target.ID).Msg("failed to complete target")
			return
		}
		log.Info().Str("target_id", target.ID).Msg("call went to voicemail, marking completed")
		h.Events.Publish("voice_completed", campaign.TenantID, payload)
	case "completed":
		if err := h.Targets.MarkCompleted(ctx, target.ID, map[string]any{"call_status": status}); err != nil {
			log.Error().Err(err).Str("target_id", target.ID).Msg("failed to complete target")
			return
		}
		log.Info().Str("target_id", target.ID).Msg("call completed")
		h.Events.Publish("voice_completed", campaign.TenantID, payload)
	default:
		meta := map[string]any{"call_status": status, "failure_reason": status}
		if err := h.Targets.UpdateStatus(ctx, target.ID, model.TargetFailed, meta); err != nil {
			log.Error().Err(err).Str("target_id", target.ID).Msg("failed to fail target")
			return
		}
		log.Error().Str("target_id", target.ID).Str("status", status).Msg("call failed")
		h.Events.Publish("voice_failed", campaign.TenantID, payload)
	}
}
