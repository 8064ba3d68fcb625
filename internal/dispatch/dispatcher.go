// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/channel"
	"github.com/unclebandit/outreach-backend/internal/circuit"
	"github.com/unclebandit/outreach-backend/internal/eventbus"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/ratelimit"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/service"
)

// Job is the dispatch work unit published by the scheduler.
type Job struct {
	TargetID string `json:"target_id"`
}

// rateLimitDeferral is how far out a rate-limited target is pushed.
// Deferral is not a delivery failure and consumes no attempt.
const rateLimitDeferral = time.Minute

// Dispatcher takes claimed targets and attempts delivery through the
// rate limiter, circuit breaker and the campaign's channel sender.
type Dispatcher struct {
	Targets   repository.TargetRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Leads     repository.LeadRepositoryInterface
	Tenants   repository.TenantRepositoryInterface

	Limiter  *ratelimit.Limiter
	Breaker  *circuit.Breaker
	Registry *channel.Registry
	Events   *eventbus.Bus

	RateLimit   int
	RateWindow  time.Duration
	SendTimeout time.Duration

	now func() time.Time
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now().UTC()
}

// SetClock overrides the dispatcher's notion of now. Test hook.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Dispatch processes one claimed target. Errors local to the target are
// logged and absorbed so a bad target never poisons the queue; only
// infrastructure errors (DB writes failing) propagate for redelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, targetID string) error {
	target, err := d.Targets.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		log.Error().Str("target_id", targetID).Msg("dispatch target not found")
		return nil
	}
	if target.Status != model.TargetProcessing {
		// Late or duplicate delivery; the claim already moved on.
		log.Warn().Str("target_id", targetID).Str("status", target.Status).Msg("target not in processing, skipping")
		return nil
	}

	campaign, err := d.Campaigns.GetByID(ctx, target.CampaignID)
	if err != nil || campaign == nil {
		log.Error().Err(err).Str("target_id", targetID).Str("campaign_id", target.CampaignID).
			Msg("missing campaign for target, leaving for inspection")
		return nil
	}
	lead, err := d.Leads.GetByID(ctx, target.LeadID)
	if err != nil || lead == nil {
		log.Error().Err(err).Str("target_id", targetID).Str("lead_id", target.LeadID).
			Msg("missing lead for target, leaving for inspection")
		return nil
	}
	tenant, err := d.Tenants.GetByID(ctx, campaign.TenantID)
	if err != nil || tenant == nil {
		log.Error().Err(err).Str("target_id", targetID).Str("tenant_id", campaign.TenantID).
			Msg("missing tenant for target, leaving for inspection")
		return nil
	}

	rateKey := ratelimit.Key(tenant.ID, campaign.Channel)
	allowed, _, err := d.Limiter.Check(ctx, rateKey, d.RateLimit, d.RateWindow)
	if err != nil {
		log.Error().Err(err).Str("key", rateKey).Msg("rate limit check failed, allowing")
		allowed = true
	}
	if !allowed {
		log.Warn().Str("key", rateKey).Str("target_id", targetID).Msg("rate limit exceeded, rescheduling")
		return d.Targets.Defer(ctx, targetID, d.clock().Add(rateLimitDeferral), "rate_limited")
	}

	sender, ok := d.Registry.Lookup(campaign.Channel)
	if !ok {
		log.Error().Str("channel", campaign.Channel).Str("target_id", targetID).Msg("unknown channel")
		return d.Targets.MarkFailed(ctx, targetID, "unknown channel: "+campaign.Channel, false)
	}

	msg := d.buildMessage(target, campaign, lead)

	var result *channel.Result
	callErr := d.Breaker.Call(ctx, sender.Integration(), func(ctx context.Context) error {
		timeout := d.SendTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var sendErr error
		result, sendErr = sender.Send(sendCtx, msg)
		return sendErr
	})

	if callErr != nil {
		return d.handleFailure(ctx, target, campaign, callErr)
	}

	return d.handleSuccess(ctx, target, campaign, result)
}

func (d *Dispatcher) buildMessage(target *model.CampaignTarget, campaign *model.Campaign, lead *model.Lead) channel.Message {
	fields := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"phone":      lead.Phone,
		"email":      lead.Email,
	}

	destination := lead.Phone
	if campaign.Channel == model.ChannelEmail {
		destination = lead.Email
	}

	return channel.Message{
		TargetID:    target.ID,
		Destination: destination,
		Subject:     service.RenderTemplate(campaign.MessageContent["subject"], fields),
		Body:        service.RenderTemplate(campaign.MessageContent["body"], fields),
		Metadata: map[string]string{
			"assistant_id": campaign.MessageContent["assistant_id"],
			"script":       campaign.MessageContent["script"],
		},
	}
}

func (d *Dispatcher) handleSuccess(ctx context.Context, target *model.CampaignTarget, campaign *model.Campaign, result *channel.Result) error {
	now := d.clock()
	if err := d.Targets.RecordAttempt(ctx, target.ID, now); err != nil {
		return err
	}

	meta := map[string]any{}
	if result != nil && result.ExternalID != "" {
		meta["external_id"] = result.ExternalID
	}

	if result != nil && result.Async {
		// Fire-and-forget channel: completion arrives on the status
		// callback, the target stays in processing until then.
		meta["call_status"] = "initiated"
		log.Info().Str("target_id", target.ID).Str("campaign_id", campaign.ID).Msg("dispatch accepted, awaiting callback")
		return d.Targets.UpdateStatus(ctx, target.ID, model.TargetProcessing, meta)
	}

	if err := d.Targets.MarkCompleted(ctx, target.ID, meta); err != nil {
		return err
	}
	log.Info().Str("target_id", target.ID).Str("campaign_id", campaign.ID).Msg("target completed")

	if campaign.Channel == model.ChannelSMS && d.Events != nil {
		d.Events.Publish("sms_delivered", campaign.TenantID, map[string]any{
			"target_id":   target.ID,
			"campaign_id": campaign.ID,
			"lead_id":     target.LeadID,
		})
	}
	return nil
}

// handleFailure applies the campaign retry policy. The attempt that just
// failed is consumed; a terminal classification fails immediately.
// Circuit-open rejections are retryable but were never forwarded to the
// provider, so the breaker's own counter is untouched.
func (d *Dispatcher) handleFailure(ctx context.Context, target *model.CampaignTarget, campaign *model.Campaign, callErr error) error {
	var openErr *circuit.OpenError
	if errors.As(callErr, &openErr) {
		log.Warn().Str("target_id", target.ID).Str("integration", openErr.Name).Msg("circuit open, retrying later")
		return d.retryOrFail(ctx, target, campaign, "circuit_open:"+openErr.Name)
	}

	if channel.IsTerminal(callErr) {
		log.Error().Err(callErr).Str("target_id", target.ID).Str("campaign_id", campaign.ID).Msg("terminal send failure")
		return d.Targets.MarkFailed(ctx, target.ID, callErr.Error(), false)
	}

	log.Warn().Err(callErr).Str("target_id", target.ID).Str("campaign_id", campaign.ID).Msg("retryable send failure")
	return d.retryOrFail(ctx, target, campaign, callErr.Error())
}

func (d *Dispatcher) retryOrFail(ctx context.Context, target *model.CampaignTarget, campaign *model.Campaign, reason string) error {
	policy := campaign.RetryPolicy
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultRetryPolicy().MaxAttempts
	}

	attempts := target.AttemptCount + 1
	if attempts >= maxAttempts {
		log.Error().Str("target_id", target.ID).Int("attempts", attempts).Msg("max retries exceeded")
		return d.Targets.MarkFailed(ctx, target.ID, reason, true)
	}

	delay := BackoffDelay(policy, attempts)
	nextAt := d.clock().Add(delay)
	log.Info().Str("target_id", target.ID).Dur("delay", delay).Msg("rescheduling target")
	return d.Targets.MarkRetrying(ctx, target.ID, nextAt, reason)
}
