// internal/automation/engine.go
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/channel"
	"github.com/unclebandit/outreach-backend/internal/eventbus"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/repository"
)

// ActionJob is one scheduled automation action, delivered through the
// task queue after its own delay.
type ActionJob struct {
	RuleID     string         `json:"rule_id"`
	TenantID   string         `json:"tenant_id"`
	ActionType string         `json:"action_type"`
	Config     map[string]any `json:"config"`
	Payload    map[string]any `json:"payload"`
}

// Engine evaluates automation rules against events and executes their
// actions.
type Engine struct {
	Rules    repository.AutomationRepositoryInterface
	Leads    repository.LeadRepositoryInterface
	Registry *channel.Registry
	Queue    queue.Queue

	SendTimeout time.Duration
}

// HandleEvent loads the tenant's enabled rules for the event type and,
// for each rule whose conditions all hold, schedules its ordered actions.
func (e *Engine) HandleEvent(ctx context.Context, ev eventbus.Event) error {
	rules, err := e.Rules.ListEnabled(ctx, ev.TenantID, ev.Type)
	if err != nil {
		return fmt.Errorf("failed to load automations for %s: %w", ev.Type, err)
	}

	log.Info().Int("count", len(rules)).Str("event_type", ev.Type).Msg("automations matched trigger")

	for _, rule := range rules {
		if !Matches(rule.Conditions, ev.Payload) {
			continue
		}
		e.scheduleActions(rule, ev.Payload)
		log.Info().Str("automation_id", rule.ID).Str("event_type", ev.Type).Msg("automation fired")
	}
	return nil
}

// Matches evaluates the ordered condition list with AND semantics.
// An empty list always matches.
func Matches(conditions []model.AutomationCondition, payload map[string]any) bool {
	for _, cond := range conditions {
		switch cond.Type {
		case model.ConditionFieldEquals:
			field := configString(cond.Config, "field")
			want := configString(cond.Config, "value")
			got, ok := payload[field]
			if !ok || fmt.Sprintf("%v", got) != want {
				return false
			}
		case model.ConditionFieldContains:
			field := configString(cond.Config, "field")
			want := configString(cond.Config, "value")
			got, ok := payload[field]
			if !ok || !strings.Contains(fmt.Sprintf("%v", got), want) {
				return false
			}
		case model.ConditionTagHas:
			if !hasTag(payload["tags"], configString(cond.Config, "tag")) {
				return false
			}
		default:
			log.Warn().Str("condition_type", cond.Type).Msg("unknown condition type, treating as not met")
			return false
		}
	}
	return true
}

func hasTag(tags any, want string) bool {
	switch v := tags.(type) {
	case []string:
		for _, t := range v {
			if t == want {
				return true
			}
		}
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// scheduleActions enqueues each action with its own delay. Scheduling is
// non-blocking; a failed enqueue is logged and the remaining actions are
// still scheduled.
func (e *Engine) scheduleActions(rule *model.AutomationRule, payload map[string]any) {
	for _, action := range rule.Actions {
		job := ActionJob{
			RuleID:     rule.ID,
			TenantID:   rule.TenantID,
			ActionType: action.Type,
			Config:     action.Config,
			Payload:    payload,
		}
		delay := time.Duration(action.DelaySeconds) * time.Second
		if err := e.Queue.PublishDelayed(queue.TopicAutomationActions, job, delay); err != nil {
			log.Error().Err(err).Str("automation_id", rule.ID).Str("action_type", action.Type).
				Msg("failed to schedule action")
		}
	}
}

// ExecuteAction runs one previously scheduled action.
func (e *Engine) ExecuteAction(ctx context.Context, job ActionJob) error {
	switch job.ActionType {
	case model.ActionSendSMS:
		return e.sendVia(ctx, model.ChannelSMS, channel.Message{
			Destination: payloadString(job.Payload, "phone"),
			Body:        configString(job.Config, "body"),
		})
	case model.ActionSendEmail:
		return e.sendVia(ctx, model.ChannelEmail, channel.Message{
			Destination: payloadString(job.Payload, "email"),
			Subject:     configString(job.Config, "subject"),
			Body:        configString(job.Config, "body"),
		})
	case model.ActionUpdateLead:
		leadID := payloadString(job.Payload, "lead_id")
		if leadID == "" {
			log.Warn().Str("automation_id", job.RuleID).Msg("update_lead action without lead_id in payload")
			return nil
		}
		return e.Leads.UpdateField(ctx, leadID,
			configString(job.Config, "field"), configString(job.Config, "value"))
	default:
		log.Warn().Str("action_type", job.ActionType).Msg("unknown action type, skipping")
		return nil
	}
}

func (e *Engine) sendVia(ctx context.Context, channelName string, msg channel.Message) error {
	sender, ok := e.Registry.Lookup(channelName)
	if !ok {
		return fmt.Errorf("no sender registered for channel %s", channelName)
	}
	timeout := e.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("automation %s send failed: %w", channelName, err)
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// RunScheduled executes scheduled_time rules whose cron expression is due.
// Called once per scheduler tick.
func (e *Engine) RunScheduled(ctx context.Context, now time.Time) error {
	rules, err := e.Rules.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduled automations: %w", err)
	}

	for _, rule := range rules {
		expr := configString(rule.TriggerConfig, "cron")
		if expr == "" {
			continue
		}
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			log.Error().Err(err).Str("automation_id", rule.ID).Str("cron", expr).Msg("invalid cron expression")
			continue
		}

		last := rule.LastRunAt
		if last == nil {
			created := now.Add(-time.Minute)
			last = &created
		}
		if sched.Next(*last).After(now) {
			continue
		}

		e.scheduleActions(rule, map[string]any{})
		if err := e.Rules.UpdateLastRun(ctx, rule.ID, now); err != nil {
			log.Error().Err(err).Str("automation_id", rule.ID).Msg("failed to update last run")
		}
	}
	return nil
}
