// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/dispatch"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/schedule"
)

// Scheduler periodically scans due targets, applies the campaign send
// window and hands eligible targets to the dispatcher via the task queue.
// Multiple instances may run concurrently; the atomic claim in the target
// repository prevents double dispatch.
type Scheduler struct {
	Targets   repository.TargetRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Leads     repository.LeadRepositoryInterface
	Queue     queue.Queue

	Interval  time.Duration
	BatchSize int

	now func() time.Time
}

func (s *Scheduler) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// SetClock overrides the scheduler's notion of now. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start runs the scan loop until ctx is cancelled. Dispatch work is
// handed to the queue, so a slow provider never stretches the period.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan. Errors on one target never block the
// rest of the batch.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clock()
	batch := s.BatchSize
	if batch <= 0 {
		batch = 1000
	}

	targets, err := s.Targets.ListDue(ctx, now, batch)
	if err != nil {
		log.Error().Err(err).Msg("failed to list due targets")
		return
	}
	if len(targets) == 0 {
		return
	}
	log.Info().Int("count", len(targets)).Msg("targets ready for processing")

	campaigns := map[string]*model.Campaign{}
	rules := map[string]*model.ScheduleRule{}
	rulesLoaded := map[string]bool{}

	for _, target := range targets {
		campaign, ok := campaigns[target.CampaignID]
		if !ok {
			campaign, err = s.Campaigns.GetByID(ctx, target.CampaignID)
			if err != nil {
				log.Error().Err(err).Str("target_id", target.ID).Str("campaign_id", target.CampaignID).
					Msg("failed to load campaign")
				continue
			}
			campaigns[target.CampaignID] = campaign
		}
		if campaign == nil || campaign.Status != model.CampaignRunning {
			continue
		}

		if !rulesLoaded[campaign.ID] {
			rules[campaign.ID], err = s.Campaigns.GetScheduleRule(ctx, campaign.ID)
			if err != nil {
				log.Error().Err(err).Str("campaign_id", campaign.ID).Msg("failed to load schedule rule")
				continue
			}
			rulesLoaded[campaign.ID] = true
		}

		if rule := rules[campaign.ID]; rule != nil {
			lead, err := s.Leads.GetByID(ctx, target.LeadID)
			if err != nil || lead == nil {
				log.Error().Err(err).Str("target_id", target.ID).Str("lead_id", target.LeadID).
					Msg("failed to load lead for window check")
				continue
			}

			local := schedule.InLocation(now, lead.Timezone)
			if !schedule.Within(local, *rule) {
				next := schedule.NextAvailable(local, *rule)
				if err := s.Targets.UpdateNextAttempt(ctx, target.ID, next.UTC()); err != nil {
					log.Error().Err(err).Str("target_id", target.ID).Msg("failed to reschedule target")
					continue
				}
				log.Info().Str("target_id", target.ID).Time("next", next).Msg("outside send window, rescheduled")
				continue
			}
		}

		claimed, err := s.Targets.Claim(ctx, target.ID)
		if err != nil {
			log.Error().Err(err).Str("target_id", target.ID).Msg("claim failed")
			continue
		}
		if !claimed {
			// Another scheduler instance got there first.
			continue
		}

		if err := s.Queue.Publish(queue.TopicDispatch, dispatch.Job{TargetID: target.ID}); err != nil {
			log.Error().Err(err).Str("target_id", target.ID).Msg("failed to enqueue dispatch, releasing claim")
			if deferErr := s.Targets.Defer(ctx, target.ID, now, "enqueue_failed"); deferErr != nil {
				log.Error().Err(deferErr).Str("target_id", target.ID).Msg("failed to release claim")
			}
			continue
		}

		log.Info().Str("target_id", target.ID).Str("campaign_id", campaign.ID).Msg("target dispatched")
	}
}
