// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-backend/internal/eventbus"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	TargetRepo   repository.TargetRepositoryInterface
	Events       *eventbus.Bus
}

// ActivationResult summarizes a campaign start.
type ActivationResult struct {
	CampaignID     string `json:"campaign_id"`
	Status         string `json:"status"`
	TargetsCreated int    `json:"targets_created"`
}

type CampaignDetails struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	Name           string            `json:"name"`
	Channel        string            `json:"channel"`
	Status         string            `json:"status"`
	MessageContent map[string]string `json:"message_content"`
	StartAt        *time.Time        `json:"start_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      *time.Time        `json:"updated_at"`
	Stats          map[string]int    `json:"stats"`
}

// ActivateCampaign moves a campaign to running and ensures one target per
// lead in its list. Creation is idempotent per (campaign, lead), so
// re-activating a paused campaign never duplicates targets.
func (s *CampaignService) ActivateCampaign(ctx context.Context, campaignID string) (*ActivationResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case model.CampaignDraft, model.CampaignScheduled, model.CampaignPaused:
	default:
		return nil, fmt.Errorf("campaign cannot be started in status: %s", campaign.Status)
	}

	leads, err := s.LeadRepo.ListByListID(ctx, campaign.LeadListID)
	if err != nil {
		return nil, err
	}

	result := &ActivationResult{CampaignID: campaignID, Status: model.CampaignRunning}
	for _, lead := range leads {
		if _, err := s.TargetRepo.Create(ctx, campaignID, lead.ID); err != nil {
			log.Error().Err(err).Str("campaign_id", campaignID).Str("lead_id", lead.ID).
				Msg("failed to create target")
			continue
		}
		result.TargetsCreated++
	}

	if err := s.CampaignRepo.UpdateStatus(ctx, campaignID, model.CampaignRunning); err != nil {
		return result, err
	}

	if s.Events != nil {
		s.Events.Publish("campaign_started", campaign.TenantID, map[string]any{
			"campaign_id": campaignID,
			"channel":     campaign.Channel,
			"targets":     result.TargetsCreated,
		})
	}

	return result, nil
}

// PauseCampaign stops the scheduler from picking up the campaign's
// targets; already claimed targets finish their in-flight attempt.
func (s *CampaignService) PauseCampaign(ctx context.Context, campaignID string) error {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignRunning {
		return fmt.Errorf("campaign cannot be paused in status: %s", campaign.Status)
	}
	return s.CampaignRepo.UpdateStatus(ctx, campaignID, model.CampaignPaused)
}

func (s *CampaignService) CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if c.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if c.RetryPolicy.MaxAttempts == 0 {
		c.RetryPolicy = model.DefaultRetryPolicy()
	}
	if c.MessageContent == nil {
		c.MessageContent = map[string]string{}
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetails returns a campaign together with its target stats.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.TargetRepo.Stats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	stats["total"] = total

	return &CampaignDetails{
		ID:             campaign.ID,
		TenantID:       campaign.TenantID,
		Name:           campaign.Name,
		Channel:        campaign.Channel,
		Status:         campaign.Status,
		MessageContent: campaign.MessageContent,
		StartAt:        campaign.StartAt,
		CreatedAt:      campaign.CreatedAt,
		UpdatedAt:      campaign.UpdatedAt,
		Stats:          stats,
	}, nil
}
