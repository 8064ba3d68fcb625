package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unclebandit/outreach-backend/internal/model"
)

type mockCampaignRepo struct {
	campaign *model.Campaign
	created  []*model.Campaign
	statuses map[string]string
}

func (m *mockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	m.created = append(m.created, c)
	return nil
}

func (m *mockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	if m.campaign == nil {
		return nil, errors.New("campaign not found")
	}
	return m.campaign, nil
}

func (m *mockCampaignRepo) UpdateStatus(ctx context.Context, campaignID, status string) error {
	if m.statuses == nil {
		m.statuses = map[string]string{}
	}
	m.statuses[campaignID] = status
	if m.campaign != nil && m.campaign.ID == campaignID {
		m.campaign.Status = status
	}
	return nil
}

func (m *mockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (m *mockCampaignRepo) GetScheduleRule(ctx context.Context, campaignID string) (*model.ScheduleRule, error) {
	return nil, nil
}

type mockLeadRepo struct {
	leads []model.Lead
}

func (m *mockLeadRepo) GetByID(ctx context.Context, id string) (*model.Lead, error) { return nil, nil }

func (m *mockLeadRepo) ListByListID(ctx context.Context, leadListID string) ([]model.Lead, error) {
	return m.leads, nil
}

func (m *mockLeadRepo) UpdateField(ctx context.Context, id, field, value string) error { return nil }

// mockTargetRepo mimics the unique (campaign, lead) index: repeated
// creates return the existing target.
type mockTargetRepo struct {
	targets map[string]*model.CampaignTarget
	stats   map[string]int
}

func (m *mockTargetRepo) Create(ctx context.Context, campaignID, leadID string) (*model.CampaignTarget, error) {
	if m.targets == nil {
		m.targets = map[string]*model.CampaignTarget{}
	}
	key := campaignID + "/" + leadID
	if existing, ok := m.targets[key]; ok {
		return existing, nil
	}
	target := &model.CampaignTarget{ID: key, CampaignID: campaignID, LeadID: leadID, Status: model.TargetPending}
	m.targets[key] = target
	return target, nil
}

func (m *mockTargetRepo) GetByID(ctx context.Context, id string) (*model.CampaignTarget, error) {
	return nil, nil
}

func (m *mockTargetRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignTarget, error) {
	return nil, nil
}

func (m *mockTargetRepo) Claim(ctx context.Context, id string) (bool, error) { return false, nil }

func (m *mockTargetRepo) RecordAttempt(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (m *mockTargetRepo) MarkCompleted(ctx context.Context, id string, meta map[string]any) error {
	return nil
}

func (m *mockTargetRepo) MarkRetrying(ctx context.Context, id string, nextAt time.Time, reason string) error {
	return nil
}

func (m *mockTargetRepo) MarkFailed(ctx context.Context, id, reason string, maxExceeded bool) error {
	return nil
}

func (m *mockTargetRepo) Defer(ctx context.Context, id string, nextAt time.Time, reason string) error {
	return nil
}

func (m *mockTargetRepo) UpdateNextAttempt(ctx context.Context, id string, nextAt time.Time) error {
	return nil
}

func (m *mockTargetRepo) UpdateStatus(ctx context.Context, id, status string, meta map[string]any) error {
	return nil
}

func (m *mockTargetRepo) FindByExternalID(ctx context.Context, externalID string) (*model.CampaignTarget, error) {
	return nil, nil
}

func (m *mockTargetRepo) Stats(ctx context.Context, campaignID string) (map[string]int, error) {
	return m.stats, nil
}

func draftCampaign() *model.Campaign {
	return &model.Campaign{
		ID:         "campaign-1",
		TenantID:   "tenant-1",
		Name:       "promo",
		Channel:    model.ChannelSMS,
		Status:     model.CampaignDraft,
		LeadListID: "list-1",
	}
}

func leadList(n int) []model.Lead {
	leads := make([]model.Lead, n)
	for i := range leads {
		leads[i] = model.Lead{ID: string(rune('a' + i)), LeadListID: "list-1"}
	}
	return leads
}

func TestActivateCampaignCreatesTargets(t *testing.T) {
	campaigns := &mockCampaignRepo{campaign: draftCampaign()}
	targets := &mockTargetRepo{}
	s := &CampaignService{
		CampaignRepo: campaigns,
		LeadRepo:     &mockLeadRepo{leads: leadList(3)},
		TargetRepo:   targets,
	}

	result, err := s.ActivateCampaign(context.Background(), "campaign-1")
	if err != nil {
		t.Fatalf("ActivateCampaign returned error: %v", err)
	}

	if result.TargetsCreated != 3 {
		t.Errorf("expected 3 targets, got %d", result.TargetsCreated)
	}
	if campaigns.statuses["campaign-1"] != model.CampaignRunning {
		t.Errorf("expected campaign running, got %q", campaigns.statuses["campaign-1"])
	}
}

func TestActivateCampaignIsIdempotentPerLead(t *testing.T) {
	campaign := draftCampaign()
	campaign.Status = model.CampaignPaused
	campaigns := &mockCampaignRepo{campaign: campaign}
	targets := &mockTargetRepo{}
	s := &CampaignService{
		CampaignRepo: campaigns,
		LeadRepo:     &mockLeadRepo{leads: leadList(2)},
		TargetRepo:   targets,
	}

	// Resume after pause: target creation runs again over the same list.
	if _, err := s.ActivateCampaign(context.Background(), "campaign-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActivateCampaign(context.Background(), "campaign-1"); err == nil {
		t.Fatal("expected error activating running campaign")
	}

	campaign.Status = model.CampaignPaused
	if _, err := s.ActivateCampaign(context.Background(), "campaign-1"); err != nil {
		t.Fatal(err)
	}

	if len(targets.targets) != 2 {
		t.Errorf("expected 2 distinct targets after re-activation, got %d", len(targets.targets))
	}
}

func TestActivateCampaignRejectsBadStatus(t *testing.T) {
	for _, status := range []string{model.CampaignRunning, model.CampaignCompleted, model.CampaignCancelled} {
		campaign := draftCampaign()
		campaign.Status = status
		s := &CampaignService{
			CampaignRepo: &mockCampaignRepo{campaign: campaign},
			LeadRepo:     &mockLeadRepo{},
			TargetRepo:   &mockTargetRepo{},
		}
		if _, err := s.ActivateCampaign(context.Background(), "campaign-1"); err == nil {
			t.Errorf("expected activation to fail in status %s", status)
		}
	}
}

func TestPauseCampaign(t *testing.T) {
	campaign := draftCampaign()
	campaign.Status = model.CampaignRunning
	campaigns := &mockCampaignRepo{campaign: campaign}
	s := &CampaignService{CampaignRepo: campaigns}

	if err := s.PauseCampaign(context.Background(), "campaign-1"); err != nil {
		t.Fatalf("PauseCampaign returned error: %v", err)
	}
	if campaigns.statuses["campaign-1"] != model.CampaignPaused {
		t.Errorf("expected paused, got %q", campaigns.statuses["campaign-1"])
	}

	campaign.Status = model.CampaignDraft
	if err := s.PauseCampaign(context.Background(), "campaign-1"); err == nil {
		t.Error("expected error pausing a draft campaign")
	}
}

func TestCreateCampaignDefaults(t *testing.T) {
	campaigns := &mockCampaignRepo{}
	s := &CampaignService{CampaignRepo: campaigns}

	created, err := s.CreateCampaign(context.Background(), &model.Campaign{Channel: model.ChannelSMS})
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}
	if created.RetryPolicy.MaxAttempts != 3 {
		t.Errorf("expected default retry policy, got %+v", created.RetryPolicy)
	}
	if created.MessageContent == nil {
		t.Error("expected non-nil message content")
	}

	if _, err := s.CreateCampaign(context.Background(), &model.Campaign{}); err == nil {
		t.Error("expected error without a channel")
	}
}

func TestGetCampaignDetailsTotalsStats(t *testing.T) {
	campaign := draftCampaign()
	s := &CampaignService{
		CampaignRepo: &mockCampaignRepo{campaign: campaign},
		TargetRepo:   &mockTargetRepo{stats: map[string]int{"completed": 4, "failed": 1, "pending": 5}},
	}

	details, err := s.GetCampaignDetails(context.Background(), "campaign-1")
	if err != nil {
		t.Fatalf("GetCampaignDetails returned error: %v", err)
	}
	if details.Stats["total"] != 10 {
		t.Errorf("expected total 10, got %d", details.Stats["total"])
	}
	if details.Name != "promo" || details.Channel != model.ChannelSMS {
		t.Errorf("unexpected details: %+v", details)
	}
}
