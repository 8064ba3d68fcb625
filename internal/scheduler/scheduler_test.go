package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/outreach-backend/internal/dispatch"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/queue"
)

type mockTargetRepo struct {
	due []*model.CampaignTarget

	claimResult  bool
	claims       []string
	nextAttempts map[string]time.Time
	deferred     []string
}

func (m *mockTargetRepo) Create(ctx context.Context, campaignID, leadID string) (*model.CampaignTarget, error) {
	return nil, errors.New("not implemented")
}

func (m *mockTargetRepo) GetByID(ctx context.Context, id string) (*model.CampaignTarget, error) {
	return nil, nil
}

func (m *mockTargetRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignTarget, error) {
	if len(m.due) > limit {
		return m.due[:limit], nil
	}
	return m.due, nil
}

func (m *mockTargetRepo) Claim(ctx context.Context, id string) (bool, error) {
	m.claims = append(m.claims, id)
	return m.claimResult, nil
}

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
	m.deferred = append(m.deferred, id)
	return nil
}

func (m *mockTargetRepo) UpdateNextAttempt(ctx context.Context, id string, nextAt time.Time) error {
	if m.nextAttempts == nil {
		m.nextAttempts = map[string]time.Time{}
	}
	m.nextAttempts[id] = nextAt
	return nil
}

func (m *mockTargetRepo) UpdateStatus(ctx context.Context, id, status string, meta map[string]any) error {
	return nil
}

func (m *mockTargetRepo) FindByExternalID(ctx context.Context, externalID string) (*model.CampaignTarget, error) {
	return nil, nil
}

func (m *mockTargetRepo) Stats(ctx context.Context, campaignID string) (map[string]int, error) {
	return nil, nil
}

type mockCampaignRepo struct {
	campaign *model.Campaign
	rule     *model.ScheduleRule

	getCalls  int
	ruleCalls int
}

func (m *mockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error { return nil }

func (m *mockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	m.getCalls++
	return m.campaign, nil
}

func (m *mockCampaignRepo) UpdateStatus(ctx context.Context, campaignID, status string) error {
	return nil
}

func (m *mockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (m *mockCampaignRepo) GetScheduleRule(ctx context.Context, campaignID string) (*model.ScheduleRule, error) {
	m.ruleCalls++
	return m.rule, nil
}

type mockLeadRepo struct {
	lead *model.Lead
}

func (m *mockLeadRepo) GetByID(ctx context.Context, id string) (*model.Lead, error) {
	return m.lead, nil
}

func (m *mockLeadRepo) ListByListID(ctx context.Context, leadListID string) ([]model.Lead, error) {
	return nil, nil
}

func (m *mockLeadRepo) UpdateField(ctx context.Context, id, field, value string) error { return nil }

// recordingQueue captures published jobs synchronously.
type recordingQueue struct {
	mu         sync.Mutex
	published  []dispatch.Job
	publishErr error
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var job dispatch.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return err
	}
	q.mu.Lock()
	q.published = append(q.published, job)
	q.mu.Unlock()
	return nil
}

func (q *recordingQueue) PublishDelayed(topic string, payload any, delay time.Duration) error {
	return q.Publish(topic, payload)
}

func (q *recordingQueue) Subscribe(topic string, handler func(body []byte) error) error { return nil }

var _ queue.Queue = (*recordingQueue)(nil)

// Tuesday 10:00 UTC.
var scanNow = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func dueTarget(id string) *model.CampaignTarget {
	return &model.CampaignTarget{
		ID:         id,
		CampaignID: "campaign-1",
		LeadID:     "lead-1",
		Status:     model.TargetPending,
	}
}

func runningCampaign() *model.Campaign {
	return &model.Campaign{
		ID:       "campaign-1",
		TenantID: "tenant-1",
		Channel:  model.ChannelSMS,
		Status:   model.CampaignRunning,
	}
}

func newTestScheduler(targets *mockTargetRepo, campaigns *mockCampaignRepo, q queue.Queue) *Scheduler {
	s := &Scheduler{
		Targets:   targets,
		Campaigns: campaigns,
		Leads:     &mockLeadRepo{lead: &model.Lead{ID: "lead-1", Timezone: "UTC"}},
		Queue:     q,
		BatchSize: 100,
	}
	s.SetClock(func() time.Time { return scanNow })
	return s
}

func TestRunOnceDispatchesDueTarget(t *testing.T) {
	targets := &mockTargetRepo{due: []*model.CampaignTarget{dueTarget("target-1")}, claimResult: true}
	campaigns := &mockCampaignRepo{campaign: runningCampaign()}
	q := &recordingQueue{}

	newTestScheduler(targets, campaigns, q).RunOnce(context.Background())

	if len(targets.claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(targets.claims))
	}
	if len(q.published) != 1 || q.published[0].TargetID != "target-1" {
		t.Errorf("expected dispatch job for target-1, got %v", q.published)
	}
}

func TestRunOnceSkipsWhenClaimLost(t *testing.T) {
	targets := &mockTargetRepo{due: []*model.CampaignTarget{dueTarget("target-1")}, claimResult: false}
	campaigns := &mockCampaignRepo{campaign: runningCampaign()}
	q := &recordingQueue{}

	newTestScheduler(targets, campaigns, q).RunOnce(context.Background())

	if len(q.published) != 0 {
		t.Errorf("lost claim must not publish, got %v", q.published)
	}
}

func TestRunOnceSkipsNonRunningCampaign(t *testing.T) {
	campaign := runningCampaign()
	campaign.Status = model.CampaignPaused
	targets := &mockTargetRepo{due: []*model.CampaignTarget{dueTarget("target-1")}, claimResult: true}
	campaigns := &mockCampaignRepo{campaign: campaign}
	q := &recordingQueue{}

	newTestScheduler(targets, campaigns, q).RunOnce(context.Background())

	if len(targets.claims) != 0 {
		t.Error("paused campaign targets must not be claimed")
	}
	if len(q.published) != 0 {
		t.Error("paused campaign targets must not be published")
	}
}

func TestRunOnceReschedulesOutsideWindow(t *testing.T) {
	// Window is 12:00-17:00; the 10:00 scan is too early.
	rule := &model.ScheduleRule{StartHour: 12, EndHour: 17, DaysAllowed: []int{0, 1, 2, 3, 4}}
	targets := &mockTargetRepo{due: []*model.CampaignTarget{dueTarget("target-1")}, claimResult: true}
	campaigns := &mockCampaignRepo{campaign: runningCampaign(), rule: rule}
	q := &recordingQueue{}

	newTestScheduler(targets, campaigns, q).RunOnce(context.Background())

	if len(q.published) != 0 {
		t.Error("out-of-window target must not be dispatched")
	}
	if len(targets.claims) != 0 {
		t.Error("out-of-window target must not be claimed")
	}
	next, ok := targets.nextAttempts["target-1"]
	if !ok {
		t.Fatal("expected next attempt to be pushed forward")
	}
	want := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next attempt %s, want %s", next, want)
	}
}

func TestRunOnceReleasesClaimOnPublishFailure(t *testing.T) {
	targets := &mockTargetRepo{due: []*model.CampaignTarget{dueTarget("target-1")}, claimResult: true}
	campaigns := &mockCampaignRepo{campaign: runningCampaign()}
	q := &recordingQueue{publishErr: errors.New("broker down")}

	newTestScheduler(targets, campaigns, q).RunOnce(context.Background())

	if len(targets.deferred) != 1 || targets.deferred[0] != "target-1" {
		t.Errorf("expected claim released via defer, got %v", targets.deferred)
	}
}

func TestRunOnceCachesCampaignLookups(t *testing.T) {
	targets := &mockTargetRepo{
		due:         []*model.CampaignTarget{dueTarget("target-1"), dueTarget("target-2"), dueTarget("target-3")},
		claimResult: true,
	}
	campaigns := &mockCampaignRepo{campaign: runningCampaign()}
	q := &recordingQueue{}

	newTestScheduler(targets, campaigns, q).RunOnce(context.Background())

	if campaigns.getCalls != 1 {
		t.Errorf("expected 1 campaign lookup for the batch, got %d", campaigns.getCalls)
	}
	if len(q.published) != 3 {
		t.Errorf("expected 3 dispatch jobs, got %d", len(q.published))
	}
}
