// internal/model/campaign.go
package model

import "time"

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Channels
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
	ChannelVoice    = "voice"
)

// RetryPolicy is stored as JSONB on the campaign row.
// Attempt i uses DelaysMinutes[min(i-1, len-1)].
type RetryPolicy struct {
	MaxAttempts   int      `json:"max_attempts"`
	DelaysMinutes []int    `json:"delays_minutes"`
	RetryOn       []string `json:"retry_on"`
}

// DefaultRetryPolicy mirrors the seeded campaign defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		DelaysMinutes: []int{30, 120, 360},
		RetryOn:       []string{"busy", "no_answer", "failed"},
	}
}

type Campaign struct {
	ID             string            `db:"id" json:"id"`
	TenantID       string            `db:"tenant_id" json:"tenant_id"`
	Name           string            `db:"name" json:"name"`
	Channel        string            `db:"channel" json:"channel"`
	Status         string            `db:"status" json:"status"`
	LeadListID     string            `db:"lead_list_id" json:"lead_list_id"`
	MessageContent map[string]string `db:"message_content" json:"message_content"`
	RetryPolicy    RetryPolicy       `db:"retry_policy" json:"retry_policy"`
	StartAt        *time.Time        `db:"start_at" json:"start_at,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time        `db:"updated_at" json:"updated_at,omitempty"`
}

// ScheduleRule limits when a campaign may contact a lead, in the
// lead's local time. Weekdays follow the 0=Monday..6=Sunday convention.
type ScheduleRule struct {
	ID            string   `db:"id" json:"id"`
	CampaignID    string   `db:"campaign_id" json:"campaign_id"`
	StartHour     int      `db:"start_hour" json:"start_hour"`
	EndHour       int      `db:"end_hour" json:"end_hour"`
	DaysAllowed   []int    `db:"days_allowed" json:"days_allowed"`
	BlackoutDates []string `db:"blackout_dates" json:"blackout_dates"`
}
