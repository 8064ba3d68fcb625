// internal/model/target.go
package model

import "time"

// Target statuses. pending/retrying are eligible for the scheduler scan,
// processing is claimed by a dispatcher, completed/failed are terminal.
const (
	TargetPending    = "pending"
	TargetProcessing = "processing"
	TargetRetrying   = "retrying"
	TargetCompleted  = "completed"
	TargetFailed     = "failed"
)

// CampaignTarget tracks one (campaign, lead) delivery unit through its
// lifecycle. At most one active record exists per pair.
type CampaignTarget struct {
	ID            string         `db:"id" json:"id"`
	CampaignID    string         `db:"campaign_id" json:"campaign_id"`
	LeadID        string         `db:"lead_id" json:"lead_id"`
	Status        string         `db:"status" json:"status"`
	AttemptCount  int            `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt *time.Time     `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	LastAttemptAt *time.Time     `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	Metadata      map[string]any `db:"metadata" json:"metadata"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}
