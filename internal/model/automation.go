// internal/model/automation.go
package model

import "time"

// Condition types supported by the automation evaluator.
const (
	ConditionFieldEquals   = "field_equals"
	ConditionFieldContains = "field_contains"
	ConditionTagHas        = "tag_has"
)

// Action types supported by the automation evaluator.
const (
	ActionSendSMS    = "send_sms"
	ActionSendEmail  = "send_email"
	ActionUpdateLead = "update_lead"
)

// AutomationRule is a trigger + ordered AND-conditions + ordered actions.
// Rules are owned by configuration management; the engine only reads them.
type AutomationRule struct {
	ID            string                `db:"id" json:"id"`
	TenantID      string                `db:"tenant_id" json:"tenant_id"`
	Name          string                `db:"name" json:"name"`
	TriggerType   string                `db:"trigger_type" json:"trigger_type"`
	TriggerConfig map[string]any        `db:"trigger_config" json:"trigger_config"`
	Enabled       bool                  `db:"enabled" json:"enabled"`
	LastRunAt     *time.Time            `db:"last_run_at" json:"last_run_at,omitempty"`
	Conditions    []AutomationCondition `json:"conditions"`
	Actions       []AutomationAction    `json:"actions"`
}

type AutomationCondition struct {
	ID     string         `db:"id" json:"id"`
	Type   string         `db:"condition_type" json:"condition_type"`
	Config map[string]any `db:"condition_config" json:"condition_config"`
	Order  int            `db:"exec_order" json:"order"`
}

type AutomationAction struct {
	ID           string         `db:"id" json:"id"`
	Type         string         `db:"action_type" json:"action_type"`
	Config       map[string]any `db:"action_config" json:"action_config"`
	Order        int            `db:"exec_order" json:"order"`
	DelaySeconds int            `db:"delay_seconds" json:"delay_seconds"`
}
