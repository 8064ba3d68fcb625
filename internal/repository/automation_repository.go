package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/unclebandit/outreach-backend/internal/model"
)

type AutomationRepositoryInterface interface {
	ListEnabled(ctx context.Context, tenantID, triggerType string) ([]*model.AutomationRule, error)
	ListScheduled(ctx context.Context) ([]*model.AutomationRule, error)
	UpdateLastRun(ctx context.Context, id string, at time.Time) error
}

type AutomationRepository struct {
	DB *sql.DB
}

const ruleColumns = `id, tenant_id, name, trigger_type, trigger_config, enabled, last_run_at`

func (r *AutomationRepository) scanRules(ctx context.Context, rows *sql.Rows) ([]*model.AutomationRule, error) {
	defer rows.Close()

	rules := []*model.AutomationRule{}
	for rows.Next() {
		rule := &model.AutomationRule{}
		var cfg []byte
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.TriggerType,
			&cfg, &rule.Enabled, &rule.LastRunAt); err != nil {
			return nil, err
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &rule.TriggerConfig); err != nil {
				return nil, err
			}
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if err := r.loadConditions(ctx, rule); err != nil {
			return nil, err
		}
		if err := r.loadActions(ctx, rule); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (r *AutomationRepository) loadConditions(ctx context.Context, rule *model.AutomationRule) error {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, condition_type, condition_config, exec_order
        FROM automation_conditions WHERE automation_id=$1 ORDER BY exec_order
    `, rule.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c model.AutomationCondition
		var cfg []byte
		if err := rows.Scan(&c.ID, &c.Type, &cfg, &c.Order); err != nil {
			return err
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &c.Config); err != nil {
				return err
			}
		}
		rule.Conditions = append(rule.Conditions, c)
	}
	return rows.Err()
}

func (r *AutomationRepository) loadActions(ctx context.Context, rule *model.AutomationRule) error {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, action_type, action_config, exec_order, delay_seconds
        FROM automation_actions WHERE automation_id=$1 ORDER BY exec_order
    `, rule.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a model.AutomationAction
		var cfg []byte
		if err := rows.Scan(&a.ID, &a.Type, &cfg, &a.Order, &a.DelaySeconds); err != nil {
			return err
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &a.Config); err != nil {
				return err
			}
		}
		rule.Actions = append(rule.Actions, a)
	}
	return rows.Err()
}

func (r *AutomationRepository) ListEnabled(ctx context.Context, tenantID, triggerType string) ([]*model.AutomationRule, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+ruleColumns+`
        FROM automations
        WHERE tenant_id=$1 AND trigger_type=$2 AND enabled=TRUE
    `, tenantID, triggerType)
	if err != nil {
		return nil, err
	}
	return r.scanRules(ctx, rows)
}

func (r *AutomationRepository) ListScheduled(ctx context.Context) ([]*model.AutomationRule, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+ruleColumns+`
        FROM automations
        WHERE trigger_type='scheduled_time' AND enabled=TRUE
    `)
	if err != nil {
		return nil, err
	}
	return r.scanRules(ctx, rows)
}

func (r *AutomationRepository) UpdateLastRun(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE automations SET last_run_at=$2 WHERE id=$1`, id, at)
	return err
}

var _ AutomationRepositoryInterface = (*AutomationRepository)(nil)
