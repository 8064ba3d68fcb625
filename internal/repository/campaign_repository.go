package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID, status string) error
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	GetScheduleRule(ctx context.Context, campaignID string) (*model.ScheduleRule, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now().UTC()

	content, err := json.Marshal(c.MessageContent)
	if err != nil {
		return err
	}
	policy, err := json.Marshal(c.RetryPolicy)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO campaigns (id, tenant_id, name, channel, status, lead_list_id, message_content, retry_policy, start_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err = r.DB.ExecContext(ctx, query,
		c.ID, c.TenantID, c.Name, c.Channel, c.Status, c.LeadListID, content, policy, c.StartAt, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `
        SELECT id, tenant_id, name, channel, status, lead_list_id, message_content, retry_policy, start_at, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	var content, policy []byte
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, &c.LeadListID,
		&content, &policy, &c.StartAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	if err := json.Unmarshal(content, &c.MessageContent); err != nil {
		return nil, fmt.Errorf("bad message_content for campaign %s: %w", id, err)
	}
	if err := json.Unmarshal(policy, &c.RetryPolicy); err != nil {
		return nil, fmt.Errorf("bad retry_policy for campaign %s: %w", id, err)
	}
	return &c, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, status, campaignID)
	return err
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	query := `
        SELECT id, tenant_id, name, channel, status, lead_list_id, message_content, retry_policy, start_at, created_at, updated_at
        FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c := &model.Campaign{}
		var content, policy []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, &c.LeadListID,
			&content, &policy, &c.StartAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		_ = json.Unmarshal(content, &c.MessageContent)
		_ = json.Unmarshal(policy, &c.RetryPolicy)
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []interface{}{}
	countPos := 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", countPos)
		countArgs = append(countArgs, channel)
		countPos++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", countPos)
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// GetScheduleRule returns the campaign's send-window rule, or nil when the
// campaign has none (no window restriction).
func (r *CampaignRepository) GetScheduleRule(ctx context.Context, campaignID string) (*model.ScheduleRule, error) {
	query := `
        SELECT id, campaign_id, start_hour, end_hour, days_allowed, blackout_dates
        FROM campaign_schedule_rules WHERE campaign_id=$1
    `
	var rule model.ScheduleRule
	var days pq.Int64Array
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(
		&rule.ID, &rule.CampaignID, &rule.StartHour, &rule.EndHour,
		&days, pq.Array(&rule.BlackoutDates),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rule.DaysAllowed = make([]int, len(days))
	for i, d := range days {
		rule.DaysAllowed[i] = int(d)
	}
	return &rule, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
