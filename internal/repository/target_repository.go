package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-backend/internal/model"
)

type TargetRepositoryInterface interface {
	Create(ctx context.Context, campaignID, leadID string) (*model.CampaignTarget, error)
	GetByID(ctx context.Context, id string) (*model.CampaignTarget, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignTarget, error)
	Claim(ctx context.Context, id string) (bool, error)
	RecordAttempt(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, meta map[string]any) error
	MarkRetrying(ctx context.Context, id string, nextAt time.Time, reason string) error
	MarkFailed(ctx context.Context, id, reason string, maxExceeded bool) error
	Defer(ctx context.Context, id string, nextAt time.Time, reason string) error
	UpdateNextAttempt(ctx context.Context, id string, nextAt time.Time) error
	UpdateStatus(ctx context.Context, id, status string, meta map[string]any) error
	FindByExternalID(ctx context.Context, externalID string) (*model.CampaignTarget, error)
	Stats(ctx context.Context, campaignID string) (map[string]int, error)
}

type TargetRepository struct {
	DB *sql.DB
}

const targetColumns = `id, campaign_id, lead_id, status, attempt_count, next_attempt_at, last_attempt_at, metadata, created_at, updated_at`

func scanTarget(row interface{ Scan(...any) error }) (*model.CampaignTarget, error) {
	var t model.CampaignTarget
	var meta []byte
	err := row.Scan(&t.ID, &t.CampaignID, &t.LeadID, &t.Status, &t.AttemptCount,
		&t.NextAttemptAt, &t.LastAttemptAt, &meta, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, err
		}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	return &t, nil
}

// Create is idempotent per (campaign, lead): the unique index makes the
// insert a no-op when a target already exists, and the existing row is
// returned instead.
func (r *TargetRepository) Create(ctx context.Context, campaignID, leadID string) (*model.CampaignTarget, error) {
	query := `
        INSERT INTO campaign_targets (id, campaign_id, lead_id, status, attempt_count, next_attempt_at, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, 'pending', 0, NOW(), '{}', NOW(), NOW())
        ON CONFLICT (campaign_id, lead_id) DO NOTHING
    `
	if _, err := r.DB.ExecContext(ctx, query, uuid.NewString(), campaignID, leadID); err != nil {
		return nil, err
	}

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM campaign_targets WHERE campaign_id=$1 AND lead_id=$2`,
		campaignID, leadID)
	return scanTarget(row)
}

func (r *TargetRepository) GetByID(ctx context.Context, id string) (*model.CampaignTarget, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM campaign_targets WHERE id=$1`, id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListDue returns pending/retrying targets whose next attempt is due,
// bounded by limit to cap the cost of a single scheduler run.
func (r *TargetRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.CampaignTarget, error) {
	query := `
        SELECT ` + targetColumns + `
        FROM campaign_targets
        WHERE status IN ('pending', 'retrying') AND next_attempt_at <= $1
        ORDER BY next_attempt_at
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := []*model.CampaignTarget{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Claim transitions a target to processing. The status guard in the WHERE
// clause makes the claim atomic: with concurrent scheduler runs exactly
// one caller sees rows-affected == 1.
func (r *TargetRepository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET status='processing', updated_at=NOW()
        WHERE id=$1 AND status IN ('pending', 'retrying')
    `, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *TargetRepository) RecordAttempt(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET attempt_count=attempt_count+1, last_attempt_at=$2, updated_at=NOW()
        WHERE id=$1
    `, id, at)
	return err
}

// MarkCompleted finalizes a target and clears error metadata.
func (r *TargetRepository) MarkCompleted(ctx context.Context, id string, meta map[string]any) error {
	merged, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET status='completed',
            metadata=(metadata - 'last_error' - 'error' - 'retry_reason') || $2::jsonb,
            updated_at=NOW()
        WHERE id=$1
    `, id, merged)
	return err
}

// MarkRetrying consumes an attempt and schedules the next one.
func (r *TargetRepository) MarkRetrying(ctx context.Context, id string, nextAt time.Time, reason string) error {
	meta, err := json.Marshal(map[string]any{"last_error": reason})
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET status='retrying', attempt_count=attempt_count+1, last_attempt_at=NOW(),
            next_attempt_at=$2, metadata=metadata || $3::jsonb, updated_at=NOW()
        WHERE id=$1
    `, id, nextAt, meta)
	return err
}

func (r *TargetRepository) MarkFailed(ctx context.Context, id, reason string, maxExceeded bool) error {
	m := map[string]any{"error": reason}
	if maxExceeded {
		m["max_retries_exceeded"] = true
	}
	meta, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET status='failed', attempt_count=attempt_count+1, last_attempt_at=NOW(),
            metadata=metadata || $2::jsonb, updated_at=NOW()
        WHERE id=$1
    `, id, meta)
	return err
}

// Defer puts a claimed target back into the scan without consuming an
// attempt — rate-limit deferrals and provider callbacks that ask for a
// later retry are not delivery failures.
func (r *TargetRepository) Defer(ctx context.Context, id string, nextAt time.Time, reason string) error {
	meta, err := json.Marshal(map[string]any{"retry_reason": reason})
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET status='retrying', next_attempt_at=$2, metadata=metadata || $3::jsonb, updated_at=NOW()
        WHERE id=$1
    `, id, nextAt, meta)
	return err
}

// UpdateNextAttempt moves the attempt forward without touching status —
// used when the send window is closed at scan time.
func (r *TargetRepository) UpdateNextAttempt(ctx context.Context, id string, nextAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_targets SET next_attempt_at=$2, updated_at=NOW() WHERE id=$1
    `, id, nextAt)
	return err
}

// UpdateStatus applies a status decided by an inbound callback; attempt
// accounting already happened at dispatch time.
func (r *TargetRepository) UpdateStatus(ctx context.Context, id, status string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	merged, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
        UPDATE campaign_targets
        SET status=$2, metadata=metadata || $3::jsonb, updated_at=NOW()
        WHERE id=$1
    `, id, status, merged)
	return err
}

// FindByExternalID matches a provider callback back to its target via the
// external id stamped at dispatch time.
func (r *TargetRepository) FindByExternalID(ctx context.Context, externalID string) (*model.CampaignTarget, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM campaign_targets WHERE metadata->>'external_id'=$1`,
		externalID)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *TargetRepository) Stats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_targets WHERE campaign_id=$1 GROUP BY status`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.TargetPending:    0,
		model.TargetProcessing: 0,
		model.TargetRetrying:   0,
		model.TargetCompleted:  0,
		model.TargetFailed:     0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ TargetRepositoryInterface = (*TargetRepository)(nil)
