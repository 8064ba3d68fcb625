package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-backend/internal/model"
)

type LeadRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Lead, error)
	ListByListID(ctx context.Context, leadListID string) ([]model.Lead, error)
	UpdateField(ctx context.Context, id, field, value string) error
}

type LeadRepository struct {
	DB *sql.DB
}

const leadColumns = `id, tenant_id, lead_list_id, first_name, last_name, phone, email, timezone, status, tags`

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id=$1`
	var l model.Lead
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.TenantID, &l.LeadListID, &l.FirstName, &l.LastName,
		&l.Phone, &l.Email, &l.Timezone, &l.Status, pq.Array(&l.Tags),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *LeadRepository) ListByListID(ctx context.Context, leadListID string) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE lead_list_id=$1`
	rows, err := r.DB.QueryContext(ctx, query, leadListID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []model.Lead{}
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.ID, &l.TenantID, &l.LeadListID, &l.FirstName, &l.LastName,
			&l.Phone, &l.Email, &l.Timezone, &l.Status, pq.Array(&l.Tags)); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// updatableLeadFields whitelists the columns automations may touch.
var updatableLeadFields = map[string]bool{
	"status":     true,
	"first_name": true,
	"last_name":  true,
	"phone":      true,
	"email":      true,
	"timezone":   true,
}

// UpdateField sets a single whitelisted column; used by the update_lead
// automation action.
func (r *LeadRepository) UpdateField(ctx context.Context, id, field, value string) error {
	if !updatableLeadFields[field] {
		return fmt.Errorf("lead field %q is not updatable", field)
	}
	query := fmt.Sprintf(`UPDATE leads SET %s=$1 WHERE id=$2`, field)
	_, err := r.DB.ExecContext(ctx, query, value, id)
	return err
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
