package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/outreach-backend/internal/model"
)

type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
}

type TenantRepository struct {
	DB *sql.DB
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, status FROM tenants WHERE id=$1`, id).Scan(&t.ID, &t.Name, &t.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
