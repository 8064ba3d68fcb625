// internal/model/lead.go
package model

type Lead struct {
	ID         string   `db:"id" json:"id"`
	TenantID   string   `db:"tenant_id" json:"tenant_id"`
	LeadListID string   `db:"lead_list_id" json:"lead_list_id"`
	FirstName  string   `db:"first_name" json:"first_name"`
	LastName   string   `db:"last_name" json:"last_name"`
	Phone      string   `db:"phone" json:"phone"`
	Email      string   `db:"email" json:"email"`
	Timezone   string   `db:"timezone" json:"timezone"`
	Status     string   `db:"status" json:"status"`
	Tags       []string `db:"tags" json:"tags"`
}
