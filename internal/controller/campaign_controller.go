// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateCampaign handles POST /campaigns
func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TenantID       string            `json:"tenant_id"`
		Name           string            `json:"name"`
		Channel        string            `json:"channel"`
		LeadListID     string            `json:"lead_list_id"`
		MessageContent map[string]string `json:"message_content"`
		RetryPolicy    model.RetryPolicy `json:"retry_policy"`
		StartAt        *time.Time        `json:"start_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		TenantID:       payload.TenantID,
		Name:           payload.Name,
		Channel:        payload.Channel,
		LeadListID:     payload.LeadListID,
		MessageContent: payload.MessageContent,
		RetryPolicy:    payload.RetryPolicy,
		StartAt:        payload.StartAt,
		Status:         model.CampaignDraft,
	}

	created, err := c.CampaignService.CreateCampaign(r.Context(), campaign)
	if err != nil {
		http.Error(w, "failed to create campaign: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListCampaigns handles GET /campaigns
func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, channel, status)
	if err != nil {
		http.Error(w, "failed to list campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns":  campaigns,
		"pagination": pagination,
	})
}

// GetCampaign handles GET /campaigns/{id} and includes target stats.
func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	details, err := c.CampaignService.GetCampaignDetails(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// ActivateCampaign handles POST /campaigns/{id}/activate
func (c *CampaignController) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := c.CampaignService.ActivateCampaign(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PauseCampaign handles POST /campaigns/{id}/pause
func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.CampaignService.PauseCampaign(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": model.CampaignPaused})
}
