// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/service"
)

// CampaignService is what the HTTP edge needs from the engine.
type CampaignService interface {
	StartCampaign(ctx context.Context, req service.StartCampaignRequest) (*service.SubmitResult, error)
	ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error)
	GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*service.CampaignDetails, error)
	ListLogs(ctx context.Context, campaignID, status string, page, pageSize int) ([]model.RecipientLog, error)
	SweepStalled(ctx context.Context) (*service.SweepReport, error)
}

var _ CampaignService = (*service.CampaignService)(nil)

type CampaignController struct {
	CampaignService CampaignService
	Log             *slog.Logger
}

// SendResponse is returned by POST /campaigns/{id}/send.
type SendResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	TotalRecipients *int   `json:"totalRecipients,omitempty"`
	Chunks          *int   `json:"chunks,omitempty"`
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body service.StartCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, SendResponse{Message: "invalid body"})
		return
	}
	if body.CampaignID == "" {
		body.CampaignID = id
	}
	if body.CampaignID != id {
		respondJSON(w, http.StatusBadRequest, SendResponse{Message: "campaignId does not match the URL"})
		return
	}

	result, err := c.CampaignService.StartCampaign(r.Context(), body)
	if err != nil {
		status, message := c.classify(r.Context(), err)
		respondJSON(w, status, SendResponse{Message: message})
		return
	}

	message := "Campaign processing started"
	if body.ChunkIndex != nil {
		message = fmt.Sprintf("Chunk %d queued", *body.ChunkIndex)
	}
	respondJSON(w, http.StatusOK, SendResponse{
		Success:         true,
		Message:         message,
		TotalRecipients: &result.TotalRecipients,
		Chunks:          &result.Chunks,
	})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

func (c *CampaignController) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	switch status {
	case "", model.LogPending, model.LogSent, model.LogFailed:
	default:
		respondError(w, http.StatusBadRequest, "status must be pending, sent or failed")
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	logs, err := c.CampaignService.ListLogs(r.Context(), chi.URLParam(r, "id"), status, page, pageSize)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (c *CampaignController) StallSweep(w http.ResponseWriter, r *http.Request) {
	report, err := c.CampaignService.SweepStalled(r.Context())
	if errors.Is(err, service.ErrSweepInProgress) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		c.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (c *CampaignController) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := c.classify(r.Context(), err)
	respondError(w, status, message)
}

// classify maps engine errors to an HTTP status and a caller-safe message.
func (c *CampaignController) classify(ctx context.Context, err error) (int, string) {
	var ve *appErrors.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Reason
	case appErrors.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case appErrors.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, appErrors.ErrCampaignBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, appErrors.ErrMissingCredentials):
		return http.StatusInternalServerError, appErrors.ErrMissingCredentials.Error()
	}
	c.Log.ErrorContext(ctx, "request failed", slog.String("error", err.Error()))
	return http.StatusInternalServerError, "internal error"
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "error": message})
}
