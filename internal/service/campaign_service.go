// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"log/slog"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LogRepo      repository.RecipientLogRepositoryInterface
	Scheduler    *ChunkScheduler
	Detector     *StallDetector
	Log          *slog.Logger
}

// StartCampaignRequest is the body of POST /campaigns/{id}/send.
// ChunkIndex is only set on internal continuation requests.
type StartCampaignRequest struct {
	CampaignID  string            `json:"campaignId"`
	Template    model.Template    `json:"template"`
	Recipients  []model.Recipient `json:"recipients"`
	IsRetry     bool              `json:"isRetry"`
	ChunkIndex  *int              `json:"chunkIndex,omitempty"`
	TotalChunks *int              `json:"totalChunks,omitempty"`
}

type CampaignDetails struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    map[string]int  `json:"stats"`
}

// StartCampaign accepts a send, a retry or a continuation and returns once
// the first task is queued.
func (s *CampaignService) StartCampaign(ctx context.Context, req StartCampaignRequest) (*SubmitResult, error) {
	if req.ChunkIndex != nil {
		if *req.ChunkIndex < 0 {
			return nil, appErrors.NewValidation("chunkIndex", "must not be negative")
		}
		return s.Scheduler.Continue(ctx, req.CampaignID, *req.ChunkIndex, req.Template, req.IsRetry)
	}
	return s.Scheduler.Submit(ctx, SubmitRequest{
		CampaignID: req.CampaignID,
		Template:   req.Template,
		Recipients: req.Recipients,
		IsRetry:    req.IsRetry,
	})
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.LogRepo.Stats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("log stats: %w", err)
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// ListLogs pages through a campaign's recipient logs, optionally by status.
func (s *CampaignService) ListLogs(ctx context.Context, campaignID, status string, page, pageSize int) ([]model.RecipientLog, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 100
	}
	return s.LogRepo.ListByStatus(ctx, campaignID, status, (page-1)*pageSize, pageSize)
}

func (s *CampaignService) SweepStalled(ctx context.Context) (*SweepReport, error) {
	return s.Detector.Sweep(ctx)
}
