package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/lock"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/repository"
)

// SettingsProvider returns the persisted relay settings, or nil when none are stored.
type SettingsProvider interface {
	Get(ctx context.Context) (*model.SMTPSettings, error)
}

// CredentialSource resolves the relay password for a username.
type CredentialSource interface {
	Password(username string) (string, error)
}

// Publisher enqueues chunk tasks.
type Publisher interface {
	Publish(ctx context.Context, task model.ChunkTask) error
}

// SubmitRequest starts or retries a campaign.
type SubmitRequest struct {
	CampaignID string
	Template   model.Template
	Recipients []model.Recipient
	IsRetry    bool
}

// SubmitResult is what the caller learns before processing starts.
type SubmitResult struct {
	TotalRecipients int `json:"totalRecipients"`
	Chunks          int `json:"chunks"`
}

// ChunkScheduler owns the campaign state machine: it initializes a send,
// chains chunk tasks through the queue and finalizes the campaign.
type ChunkScheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Logs      repository.RecipientLogRepositoryInterface
	Settings  SettingsProvider
	Secrets   CredentialSource
	Queue     Publisher
	Locker    lock.Locker
	Processor *ChunkProcessor
	ChunkSize int
	LeaseTTL  time.Duration
	// Fallback is used when no relay settings are stored.
	Fallback model.SMTPSettings
	Log      *slog.Logger
}

// Submit validates the request, resets the recipient logs and counters and
// enqueues the first chunk. Processing happens in the background.
func (s *ChunkScheduler) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx = logger.WithCampaign(ctx, req.CampaignID)
	campaign, err := s.Campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if !req.IsRetry && campaign.Status == model.CampaignSending {
		return nil, appErrors.ErrCampaignBusy
	}

	if err := ValidateTemplate(req.Template); err != nil {
		if !req.IsRetry {
			if uerr := s.Campaigns.UpdateStatus(ctx, campaign.ID, model.CampaignFailed); uerr != nil {
				s.Log.ErrorContext(ctx, "mark campaign failed", slog.String("error", uerr.Error()))
			}
		}
		return nil, err
	}

	recipients := normalizeRecipients(req.Recipients)
	if len(recipients) == 0 {
		return nil, appErrors.ErrNoRecipients
	}

	if _, _, err := s.transportConfig(ctx); err != nil {
		return nil, err
	}

	campaign, err = s.Logs.Submit(ctx, campaign.ID, recipients, req.IsRetry)
	if err != nil {
		return nil, fmt.Errorf("initialize recipient logs: %w", err)
	}
	s.Log.InfoContext(ctx, "campaign submitted",
		slog.Bool("retry", req.IsRetry),
		slog.Int("submitted", len(recipients)),
		slog.Int("total", campaign.TotalRecipients),
		slog.Int("pending", campaign.PendingCount),
	)

	return s.schedule(ctx, campaign, req.Template, 0, req.IsRetry)
}

// Continue enqueues chunk index from whatever is still pending.
func (s *ChunkScheduler) Continue(ctx context.Context, campaignID string, index int, tpl model.Template, resume bool) (*SubmitResult, error) {
	ctx = logger.WithCampaign(ctx, campaignID)
	campaign, err := s.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignSending {
		return &SubmitResult{TotalRecipients: campaign.TotalRecipients}, nil
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	return s.schedule(ctx, campaign, tpl, index, resume)
}

// schedule plans the persisted pending set afresh and enqueues its first
// chunk as number index. With nothing pending the campaign is finalized.
func (s *ChunkScheduler) schedule(ctx context.Context, campaign *model.Campaign, tpl model.Template, index int, resume bool) (*SubmitResult, error) {
	pending, err := s.Logs.ListPending(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending recipients: %w", err)
	}
	if len(pending) == 0 {
		if _, err := s.Finalize(ctx, campaign.ID); err != nil {
			return nil, err
		}
		return &SubmitResult{TotalRecipients: campaign.TotalRecipients}, nil
	}

	chunks := PlanChunks(campaign.ID, logRecipients(pending), s.ChunkSize)
	next := chunks[0]
	next.Index = index
	next.Total = index + len(chunks)

	task := model.ChunkTask{Chunk: next, Template: tpl, Resume: resume}
	if err := s.Queue.Publish(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue chunk %d: %w", index, err)
	}
	s.Log.InfoContext(ctx, "chunk enqueued",
		slog.Int("chunk", next.Index),
		slog.Int("total_chunks", next.Total),
		slog.Int("recipients", len(next.Recipients)),
	)
	return &SubmitResult{TotalRecipients: campaign.TotalRecipients, Chunks: len(chunks)}, nil
}

// RunChunk processes one queued chunk under the campaign lease, then chains
// the next chunk or finalizes. ErrCampaignBusy means another worker holds
// the lease and the task should be redelivered later.
func (s *ChunkScheduler) RunChunk(ctx context.Context, task model.ChunkTask) error {
	ctx = logger.WithCampaign(ctx, task.CampaignID)
	lease, ok, err := s.Locker.TryAcquire(ctx, task.CampaignID)
	if err != nil {
		return fmt.Errorf("campaign lease: %w", err)
	}
	if !ok {
		return appErrors.ErrCampaignBusy
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.Log.WarnContext(ctx, "release campaign lease", slog.String("error", err.Error()))
		}
	}
	defer release()

	campaign, err := s.Campaigns.GetByID(ctx, task.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			s.Log.WarnContext(ctx, "dropping chunk for unknown campaign")
			return nil
		}
		return err
	}
	if campaign.Status != model.CampaignSending {
		s.Log.InfoContext(ctx, "dropping chunk, campaign not sending", slog.String("status", campaign.Status))
		return nil
	}

	pending, err := s.Logs.ListPending(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("list pending recipients: %w", err)
	}
	work := pendingSubset(task.Recipients, pending)
	if len(work) == 0 {
		release()
		if len(pending) == 0 {
			_, err := s.Finalize(ctx, campaign.ID)
			return err
		}
		s.Log.WarnContext(ctx, "chunk has nothing pending, chain stops", slog.Int("chunk", task.Index))
		return nil
	}

	chunk := task.Chunk
	chunk.Recipients = work

	var result ChunkResult
	settings, password, cfgErr := s.transportConfig(ctx)
	if cfgErr != nil {
		s.Log.ErrorContext(ctx, "relay configuration unavailable", slog.String("error", cfgErr.Error()))
		result, err = s.Processor.FailChunk(ctx, chunk, appErrors.NewConfigError("relay unavailable", cfgErr).Error())
	} else {
		stop := s.keepLease(ctx, lease)
		result, err = s.Processor.Process(ctx, ChunkJob{
			Chunk:    chunk,
			Template: task.Template,
			Settings: settings,
			Password: password,
		})
		stop()
	}
	release()
	if err != nil {
		return err
	}
	if result.Processed() == 0 {
		s.Log.WarnContext(ctx, "chunk made no progress, chain stops", slog.Int("chunk", task.Index))
		return nil
	}

	_, err = s.schedule(ctx, campaign, task.Template, task.Index+1, task.Resume)
	return err
}

// Finalize applies the terminal status once nothing is pending. When the
// counters disagree with the logs they are rebuilt first.
func (s *ChunkScheduler) Finalize(ctx context.Context, campaignID string) (*model.Campaign, error) {
	c, ok, err := s.Campaigns.Finalize(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !ok && c.Status == model.CampaignSending && c.PendingCount != 0 {
		if _, err := s.Campaigns.RecomputeCounters(ctx, campaignID); err != nil {
			return nil, fmt.Errorf("recompute counters: %w", err)
		}
		c, ok, err = s.Campaigns.Finalize(ctx, campaignID)
		if err != nil {
			return nil, err
		}
	}
	if ok {
		s.Log.InfoContext(ctx, "campaign finalized",
			slog.String("status", c.Status),
			slog.Int("sent", c.SentCount),
			slog.Int("failed", c.FailedCount),
		)
	}
	return c, nil
}

func (s *ChunkScheduler) transportConfig(ctx context.Context) (model.SMTPSettings, string, error) {
	settings := s.Fallback
	if s.Settings != nil {
		stored, err := s.Settings.Get(ctx)
		if err != nil {
			return settings, "", fmt.Errorf("load relay settings: %w", err)
		}
		if stored != nil {
			settings = *stored
		}
	}
	if !settings.Configured() {
		return settings, "", appErrors.ErrMissingSMTPConfig
	}
	if settings.Username == "" {
		return settings, "", nil
	}
	if s.Secrets == nil {
		return settings, "", appErrors.ErrMissingCredentials
	}
	password, err := s.Secrets.Password(settings.Username)
	if err != nil {
		if errors.Is(err, appErrors.ErrMissingCredentials) {
			return settings, "", err
		}
		return settings, "", fmt.Errorf("%w: %v", appErrors.ErrMissingCredentials, err)
	}
	return settings, password, nil
}

// keepLease extends the lease periodically until the returned func is called.
func (s *ChunkScheduler) keepLease(ctx context.Context, lease lock.Lease) func() {
	if s.LeaseTTL <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(s.LeaseTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := lease.Extend(ctx, s.LeaseTTL); err != nil {
					s.Log.WarnContext(ctx, "extend campaign lease", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// pendingSubset keeps the chunk recipients whose log is still pending, using
// the persisted snapshot of each.
func pendingSubset(chunk []model.Recipient, pending []model.RecipientLog) []model.Recipient {
	byID := make(map[string]model.Recipient, len(pending))
	for i := range pending {
		byID[pending[i].RecipientID] = pending[i].Recipient()
	}
	out := make([]model.Recipient, 0, len(chunk))
	for _, r := range chunk {
		if snap, ok := byID[r.ID]; ok {
			out = append(out, snap)
			delete(byID, r.ID)
		}
	}
	return out
}
