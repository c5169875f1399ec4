package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/repository"
)

// ErrSweepInProgress is returned when a sweep is requested while one runs.
var ErrSweepInProgress = errors.New("stall sweep already running")

// SweepReport lists what one sweep did. Failures are keyed by campaign id.
type SweepReport struct {
	Checked   int               `json:"checked"`
	Stalled   int               `json:"stalled"`
	Resumed   []string          `json:"resumed"`
	Finalized []string          `json:"finalized"`
	Failures  map[string]string `json:"failures"`
}

// StallDetector finds sending campaigns whose chunk chain died and restarts
// them from their pending recipients.
type StallDetector struct {
	Campaigns repository.CampaignRepositoryInterface
	Logs      repository.RecipientLogRepositoryInterface
	Templates repository.TemplateRepositoryInterface
	Directory repository.RecipientRepositoryInterface
	Scheduler *ChunkScheduler
	Threshold time.Duration
	Now       func() time.Time
	Log       *slog.Logger

	running sync.Mutex
}

func (d *StallDetector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Sweep checks every sending campaign once. A failure on one campaign is
// recorded in the report and does not stop the others.
func (d *StallDetector) Sweep(ctx context.Context) (*SweepReport, error) {
	if !d.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer d.running.Unlock()

	campaigns, err := d.Campaigns.ListSending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}

	report := &SweepReport{Resumed: []string{}, Finalized: []string{}, Failures: map[string]string{}}
	for _, c := range campaigns {
		report.Checked++
		cctx := logger.WithCampaign(ctx, c.ID)

		stalled, err := d.stalled(cctx, c)
		if err != nil {
			report.Failures[c.ID] = err.Error()
			continue
		}
		if !stalled {
			continue
		}
		report.Stalled++

		finalized, err := d.recover(cctx, c)
		switch {
		case err != nil:
			d.Log.ErrorContext(cctx, "resume stalled campaign", slog.String("error", err.Error()))
			report.Failures[c.ID] = err.Error()
		case finalized:
			report.Finalized = append(report.Finalized, c.ID)
		default:
			report.Resumed = append(report.Resumed, c.ID)
		}
	}

	d.Log.InfoContext(ctx, "stall sweep finished",
		slog.Int("checked", report.Checked),
		slog.Int("stalled", report.Stalled),
		slog.Int("resumed", len(report.Resumed)),
		slog.Int("finalized", len(report.Finalized)),
		slog.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (d *StallDetector) stalled(ctx context.Context, c *model.Campaign) (bool, error) {
	last := c.CreatedAt
	activity, err := d.Logs.LastActivity(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("last activity: %w", err)
	}
	if activity != nil {
		last = *activity
	}
	return d.now().Sub(last) > d.Threshold, nil
}

// recover resumes c, or finalizes it when nothing is actually pending.
func (d *StallDetector) recover(ctx context.Context, c *model.Campaign) (bool, error) {
	pending, err := d.Logs.ListPending(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		if _, err := d.Campaigns.RecomputeCounters(ctx, c.ID); err != nil {
			return false, fmt.Errorf("recompute counters: %w", err)
		}
		if _, err := d.Scheduler.Finalize(ctx, c.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	if c.TemplateID == "" {
		return false, errors.New("campaign has no template")
	}
	tpl, err := d.Templates.GetByID(ctx, c.TemplateID)
	if err != nil {
		return false, err
	}

	recipients, err := d.resolve(ctx, pending)
	if err != nil {
		return false, err
	}

	res, err := d.Scheduler.Submit(ctx, SubmitRequest{
		CampaignID: c.ID,
		Template:   *tpl,
		Recipients: recipients,
		IsRetry:    true,
	})
	if err != nil {
		return false, err
	}
	d.Log.InfoContext(ctx, "stalled campaign resumed",
		slog.Int("pending", len(pending)),
		slog.Int("chunks", res.Chunks),
	)
	return false, nil
}

// resolve maps pending logs back to directory records. Ids the directory no
// longer knows keep the snapshot stored on the log.
func (d *StallDetector) resolve(ctx context.Context, pending []model.RecipientLog) ([]model.Recipient, error) {
	snapshots := logRecipients(pending)
	if d.Directory == nil {
		return snapshots, nil
	}

	ids := make([]string, len(pending))
	for i := range pending {
		ids[i] = pending[i].RecipientID
	}
	found, err := d.Directory.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	byID := make(map[string]model.Recipient, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	missing := 0
	for i, snap := range snapshots {
		if r, ok := byID[snap.ID]; ok {
			snapshots[i] = r
		} else {
			missing++
		}
	}
	if missing > 0 {
		d.Log.WarnContext(ctx, "recipients missing from directory, using logged snapshot", slog.Int("missing", missing))
	}
	return snapshots, nil
}
