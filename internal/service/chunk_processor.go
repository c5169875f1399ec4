package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/mailer"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/retry"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/transport"
)

// Chunk processing states, logged as the processor moves through them.
const (
	stateValidating = "validating"
	stateSending    = "sending"
	stateDone       = "done"
)

// MailSender sends composed messages over one relay session.
type MailSender interface {
	Send(ctx context.Context, msg *mailer.Message) error
	Close() error
}

// SenderOpener opens the relay session used for one chunk.
type SenderOpener interface {
	Open(ctx context.Context, settings model.SMTPSettings, password string) (MailSender, error)
}

// SMTPOpener opens real relay sessions.
type SMTPOpener struct {
	Dialer transport.Dialer
}

func (o SMTPOpener) Open(ctx context.Context, settings model.SMTPSettings, password string) (MailSender, error) {
	c, err := o.Dialer.Open(ctx, settings, password)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeliveryRecorder persists one terminal transition together with the counters.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, campaignID string, d model.Delivery) (bool, error)
}

// ChunkJob is everything the processor needs for one chunk.
type ChunkJob struct {
	Chunk    model.Chunk
	Template model.Template
	Settings model.SMTPSettings
	Password string
}

// ChunkResult counts the transitions this run actually persisted.
type ChunkResult struct {
	Sent        int
	Failed      int
	Skipped     int
	Interrupted bool
}

// Processed is the number of recipients that left the pending state.
func (r ChunkResult) Processed() int { return r.Sent + r.Failed }

// ChunkProcessor drives the recipients of one chunk through validation,
// composition and delivery, strictly one after another over one session.
type ChunkProcessor struct {
	Logs     DeliveryRecorder
	Opener   SenderOpener
	Composer *mailer.Composer
	Retry    *retry.Policy
	Pacing   time.Duration
	Log      *slog.Logger
	Now      func() time.Time
}

func (p *ChunkProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *ChunkProcessor) limiter() *rate.Limiter {
	if p.Pacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.Pacing), 1)
}

// Process handles one chunk. Recipients left pending on return were never
// attempted; that only happens when ctx is cancelled or the store fails.
func (p *ChunkProcessor) Process(ctx context.Context, job ChunkJob) (ChunkResult, error) {
	var res ChunkResult
	campaignID := job.Chunk.CampaignID
	ctx = logger.WithCampaign(ctx, campaignID)
	log := p.Log.With(slog.Int("chunk", job.Chunk.Index), slog.Int("total_chunks", job.Chunk.Total))

	log.InfoContext(ctx, "chunk state", slog.String("state", stateValidating), slog.Int("recipients", len(job.Chunk.Recipients)))
	if err := mailer.ValidSender(job.Settings.FromEmail); err != nil {
		reason := appErrors.NewConfigError(err.Error(), nil).Error()
		ferr := p.failAll(ctx, campaignID, job.Chunk.Recipients, reason, &res)
		log.InfoContext(ctx, "chunk state", slog.String("state", stateDone), slog.Int("failed", res.Failed))
		return res, ferr
	}

	recipients := job.Chunk.Recipients
	valid, _ := mailer.Partition(recipients)
	if len(valid) == 0 {
		ferr := p.failRemaining(ctx, campaignID, recipients, "", &res)
		log.InfoContext(ctx, "chunk state", slog.String("state", stateDone), slog.Int("failed", res.Failed))
		return res, ferr
	}

	log.InfoContext(ctx, "chunk state", slog.String("state", stateSending), slog.Int("valid", len(valid)))
	sender, err := p.Opener.Open(ctx, job.Settings, job.Password)
	if err != nil {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, ctx.Err()
		}
		log.ErrorContext(ctx, "relay connection failed", slog.String("error", err.Error()))
		return res, p.failRemaining(ctx, campaignID, recipients, connectionReason(err), &res)
	}
	defer func() {
		if cerr := sender.Close(); cerr != nil {
			log.DebugContext(ctx, "relay close", slog.String("error", cerr.Error()))
		}
	}()

	limiter := p.limiter()
	from := mailer.Address{Name: job.Settings.FromName, Email: job.Settings.FromEmail}

	for i, r := range recipients {
		if !mailer.ValidEmail(strings.TrimSpace(r.Email)) {
			if err := p.record(ctx, campaignID, r, model.LogFailed, mailer.ReasonInvalidEmail, 0, &res); err != nil {
				return res, err
			}
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			res.Interrupted = true
			return res, err
		}

		msg, err := p.Composer.Compose(job.Template, r, from)
		if err != nil {
			if rerr := p.record(ctx, campaignID, r, model.LogFailed, retry.PermanentPrefix+err.Error(), 0, &res); rerr != nil {
				return res, rerr
			}
			continue
		}

		out := p.Retry.Do(ctx, func(ctx context.Context) error { return sender.Send(ctx, msg) })
		if out.Status != retry.Sent && ctx.Err() != nil {
			res.Interrupted = true
			return res, ctx.Err()
		}

		switch out.Status {
		case retry.Sent:
			err = p.record(ctx, campaignID, r, model.LogSent, "", out.Attempts, &res)
		case retry.Aborted:
			log.ErrorContext(ctx, "relay session lost", slog.String("error", out.Reason))
			if err := p.record(ctx, campaignID, r, model.LogFailed, connectionReason(out.Err), out.Attempts, &res); err != nil {
				return res, err
			}
			return res, p.failRemaining(ctx, campaignID, recipients[i+1:], connectionReason(out.Err), &res)
		case retry.Skipped:
			res.Skipped++
			err = p.record(ctx, campaignID, r, model.LogFailed, out.Reason, out.Attempts, &res)
		default:
			err = p.record(ctx, campaignID, r, model.LogFailed, out.Reason, out.Attempts, &res)
		}
		if err != nil {
			return res, err
		}
	}

	log.InfoContext(ctx, "chunk state",
		slog.String("state", stateDone),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// FailChunk marks every recipient of the chunk failed with reason, without
// touching the relay.
func (p *ChunkProcessor) FailChunk(ctx context.Context, chunk model.Chunk, reason string) (ChunkResult, error) {
	var res ChunkResult
	ctx = logger.WithCampaign(ctx, chunk.CampaignID)
	err := p.failAll(ctx, chunk.CampaignID, chunk.Recipients, reason, &res)
	return res, err
}

func (p *ChunkProcessor) failAll(ctx context.Context, campaignID string, recipients []model.Recipient, reason string, res *ChunkResult) error {
	for _, r := range recipients {
		if err := p.record(ctx, campaignID, r, model.LogFailed, reason, 0, res); err != nil {
			return err
		}
	}
	return nil
}

// failRemaining fails recipients in list order. Malformed addresses keep
// their own reason; an empty reason fails only those.
func (p *ChunkProcessor) failRemaining(ctx context.Context, campaignID string, recipients []model.Recipient, reason string, res *ChunkResult) error {
	for _, r := range recipients {
		why := reason
		if !mailer.ValidEmail(strings.TrimSpace(r.Email)) {
			why = mailer.ReasonInvalidEmail
		}
		if why == "" {
			continue
		}
		if err := p.record(ctx, campaignID, r, model.LogFailed, why, 0, res); err != nil {
			return err
		}
	}
	return nil
}

func (p *ChunkProcessor) record(ctx context.Context, campaignID string, r model.Recipient, status, reason string, attempts int, res *ChunkResult) error {
	d := model.Delivery{RecipientID: r.ID, Status: status, Error: reason, Attempts: attempts}
	if status == model.LogSent {
		at := p.now()
		d.SentAt = &at
	}

	// Persist even if the chunk is being cancelled: the send already happened.
	applied, err := p.Logs.RecordDelivery(context.WithoutCancel(ctx), campaignID, d)
	if err != nil {
		return fmt.Errorf("record delivery for %s: %w", r.ID, err)
	}
	if !applied {
		p.Log.WarnContext(ctx, "recipient already terminal", slog.String("recipient_id", r.ID))
		return nil
	}

	if status == model.LogSent {
		res.Sent++
	} else {
		res.Failed++
	}
	p.Log.DebugContext(ctx, "recipient processed",
		slog.String("recipient_id", r.ID),
		slog.String("email", logger.RedactEmail(r.Email)),
		slog.String("status", status),
		slog.Int("attempts", attempts),
	)
	return nil
}

func connectionReason(err error) string {
	if err == nil {
		return "Connection error"
	}
	return "Connection error: " + err.Error()
}
