// Package app wires configuration into the running engine. The server and
// worker binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/config"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/db"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/handler"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/lock"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/mailer"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/queue"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/repository"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/retry"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/service"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/transport"
)

// App holds every long-lived dependency of a process.
type App struct {
	Config *config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client
	Queue queue.Queue

	Settings  *repository.SettingsRepository
	Secrets   *transport.SecretStore
	Registry  *service.TaskRegistry
	Scheduler *service.ChunkScheduler
	Detector  *service.StallDetector
	Campaigns *service.CampaignService
}

// New connects to Postgres, the optional Redis and the configured queue, and
// assembles the engine on top of them.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	var err error
	a.DB, err = db.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opt)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	a.Queue, err = newQueue(cfg.Queue, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	campaigns := &repository.CampaignRepository{DB: a.DB}
	logs := &repository.RecipientLogRepository{DB: a.DB}
	a.Settings = &repository.SettingsRepository{DB: a.DB}
	a.Secrets = transport.NewSecretStore(cfg.Secrets.KeyringService, cfg.Secrets.PasswordEnv)
	a.Registry = service.NewTaskRegistry(log)

	a.Scheduler = &service.ChunkScheduler{
		Campaigns: campaigns,
		Logs:      logs,
		Settings:  a.Settings,
		Secrets:   a.Secrets,
		Queue:     a.Queue,
		Locker:    lock.New(a.Redis, a.DB, cfg.Engine.LeaseTTL()),
		Processor: &service.ChunkProcessor{
			Logs: logs,
			Opener: service.SMTPOpener{Dialer: transport.Dialer{Options: transport.Options{
				SendTimeout: cfg.Retry.SendTimeout(),
				Logger:      log,
			}}},
			Composer: mailer.NewComposer(),
			Retry:    retry.New(cfg.Retry.MaxAttempts, cfg.Retry.TransientDelay(), cfg.Retry.TimeoutDelay()),
			Pacing:   cfg.Engine.Pacing(),
			Log:      log,
		},
		ChunkSize: cfg.Engine.ChunkSize,
		LeaseTTL:  cfg.Engine.LeaseTTL(),
		Fallback:  cfg.SMTP,
		Log:       log,
	}

	a.Detector = &service.StallDetector{
		Campaigns: campaigns,
		Logs:      logs,
		Templates: &repository.TemplateRepository{DB: a.DB},
		Directory: &repository.RecipientRepository{DB: a.DB},
		Scheduler: a.Scheduler,
		Threshold: cfg.Engine.StallThreshold(),
		Log:       log,
	}

	a.Campaigns = &service.CampaignService{
		CampaignRepo: campaigns,
		LogRepo:      logs,
		Scheduler:    a.Scheduler,
		Detector:     a.Detector,
		Log:          log,
	}
	return a, nil
}

func newQueue(cfg config.QueueConfig, log *slog.Logger) (queue.Queue, error) {
	switch cfg.Driver {
	case "amqp":
		if cfg.AMQPURL == "" {
			return nil, errors.New("queue driver amqp needs amqp_url")
		}
		return queue.DialAMQP(cfg.AMQPURL, cfg.Name, cfg.Prefetch, cfg.MaxRetries, log)
	case "memory", "":
		return queue.NewInMemoryQueue(0, cfg.MaxRetries, log), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// Worker returns a consumer that runs chunk tasks through the scheduler.
func (a *App) Worker() *service.Worker {
	return service.NewWorker(a.Queue, a.Scheduler, a.Registry, a.Config.Engine.Workers, a.Log)
}

// HealthChecks lists the dependencies /healthz pings.
func (a *App) HealthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{"postgres": a.DB}
	if a.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })
	}
	return checks
}

// ScheduleSweeps registers the stall sweep on a cron scheduler. The caller
// starts and stops it.
func (a *App) ScheduleSweeps(ctx context.Context) (*cron.Cron, error) {
	return ScheduleSweeps(ctx, a.Config.Engine.SweepSchedule, a.Detector, a.Log)
}

// Sweeper is the part of the stall detector the cron job drives.
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepReport, error)
}

func ScheduleSweeps(ctx context.Context, spec string, s Sweeper, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			if errors.Is(err, service.ErrSweepInProgress) {
				log.Debug("stall sweep skipped, previous one still running")
				return
			}
			log.Error("stall sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule stall sweep %q: %w", spec, err)
	}
	return c, nil
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
