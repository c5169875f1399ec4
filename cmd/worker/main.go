package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/app"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/config"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Queue.Driver != "amqp" {
		log.Warn("worker started with a process-local queue; only stall sweeps will feed it",
			slog.String("queue", cfg.Queue.Driver))
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeps, err := a.ScheduleSweeps(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Worker().Start(gctx) })

	sweeps.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-sweeps.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.Registry.Shutdown(shutdownCtx)
	})

	log.Info("worker running, waiting for chunk tasks",
		slog.Int("workers", cfg.Engine.Workers),
		slog.String("sweep", cfg.Engine.SweepSchedule))
	return g.Wait()
}
