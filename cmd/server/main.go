// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/app"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/config"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/controller"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/handler"
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
		log.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	campaignController := &controller.CampaignController{
		CampaignService: a.Campaigns,
		Log:             log,
	}
	health := &handler.HealthHandler{Checks: a.HealthChecks(), Registry: a.Registry}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.NewRouter(campaignController, health, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Without a broker the tasks only exist in this process, so it consumes them too.
	inProcess := cfg.Queue.Driver == "memory"
	sweeps, err := a.ScheduleSweeps(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", slog.String("addr", srv.Addr), slog.String("queue", cfg.Queue.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if inProcess {
		g.Go(func() error { return a.Worker().Start(gctx) })

		sweeps.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-sweeps.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		return errors.Join(err, a.Registry.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
