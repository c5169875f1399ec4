// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/controller"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/service"
)

// Pinger is anything whose liveness the health check reports.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthHandler reports dependency health and the chunks running in this process.
type HealthHandler struct {
	Checks   map[string]Pinger
	Registry *service.TaskRegistry
}

// Health pings every dependency and answers 503 when any of them fails
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.PingContext(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": http.StatusText(status), "checks": checks})
}

// ActiveTasks lists the chunk tasks currently running in this process
func (h *HealthHandler) ActiveTasks(w http.ResponseWriter, r *http.Request) {
	tasks := []service.Task{}
	if h.Registry != nil {
		tasks = h.Registry.Active()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": tasks})
}

// NewRouter mounts every route of the engine
func NewRouter(campaigns *controller.CampaignController, health *HealthHandler, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", health.Health)

	// Campaign routes
	r.Get("/campaigns", campaigns.ListCampaigns)
	r.Get("/campaigns/{id}", campaigns.GetCampaignDetails)
	r.Get("/campaigns/{id}/logs", campaigns.ListLogs)
	r.Post("/campaigns/{id}/send", campaigns.SendCampaign)

	r.Route("/internal", func(r chi.Router) {
		r.Post("/stall-sweep", campaigns.StallSweep)
		r.Get("/tasks", health.ActiveTasks)
	})
	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
