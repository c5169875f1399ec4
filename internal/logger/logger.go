// Package logger builds the slog loggers used by the server and worker binaries.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// WithCampaign stores the campaign id on ctx so every log line emitted with it carries the id.
func WithCampaign(ctx context.Context, campaignID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, campaignID)
}

// CampaignFromContext returns the campaign id stored by WithCampaign.
func CampaignFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// New creates a logger writing to stdout in the given format ("json" or "text") at the given level.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(&campaignHandler{next: h})
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// campaignHandler injects the campaign id found on the context.
type campaignHandler struct {
	next slog.Handler
}

func (h *campaignHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *campaignHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id, ok := CampaignFromContext(ctx); ok {
		rec.AddAttrs(slog.String("campaign_id", id))
	}
	return h.next.Handle(ctx, rec)
}

func (h *campaignHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &campaignHandler{next: h.next.WithAttrs(attrs)}
}

func (h *campaignHandler) WithGroup(name string) slog.Handler {
	return &campaignHandler{next: h.next.WithGroup(name)}
}
