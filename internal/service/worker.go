package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/queue"
)

// ChunkRunner processes one chunk task.
type ChunkRunner interface {
	RunChunk(ctx context.Context, task model.ChunkTask) error
}

// Worker consumes chunk tasks from the queue and runs each one as a supervised task
type Worker struct {
	Queue    queue.Queue
	Runner   ChunkRunner
	Registry *TaskRegistry
	Workers  int
	Log      *slog.Logger
}

// Constructor
func NewWorker(q queue.Queue, runner ChunkRunner, registry *TaskRegistry, workers int, log *slog.Logger) *Worker {
	return &Worker{
		Queue:    q,
		Runner:   runner,
		Registry: registry,
		Workers:  workers,
		Log:      log,
	}
}

// Start begins processing tasks and blocks until ctx is done
func (w *Worker) Start(ctx context.Context) error {
	w.Log.Info("worker consuming chunk tasks", slog.Int("workers", w.Workers))
	return w.Queue.Subscribe(ctx, w.Workers, w.handle)
}

func (w *Worker) handle(ctx context.Context, task model.ChunkTask) error {
	name := fmt.Sprintf("chunk %s/%d", task.CampaignID, task.Index)
	t := w.Registry.Go(ctx, name, func(tctx context.Context) error {
		return w.Runner.RunChunk(tctx, task)
	})

	select {
	case <-t.Done():
		return t.Err()
	case <-ctx.Done():
		t.Cancel()
		<-t.Done()
		return ctx.Err()
	}
}
