package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// Handler processes one chunk task. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, task model.ChunkTask) error

// Queue carries chunk tasks from the scheduler to the workers.
type Queue interface {
	Publish(ctx context.Context, task model.ChunkTask) error
	// Subscribe runs handler on `workers` goroutines and blocks until ctx is done.
	Subscribe(ctx context.Context, workers int, handler Handler) error
	Close() error
}

// JobPayload wraps a task with its retry bookkeeping
type JobPayload struct {
	Task       model.ChunkTask
	RetryCount int
	MaxRetries int
}

// Backoff returns the wait before retry n (1-based).
func Backoff(n int) time.Duration {
	return time.Duration(n*500) * time.Millisecond
}

// InMemoryQueue is a process-local queue with bounded redelivery
type InMemoryQueue struct {
	jobs       chan JobPayload
	maxRetries int
	backoff    func(int) time.Duration
	log        *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new queue holding up to capacity pending tasks
func NewInMemoryQueue(capacity, maxRetries int, log *slog.Logger) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		jobs:       make(chan JobPayload, capacity),
		maxRetries: maxRetries,
		backoff:    Backoff,
		log:        log,
	}
}

// Publish enqueues a task, waiting for room if the buffer is full
func (q *InMemoryQueue) Publish(ctx context.Context, task model.ChunkTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	job := JobPayload{Task: task, MaxRetries: q.maxRetries}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Subscribe(ctx context.Context, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					q.processJob(ctx, handler, job)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, handler Handler, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(ctx, job.Task)
		if err == nil {
			return
		}

		job.RetryCount++
		q.log.WarnContext(ctx, "chunk task failed",
			slog.String("campaign_id", job.Task.CampaignID),
			slog.Int("chunk", job.Task.Index),
			slog.Int("attempt", job.RetryCount),
			slog.String("error", err.Error()),
		)
		if job.RetryCount > job.MaxRetries {
			q.log.ErrorContext(ctx, "chunk task dropped after retries",
				slog.String("campaign_id", job.Task.CampaignID),
				slog.Int("chunk", job.Task.Index),
			)
			return
		}

		t := time.NewTimer(q.backoff(job.RetryCount))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Close stops accepting tasks; subscribers drain what is buffered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

// Len reports how many tasks are waiting.
func (q *InMemoryQueue) Len() int {
	return len(q.jobs)
}
