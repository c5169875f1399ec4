package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a supervised background unit of work.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the task returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the task's result; only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) Cancel() { t.cancel() }

// TaskRegistry runs tasks detached from the caller's context and keeps track
// of them until they finish.
type TaskRegistry struct {
	base context.Context
	stop context.CancelFunc
	log  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

func NewTaskRegistry(log *slog.Logger) *TaskRegistry {
	base, stop := context.WithCancel(context.Background())
	return &TaskRegistry{base: base, stop: stop, log: log, tasks: make(map[string]*Task)}
}

// Go starts fn in its own goroutine. ctx only contributes its values; its
// cancellation does not reach the task.
func (r *TaskRegistry) Go(ctx context.Context, name string, fn func(context.Context) error) *Task {
	taskCtx, cancel := context.WithCancel(r.base)
	taskCtx = valuesFrom{Context: taskCtx, values: ctx}

	t := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				t.err = fmt.Errorf("task %s panicked: %v", name, p)
				r.log.Error("task panicked", slog.String("task", name), slog.Any("panic", p))
			}
			cancel()
			r.mu.Lock()
			delete(r.tasks, t.ID)
			r.mu.Unlock()
			close(t.done)
		}()
		t.err = fn(taskCtx)
	}()
	return t
}

// Active lists running tasks, oldest first.
func (r *TaskRegistry) Active() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, Task{ID: t.ID, Name: t.Name, StartedAt: t.StartedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown cancels every task and waits for them, or for ctx.
func (r *TaskRegistry) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running: %w", ctx.Err())
	}
}

// valuesFrom takes cancellation from the embedded context and values from another.
type valuesFrom struct {
	context.Context
	values context.Context
}

func (v valuesFrom) Value(key any) any {
	if val := v.Context.Value(key); val != nil {
		return val
	}
	return v.values.Value(key)
}
