// Package retry wraps one logical send in a bounded number of attempts,
// spacing them according to how the previous attempt failed.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/transport"
)

// Status is the terminal result of a retried send.
type Status int

const (
	Sent Status = iota
	Failed
	Skipped
	// Aborted means the relay session died; the caller stops the whole chunk.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "sent"
	case Skipped:
		return "skipped"
	case Aborted:
		return "aborted"
	default:
		return "failed"
	}
}

const (
	PermanentPrefix = "Permanent failure: "
	SkippedPrefix   = "Skipped: "
)

// Outcome describes what happened across all attempts.
type Outcome struct {
	Status   Status
	Attempts int
	Reason   string
	Err      error
}

// Policy decides how often and how long to wait. The zero value is not
// usable; build one with New or fill every field.
type Policy struct {
	MaxAttempts    int
	TransientDelay time.Duration
	TimeoutDelay   time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
}

func New(maxAttempts int, transientDelay, timeoutDelay time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		MaxAttempts:    maxAttempts,
		TransientDelay: transientDelay,
		TimeoutDelay:   timeoutDelay,
		Sleep:          SleepContext,
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs send until it succeeds or the policy gives up. A permanent failure
// is never retried. A second timeout turns the recipient into a skip.
func (p *Policy) Do(ctx context.Context, send func(context.Context) error) Outcome {
	var (
		lastErr  error
		timeouts int
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := send(ctx)
		if err == nil {
			return Outcome{Status: Sent, Attempts: attempt}
		}
		lastErr = err

		if transport.IsConnectionError(err) {
			return Outcome{Status: Aborted, Attempts: attempt, Reason: err.Error(), Err: err}
		}

		var delay time.Duration
		switch transport.Classify(err) {
		case transport.Permanent:
			return Outcome{Status: Failed, Attempts: attempt, Reason: PermanentPrefix + err.Error(), Err: err}
		case transport.Timeout:
			timeouts++
			if timeouts >= 2 {
				return Outcome{Status: Skipped, Attempts: attempt, Reason: SkippedPrefix + "relay timed out: " + err.Error(), Err: err}
			}
			delay = p.TimeoutDelay
		default:
			delay = p.TransientDelay * time.Duration(attempt)
		}

		if attempt == p.MaxAttempts {
			break
		}
		if serr := p.Sleep(ctx, delay); serr != nil {
			return Outcome{Status: Failed, Attempts: attempt, Reason: "interrupted: " + serr.Error(), Err: errors.Join(err, serr)}
		}
	}
	return Outcome{
		Status:   Failed,
		Attempts: p.MaxAttempts,
		Reason:   fmt.Sprintf("max retries exceeded: %v", lastErr),
		Err:      lastErr,
	}
}
