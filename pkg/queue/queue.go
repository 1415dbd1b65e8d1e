// Package queue provides the job pipeline driving buffer processing, cleanup,
// and hinted handoff: a queue contract with delayed delivery and retry
// backoff, a redis-backed implementation, an in-memory implementation for
// tests, a polling worker, and a recurring-job scheduler.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

// Job states.
const (
	StateWaiting State = "waiting"
	StateActive  State = "active"
	StateDelayed State = "delayed"
	StateFailed  State = "failed"
)

// Job is a unit of asynchronous work. Delivery is at-least-once; handlers
// must tolerate re-execution.
type Job struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Payload     []byte        `json:"payload"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	Backoff     time.Duration `json:"backoff"`
	RunAt       time.Time     `json:"runAt"`
	EnqueuedAt  time.Time     `json:"enqueuedAt"`
}

// Retry defaults applied when enqueue options leave them unset.
const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// NextBackoff returns the delay before the job's next attempt, doubling per
// consumed attempt starting from the configured base.
func (j *Job) NextBackoff() time.Duration {
	backoff := j.Backoff
	for i := 1; i < j.Attempts; i++ {
		backoff *= 2
	}

	return backoff
}

// EnqueueOption configures a job at enqueue time.
type EnqueueOption func(*Job)

// WithDelay schedules the job to run after the given delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(j *Job) {
		if delay > 0 {
			j.RunAt = j.EnqueuedAt.Add(delay)
		}
	}
}

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithBackoff sets the base retry backoff.
func WithBackoff(d time.Duration) EnqueueOption {
	return func(j *Job) {
		if d > 0 {
			j.Backoff = d
		}
	}
}

// Queue is the job transport. Implementations must support delayed delivery,
// retry with backoff on failure, and snapshotting jobs by state.
type Queue interface {
	// Enqueue adds a job and returns its id.
	Enqueue(ctx context.Context, name string, payload []byte, opts ...EnqueueOption) (string, error)
	// Dequeue promotes due delayed jobs and pops the next waiting job into the
	// active state. Returns (nil, false, nil) when nothing is due.
	Dequeue(ctx context.Context) (*Job, bool, error)
	// Ack completes an active job.
	Ack(ctx context.Context, jobID string) error
	// Fail records a failed attempt: the job is re-queued delayed by its
	// backoff while attempts remain, otherwise moved to the failed state.
	// Returns true when the job will be retried.
	Fail(ctx context.Context, job *Job) (bool, error)
	// Jobs returns a snapshot of jobs in the given states.
	Jobs(ctx context.Context, states ...State) ([]Job, error)
}

// newJob builds a job with defaults and applies enqueue options.
func newJob(name string, payload []byte, opts ...EnqueueOption) *Job {
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     payload,
		MaxAttempts: defaultMaxAttempts,
		Backoff:     defaultBackoff,
		RunAt:       now,
		EnqueuedAt:  now,
	}
	for _, opt := range opts {
		opt(job)
	}

	return job
}
