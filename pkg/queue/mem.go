package queue

import (
	"context"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/sentinel"
)

// MemQueue is an in-process Queue used by tests and single-process setups.
type MemQueue struct {
	mu      sync.Mutex
	waiting []*Job
	delayed []*Job
	active  map[string]*Job
	failed  []*Job
}

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{active: make(map[string]*Job)}
}

// Enqueue adds a job, parking it in the delayed set when scheduled ahead.
func (q *MemQueue) Enqueue(_ context.Context, name string, payload []byte, opts ...EnqueueOption) (string, error) {
	job := newJob(name, payload, opts...)

	q.mu.Lock()
	defer q.mu.Unlock()

	if job.RunAt.After(time.Now()) {
		q.delayed = append(q.delayed, job)
	} else {
		q.waiting = append(q.waiting, job)
	}

	return job.ID, nil
}

// Dequeue promotes due delayed jobs, then pops the head of the waiting list.
func (q *MemQueue) Dequeue(_ context.Context) (*Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteDueLocked(time.Now())

	if len(q.waiting) == 0 {
		return nil, false, nil
	}

	job := q.waiting[0]
	q.waiting = q.waiting[1:]
	job.Attempts++
	q.active[job.ID] = job

	cp := *job

	return &cp, true, nil
}

// Ack completes an active job.
func (q *MemQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[jobID]; !ok {
		return ewrap.Wrap(sentinel.ErrJobNotFound, jobID)
	}

	delete(q.active, jobID)

	return nil
}

// Fail retries the job with backoff while attempts remain, otherwise parks it
// in the failed state.
func (q *MemQueue) Fail(_ context.Context, job *Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.active[job.ID]
	if !ok {
		return false, ewrap.Wrap(sentinel.ErrJobNotFound, job.ID)
	}

	delete(q.active, job.ID)

	if stored.Attempts >= stored.MaxAttempts {
		q.failed = append(q.failed, stored)

		return false, nil
	}

	stored.RunAt = time.Now().Add(stored.NextBackoff())
	q.delayed = append(q.delayed, stored)

	return true, nil
}

// Jobs returns a snapshot of jobs in the given states.
func (q *MemQueue) Jobs(_ context.Context, states ...State) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0)

	for _, state := range states {
		switch state {
		case StateWaiting:
			for _, job := range q.waiting {
				out = append(out, *job)
			}
		case StateDelayed:
			for _, job := range q.delayed {
				out = append(out, *job)
			}
		case StateActive:
			for _, job := range q.active {
				out = append(out, *job)
			}
		case StateFailed:
			for _, job := range q.failed {
				out = append(out, *job)
			}
		}
	}

	return out, nil
}

// promoteDueLocked moves due delayed jobs to the waiting list. Caller holds the lock.
func (q *MemQueue) promoteDueLocked(now time.Time) {
	kept := q.delayed[:0]

	for _, job := range q.delayed {
		if job.RunAt.After(now) {
			kept = append(kept, job)

			continue
		}

		q.waiting = append(q.waiting, job)
	}

	q.delayed = kept
}
