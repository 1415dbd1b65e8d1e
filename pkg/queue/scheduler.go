package queue

import (
	"context"
	"sync"
	"time"

	"github.com/hyp3rd/listsync/internal/sentinel"
)

// Scheduler enqueues recurring jobs at fixed intervals. It has an explicit
// lifecycle so tests can trigger recurring work deterministically instead of
// waiting on wall-clock schedules.
type Scheduler struct {
	queue   Queue
	logger  Logger
	entries []scheduleEntry
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

type scheduleEntry struct {
	interval time.Duration
	jobName  string
	payload  []byte
	opts     []EnqueueOption
}

// NewScheduler creates a scheduler over the queue.
func NewScheduler(q Queue, logger Logger) *Scheduler {
	return &Scheduler{queue: q, logger: logger}
}

// Every registers a recurring job. Not safe to call after Start.
func (s *Scheduler) Every(interval time.Duration, jobName string, payload []byte, opts ...EnqueueOption) {
	s.entries = append(s.entries, scheduleEntry{interval: interval, jobName: jobName, payload: payload, opts: opts})
}

// Start launches one ticker loop per registered entry.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return sentinel.ErrAlreadyRunning
	}

	s.running = true
	s.stopCh = make(chan struct{})

	for _, entry := range s.entries {
		s.wg.Add(1)

		go s.run(ctx, entry)
	}

	return nil
}

// Stop terminates every ticker loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()

		return
	}

	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Trigger enqueues a registered entry immediately (testing and operational use).
func (s *Scheduler) Trigger(ctx context.Context, jobName string) error {
	for _, entry := range s.entries {
		if entry.jobName == jobName {
			_, err := s.queue.Enqueue(ctx, entry.jobName, entry.payload, entry.opts...)

			return err
		}
	}

	return sentinel.ErrUnknownJob
}

func (s *Scheduler) run(ctx context.Context, entry scheduleEntry) {
	defer s.wg.Done()

	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := s.queue.Enqueue(ctx, entry.jobName, entry.payload, entry.opts...)
			if err != nil {
				s.logger.Printf("scheduling %s: %v", entry.jobName, err)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
