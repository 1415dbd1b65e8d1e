package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/sentinel"
)

// Logger describes a logging interface allowing to plug different external,
// or custom loggers.
type Logger interface {
	Printf(format string, v ...any)
}

// Handler processes one job. A returned error sends the job back through the
// queue's retry policy; handlers must therefore be safe to re-run.
type Handler func(ctx context.Context, job *Job) error

// Worker polls the queue and dispatches jobs to handlers registered by name.
// I/O inside a job suspends only that job; sibling jobs on other workers are
// unaffected.
type Worker struct {
	queue    Queue
	logger   Logger
	handlers map[string]Handler
	poll     time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	metrics  workerMetrics
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

const defaultPollInterval = 250 * time.Millisecond

// NewWorker creates a worker over the queue.
func NewWorker(q Queue, logger Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:    q,
		logger:   logger,
		handlers: make(map[string]Handler),
		poll:     defaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Register binds a handler to a job name. Not safe to call after Start.
func (w *Worker) Register(jobName string, handler Handler) {
	w.handlers[jobName] = handler
}

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return sentinel.ErrAlreadyRunning
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.wg.Add(1)

	go w.loop(ctx)

	return nil
}

// Stop terminates the polling loop and waits for the in-flight job.
func (w *Worker) Stop() {
	w.mu.Lock()

	if !w.running {
		w.mu.Unlock()

		return
	}

	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Printf("dequeue failed: %v", err)
			w.sleep()

			continue
		}

		if !ok {
			w.sleep()

			continue
		}

		w.dispatch(ctx, job)
	}
}

// RunOnce dequeues and dispatches at most one job; used by tests and manual
// drains. Returns true when a job was processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, ok, err := w.queue.Dequeue(ctx)
	if err != nil || !ok {
		return false, err
	}

	w.dispatch(ctx, job)

	return true, nil
}

func (w *Worker) dispatch(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Name]
	if !ok {
		w.fail(ctx, job, ewrap.Wrap(sentinel.ErrUnknownJob, job.Name))

		return
	}

	err := handler(ctx, job)
	if err != nil {
		w.fail(ctx, job, err)

		return
	}

	atomic.AddInt64(&w.metrics.processed, 1)

	if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
		w.logger.Printf("ack failed for job %s: %v", job.ID, ackErr)
	}
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) {
	retried, err := w.queue.Fail(ctx, job)
	if err != nil {
		w.logger.Printf("failing job %s: %v (cause: %v)", job.ID, err, cause)

		return
	}

	if retried {
		atomic.AddInt64(&w.metrics.retried, 1)
		w.logger.Printf("job %s (%s) attempt %d/%d failed, retrying: %v", job.ID, job.Name, job.Attempts, job.MaxAttempts, cause)

		return
	}

	// Exhausted retries surface as a failed job, never silently dropped.
	atomic.AddInt64(&w.metrics.failed, 1)
	w.logger.Printf("job %s (%s) failed permanently after %d attempts: %v", job.ID, job.Name, job.Attempts, cause)
}

func (w *Worker) sleep() {
	select {
	case <-time.After(w.poll):
	case <-w.stopCh:
	}
}

// workerMetrics holds internal counters (best-effort, not atomic snapshot consistent).
type workerMetrics struct {
	processed int64
	retried   int64
	failed    int64
}

// WorkerMetrics snapshot.
type WorkerMetrics struct {
	Processed int64
	Retried   int64
	Failed    int64
}

// Metrics returns a snapshot of worker counters.
func (w *Worker) Metrics() WorkerMetrics {
	return WorkerMetrics{
		Processed: atomic.LoadInt64(&w.metrics.processed),
		Retried:   atomic.LoadInt64(&w.metrics.retried),
		Failed:    atomic.LoadInt64(&w.metrics.failed),
	}
}
