// Package orchestrator drives buffer processing: a queued job triggers either
// an empty-sync (publish the authoritative state) or a merge pass over the
// user's unresolved buffered changes, grouped per list, with the consumed
// rows marked resolved and the converged lists published. A recurring job
// purges old resolved rows.
package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/buffer"
	"github.com/hyp3rd/listsync/pkg/model"
	"github.com/hyp3rd/listsync/pkg/notifier"
	"github.com/hyp3rd/listsync/pkg/queue"
)

// Orchestrator owns the process-buffer and cleanup job handlers. Handler
// errors are logged and returned so the queue's retry policy governs
// recovery; handlers are re-runnable because resolution is a pure function of
// the buffered rows plus persisted state.
type Orchestrator struct {
	service   buffer.Service
	publisher notifier.Publisher
	codec     serializer.ISerializer
	logger    queue.Logger
	metrics   orchestratorMetrics
}

// New creates the orchestrator.
func New(service buffer.Service, publisher notifier.Publisher, logger queue.Logger, opts ...Option) (*Orchestrator, error) {
	if service == nil || publisher == nil {
		return nil, sentinel.ErrNilClient
	}

	o := &Orchestrator{service: service, publisher: publisher, logger: logger}
	for _, opt := range opts {
		opt(o)
	}

	if o.codec == nil {
		ser, err := serializer.New("json")
		if err != nil {
			return nil, err
		}

		o.codec = ser
	}

	return o, nil
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithCodec overrides the job payload codec.
func WithCodec(ser serializer.ISerializer) Option {
	return func(o *Orchestrator) {
		if ser != nil {
			o.codec = ser
		}
	}
}

// Register binds the handlers to their job names and schedules the hourly cleanup.
func (o *Orchestrator) Register(worker *queue.Worker, scheduler *queue.Scheduler) {
	worker.Register(constants.ProcessBufferJobName, o.HandleProcessBuffer)
	worker.Register(constants.CleanupJobName, o.HandleCleanup)
	scheduler.Every(constants.CleanupInterval, constants.CleanupJobName, nil)
}

// HandleProcessBuffer executes one processing pass for the user carried by the job.
func (o *Orchestrator) HandleProcessBuffer(ctx context.Context, job *queue.Job) error {
	var payload buffer.ProcessBufferPayload

	err := o.codec.Unmarshal(job.Payload, &payload)
	if err != nil {
		return ewrap.Wrap(err, "decoding process-buffer payload")
	}

	if payload.UserID == "" {
		return ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	if payload.IsEmptySync {
		return o.emptySync(ctx, payload.UserID)
	}

	return o.processBuffer(ctx, payload.UserID)
}

// HandleCleanup purges resolved buffered changes past retention on every shard.
func (o *Orchestrator) HandleCleanup(ctx context.Context, _ *queue.Job) error {
	deleted, err := o.service.CleanupResolvedChanges(ctx)
	if err != nil {
		o.logger.Printf("buffer cleanup: %v", err)

		return err
	}

	o.logger.Printf("buffer cleanup removed %d resolved changes", deleted)

	return nil
}

// emptySync publishes the authoritative state: the client has nothing
// buffered and asks for every list it owns.
func (o *Orchestrator) emptySync(ctx context.Context, userID string) error {
	lists, err := o.service.AllListsForUser(ctx, userID)
	if err != nil {
		o.logger.Printf("empty sync for user %s: %v", userID, err)

		return err
	}

	atomic.AddInt64(&o.metrics.emptySyncs, 1)

	return o.publisher.PublishUserLists(ctx, userID, lists)
}

// processBuffer resolves the user's unresolved buffered changes per list,
// marks the consumed rows resolved, and publishes the converged lists.
func (o *Orchestrator) processBuffer(ctx context.Context, userID string) error {
	rows, err := o.service.UnresolvedChanges(ctx, userID)
	if err != nil {
		o.logger.Printf("fetching unresolved changes for user %s: %v", userID, err)

		return err
	}

	if len(rows) == 0 {
		o.logger.Printf("no unresolved changes for user %s", userID)

		return nil
	}

	groups, order := groupByList(rows)

	resolved := make([]model.List, 0, len(order))
	consumed := make([]string, 0, len(rows))

	for _, listID := range order {
		group := groups[listID]

		list, resolveErr := o.service.ResolveChanges(ctx, userID, listID, group)
		if resolveErr != nil {
			o.logger.Printf("resolving list %s for user %s: %v", listID, userID, resolveErr)

			return resolveErr
		}

		resolved = append(resolved, *list)

		for _, row := range group {
			consumed = append(consumed, row.ID)
		}
	}

	err = o.service.MarkChangesResolved(ctx, userID, consumed)
	if err != nil {
		return err
	}

	atomic.AddInt64(&o.metrics.passes, 1)
	atomic.AddInt64(&o.metrics.listsResolved, int64(len(resolved)))

	return o.publisher.PublishUserLists(ctx, userID, resolved)
}

// groupByList groups rows by list id, preserving first-arrival order of the groups.
func groupByList(rows []model.BufferedChange) (map[string][]model.BufferedChange, []string) {
	groups := make(map[string][]model.BufferedChange)
	order := make([]string, 0)

	for _, row := range rows {
		if _, ok := groups[row.ListID]; !ok {
			order = append(order, row.ListID)
		}

		groups[row.ListID] = append(groups[row.ListID], row)
	}

	return groups, order
}

// orchestratorMetrics holds internal counters (best-effort).
type orchestratorMetrics struct {
	passes        int64
	emptySyncs    int64
	listsResolved int64
}

// Metrics snapshot.
type Metrics struct {
	Passes        int64
	EmptySyncs    int64
	ListsResolved int64
}

// Metrics returns a snapshot of orchestrator counters.
func (o *Orchestrator) Metrics() Metrics {
	return Metrics{
		Passes:        atomic.LoadInt64(&o.metrics.passes),
		EmptySyncs:    atomic.LoadInt64(&o.metrics.emptySyncs),
		ListsResolved: atomic.LoadInt64(&o.metrics.listsResolved),
	}
}
