// Package handoff implements hinted handoff: write operations that missed a
// replica during a quorum write are queued and later replayed directly
// against the shard that missed them, bypassing routing. It is the only
// reconciliation path for replicas that missed a quorum write; a job that
// exhausts its retries is a durable-divergence condition surfaced in the
// logs, never silently dropped.
package handoff

import (
	"context"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/queue"
	"github.com/hyp3rd/listsync/pkg/shard"
)

// Payload is the wire form of a handoff job.
type Payload struct {
	OriginalShard string        `json:"originalShard"`
	Operation     string        `json:"operation"`
	EntityKind    string        `json:"entityKind"`
	Data          shard.StoreOp `json:"data"`
}

// Enqueuer queues failed per-shard writes for later replay. It implements
// shard.HandoffEnqueuer.
type Enqueuer struct {
	queue queue.Queue
	codec serializer.ISerializer
}

// NewEnqueuer creates a handoff enqueuer over the queue.
func NewEnqueuer(q queue.Queue, codec serializer.ISerializer) (*Enqueuer, error) {
	if q == nil {
		return nil, sentinel.ErrNilClient
	}

	if codec == nil {
		ser, err := serializer.New("json")
		if err != nil {
			return nil, err
		}

		codec = ser
	}

	return &Enqueuer{queue: q, codec: codec}, nil
}

// EnqueueHandoff queues the missed operation for the shard, carrying the
// original shard name, the operation name, the target entity kind, and the
// operation payload.
func (e *Enqueuer) EnqueueHandoff(ctx context.Context, shardName string, op shard.StoreOp) error {
	payload := Payload{
		OriginalShard: shardName,
		Operation:     op.Kind.String(),
		EntityKind:    op.Kind.EntityKind(),
		Data:          op,
	}

	data, err := e.codec.Marshal(&payload)
	if err != nil {
		return ewrap.Wrap(err, "encoding handoff payload")
	}

	_, err = e.queue.Enqueue(ctx, constants.HandoffJobName, data)

	return err
}

// Worker replays handoff jobs against their original shard.
type Worker struct {
	registry *shard.Registry
	codec    serializer.ISerializer
	logger   queue.Logger
	replayed int64
}

// NewWorker creates a handoff worker over the registry.
func NewWorker(registry *shard.Registry, codec serializer.ISerializer, logger queue.Logger) (*Worker, error) {
	if registry == nil {
		return nil, sentinel.ErrNilClient
	}

	if codec == nil {
		ser, err := serializer.New("json")
		if err != nil {
			return nil, err
		}

		codec = ser
	}

	return &Worker{registry: registry, codec: codec, logger: logger}, nil
}

// Handle replays one handoff job directly against the shard that missed the
// write. Errors send the job back through the queue's retry policy.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var payload Payload

	err := w.codec.Unmarshal(job.Payload, &payload)
	if err != nil {
		return ewrap.Wrap(err, "decoding handoff payload")
	}

	store, ok := w.registry.Store(payload.OriginalShard)
	if !ok {
		return ewrap.Wrap(sentinel.ErrShardNotFound, payload.OriginalShard)
	}

	err = payload.Data.Apply(ctx, store)
	if err != nil {
		return ewrap.Wrapf(err, "replaying %s on shard %s", payload.Operation, payload.OriginalShard)
	}

	atomic.AddInt64(&w.replayed, 1)
	w.logger.Printf("replayed %s (%s) on shard %s", payload.Operation, payload.EntityKind, payload.OriginalShard)

	return nil
}

// Register binds the handler to the handoff job name.
func (w *Worker) Register(worker *queue.Worker) {
	worker.Register(constants.HandoffJobName, w.Handle)
}

// Replayed returns the number of successfully replayed operations.
func (w *Worker) Replayed() int64 { return atomic.LoadInt64(&w.replayed) }
