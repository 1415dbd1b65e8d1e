package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/pkg/buffer"
	"github.com/hyp3rd/listsync/pkg/model"
	"github.com/hyp3rd/listsync/pkg/queue"
	"github.com/hyp3rd/listsync/pkg/shard"
)

type capturedPublish struct {
	userID string
	lists  []model.List
}

type fakePublisher struct {
	published []capturedPublish
}

func (f *fakePublisher) PublishUserLists(_ context.Context, userID string, lists []model.List) error {
	f.published = append(f.published, capturedPublish{userID: userID, lists: lists})

	return nil
}

type testRig struct {
	orchestrator *Orchestrator
	engine       buffer.Service
	worker       *queue.Worker
	scheduler    *queue.Scheduler
	queue        *queue.MemQueue
	publisher    *fakePublisher
	stores       []*shard.MemStore
	codec        serializer.ISerializer
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	registry := shard.NewRegistry()
	stores := make([]*shard.MemStore, 0, 3)

	for i := range 3 {
		store := shard.NewMemStore()
		stores = append(stores, store)

		name := fmt.Sprintf("shard-%d", i+1)
		err := registry.Add(shard.Descriptor{Name: name, ConnectionURL: "redis://" + name + ":6379"}, store)
		assert.Nil(t, err)
	}

	router, err := shard.NewRouter(registry)
	assert.Nil(t, err)

	q := queue.NewMemQueue()

	engine, err := buffer.NewEngine(router, q)
	assert.Nil(t, err)

	publisher := &fakePublisher{}
	logger := log.New(os.Stderr, "test ", log.LstdFlags)

	orch, err := New(engine, publisher, logger)
	assert.Nil(t, err)

	worker := queue.NewWorker(q, logger)
	scheduler := queue.NewScheduler(q, logger)
	orch.Register(worker, scheduler)

	codec, err := serializer.New("json")
	assert.Nil(t, err)

	return &testRig{
		orchestrator: orch,
		engine:       engine,
		worker:       worker,
		scheduler:    scheduler,
		queue:        q,
		publisher:    publisher,
		stores:       stores,
		codec:        codec,
	}
}

func (r *testRig) processJob(t *testing.T, userID string, emptySync bool) {
	t.Helper()

	payload, err := r.codec.Marshal(&buffer.ProcessBufferPayload{IsEmptySync: emptySync, UserID: userID, RequesterID: userID})
	assert.Nil(t, err)

	err = r.orchestrator.HandleProcessBuffer(context.Background(), &queue.Job{Name: constants.ProcessBufferJobName, Payload: payload})
	assert.Nil(t, err)
}

func groceriesList(updatedAt time.Time) model.List {
	return model.List{
		ID:        "list-1",
		Name:      "Groceries",
		OwnerID:   "user-1",
		CreatedAt: updatedAt.Add(-time.Hour),
		UpdatedAt: updatedAt,
		Items: []model.ListItem{
			{ID: "item-1", Name: "Milk", Quantity: 1, UpdatedAt: updatedAt, ListID: "list-1"},
		},
	}
}

func TestNew_NilDependencies(t *testing.T) {
	logger := log.New(os.Stderr, "test ", log.LstdFlags)

	_, err := New(nil, &fakePublisher{}, logger)
	assert.True(t, err != nil)

	rig := newTestRig(t)

	_, err = New(rig.engine, nil, logger)
	assert.True(t, err != nil)
}

func TestOrchestrator_ProcessBufferPass(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	now := time.Now().Truncate(time.Millisecond)

	err := rig.engine.AddToBuffer(ctx, "user-1", []model.List{groceriesList(now)})
	assert.Nil(t, err)

	rig.processJob(t, "user-1", false)

	// The buffered rows are consumed.
	rows, err := rig.engine.UnresolvedChanges(ctx, "user-1")
	assert.Nil(t, err)
	assert.Equal(t, 0, len(rows))

	// The converged list was persisted and published.
	lists, err := rig.engine.AllListsForUser(ctx, "user-1")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(lists))
	assert.Equal(t, "Groceries", lists[0].Name)

	assert.Equal(t, 1, len(rig.publisher.published))
	assert.Equal(t, "user-1", rig.publisher.published[0].userID)
	assert.Equal(t, 1, len(rig.publisher.published[0].lists))

	metrics := rig.orchestrator.Metrics()
	assert.Equal(t, int64(1), metrics.Passes)
	assert.Equal(t, int64(1), metrics.ListsResolved)
}

func TestOrchestrator_ProcessBufferGroupsPerList(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	now := time.Now().Truncate(time.Millisecond)

	first := groceriesList(now)
	second := model.List{ID: "list-2", Name: "Hardware", OwnerID: "user-1", UpdatedAt: now}

	err := rig.engine.AddToBuffer(ctx, "user-1", []model.List{first, second})
	assert.Nil(t, err)

	rig.processJob(t, "user-1", false)

	assert.Equal(t, 1, len(rig.publisher.published))
	assert.Equal(t, 2, len(rig.publisher.published[0].lists))
	assert.Equal(t, int64(2), rig.orchestrator.Metrics().ListsResolved)
}

func TestOrchestrator_EmptyBufferIsNoOp(t *testing.T) {
	rig := newTestRig(t)

	rig.processJob(t, "user-1", false)

	assert.Equal(t, 0, len(rig.publisher.published))
	assert.Equal(t, int64(0), rig.orchestrator.Metrics().Passes)
}

func TestOrchestrator_EmptySyncPublishesAuthoritativeState(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	now := time.Now().Truncate(time.Millisecond)

	err := rig.engine.AddToBuffer(ctx, "user-1", []model.List{groceriesList(now)})
	assert.Nil(t, err)

	rig.processJob(t, "user-1", false)
	rig.processJob(t, "user-1", true)

	assert.Equal(t, 2, len(rig.publisher.published))
	assert.Equal(t, 1, len(rig.publisher.published[1].lists))
	assert.Equal(t, int64(1), rig.orchestrator.Metrics().EmptySyncs)
}

func TestOrchestrator_ShardOutageFailsJob(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	now := time.Now().Truncate(time.Millisecond)

	err := rig.engine.AddToBuffer(ctx, "user-1", []model.List{groceriesList(now)})
	assert.Nil(t, err)

	for _, store := range rig.stores {
		store.SetFailing(true)
	}

	// A pass during a full outage must fail so the job lands back in the
	// retry policy instead of acking as an empty buffer.
	payload, err := rig.codec.Marshal(&buffer.ProcessBufferPayload{UserID: "user-1"})
	assert.Nil(t, err)

	err = rig.orchestrator.HandleProcessBuffer(ctx, &queue.Job{Name: constants.ProcessBufferJobName, Payload: payload})
	assert.True(t, err != nil)

	// Same for an empty sync, which would otherwise publish an empty
	// array as the authoritative state.
	payload, err = rig.codec.Marshal(&buffer.ProcessBufferPayload{IsEmptySync: true, UserID: "user-1", RequesterID: "user-1"})
	assert.Nil(t, err)

	err = rig.orchestrator.HandleProcessBuffer(ctx, &queue.Job{Name: constants.ProcessBufferJobName, Payload: payload})
	assert.True(t, err != nil)

	assert.Equal(t, 0, len(rig.publisher.published))
}

func TestOrchestrator_HandleProcessBuffer_BadPayload(t *testing.T) {
	rig := newTestRig(t)

	err := rig.orchestrator.HandleProcessBuffer(context.Background(), &queue.Job{Payload: []byte("{broken")})
	assert.True(t, err != nil)

	err = rig.orchestrator.HandleProcessBuffer(context.Background(), &queue.Job{Payload: []byte(`{"userId":""}`)})
	assert.True(t, err != nil)
}

func TestOrchestrator_WorkerDrivesProcessing(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	now := time.Now().Truncate(time.Millisecond)

	err := rig.engine.AddToBuffer(ctx, "user-1", []model.List{groceriesList(now)})
	assert.Nil(t, err)

	payload, err := rig.codec.Marshal(&buffer.ProcessBufferPayload{UserID: "user-1"})
	assert.Nil(t, err)

	_, err = rig.queue.Enqueue(ctx, constants.ProcessBufferJobName, payload)
	assert.Nil(t, err)

	processed, err := rig.worker.RunOnce(ctx)
	assert.Nil(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, len(rig.publisher.published))
}

func TestOrchestrator_HandleCleanup(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	old := time.Now().Add(-2 * time.Hour)
	rows := []model.BufferedChange{
		{ID: "change-1", UserID: "user-1", ListID: "list-1", Timestamp: old, Resolved: true},
	}

	for _, store := range rig.stores {
		err := shard.CreateBufferedChangesOp(rows).Apply(ctx, store)
		assert.Nil(t, err)
	}

	err := rig.orchestrator.HandleCleanup(ctx, &queue.Job{Name: constants.CleanupJobName})
	assert.Nil(t, err)

	for _, store := range rig.stores {
		assert.Equal(t, 0, store.ChangeCount())
	}
}

func TestOrchestrator_CleanupIsScheduled(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)

	err := rig.scheduler.Trigger(ctx, constants.CleanupJobName)
	assert.Nil(t, err)

	waiting, err := rig.queue.Jobs(ctx, queue.StateWaiting)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(waiting))
	assert.Equal(t, constants.CleanupJobName, waiting[0].Name)
}
