package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/model"
)

type capturingEnqueuer struct {
	shards []string
	ops    []StoreOp
	err    error
}

func (c *capturingEnqueuer) EnqueueHandoff(_ context.Context, shardName string, op StoreOp) error {
	if c.err != nil {
		return c.err
	}

	c.shards = append(c.shards, shardName)
	c.ops = append(c.ops, op)

	return nil
}

func newTestCluster(t *testing.T, shards int, opts ...RouterOption) (*Router, map[string]*MemStore) {
	t.Helper()

	registry := NewRegistry()
	stores := make(map[string]*MemStore, shards)

	names := []string{"shard-1", "shard-2", "shard-3", "shard-4", "shard-5"}
	for i := range shards {
		store := NewMemStore()
		stores[names[i]] = store

		err := registry.Add(Descriptor{Name: names[i], ConnectionURL: "redis://" + names[i] + ":6379"}, store)
		assert.Nil(t, err)
	}

	router, err := NewRouter(registry, opts...)
	assert.Nil(t, err)

	return router, stores
}

func testList(id string) *model.List {
	return &model.List{
		ID:        id,
		Name:      "Groceries",
		OwnerID:   "user-1",
		UpdatedAt: time.Now(),
	}
}

func TestNewRouter_EmptyRegistry(t *testing.T) {
	_, err := NewRouter(NewRegistry())
	assert.True(t, errors.Is(err, sentinel.ErrNoShards))

	_, err = NewRouter(nil)
	assert.True(t, errors.Is(err, sentinel.ErrNoShards))
}

func TestNewRouter_CapsQuorumsAtRegistrySize(t *testing.T) {
	router, _ := newTestCluster(t, 2, WithReplication(3), WithWriteQuorum(3), WithReadQuorum(3))

	assert.Equal(t, 2, router.Replication())
	assert.Equal(t, 2, router.ReadQuorum())
}

func TestRouter_GetShardsForKey(t *testing.T) {
	router, _ := newTestCluster(t, 5)

	owners, err := router.GetShardsForKey("user-1")
	assert.Nil(t, err)
	assert.Equal(t, 3, len(owners))

	seen := make(map[string]struct{}, len(owners))
	for _, owner := range owners {
		seen[owner.Name] = struct{}{}
	}

	assert.Equal(t, 3, len(seen))

	// The preference list is stable for a given key.
	again, err := router.GetShardsForKey("user-1")
	assert.Nil(t, err)
	assert.Equal(t, owners, again)
}

func TestRouter_WriteWithQuorum_AllReplicas(t *testing.T) {
	ctx := context.Background()
	router, stores := newTestCluster(t, 3)

	err := router.WriteWithQuorum(ctx, "user-1", UpsertListOp(testList("list-1")))
	assert.Nil(t, err)

	for _, store := range stores {
		list, findErr := store.FindList(ctx, "list-1")
		assert.Nil(t, findErr)
		assert.Equal(t, "Groceries", list.Name)
	}

	assert.Equal(t, int64(1), router.Metrics().QuorumWrites)
}

func TestRouter_WriteWithQuorum_OneReplicaDown(t *testing.T) {
	ctx := context.Background()
	enqueuer := &capturingEnqueuer{}
	router, stores := newTestCluster(t, 3, WithHandoff(enqueuer))

	owners, err := router.GetShardsForKey("user-1")
	assert.Nil(t, err)

	down := owners[0].Name
	stores[down].SetFailing(true)

	err = router.WriteWithQuorum(ctx, "user-1", UpsertListOp(testList("list-1")))
	assert.Nil(t, err)

	assert.Equal(t, 1, len(enqueuer.shards))
	assert.Equal(t, down, enqueuer.shards[0])
	assert.Equal(t, OpUpsertList, enqueuer.ops[0].Kind)

	metrics := router.Metrics()
	assert.Equal(t, int64(1), metrics.ReplicaWriteFailures)
	assert.Equal(t, int64(1), metrics.HandoffsEnqueued)
}

func TestRouter_WriteWithQuorum_QuorumNotMet(t *testing.T) {
	ctx := context.Background()
	enqueuer := &capturingEnqueuer{}
	router, stores := newTestCluster(t, 3, WithHandoff(enqueuer))

	owners, err := router.GetShardsForKey("user-1")
	assert.Nil(t, err)

	stores[owners[0].Name].SetFailing(true)
	stores[owners[1].Name].SetFailing(true)

	err = router.WriteWithQuorum(ctx, "user-1", UpsertListOp(testList("list-1")))
	assert.True(t, errors.Is(err, sentinel.ErrQuorumNotMet))

	// Both missed replicas still get handoff jobs.
	assert.Equal(t, 2, len(enqueuer.shards))
	assert.Equal(t, int64(1), router.Metrics().WriteQuorumFailures)
}

func TestReadWithQuorum(t *testing.T) {
	ctx := context.Background()
	router, _ := newTestCluster(t, 3)

	err := router.WriteWithQuorum(ctx, "user-1", UpsertListOp(testList("list-1")))
	assert.Nil(t, err)

	list, err := ReadWithQuorum(ctx, router, "user-1", func(ctx context.Context, store Store) (*model.List, bool, error) {
		found, findErr := store.FindList(ctx, "list-1")
		if findErr != nil {
			return nil, false, findErr
		}

		return found, true, nil
	})
	assert.Nil(t, err)
	assert.Equal(t, "Groceries", list.Name)
	assert.Equal(t, int64(1), router.Metrics().QuorumReads)
}

func TestReadWithQuorum_NotEnoughReplicas(t *testing.T) {
	ctx := context.Background()
	router, stores := newTestCluster(t, 3)

	err := router.WriteWithQuorum(ctx, "user-1", UpsertListOp(testList("list-1")))
	assert.Nil(t, err)

	owners, err := router.GetShardsForKey("user-1")
	assert.Nil(t, err)

	stores[owners[0].Name].SetFailing(true)
	stores[owners[1].Name].SetFailing(true)

	_, err = ReadWithQuorum(ctx, router, "user-1", func(ctx context.Context, store Store) (*model.List, bool, error) {
		found, findErr := store.FindList(ctx, "list-1")
		if findErr != nil {
			return nil, false, findErr
		}

		return found, true, nil
	})
	assert.True(t, errors.Is(err, sentinel.ErrQuorumNotMet))
	assert.Equal(t, int64(1), router.Metrics().ReadQuorumFailures)
}

func TestRouter_AllStores(t *testing.T) {
	router, _ := newTestCluster(t, 4)
	assert.Equal(t, 4, len(router.AllStores()))
}

func TestStoreOp_Apply(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	err := UpsertUserOp(&model.User{ID: "user-1", Username: "ada"}).Apply(ctx, store)
	assert.Nil(t, err)

	user, err := store.FindUser(ctx, "user-1")
	assert.Nil(t, err)
	assert.Equal(t, "ada", user.Username)

	rows := []model.BufferedChange{{ID: "change-1", UserID: "user-1", ListID: "list-1", Timestamp: time.Now().Add(-2 * time.Hour)}}
	err = CreateBufferedChangesOp(rows).Apply(ctx, store)
	assert.Nil(t, err)

	err = MarkChangesResolvedOp([]string{"change-1"}).Apply(ctx, store)
	assert.Nil(t, err)

	err = DeleteResolvedChangesOp(time.Now().Add(-time.Hour)).Apply(ctx, store)
	assert.Nil(t, err)
	assert.Equal(t, 0, store.ChangeCount())

	err = StoreOp{}.Apply(ctx, store)
	assert.True(t, errors.Is(err, sentinel.ErrUnknownOperation))
}
