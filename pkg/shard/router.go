package shard

import (
	"context"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/cluster"
	"github.com/hyp3rd/listsync/internal/sentinel"
)

// HandoffEnqueuer receives write operations that failed against a single
// replica so they can be retried later directly against that shard.
type HandoffEnqueuer interface {
	EnqueueHandoff(ctx context.Context, shardName string, op StoreOp) error
}

// Router resolves keys to replica shards on the consistent hash ring and
// executes quorum-flavored reads and writes against them. A partial replica
// failure under write quorum enqueues a handoff job instead of failing the
// caller; quorum-not-met is a hard failure.
type Router struct {
	ring         *cluster.Ring
	registry     *Registry
	handoff      HandoffEnqueuer
	replication  int
	writeQuorum  int
	readQuorum   int
	virtualNodes int
	metrics      routerMetrics
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithReplication sets the number of shards owning each key.
func WithReplication(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.replication = n
		}
	}
}

// WithWriteQuorum sets the number of acknowledgements required for a write.
func WithWriteQuorum(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.writeQuorum = n
		}
	}
}

// WithReadQuorum sets the number of successful results required for a read.
func WithReadQuorum(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.readQuorum = n
		}
	}
}

// WithVirtualNodes sets the number of virtual nodes per shard on the ring.
func WithVirtualNodes(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.virtualNodes = n
		}
	}
}

// WithHandoff injects the handoff enqueuer used for missed replica writes.
func WithHandoff(h HandoffEnqueuer) RouterOption {
	return func(r *Router) { r.handoff = h }
}

// Availability-favoring defaults; quorum counts are capped at the configured
// replica count, which in turn is capped at the registry size.
const (
	defaultReplication = 3
	defaultWriteQuorum = 2
	defaultReadQuorum  = 2
)

// NewRouter builds a router over the registry, placing every registered shard
// on the ring. An empty registry is a configuration error.
func NewRouter(registry *Registry, opts ...RouterOption) (*Router, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, sentinel.ErrNoShards
	}

	r := &Router{
		registry:    registry,
		replication: defaultReplication,
		writeQuorum: defaultWriteQuorum,
		readQuorum:  defaultReadQuorum,
	}
	for _, opt := range opts {
		opt(r)
	}

	ringOpts := []cluster.RingOption{}
	if r.virtualNodes > 0 {
		ringOpts = append(ringOpts, cluster.WithVirtualNodes(r.virtualNodes))
	}

	r.ring = cluster.NewRing(ringOpts...)
	for _, name := range registry.Names() {
		r.ring.AddShard(cluster.ShardID(name))
	}

	if r.replication > registry.Len() {
		r.replication = registry.Len()
	}

	if r.writeQuorum > r.replication {
		r.writeQuorum = r.replication
	}

	if r.readQuorum > r.replication {
		r.readQuorum = r.replication
	}

	return r, nil
}

// GetShardsForKey returns the ordered preference list of shards used as
// replica targets for the key: the ring primary first, then distinct shards
// encountered walking the ring forward.
func (r *Router) GetShardsForKey(key string) ([]Descriptor, error) {
	owners := r.ring.Lookup(key, r.replication)
	if len(owners) == 0 {
		return nil, sentinel.ErrNoShards
	}

	descriptors := make([]Descriptor, 0, len(owners))
	for _, sid := range owners {
		d, ok := r.registry.Descriptor(string(sid))
		if !ok {
			return nil, ewrap.Wrap(sentinel.ErrShardNotFound, string(sid))
		}

		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

// WriteWithQuorum executes the operation against every shard in the key's
// preference list. Each failed shard enqueues a handoff job carrying the
// operation; the call succeeds once writeQuorum shards have acknowledged.
func (r *Router) WriteWithQuorum(ctx context.Context, key string, op StoreOp) error {
	owners, err := r.GetShardsForKey(key)
	if err != nil {
		return err
	}

	acks := 0

	for _, owner := range owners {
		store, ok := r.registry.Store(owner.Name)
		if !ok {
			continue
		}

		if applyErr := op.Apply(ctx, store); applyErr != nil {
			atomic.AddInt64(&r.metrics.replicaWriteFailures, 1)
			r.enqueueHandoff(ctx, owner.Name, op)

			continue
		}

		acks++
	}

	if acks < r.writeQuorum {
		atomic.AddInt64(&r.metrics.writeQuorumFailures, 1)

		return ewrap.Wrapf(sentinel.ErrQuorumNotMet, "write %s acks %d of %d", op.Kind, acks, r.writeQuorum)
	}

	atomic.AddInt64(&r.metrics.quorumWrites, 1)

	return nil
}

// AllStores returns every shard store; the fallback full-scan path used when a
// key cannot be resolved to an owning shard.
func (r *Router) AllStores() []Store { return r.registry.Stores() }

// Registry returns the registry reference (read-only usage).
func (r *Router) Registry() *Registry { return r.registry }

// Replication returns the configured replica count per key.
func (r *Router) Replication() int { return r.replication }

// ReadQuorum returns the configured read quorum.
func (r *Router) ReadQuorum() int { return r.readQuorum }

func (r *Router) enqueueHandoff(ctx context.Context, shardName string, op StoreOp) {
	if r.handoff == nil {
		return
	}

	if err := r.handoff.EnqueueHandoff(ctx, shardName, op); err != nil {
		atomic.AddInt64(&r.metrics.handoffEnqueueFailures, 1)

		return
	}

	atomic.AddInt64(&r.metrics.handoffsEnqueued, 1)
}

// ReadWithQuorum executes the read against shards in the key's preference
// list until readQuorum successful, non-null results are obtained, and returns
// the first satisfying result. No cross-replica reconciliation happens at read
// time; convergence is the merge engine's job.
func ReadWithQuorum[T any](ctx context.Context, r *Router, key string, read func(ctx context.Context, store Store) (T, bool, error)) (T, error) {
	var first T

	owners, err := r.GetShardsForKey(key)
	if err != nil {
		return first, err
	}

	successes := 0
	found := false

	for _, owner := range owners {
		store, ok := r.registry.Store(owner.Name)
		if !ok {
			continue
		}

		value, present, readErr := read(ctx, store)
		if readErr != nil || !present {
			continue
		}

		if !found {
			first = value
			found = true
		}

		successes++
		if successes >= r.readQuorum {
			atomic.AddInt64(&r.metrics.quorumReads, 1)

			return first, nil
		}
	}

	atomic.AddInt64(&r.metrics.readQuorumFailures, 1)

	var zero T

	return zero, ewrap.Wrapf(sentinel.ErrQuorumNotMet, "read %q results %d of %d", key, successes, r.readQuorum)
}

// routerMetrics holds internal counters (best-effort, not atomic snapshot consistent).
type routerMetrics struct {
	quorumWrites           int64
	quorumReads            int64
	writeQuorumFailures    int64
	readQuorumFailures     int64
	replicaWriteFailures   int64
	handoffsEnqueued       int64
	handoffEnqueueFailures int64
}

// RouterMetrics snapshot.
type RouterMetrics struct {
	QuorumWrites           int64
	QuorumReads            int64
	WriteQuorumFailures    int64
	ReadQuorumFailures     int64
	ReplicaWriteFailures   int64
	HandoffsEnqueued       int64
	HandoffEnqueueFailures int64
}

// Metrics returns a snapshot of router counters.
func (r *Router) Metrics() RouterMetrics {
	return RouterMetrics{
		QuorumWrites:           atomic.LoadInt64(&r.metrics.quorumWrites),
		QuorumReads:            atomic.LoadInt64(&r.metrics.quorumReads),
		WriteQuorumFailures:    atomic.LoadInt64(&r.metrics.writeQuorumFailures),
		ReadQuorumFailures:     atomic.LoadInt64(&r.metrics.readQuorumFailures),
		ReplicaWriteFailures:   atomic.LoadInt64(&r.metrics.replicaWriteFailures),
		HandoffsEnqueued:       atomic.LoadInt64(&r.metrics.handoffsEnqueued),
		HandoffEnqueueFailures: atomic.LoadInt64(&r.metrics.handoffEnqueueFailures),
	}
}
