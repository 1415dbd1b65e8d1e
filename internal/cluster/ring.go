package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ShardID is a stable identifier for a shard.
type ShardID string

// Ring implements a consistent hashing ring with virtual nodes. Every shard
// contributes vnPerShard points hashed from "<name>#<index>"; a key resolves
// to the first point clockwise from its own hash, wrapping to the smallest
// point past the end of the ring.
type Ring struct {
	mu         sync.RWMutex
	vnodes     []vnode
	vnPerShard int
}

type vnode struct {
	hash uint64
	sid  ShardID
}

// RingOption configures ring.
type RingOption func(*Ring)

// WithVirtualNodes sets the number of virtual nodes per shard.
func WithVirtualNodes(n int) RingOption {
	return func(r *Ring) {
		if n > 0 {
			r.vnPerShard = n
		}
	}
}

const defaultVirtualNodes = 100

// NewRing constructs a new Ring applying provided options.
func NewRing(opts ...RingOption) *Ring {
	r := &Ring{vnPerShard: defaultVirtualNodes}
	for _, o := range opts {
		o(r)
	}

	return r
}

// AddShard inserts the shard's virtual points, keeping the ring sorted.
func (r *Ring) AddShard(sid ShardID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.vnPerShard {
		hv := xxhash.Sum64String(vnodeLabel(sid, i))
		r.vnodes = append(r.vnodes, vnode{hash: hv, sid: sid})
	}

	sort.Slice(r.vnodes, func(i, j int) bool { return r.vnodes[i].hash < r.vnodes[j].hash })
}

// RemoveShard removes every virtual point belonging to the shard.
func (r *Ring) RemoveShard(sid ShardID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.vnodes[:0]
	for _, vn := range r.vnodes {
		if vn.sid != sid {
			kept = append(kept, vn)
		}
	}

	r.vnodes = kept
}

// ShardFor returns the shard owning the key, false on an empty ring.
func (r *Ring) ShardFor(key string) (ShardID, bool) {
	owners := r.Lookup(key, 1)
	if len(owners) == 0 {
		return "", false
	}

	return owners[0], true
}

// Lookup returns up to n distinct shards for a key: the primary at the key's
// clockwise successor, then additional shards encountered walking forward.
func (r *Ring) Lookup(key string, n int) []ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 || n <= 0 {
		return nil
	}

	target := xxhash.Sum64String(key)

	idx := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= target })
	if idx == len(r.vnodes) {
		idx = 0
	}

	res := make([]ShardID, 0, n)
	seen := make(map[ShardID]struct{})

	for i := 0; len(res) < n && i < len(r.vnodes); i++ {
		vn := r.vnodes[(idx+i)%len(r.vnodes)]
		if _, ok := seen[vn.sid]; ok {
			continue
		}

		seen[vn.sid] = struct{}{}
		res = append(res, vn.sid)
	}

	return res
}

// VirtualNodesPerShard returns configured virtual nodes per shard.
func (r *Ring) VirtualNodesPerShard() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.vnPerShard
}

// Size returns the number of virtual points currently on the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.vnodes)
}

func vnodeLabel(sid ShardID, index int) string {
	return fmt.Sprintf("%s#%d", sid, index)
}
