// Package constants defines default configuration values for the listsync system.
// It provides standard settings for the consistent hash ring, quorum thresholds,
// buffer retention, and the queue retry policy.
package constants

import "time"

const (
	// DefaultVirtualNodes is the number of virtual nodes placed on the ring per shard.
	DefaultVirtualNodes = 100
	// DefaultReplication is the number of distinct shards owning each key.
	DefaultReplication = 3
	// DefaultWriteQuorum is the number of shard acknowledgements required for a write.
	DefaultWriteQuorum = 2
	// DefaultReadQuorum is the number of successful shard results required for a read.
	DefaultReadQuorum = 2

	// BufferRetention is how long resolved buffered changes are kept before cleanup.
	BufferRetention = time.Hour
	// CleanupInterval is how often the resolved-change cleanup job runs.
	CleanupInterval = time.Hour

	// ProcessBufferJobName identifies the buffer processing job.
	ProcessBufferJobName = "process-buffer"
	// CleanupJobName identifies the recurring buffer cleanup job.
	CleanupJobName = "cleanup-buffer"
	// HandoffJobName identifies the hinted handoff retry job.
	HandoffJobName = "handoff"

	// ProcessBufferDelay is the initial delay before a buffer processing job runs.
	ProcessBufferDelay = 5 * time.Second
	// ProcessBufferMaxAttempts is the maximum number of attempts for a processing job.
	ProcessBufferMaxAttempts = 3
	// ProcessBufferBackoff is the base for the exponential retry backoff.
	ProcessBufferBackoff = 500 * time.Millisecond

	// UserListsChannel is the pub/sub channel resolved lists are published on.
	UserListsChannel = "listsync:user-lists"
)
