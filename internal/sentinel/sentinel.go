// Package sentinel provides standardized error definitions for the listsync system.
// This package centralizes all error types used across the listsync components,
// ensuring consistent error handling and messaging throughout the application.
//
// The errors defined here cover the main failure scenarios:
// - Invalid input on the buffering/merge APIs (empty ids, empty change sets)
// - Shard resolution and quorum failures on the routing layer
// - Store lookups (list/user not found)
// - Queue and handoff processing errors
//
// All errors are created using the ewrap package to provide enhanced error
// wrapping and context capabilities.
package sentinel

import (
	"github.com/hyp3rd/ewrap"
)

var (
	// ErrParamCannotBeEmpty is returned when a required parameter is empty.
	ErrParamCannotBeEmpty = ewrap.New("param cannot be empty")

	// ErrNoShards is returned when a key resolves to no shard because the registry is empty.
	// This is a configuration error and is fatal, never retried.
	ErrNoShards = ewrap.New("no shards configured")

	// ErrShardNotFound is returned when a shard name is not present in the registry.
	ErrShardNotFound = ewrap.New("shard not found")

	// ErrShardUnavailable is returned by a store that cannot currently serve operations.
	ErrShardUnavailable = ewrap.New("shard unavailable")

	// ErrQuorumNotMet is returned when fewer than the required number of shards acknowledge
	// a quorum read or write.
	ErrQuorumNotMet = ewrap.New("quorum not met")

	// ErrListNotFound is returned when a list id is not present in a shard store.
	ErrListNotFound = ewrap.New("list not found")

	// ErrUserNotFound is returned when a user id is not present in a shard store.
	ErrUserNotFound = ewrap.New("user not found")

	// ErrUnknownOperation is returned when a store operation carries an unsupported kind.
	ErrUnknownOperation = ewrap.New("unknown store operation")

	// ErrUnknownJob is returned when a job name has no registered handler.
	ErrUnknownJob = ewrap.New("unknown job")

	// ErrJobNotFound is returned when a job id is not present in the queue.
	ErrJobNotFound = ewrap.New("job not found")

	// ErrNilClient is returned when a nil client is passed to a component.
	ErrNilClient = ewrap.New("nil client")

	// ErrSerializerNotFound is returned when a serializer is not found.
	ErrSerializerNotFound = ewrap.New("serializer not found")

	// ErrAlreadyRunning is returned when starting a component that is already running.
	ErrAlreadyRunning = ewrap.New("already running")
)
