// Package shard provides the horizontally partitioned storage layer: the
// registry of configured shards, the opaque per-shard store contract, the
// closed set of store operations, and the quorum router that executes reads
// and writes against replica shards resolved on the consistent hash ring.
package shard

import (
	"context"
	"sort"
	"time"

	"github.com/hyp3rd/listsync/pkg/model"
)

// Store is the transactional document store exposed by a single shard. The
// underlying engine is opaque to the core; implementations must treat each
// call as atomic within the shard.
type Store interface {
	// FindList returns the list with its items, or sentinel.ErrListNotFound.
	FindList(ctx context.Context, id string) (*model.List, error)
	// UpsertList creates or updates the list metadata and merges in any items
	// it carries. Items absent from the argument are left untouched.
	UpsertList(ctx context.Context, list *model.List) error
	// ListsByOwner returns every list (with items) owned by the user.
	ListsByOwner(ctx context.Context, ownerID string) ([]model.List, error)

	// CreateBufferedChanges appends buffered change rows.
	CreateBufferedChanges(ctx context.Context, rows []model.BufferedChange) error
	// UnresolvedChangesByUser returns unresolved rows for the user ordered by
	// arrival timestamp ascending.
	UnresolvedChangesByUser(ctx context.Context, userID string) ([]model.BufferedChange, error)
	// MarkChangesResolved flips the resolved flag on the given rows.
	MarkChangesResolved(ctx context.Context, ids []string) error
	// DeleteResolvedChangesBefore removes resolved rows older than the cutoff
	// and returns the number deleted.
	DeleteResolvedChangesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// FindUser returns the user, or sentinel.ErrUserNotFound.
	FindUser(ctx context.Context, id string) (*model.User, error)
	// UpsertUser creates or updates the user row.
	UpsertUser(ctx context.Context, user *model.User) error
}

// sortChangesByArrival orders rows by arrival timestamp ascending, breaking
// ties on id for a stable sweep order.
func sortChangesByArrival(rows []model.BufferedChange) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].ID < rows[j].ID
		}

		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}
