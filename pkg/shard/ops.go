package shard

import (
	"context"
	"time"

	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/model"
)

// OpKind enumerates the closed set of store write operations the router can
// execute and the handoff worker can replay. Dispatch is exhaustive; there is
// no string-keyed dynamic lookup.
type OpKind uint8

// Supported store operations.
const (
	OpUpsertList OpKind = iota + 1
	OpCreateBufferedChanges
	OpMarkChangesResolved
	OpDeleteResolvedChanges
	OpUpsertUser
)

// String returns the wire name of the operation.
func (k OpKind) String() string {
	switch k {
	case OpUpsertList:
		return "upsertList"
	case OpCreateBufferedChanges:
		return "createBufferedChanges"
	case OpMarkChangesResolved:
		return "markChangesResolved"
	case OpDeleteResolvedChanges:
		return "deleteResolvedChanges"
	case OpUpsertUser:
		return "upsertUser"
	}

	return "unknown"
}

// EntityKind returns the entity the operation targets.
func (k OpKind) EntityKind() string {
	switch k {
	case OpUpsertList:
		return "list"
	case OpCreateBufferedChanges, OpMarkChangesResolved, OpDeleteResolvedChanges:
		return "bufferedChange"
	case OpUpsertUser:
		return "user"
	}

	return "unknown"
}

// StoreOp is a tagged variant carrying exactly the payload its kind needs.
// It serializes cleanly, so a failed per-shard application can be queued as a
// handoff job and replayed later against the shard that missed it.
type StoreOp struct {
	Kind      OpKind                 `json:"kind"`
	List      *model.List            `json:"list,omitempty"`
	Changes   []model.BufferedChange `json:"changes,omitempty"`
	ChangeIDs []string               `json:"changeIds,omitempty"`
	Cutoff    time.Time              `json:"cutoff,omitempty"`
	User      *model.User            `json:"user,omitempty"`
}

// UpsertListOp builds an upsert-list operation.
func UpsertListOp(list *model.List) StoreOp {
	return StoreOp{Kind: OpUpsertList, List: list}
}

// CreateBufferedChangesOp builds an append operation for buffered change rows.
func CreateBufferedChangesOp(rows []model.BufferedChange) StoreOp {
	return StoreOp{Kind: OpCreateBufferedChanges, Changes: rows}
}

// MarkChangesResolvedOp builds a resolve-flag operation for the given row ids.
func MarkChangesResolvedOp(ids []string) StoreOp {
	return StoreOp{Kind: OpMarkChangesResolved, ChangeIDs: ids}
}

// DeleteResolvedChangesOp builds a cleanup operation for resolved rows older
// than the cutoff.
func DeleteResolvedChangesOp(cutoff time.Time) StoreOp {
	return StoreOp{Kind: OpDeleteResolvedChanges, Cutoff: cutoff}
}

// UpsertUserOp builds an upsert-user operation.
func UpsertUserOp(user *model.User) StoreOp {
	return StoreOp{Kind: OpUpsertUser, User: user}
}

// Apply executes the operation against a single shard store.
func (op StoreOp) Apply(ctx context.Context, store Store) error {
	switch op.Kind {
	case OpUpsertList:
		return store.UpsertList(ctx, op.List)
	case OpCreateBufferedChanges:
		return store.CreateBufferedChanges(ctx, op.Changes)
	case OpMarkChangesResolved:
		return store.MarkChangesResolved(ctx, op.ChangeIDs)
	case OpDeleteResolvedChanges:
		_, err := store.DeleteResolvedChangesBefore(ctx, op.Cutoff)

		return err
	case OpUpsertUser:
		return store.UpsertUser(ctx, op.User)
	}

	return sentinel.ErrUnknownOperation
}
