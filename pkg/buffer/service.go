// Package buffer implements the buffering and merge-resolution engine: client
// change sets are appended durably through the quorum router, and batches of
// buffered changes for one list are resolved into a single converged state
// using timestamp-ordered, field-level last-writer-wins.
package buffer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/model"
	"github.com/hyp3rd/listsync/pkg/queue"
	"github.com/hyp3rd/listsync/pkg/shard"
)

// Service is the buffering and merge contract consumed by the orchestrator
// and wrapped by middleware.
type Service interface {
	// AddToBuffer appends one buffered change row per list. Pure append; it
	// never inspects or merges existing state.
	AddToBuffer(ctx context.Context, userID string, lists []model.List) error
	// ResolveChanges merges a batch of buffered changes for one list into a
	// single converged list state and persists it.
	ResolveChanges(ctx context.Context, userID, listID string, changes []model.BufferedChange) (*model.List, error)
	// UnresolvedChanges returns the user's unresolved rows ordered by arrival.
	UnresolvedChanges(ctx context.Context, userID string) ([]model.BufferedChange, error)
	// MarkChangesResolved flips the resolved flag on the given rows.
	MarkChangesResolved(ctx context.Context, userID string, ids []string) error
	// AllListsForUser returns the authoritative set of lists owned by the user.
	AllListsForUser(ctx context.Context, userID string) ([]model.List, error)
	// CleanupResolvedChanges deletes resolved rows past retention on every
	// shard and returns the total deleted count.
	CleanupResolvedChanges(ctx context.Context) (int64, error)
	// IsJobAlreadyQueuedForUser reports whether a processing job referencing
	// the user is waiting, active, or delayed.
	IsJobAlreadyQueuedForUser(ctx context.Context, userID string) (bool, error)
	// EnqueueProcessing schedules a processing job for the user unless one is
	// already queued. Returns the job id, or "" when coalesced.
	EnqueueProcessing(ctx context.Context, userID, requesterID string, emptySync bool) (string, error)
}

// Engine implements Service over the quorum router and the job queue.
type Engine struct {
	router *shard.Router
	queue  queue.Queue
	codec  serializer.ISerializer // snapshot and payload codec (JSON wire form)
	now    func() time.Time
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithNowFunc overrides the clock (testing).
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCodec overrides the snapshot codec.
func WithCodec(ser serializer.ISerializer) EngineOption {
	return func(e *Engine) {
		if ser != nil {
			e.codec = ser
		}
	}
}

// NewEngine creates the buffering and merge engine.
func NewEngine(router *shard.Router, q queue.Queue, opts ...EngineOption) (*Engine, error) {
	if router == nil || q == nil {
		return nil, sentinel.ErrNilClient
	}

	e := &Engine{router: router, queue: q, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}

	if e.codec == nil {
		ser, err := serializer.New("json")
		if err != nil {
			return nil, err
		}

		e.codec = ser
	}

	return e, nil
}

// AddToBuffer serializes each list as a versioned snapshot and appends one
// unresolved BufferedChange row per list, routed by the user id. The owning
// user row is upserted so first-contact devices create their user record.
func (e *Engine) AddToBuffer(ctx context.Context, userID string, lists []model.List) error {
	if userID == "" {
		return ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	if len(lists) == 0 {
		return ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "lists")
	}

	err := e.router.WriteWithQuorum(ctx, userID, shard.UpsertUserOp(&model.User{ID: userID}))
	if err != nil {
		return err
	}

	now := e.now()
	rows := make([]model.BufferedChange, 0, len(lists))

	for _, list := range lists {
		data, marshalErr := e.codec.Marshal(&model.Snapshot{Version: model.SnapshotVersion, List: list})
		if marshalErr != nil {
			return ewrap.Wrap(marshalErr, "encoding snapshot")
		}

		rows = append(rows, model.BufferedChange{
			ID:        uuid.NewString(),
			UserID:    userID,
			ListID:    list.ID,
			Changes:   data,
			Timestamp: now,
			Resolved:  false,
		})
	}

	return e.router.WriteWithQuorum(ctx, userID, shard.CreateBufferedChangesOp(rows))
}

// ResolveChanges merges the batch into one converged list:
// changes are ordered by logical edit time descending; if the newest change
// deletes the list the deletion wins outright and item merging is skipped;
// otherwise the list name follows the newest change whose name differs from
// the persisted one, and every item id keeps the snapshot with the maximum
// UpdatedAt seen across the entire batch, independent of which change carried
// it. The result is persisted through the write quorum keyed by the user id.
func (e *Engine) ResolveChanges(ctx context.Context, userID, listID string, changes []model.BufferedChange) (*model.List, error) {
	if userID == "" {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	if listID == "" {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "listId")
	}

	if len(changes) == 0 {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "changes")
	}

	parsed := make([]model.List, 0, len(changes))

	for _, change := range changes {
		var snap model.Snapshot

		err := e.codec.Unmarshal(change.Changes, &snap)
		if err != nil {
			// Malformed payloads propagate as job failures.
			return nil, ewrap.Wrapf(err, "decoding snapshot of change %s", change.ID)
		}

		parsed = append(parsed, snap.List)
	}

	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].UpdatedAt.After(parsed[j].UpdatedAt) })

	latest := parsed[0]
	persisted := e.fetchPersisted(ctx, userID, listID)

	if latest.Deleted {
		return e.resolveDeletion(ctx, userID, listID, latest, persisted)
	}

	result := &model.List{
		ID:                 listID,
		OwnerID:            userID,
		Name:               latestNameChange(parsed, persisted),
		CreatedAt:          latest.CreatedAt,
		UpdatedAt:          latest.UpdatedAt,
		Deleted:            false,
		LastEditorUsername: latest.LastEditorUsername,
	}
	if persisted != nil {
		result.OwnerID = persisted.OwnerID
		result.CreatedAt = persisted.CreatedAt
	}

	result.Items = mergeItems(listID, parsed, persisted)

	err := e.router.WriteWithQuorum(ctx, userID, shard.UpsertListOp(result))
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UnresolvedChanges reads the user's unresolved rows through the read quorum.
// An empty buffer is a satisfying read; quorum failure only arises from
// replica errors and propagates, so a shard outage never reads as an empty
// buffer.
func (e *Engine) UnresolvedChanges(ctx context.Context, userID string) ([]model.BufferedChange, error) {
	if userID == "" {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	rows, err := shard.ReadWithQuorum(ctx, e.router, userID,
		func(ctx context.Context, store shard.Store) ([]model.BufferedChange, bool, error) {
			found, findErr := store.UnresolvedChangesByUser(ctx, userID)
			if findErr != nil {
				return nil, false, findErr
			}

			return found, true, nil
		})
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// MarkChangesResolved flips the resolved flag on every replica holding the rows.
func (e *Engine) MarkChangesResolved(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return e.router.WriteWithQuorum(ctx, userID, shard.MarkChangesResolvedOp(ids))
}

// AllListsForUser returns the authoritative lists owned by the user from its shard.
func (e *Engine) AllListsForUser(ctx context.Context, userID string) ([]model.List, error) {
	if userID == "" {
		return nil, ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	lists, err := shard.ReadWithQuorum(ctx, e.router, userID,
		func(ctx context.Context, store shard.Store) ([]model.List, bool, error) {
			found, findErr := store.ListsByOwner(ctx, userID)
			if findErr != nil {
				return nil, false, findErr
			}

			return found, true, nil
		})
	if err != nil {
		return nil, err
	}

	return lists, nil
}

// CleanupResolvedChanges deletes, across all shards, every resolved row older
// than the retention window, returning the total deleted count.
func (e *Engine) CleanupResolvedChanges(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-constants.BufferRetention)

	var (
		total    int64
		firstErr error
	)

	for _, store := range e.router.AllStores() {
		deleted, err := store.DeleteResolvedChangesBefore(ctx, cutoff)
		if err != nil {
			if firstErr == nil {
				firstErr = ewrap.Wrap(err, "cleaning resolved changes")
			}

			continue
		}

		total += deleted
	}

	return total, firstErr
}

// IsJobAlreadyQueuedForUser inspects pending, active, and delayed jobs for a
// processing job referencing the user. Used purely to coalesce redundant
// processing triggers; it does not serialize execution.
func (e *Engine) IsJobAlreadyQueuedForUser(ctx context.Context, userID string) (bool, error) {
	jobs, err := e.queue.Jobs(ctx, queue.StateWaiting, queue.StateActive, queue.StateDelayed)
	if err != nil {
		return false, err
	}

	for _, job := range jobs {
		if job.Name != constants.ProcessBufferJobName {
			continue
		}

		var payload ProcessBufferPayload

		if decodeErr := e.codec.Unmarshal(job.Payload, &payload); decodeErr != nil {
			continue
		}

		if payload.UserID == userID {
			return true, nil
		}
	}

	return false, nil
}

// EnqueueProcessing schedules a buffer processing job for the user with the
// standard retry policy, coalescing when one is already queued.
func (e *Engine) EnqueueProcessing(ctx context.Context, userID, requesterID string, emptySync bool) (string, error) {
	if userID == "" {
		return "", ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	queued, err := e.IsJobAlreadyQueuedForUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if queued {
		return "", nil
	}

	payload, err := e.codec.Marshal(&ProcessBufferPayload{IsEmptySync: emptySync, UserID: userID, RequesterID: requesterID})
	if err != nil {
		return "", ewrap.Wrap(err, "encoding payload")
	}

	return e.queue.Enqueue(ctx, constants.ProcessBufferJobName, payload,
		queue.WithDelay(constants.ProcessBufferDelay),
		queue.WithMaxAttempts(constants.ProcessBufferMaxAttempts),
		queue.WithBackoff(constants.ProcessBufferBackoff),
	)
}

// fetchPersisted returns the current persisted list, or nil when it does not
// exist yet (creation is handled by upsert) or no read quorum was reachable.
func (e *Engine) fetchPersisted(ctx context.Context, userID, listID string) *model.List {
	persisted, err := shard.ReadWithQuorum(ctx, e.router, userID,
		func(ctx context.Context, store shard.Store) (*model.List, bool, error) {
			found, findErr := store.FindList(ctx, listID)
			if findErr != nil {
				if errors.Is(findErr, sentinel.ErrListNotFound) {
					return nil, false, nil
				}

				return nil, false, findErr
			}

			return found, true, nil
		})
	if err != nil {
		return nil
	}

	return persisted
}

// resolveDeletion applies deletion precedence: the most recent change deleted
// the list, so item-level merging is skipped entirely.
func (e *Engine) resolveDeletion(ctx context.Context, userID, listID string, latest model.List, persisted *model.List) (*model.List, error) {
	result := &model.List{
		ID:                 listID,
		OwnerID:            userID,
		Name:               latest.Name,
		CreatedAt:          latest.CreatedAt,
		UpdatedAt:          latest.UpdatedAt,
		Deleted:            true,
		LastEditorUsername: latest.LastEditorUsername,
	}
	if persisted != nil {
		result.OwnerID = persisted.OwnerID
		result.CreatedAt = persisted.CreatedAt
		result.Items = persisted.Items
	}

	err := e.router.WriteWithQuorum(ctx, userID, shard.UpsertListOp(result))
	if err != nil {
		return nil, err
	}

	return result, nil
}

// latestNameChange picks the list's new name: with no persisted list the most
// recent change wins unconditionally; otherwise only changes proposing a name
// different from the persisted one are considered, the most recent of them
// winning, and with none the persisted name is kept.
func latestNameChange(parsedDesc []model.List, persisted *model.List) string {
	if persisted == nil {
		return parsedDesc[0].Name
	}

	for _, change := range parsedDesc {
		if change.Name != persisted.Name {
			return change.Name
		}
	}

	return persisted.Name
}

// mergeItems keeps, for every item id referenced anywhere in the batch, the
// snapshot with the maximum UpdatedAt. Persisted items seed the winner map so
// an older re-delivered snapshot can never regress state already merged.
func mergeItems(listID string, parsed []model.List, persisted *model.List) []model.ListItem {
	winners := make(map[string]model.ListItem)

	if persisted != nil {
		for _, item := range persisted.Items {
			winners[item.ID] = item
		}
	}

	for _, change := range parsed {
		for _, item := range change.Items {
			item.ListID = listID

			current, seen := winners[item.ID]
			if !seen || item.UpdatedAt.After(current.UpdatedAt) {
				winners[item.ID] = item
			}
		}
	}

	items := make([]model.ListItem, 0, len(winners))
	for _, item := range winners {
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	return items
}
