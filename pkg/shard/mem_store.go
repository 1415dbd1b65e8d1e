package shard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/model"
)

// MemStore is a mutex-guarded in-memory Store. It backs tests and in-process
// multi-shard harnesses; SetFailing simulates an unreachable replica.
type MemStore struct {
	mu      sync.RWMutex
	lists   map[string]*model.List
	changes map[string]*model.BufferedChange
	users   map[string]*model.User
	failing bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		lists:   make(map[string]*model.List),
		changes: make(map[string]*model.BufferedChange),
		users:   make(map[string]*model.User),
	}
}

// SetFailing toggles simulated unavailability; every call fails while set.
func (m *MemStore) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failing = failing
}

func (m *MemStore) unavailable() bool { return m.failing }

// FindList returns a copy of the list with its items.
func (m *MemStore) FindList(_ context.Context, id string) (*model.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable() {
		return nil, sentinel.ErrShardUnavailable
	}

	list, ok := m.lists[id]
	if !ok {
		return nil, sentinel.ErrListNotFound
	}

	return cloneList(list), nil
}

// UpsertList creates or updates metadata and merges in carried items.
func (m *MemStore) UpsertList(_ context.Context, list *model.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable() {
		return sentinel.ErrShardUnavailable
	}

	existing, ok := m.lists[list.ID]
	if !ok {
		m.lists[list.ID] = cloneList(list)

		return nil
	}

	existing.Name = list.Name
	existing.OwnerID = list.OwnerID
	existing.UpdatedAt = list.UpdatedAt
	existing.Deleted = list.Deleted
	existing.LastEditorUsername = list.LastEditorUsername

	for _, item := range list.Items {
		upsertItem(existing, item)
	}

	return nil
}

// ListsByOwner returns copies of every list owned by the user.
func (m *MemStore) ListsByOwner(_ context.Context, ownerID string) ([]model.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable() {
		return nil, sentinel.ErrShardUnavailable
	}

	out := make([]model.List, 0)

	for _, list := range m.lists {
		if list.OwnerID == ownerID {
			out = append(out, *cloneList(list))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// CreateBufferedChanges appends rows; existing ids are overwritten, keeping
// duplicate delivery idempotent.
func (m *MemStore) CreateBufferedChanges(_ context.Context, rows []model.BufferedChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable() {
		return sentinel.ErrShardUnavailable
	}

	for _, row := range rows {
		cp := row
		m.changes[row.ID] = &cp
	}

	return nil
}

// UnresolvedChangesByUser returns unresolved rows ordered by arrival time ascending.
func (m *MemStore) UnresolvedChangesByUser(_ context.Context, userID string) ([]model.BufferedChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable() {
		return nil, sentinel.ErrShardUnavailable
	}

	out := make([]model.BufferedChange, 0)

	for _, row := range m.changes {
		if row.UserID == userID && !row.Resolved {
			out = append(out, *row)
		}
	}

	sortChangesByArrival(out)

	return out, nil
}

// MarkChangesResolved flips the resolved flag on the given rows.
func (m *MemStore) MarkChangesResolved(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable() {
		return sentinel.ErrShardUnavailable
	}

	for _, id := range ids {
		if row, ok := m.changes[id]; ok {
			row.Resolved = true
		}
	}

	return nil
}

// DeleteResolvedChangesBefore removes resolved rows older than the cutoff.
func (m *MemStore) DeleteResolvedChangesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable() {
		return 0, sentinel.ErrShardUnavailable
	}

	var deleted int64

	for id, row := range m.changes {
		if row.Resolved && row.Timestamp.Before(cutoff) {
			delete(m.changes, id)
			deleted++
		}
	}

	return deleted, nil
}

// FindUser returns a copy of the user row.
func (m *MemStore) FindUser(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable() {
		return nil, sentinel.ErrShardUnavailable
	}

	user, ok := m.users[id]
	if !ok {
		return nil, sentinel.ErrUserNotFound
	}

	cp := *user

	return &cp, nil
}

// UpsertUser creates or updates the user row.
func (m *MemStore) UpsertUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable() {
		return sentinel.ErrShardUnavailable
	}

	cp := *user
	m.users[user.ID] = &cp

	return nil
}

// ChangeCount returns the number of stored buffered change rows (testing helper).
func (m *MemStore) ChangeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.changes)
}

func cloneList(list *model.List) *model.List {
	cp := *list
	cp.Items = make([]model.ListItem, len(list.Items))
	copy(cp.Items, list.Items)

	return &cp
}

func upsertItem(list *model.List, item model.ListItem) {
	for i := range list.Items {
		if list.Items[i].ID == item.ID {
			list.Items[i] = item

			return
		}
	}

	list.Items = append(list.Items, item)
}
