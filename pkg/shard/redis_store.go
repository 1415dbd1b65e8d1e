package shard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/model"
)

// RedisStore implements Store on a single redis instance acting as one shard's
// opaque document store. Documents live in hashes under a namespaced key;
// per-owner and per-user index sets support the scan-style queries, and a
// sorted set of resolved change ids (scored by arrival time) supports cleanup.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	serializer serializer.ISerializer
}

// RedisStoreOption configures the RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithSerializer overrides the document codec.
func WithSerializer(ser serializer.ISerializer) RedisStoreOption {
	return func(s *RedisStore) {
		if ser != nil {
			s.serializer = ser
		}
	}
}

// NewRedisStore creates a shard store over the given client.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, sentinel.ErrNilClient
	}

	store := &RedisStore{rdb: client, prefix: constants.RedisKeyPrefix}
	for _, opt := range opts {
		opt(store)
	}

	if store.serializer == nil {
		ser, err := serializer.New("json")
		if err != nil {
			return nil, err
		}

		store.serializer = ser
	}

	return store, nil
}

func (s *RedisStore) listKey(id string) string { return fmt.Sprintf("%s:list:%s", s.prefix, id) }

func (s *RedisStore) ownerKey(id string) string {
	return fmt.Sprintf("%s:owner:%s:lists", s.prefix, id)
}

func (s *RedisStore) changeKey(id string) string { return fmt.Sprintf("%s:change:%s", s.prefix, id) }

func (s *RedisStore) unresolvedKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:unresolved", s.prefix, userID)
}

func (s *RedisStore) resolvedZKey() string { return fmt.Sprintf("%s:changes:resolved", s.prefix) }

func (s *RedisStore) userKey(id string) string { return fmt.Sprintf("%s:user:%s", s.prefix, id) }

// FindList returns the list document with its items.
func (s *RedisStore) FindList(ctx context.Context, id string) (*model.List, error) {
	data, err := s.rdb.HGet(ctx, s.listKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrListNotFound
		}

		return nil, ewrap.Wrap(err, "fetching list")
	}

	var list model.List

	err = s.serializer.Unmarshal(data, &list)
	if err != nil {
		return nil, ewrap.Wrap(err, "decoding list")
	}

	return &list, nil
}

// UpsertList creates or updates the list document, merging carried items into
// the stored ones so items absent from the argument survive.
func (s *RedisStore) UpsertList(ctx context.Context, list *model.List) error {
	merged := *list

	existing, err := s.FindList(ctx, list.ID)
	if err != nil && !errors.Is(err, sentinel.ErrListNotFound) {
		return err
	}

	if existing != nil {
		kept := existing.Items
		for _, item := range list.Items {
			kept = mergeItem(kept, item)
		}

		merged.Items = kept
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = existing.CreatedAt
		}
	}

	data, err := s.serializer.Marshal(&merged)
	if err != nil {
		return ewrap.Wrap(err, "encoding list")
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.listKey(merged.ID), "data", data)
	pipe.SAdd(ctx, s.ownerKey(merged.OwnerID), merged.ID)

	_, err = pipe.Exec(ctx)

	return ewrap.Wrap(err, "executing pipeline")
}

// ListsByOwner returns every list owned by the user.
func (s *RedisStore) ListsByOwner(ctx context.Context, ownerID string) ([]model.List, error) {
	ids, err := s.rdb.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, ewrap.Wrap(err, "fetching owner index")
	}

	lists := make([]model.List, 0, len(ids))

	for _, id := range ids {
		list, findErr := s.FindList(ctx, id)
		if findErr != nil {
			if errors.Is(findErr, sentinel.ErrListNotFound) { // stale index entry
				continue
			}

			return nil, findErr
		}

		lists = append(lists, *list)
	}

	return lists, nil
}

// CreateBufferedChanges appends change rows and indexes them as unresolved.
func (s *RedisStore) CreateBufferedChanges(ctx context.Context, rows []model.BufferedChange) error {
	pipe := s.rdb.TxPipeline()

	for _, row := range rows {
		data, err := s.serializer.Marshal(&row)
		if err != nil {
			return ewrap.Wrap(err, "encoding buffered change")
		}

		pipe.HSet(ctx, s.changeKey(row.ID), "data", data)
		pipe.SAdd(ctx, s.unresolvedKey(row.UserID), row.ID)
	}

	_, err := pipe.Exec(ctx)

	return ewrap.Wrap(err, "executing pipeline")
}

// UnresolvedChangesByUser returns unresolved rows ordered by arrival ascending.
func (s *RedisStore) UnresolvedChangesByUser(ctx context.Context, userID string) ([]model.BufferedChange, error) {
	ids, err := s.rdb.SMembers(ctx, s.unresolvedKey(userID)).Result()
	if err != nil {
		return nil, ewrap.Wrap(err, "fetching unresolved index")
	}

	rows := make([]model.BufferedChange, 0, len(ids))

	for _, id := range ids {
		row, findErr := s.findChange(ctx, id)
		if findErr != nil {
			if errors.Is(findErr, redis.Nil) { // stale index entry
				continue
			}

			return nil, findErr
		}

		if !row.Resolved {
			rows = append(rows, *row)
		}
	}

	sortChangesByArrival(rows)

	return rows, nil
}

// MarkChangesResolved flips the resolved flag and moves rows to the resolved index.
func (s *RedisStore) MarkChangesResolved(ctx context.Context, ids []string) error {
	pipe := s.rdb.TxPipeline()

	for _, id := range ids {
		row, err := s.findChange(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			return err
		}

		row.Resolved = true

		data, err := s.serializer.Marshal(row)
		if err != nil {
			return ewrap.Wrap(err, "encoding buffered change")
		}

		pipe.HSet(ctx, s.changeKey(id), "data", data)
		pipe.SRem(ctx, s.unresolvedKey(row.UserID), id)
		pipe.ZAdd(ctx, s.resolvedZKey(), redis.Z{Score: float64(row.Timestamp.UnixMilli()), Member: id})
	}

	_, err := pipe.Exec(ctx)

	return ewrap.Wrap(err, "executing pipeline")
}

// DeleteResolvedChangesBefore removes resolved rows older than the cutoff.
func (s *RedisStore) DeleteResolvedChangesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	maxScore := fmt.Sprintf("(%d", cutoff.UnixMilli())

	ids, err := s.rdb.ZRangeByScore(ctx, s.resolvedZKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, ewrap.Wrap(err, "fetching resolved index")
	}

	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.TxPipeline()

	for _, id := range ids {
		pipe.Del(ctx, s.changeKey(id))
		pipe.ZRem(ctx, s.resolvedZKey(), id)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return 0, ewrap.Wrap(err, "executing pipeline")
	}

	return int64(len(ids)), nil
}

// FindUser returns the user document.
func (s *RedisStore) FindUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.HGet(ctx, s.userKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrUserNotFound
		}

		return nil, ewrap.Wrap(err, "fetching user")
	}

	var user model.User

	err = s.serializer.Unmarshal(data, &user)
	if err != nil {
		return nil, ewrap.Wrap(err, "decoding user")
	}

	return &user, nil
}

// UpsertUser creates or updates the user document.
func (s *RedisStore) UpsertUser(ctx context.Context, user *model.User) error {
	data, err := s.serializer.Marshal(user)
	if err != nil {
		return ewrap.Wrap(err, "encoding user")
	}

	err = s.rdb.HSet(ctx, s.userKey(user.ID), "data", data).Err()

	return ewrap.Wrap(err, "storing user")
}

func (s *RedisStore) findChange(ctx context.Context, id string) (*model.BufferedChange, error) {
	data, err := s.rdb.HGet(ctx, s.changeKey(id), "data").Bytes()
	if err != nil {
		return nil, err
	}

	var row model.BufferedChange

	err = s.serializer.Unmarshal(data, &row)
	if err != nil {
		return nil, ewrap.Wrap(err, "decoding buffered change")
	}

	return &row, nil
}

func mergeItem(items []model.ListItem, item model.ListItem) []model.ListItem {
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item

			return items
		}
	}

	return append(items, item)
}
