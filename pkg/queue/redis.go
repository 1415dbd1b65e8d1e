package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/internal/sentinel"
)

// RedisQueue is a Queue backed by redis: a waiting list, a delayed sorted set
// scored by run time, an active list, and a failed list, with job documents in
// hashes. It is the cross-process transport for processing, cleanup, and
// handoff jobs.
type RedisQueue struct {
	rdb        *redis.Client
	prefix     string
	serializer serializer.ISerializer
}

// RedisQueueOption configures the RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithQueuePrefix overrides the key namespace.
func WithQueuePrefix(prefix string) RedisQueueOption {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// WithQueueSerializer overrides the job document codec.
func WithQueueSerializer(ser serializer.ISerializer) RedisQueueOption {
	return func(q *RedisQueue) {
		if ser != nil {
			q.serializer = ser
		}
	}
}

// NewRedisQueue creates a queue over the given client.
func NewRedisQueue(client *redis.Client, opts ...RedisQueueOption) (*RedisQueue, error) {
	if client == nil {
		return nil, sentinel.ErrNilClient
	}

	q := &RedisQueue{rdb: client, prefix: constants.RedisKeyPrefix + ":queue"}
	for _, opt := range opts {
		opt(q)
	}

	if q.serializer == nil {
		ser, err := serializer.New("msgpack")
		if err != nil {
			return nil, err
		}

		q.serializer = ser
	}

	return q, nil
}

func (q *RedisQueue) waitingKey() string { return q.prefix + ":waiting" }

func (q *RedisQueue) delayedKey() string { return q.prefix + ":delayed" }

func (q *RedisQueue) activeKey() string { return q.prefix + ":active" }

func (q *RedisQueue) failedKey() string { return q.prefix + ":failed" }

func (q *RedisQueue) jobKey(id string) string { return fmt.Sprintf("%s:job:%s", q.prefix, id) }

// Enqueue adds a job, parking it in the delayed set when scheduled ahead.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload []byte, opts ...EnqueueOption) (string, error) {
	job := newJob(name, payload, opts...)

	err := q.storeJob(ctx, job)
	if err != nil {
		return "", err
	}

	if job.RunAt.After(time.Now()) {
		err = q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID}).Err()
	} else {
		err = q.rdb.LPush(ctx, q.waitingKey(), job.ID).Err()
	}

	if err != nil {
		return "", ewrap.Wrap(err, "enqueueing job")
	}

	return job.ID, nil
}

// Dequeue promotes due delayed jobs and pops the next waiting job. The id is
// moved onto the active list in the same command that pops it, so a job is
// never in no list while it is being activated.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, bool, error) {
	err := q.promoteDue(ctx)
	if err != nil {
		return nil, false, err
	}

	jobID, err := q.rdb.LMove(ctx, q.waitingKey(), q.activeKey(), "RIGHT", "LEFT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, ewrap.Wrap(err, "popping waiting job")
	}

	job, err := q.fetchJob(ctx, jobID)
	if err != nil {
		q.returnToWaiting(ctx, jobID)

		return nil, false, err
	}

	job.Attempts++

	err = q.storeJob(ctx, job)
	if err != nil {
		q.returnToWaiting(ctx, jobID)

		return nil, false, err
	}

	return job, true, nil
}

// returnToWaiting puts a job id back on the waiting list after a failed
// activation. If the move itself fails the id stays on the active list, so
// the job remains findable either way.
func (q *RedisQueue) returnToWaiting(ctx context.Context, jobID string) {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 0, jobID)
	pipe.RPush(ctx, q.waitingKey(), jobID)

	_, _ = pipe.Exec(ctx)
}

// Ack completes an active job and drops its document.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 0, jobID)
	pipe.Del(ctx, q.jobKey(jobID))

	_, err := pipe.Exec(ctx)

	return ewrap.Wrap(err, "acking job")
}

// Fail retries the job with backoff while attempts remain, otherwise parks it
// in the failed list.
func (q *RedisQueue) Fail(ctx context.Context, job *Job) (bool, error) {
	err := q.rdb.LRem(ctx, q.activeKey(), 0, job.ID).Err()
	if err != nil {
		return false, ewrap.Wrap(err, "deactivating job")
	}

	if job.Attempts >= job.MaxAttempts {
		err = q.rdb.LPush(ctx, q.failedKey(), job.ID).Err()

		return false, ewrap.Wrap(err, "parking failed job")
	}

	job.RunAt = time.Now().Add(job.NextBackoff())

	err = q.storeJob(ctx, job)
	if err != nil {
		return false, err
	}

	err = q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID}).Err()
	if err != nil {
		return false, ewrap.Wrap(err, "delaying job retry")
	}

	return true, nil
}

// Jobs returns a snapshot of jobs in the given states.
func (q *RedisQueue) Jobs(ctx context.Context, states ...State) ([]Job, error) {
	out := make([]Job, 0)

	for _, state := range states {
		ids, err := q.idsByState(ctx, state)
		if err != nil {
			return nil, err
		}

		for _, id := range ids {
			job, fetchErr := q.fetchJob(ctx, id)
			if fetchErr != nil {
				if errors.Is(fetchErr, sentinel.ErrJobNotFound) { // raced with ack
					continue
				}

				return nil, fetchErr
			}

			out = append(out, *job)
		}
	}

	return out, nil
}

func (q *RedisQueue) idsByState(ctx context.Context, state State) ([]string, error) {
	switch state {
	case StateWaiting:
		ids, err := q.rdb.LRange(ctx, q.waitingKey(), 0, -1).Result()

		return ids, ewrap.Wrap(err, "listing waiting jobs")
	case StateDelayed:
		ids, err := q.rdb.ZRange(ctx, q.delayedKey(), 0, -1).Result()

		return ids, ewrap.Wrap(err, "listing delayed jobs")
	case StateActive:
		ids, err := q.rdb.LRange(ctx, q.activeKey(), 0, -1).Result()

		return ids, ewrap.Wrap(err, "listing active jobs")
	case StateFailed:
		ids, err := q.rdb.LRange(ctx, q.failedKey(), 0, -1).Result()

		return ids, ewrap.Wrap(err, "listing failed jobs")
	}

	return nil, nil
}

// promoteDue moves delayed jobs whose run time has passed onto the waiting list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	maxScore := strconv.FormatInt(time.Now().UnixMilli(), 10)

	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return ewrap.Wrap(err, "listing due jobs")
	}

	if len(ids) == 0 {
		return nil
	}

	pipe := q.rdb.TxPipeline()

	for _, id := range ids {
		pipe.ZRem(ctx, q.delayedKey(), id)
		pipe.LPush(ctx, q.waitingKey(), id)
	}

	_, err = pipe.Exec(ctx)

	return ewrap.Wrap(err, "promoting due jobs")
}

func (q *RedisQueue) storeJob(ctx context.Context, job *Job) error {
	data, err := q.serializer.Marshal(job)
	if err != nil {
		return ewrap.Wrap(err, "encoding job")
	}

	err = q.rdb.HSet(ctx, q.jobKey(job.ID), "data", data).Err()

	return ewrap.Wrap(err, "storing job")
}

func (q *RedisQueue) fetchJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.HGet(ctx, q.jobKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ewrap.Wrap(sentinel.ErrJobNotFound, id)
		}

		return nil, ewrap.Wrap(err, "fetching job")
	}

	var job Job

	err = q.serializer.Unmarshal(data, &job)
	if err != nil {
		return nil, ewrap.Wrap(err, "decoding job")
	}

	return &job, nil
}
