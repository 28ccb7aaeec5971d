package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fileconvert/config"
	"fileconvert/models"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Claim when no job arrived within the wait.
var ErrEmpty = errors.New("queue empty")

// Keys names the Redis structures backing the queue.
type Keys struct {
	Pending    string
	Processing string
	Failed     string
	Delayed    string
	Inflight   string
	Claims     string
}

func KeysFrom(cfg config.QueueConfig) Keys {
	return Keys{
		Pending:    cfg.PendingQueue,
		Processing: cfg.ProcessingQueue,
		Failed:     cfg.FailedQueue,
		Delayed:    cfg.DelayedQueue,
		Inflight:   cfg.InflightSet,
		Claims:     cfg.ClaimsHash,
	}
}

// Queue is the durable job queue. Jobs wait in the pending list, move to the
// processing list when claimed and park in the delayed set between retries.
// The in-flight set holds every conversion id that has not reached a
// terminal state, which keeps resubmissions from creating a second entry.
type Queue struct {
	client redis.UniversalClient
	keys   Keys
	now    func() time.Time
}

func NewQueue(client redis.UniversalClient, keys Keys) *Queue {
	return &Queue{client: client, keys: keys, now: time.Now}
}

func (q *Queue) Keys() Keys { return q.keys }

// Enqueue pushes job unless its id is already in flight. It reports whether
// an entry was created.
func (q *Queue) Enqueue(ctx context.Context, job *models.ConversionJob) (bool, error) {
	payload, err := job.Marshal()
	if err != nil {
		return false, fmt.Errorf("encode job %s: %w", job.ConversionID, err)
	}
	added, err := q.client.SAdd(ctx, q.keys.Inflight, job.ConversionID).Result()
	if err != nil {
		return false, fmt.Errorf("mark %s in flight: %w", job.ConversionID, err)
	}
	if added == 0 {
		return false, nil
	}
	if err := q.client.LPush(ctx, q.keys.Pending, payload).Err(); err != nil {
		q.client.SRem(ctx, q.keys.Inflight, job.ConversionID)
		return false, fmt.Errorf("push %s: %w", job.ConversionID, err)
	}
	return true, nil
}

// Claim atomically moves the oldest pending entry to the processing list.
// A zero wait polls without blocking.
func (q *Queue) Claim(ctx context.Context, wait time.Duration) (string, error) {
	var (
		payload string
		err     error
	)
	if wait > 0 {
		payload, err = q.client.BLMove(ctx, q.keys.Pending, q.keys.Processing, "RIGHT", "LEFT", wait).Result()
	} else {
		payload, err = q.client.LMove(ctx, q.keys.Pending, q.keys.Processing, "RIGHT", "LEFT").Result()
	}
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	if err := q.client.HSet(ctx, q.keys.Claims, payload, q.now().UnixMilli()).Err(); err != nil {
		return payload, fmt.Errorf("record claim time: %w", err)
	}
	return payload, nil
}

// Complete drops a claimed entry and releases its id.
func (q *Queue) Complete(ctx context.Context, payload, id string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.keys.Processing, 1, payload)
	pipe.HDel(ctx, q.keys.Claims, payload)
	pipe.SRem(ctx, q.keys.Inflight, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Fail moves a claimed entry to the failed list and releases its id.
func (q *Queue) Fail(ctx context.Context, payload, id string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.keys.Processing, 1, payload)
	pipe.HDel(ctx, q.keys.Claims, payload)
	pipe.LPush(ctx, q.keys.Failed, payload)
	pipe.SRem(ctx, q.keys.Inflight, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Drop removes a claimed entry without touching the in-flight set. Used for
// copies whose record transition lost.
func (q *Queue) Drop(ctx context.Context, payload string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.keys.Processing, 1, payload)
	pipe.HDel(ctx, q.keys.Claims, payload)
	_, err := pipe.Exec(ctx)
	return err
}

// Defer replaces a claimed entry with next, due at the given time.
func (q *Queue) Defer(ctx context.Context, payload, next string, due time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.keys.Processing, 1, payload)
	pipe.HDel(ctx, q.keys.Claims, payload)
	pipe.ZAdd(ctx, q.keys.Delayed, redis.Z{Score: float64(due.UnixMilli()), Member: next})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDue moves every delayed entry whose due time has passed onto the
// pending list. ZREM decides which promoter owns an entry.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.keys.Delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, payload := range due {
		removed, err := q.client.ZRem(ctx, q.keys.Delayed, payload).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.keys.Pending, payload).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Requeue moves a processing entry back to pending. It reports false when
// the entry was already gone.
func (q *Queue) Requeue(ctx context.Context, payload string) (bool, error) {
	removed, err := q.client.LRem(ctx, q.keys.Processing, 1, payload).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.keys.Claims, payload)
	pipe.LPush(ctx, q.keys.Pending, payload)
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

// Replace swaps a processing entry for next on the pending list. It reports
// false when the entry was already gone.
func (q *Queue) Replace(ctx context.Context, payload, next string) (bool, error) {
	removed, err := q.client.LRem(ctx, q.keys.Processing, 1, payload).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.keys.Claims, payload)
	pipe.LPush(ctx, q.keys.Pending, next)
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

// Push appends a fresh entry for an id that is already in flight.
func (q *Queue) Push(ctx context.Context, job *models.ConversionJob) error {
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, q.keys.Inflight, job.ConversionID)
	pipe.LPush(ctx, q.keys.Pending, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Release forgets an id without touching any list.
func (q *Queue) Release(ctx context.Context, id string) error {
	return q.client.SRem(ctx, q.keys.Inflight, id).Err()
}

// Processing lists the claimed entries.
func (q *Queue) Processing(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.keys.Processing, 0, -1).Result()
}

// ClaimedAt returns when payload was claimed. The zero time means unknown.
func (q *Queue) ClaimedAt(ctx context.Context, payload string) (time.Time, error) {
	ms, err := q.client.HGet(ctx, q.keys.Claims, payload).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// MarkClaimed records a claim time for an entry that has none.
func (q *Queue) MarkClaimed(ctx context.Context, payload string) error {
	return q.client.HSetNX(ctx, q.keys.Claims, payload, q.now().UnixMilli()).Err()
}

// Depths reports list and set sizes.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.keys.Pending)
	processing := pipe.LLen(ctx, q.keys.Processing)
	failed := pipe.LLen(ctx, q.keys.Failed)
	delayed := pipe.ZCard(ctx, q.keys.Delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[string]int64{
		"pending":    pending.Val(),
		"processing": processing.Val(),
		"failed":     failed.Val(),
		"delayed":    delayed.Val(),
	}, nil
}
