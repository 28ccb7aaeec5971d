package worker

import (
	"context"
	"testing"
	"time"

	"fileconvert/config"
	"fileconvert/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysFrom(t *testing.T) {
	keys := KeysFrom(config.QueueConfig{
		PendingQueue:    "p:pending",
		ProcessingQueue: "p:processing",
		FailedQueue:     "p:failed",
		DelayedQueue:    "p:delayed",
		InflightSet:     "p:inflight",
		ClaimsHash:      "p:claims",
	})
	assert.Equal(t, Keys{
		Pending: "p:pending", Processing: "p:processing", Failed: "p:failed",
		Delayed: "p:delayed", Inflight: "p:inflight", Claims: "p:claims",
	}, keys)
}

func TestQueueClaimIsFIFO(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := h.queue.Enqueue(ctx, &models.ConversionJob{ConversionID: id, OriginalFileURL: "s3://u/" + id, SourceFormat: "jpg", TargetFormat: "png"})
		require.NoError(t, err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		payload, err := h.queue.Claim(ctx, 0)
		require.NoError(t, err)
		job, err := models.ParseJob(payload)
		require.NoError(t, err)
		order = append(order, job.ConversionID)

		claimedAt, err := h.queue.ClaimedAt(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, h.clock.UnixMilli(), claimedAt.UnixMilli())
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)

	_, err := h.queue.Claim(ctx, 0)
	assert.ErrorIs(t, err, ErrEmpty)

	depths, err := h.queue.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depths["processing"])
	assert.Equal(t, int64(0), depths["pending"])
}

func TestQueueDeferAndPromote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := &models.ConversionJob{ConversionID: "d1", OriginalFileURL: "s3://u/d1", SourceFormat: "jpg", TargetFormat: "png"}
	_, err := h.queue.Enqueue(ctx, job)
	require.NoError(t, err)
	payload, err := h.queue.Claim(ctx, 0)
	require.NoError(t, err)

	retry := job.Retry(h.clock)
	next, err := retry.Marshal()
	require.NoError(t, err)
	require.NoError(t, h.queue.Defer(ctx, payload, next, h.clock.Add(4*time.Second)))

	processing, err := h.queue.Processing(ctx)
	require.NoError(t, err)
	assert.Empty(t, processing)

	n, err := h.queue.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock = h.clock.Add(5 * time.Second)
	n, err = h.queue.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.queue.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "an entry is promoted once")

	claimed, err := h.queue.Claim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, next, claimed)

	ok, err := h.mr.SIsMember("conversion:inflight", "d1")
	require.NoError(t, err)
	assert.True(t, ok, "id stays in flight across retries")
}

func TestQueueFailAndRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := &models.ConversionJob{ConversionID: "f1", OriginalFileURL: "s3://u/f1", SourceFormat: "jpg", TargetFormat: "png"}
	_, err := h.queue.Enqueue(ctx, job)
	require.NoError(t, err)
	payload, err := h.queue.Claim(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, h.queue.Fail(ctx, payload, "f1"))
	failed, err := h.mr.List("conversion:failed")
	require.NoError(t, err)
	assert.Equal(t, []string{payload}, failed)

	added, err := h.queue.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.True(t, added, "a released id can be queued again")

	require.NoError(t, h.queue.Release(ctx, "f1"))
	moved, err := h.queue.Requeue(ctx, "not-claimed")
	require.NoError(t, err)
	assert.False(t, moved)
}
