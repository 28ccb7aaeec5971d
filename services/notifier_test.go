package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fileconvert/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "conversion:events")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	n := NewRedisNotifier(client, "conversion:status:", "conversion:events")
	err = n.Notify(ctx, EventFailed, Notification{
		ConversionID: "c1",
		Status:       models.StatusFailed,
		ErrorMessage: models.StringPtr("Conversion timed out."),
		At:           at,
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", mr.HGet("conversion:status:c1", "status"))
	assert.Equal(t, "Conversion timed out.", mr.HGet("conversion:status:c1", "error"))
	assert.Equal(t, at.Format(time.RFC3339), mr.HGet("conversion:status:c1", "updated_at"))

	select {
	case msg := <-sub.Channel():
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "conversion.failed", got["event"])
		assert.Equal(t, "c1", got["conversionId"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Event, Notification) error {
	f.calls++
	return errors.New("sink down")
}

func TestMultiNotifierFansOut(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bad := &failingNotifier{}
	multi := MultiNotifier{bad, NewLogNotifier(zap.New(core))}

	rec := &models.ConversionRecord{ID: "c2", Status: models.StatusCompleted, FileSize: 9}
	err := multi.Notify(context.Background(), EventCompleted, NotificationFor(rec))
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	require.Equal(t, 1, logs.Len(), "later sinks still run")
	assert.Equal(t, "c2", logs.All()[0].ContextMap()["conversion_id"])
}
