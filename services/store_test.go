package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"fileconvert/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(id string, now time.Time) *models.ConversionRecord {
	return &models.ConversionRecord{
		ID:               id,
		Status:           models.StatusPending,
		OriginalFileName: "photo.jpg",
		SourceFormat:     "jpg",
		TargetFormat:     "png",
		OriginalFileURL:  "s3://uploads/anonymous/photo.jpg",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewMemoryStore()
	store.Now = func() time.Time { return clock }

	require.NoError(t, store.Create(ctx, sampleRecord("c1", clock)))
	assert.ErrorIs(t, store.Create(ctx, sampleRecord("c1", clock)), ErrAlreadyExists)

	ok, err := store.Transition(ctx, "c1", models.StatusPending, models.StatusProcessing, models.RecordUpdate{Attempts: models.IntPtr(1)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Transition(ctx, "c1", models.StatusPending, models.StatusProcessing, models.RecordUpdate{})
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	_, err = store.Transition(ctx, "c1", models.StatusCompleted, models.StatusPending, models.RecordUpdate{})
	assert.Error(t, err, "completed has no outgoing edges")

	clock = clock.Add(11 * time.Minute)
	stale, err := store.ListStale(ctx, models.StatusProcessing, clock.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "c1", stale[0].ID)

	ok, err = store.Transition(ctx, "c1", models.StatusProcessing, models.StatusCompleted, models.RecordUpdate{
		ConvertedFileURL: models.StringPtr("s3://converted/anonymous/c1/photo.png"),
		FileSize:         models.Int64Ptr(42),
	})
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, int64(42), rec.FileSize)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, clock, rec.UpdatedAt)

	require.NoError(t, store.Delete(ctx, "c1"))
	_, err = store.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "c1"), ErrNotFound)
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	store := NewPostgresStoreWithDB(db)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestPostgresStoreCreate(t *testing.T) {
	store, mock, now := newMockStore(t)
	rec := sampleRecord("c1", now)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO conversions`)).
		WithArgs("c1", nil, "pending", "photo.jpg", "jpg", "png", "s3://uploads/anonymous/photo.jpg", nil, nil, int64(0), int64(0), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO conversions`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Create(context.Background(), rec))
	assert.ErrorIs(t, store.Create(context.Background(), rec), ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreTransitionIsConditional(t *testing.T) {
	store, mock, now := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE conversions SET status = $1, updated_at = $2, converted_file_url = $3, file_size = $4 WHERE id = $5 AND status = $6`)).
		WithArgs("completed", now, "s3://converted/u/c1/a.png", int64(10), "c1", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE conversions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`)).
		WithArgs("processing", now, "c1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Transition(context.Background(), "c1", models.StatusProcessing, models.StatusCompleted, models.RecordUpdate{
		ConvertedFileURL: models.StringPtr("s3://converted/u/c1/a.png"),
		FileSize:         models.Int64Ptr(10),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Transition(context.Background(), "c1", models.StatusPending, models.StatusProcessing, models.RecordUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Transition(context.Background(), "c1", models.StatusFailed, models.StatusProcessing, models.RecordUpdate{})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock, now := newMockStore(t)
	cols := []string{"id", "user_id", "status", "original_file_name", "source_format", "target_format",
		"original_file_url", "converted_file_url", "error_message", "file_size", "attempts", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM conversions WHERE id = $1`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"c1", "u1", "failed", "a.heic", "heic", "jpg", "s3://uploads/a.heic", nil, "Conversion timed out.", 0, 1, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM conversions WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	rec, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, "u1", *rec.UserID)
	assert.Nil(t, rec.ConvertedFileURL)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "Conversion timed out.", *rec.ErrorMessage)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListStaleAndDelete(t *testing.T) {
	store, mock, now := newMockStore(t)
	cutoff := now.Add(-10 * time.Minute)
	cols := []string{"id", "user_id", "status", "original_file_name", "source_format", "target_format",
		"original_file_url", "converted_file_url", "error_message", "file_size", "attempts", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`)).
		WithArgs("processing", cutoff, 100).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"c9", nil, "processing", "a.cr2", "cr2", "jpg", "s3://uploads/a.cr2", nil, nil, 5, 1, cutoff, cutoff))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversions WHERE id = $1`)).
		WithArgs("c9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversions WHERE id = $1`)).
		WithArgs("c9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	stale, err := store.ListStale(context.Background(), models.StatusProcessing, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Nil(t, stale[0].UserID)

	require.NoError(t, store.Delete(context.Background(), "c9"))
	assert.ErrorIs(t, store.Delete(context.Background(), "c9"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
