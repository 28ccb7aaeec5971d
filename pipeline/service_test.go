package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"fileconvert/apperrors"
	"fileconvert/config"
	"fileconvert/converters"
	"fileconvert/exttool"
	"fileconvert/formats"
	"fileconvert/models"
	"fileconvert/router"
	"fileconvert/services"
	"fileconvert/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	events []services.Event
}

func (c *countingNotifier) Notify(_ context.Context, event services.Event, _ services.Notification) error {
	c.events = append(c.events, event)
	return nil
}

// observedStorage lets a test look at the record while a job is mid-flight.
type observedStorage struct {
	*services.MemoryStorage
	onUpload  func(bucket, path string)
	deleteErr error
}

func (o *observedStorage) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if o.onUpload != nil {
		o.onUpload(bucket, path)
	}
	return o.MemoryStorage.Upload(ctx, bucket, path, data, contentType)
}

func (o *observedStorage) Delete(ctx context.Context, bucket, path string) error {
	if o.deleteErr != nil {
		return o.deleteErr
	}
	return o.MemoryStorage.Delete(ctx, bucket, path)
}

type fixture struct {
	mr      *miniredis.Miniredis
	svc     *Service
	pool    *worker.Pool
	store   *services.MemoryStore
	storage *observedStorage
	events  *countingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	missing := func(name string) exttool.Tool {
		return exttool.Tool{Name: name, Binary: "fileconvert-missing-" + name}
	}
	tb := converters.Toolbox{
		LibreOffice: missing("libreoffice"),
		ImageMagick: missing("imagemagick"),
		Dcraw:       missing("dcraw"),
		RawTherapee: missing("rawtherapee"),
		Calibre:     missing("calibre"),
		PDFLatex:    missing("pdflatex"),
		ScratchDir:  t.TempDir(),
	}
	rt, err := router.NewRouter(formats.Default(), converters.All(tb, nil)...)
	require.NoError(t, err)

	cfg := &config.Config{
		Worker: config.WorkerConfig{
			WorkerCount:       1,
			ConversionTimeout: 60,
			MaxRetries:        3,
			RetryBaseDelay:    2 * time.Second,
			RetryMaxDelay:     30 * time.Second,
			LivenessThreshold: 10 * time.Minute,
			SweepInterval:     time.Minute,
			PromoteInterval:   time.Second,
			ClaimWait:         time.Second,
			ShutdownGrace:     time.Second,
			MaxFileSize:       1 << 20,
		},
		Storage: config.StorageConfig{UploadBucket: "uploads", ConvertedBucket: "converted"},
	}

	f := &fixture{
		mr:      mr,
		store:   services.NewMemoryStore(),
		storage: &observedStorage{MemoryStorage: services.NewMemoryStorage()},
		events:  &countingNotifier{},
	}
	queue := worker.NewQueue(client, worker.Keys{
		Pending:    "conversion:pending",
		Processing: "conversion:processing",
		Failed:     "conversion:failed",
		Delayed:    "conversion:delayed",
		Inflight:   "conversion:inflight",
		Claims:     "conversion:claims",
	})
	f.svc = NewService(Deps{
		Router:   rt,
		Store:    f.store,
		Queue:    queue,
		Storage:  f.storage,
		Notifier: f.events,
	}, cfg.Worker.MaxRetries)
	f.pool = worker.NewPool(cfg, worker.Deps{
		Queue:    queue,
		Store:    f.store,
		Storage:  f.storage,
		Router:   rt,
		Notifier: f.events,
	})
	return f
}

func (f *fixture) upload(t *testing.T, path string, data []byte) string {
	t.Helper()
	url, err := f.storage.MemoryStorage.Upload(context.Background(), "uploads", path, data, "")
	require.NoError(t, err)
	return url
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestSubmitJPEGToPNGCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := f.upload(t, "anonymous/cat.jpg", jpegBytes(t, 10, 10))

	var seen []models.Status
	f.storage.onUpload = func(bucket, _ string) {
		rec, err := f.store.Get(ctx, "job-1")
		require.NoError(t, err)
		seen = append(seen, rec.Status)
	}

	accepted, err := f.svc.Submit(ctx, SubmitRequest{
		ConversionID:     "job-1",
		OriginalFileURL:  url,
		OriginalFileName: "cat.jpg",
		TargetFormat:     "PNG",
	})
	require.NoError(t, err)
	assert.Equal(t, Accepted{ConversionID: "job-1", Status: models.StatusPending}, accepted)

	rec, err := f.svc.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, "jpg", rec.SourceFormat)
	assert.Equal(t, "png", rec.TargetFormat)

	claimed, err := f.pool.ProcessNext(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, []models.Status{models.StatusProcessing}, seen)

	rec, err = f.svc.GetStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ConvertedFileURL)
	assert.Greater(t, rec.FileSize, int64(0))

	ref, err := models.ParseBlobURL(*rec.ConvertedFileURL)
	require.NoError(t, err)
	out, err := f.storage.Download(ctx, ref.Bucket, ref.Path)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}

func TestSubmitTwiceProducesOneResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := f.upload(t, "u1/cat.jpg", jpegBytes(t, 8, 8))
	req := SubmitRequest{
		ConversionID:     "dup",
		UserID:           models.StringPtr("u1"),
		OriginalFileURL:  url,
		OriginalFileName: "cat.jpg",
		SourceFormat:     "jpg",
		TargetFormat:     "png",
	}

	first, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	second, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	pending, err := f.mr.List("conversion:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	for i := 0; i < 2; i++ {
		_, err := f.pool.ProcessNext(ctx, 0, 0)
		require.NoError(t, err)
	}
	third, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	assert.Equal(t, models.StatusCompleted, third.Status)

	assert.Equal(t, 2, f.storage.Uploads(), "the original plus one converted artifact")
	assert.Equal(t, []services.Event{services.EventCompleted}, f.events.events)
}

func TestSubmitUnknownFormatFailsWithoutQueueing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := f.upload(t, "anonymous/thing.zzz", []byte("data"))

	accepted, err := f.svc.Submit(ctx, SubmitRequest{
		ConversionID:     "bad",
		OriginalFileURL:  url,
		OriginalFileName: "thing.zzz",
		TargetFormat:     "png",
	})
	var unknown *apperrors.UnknownFormatError
	require.True(t, errors.As(err, &unknown), "got %v", err)
	assert.Equal(t, models.StatusFailed, accepted.Status)

	rec, err := f.svc.GetStatus(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "Unknown file format")

	assert.False(t, f.mr.Exists("conversion:pending"))
	assert.False(t, f.mr.Exists("conversion:inflight"))
	assert.Equal(t, []services.Event{services.EventFailed}, f.events.events)
}

func TestSubmitIncompatiblePair(t *testing.T) {
	f := newFixture(t)
	url := f.upload(t, "anonymous/a.ics", []byte("BEGIN:VCALENDAR"))
	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		ConversionID:    "pair",
		OriginalFileURL: url,
		SourceFormat:    "ics",
		TargetFormat:    "png",
	})
	var incompatible *apperrors.IncompatiblePairError
	require.True(t, errors.As(err, &incompatible), "got %v", err)
	assert.False(t, f.mr.Exists("conversion:pending"))
}

func TestSubmitValidatesRequest(t *testing.T) {
	f := newFixture(t)
	cases := []SubmitRequest{
		{OriginalFileURL: "s3://uploads/a.jpg", SourceFormat: "jpg", TargetFormat: "png"},
		{ConversionID: "x", SourceFormat: "jpg", TargetFormat: "png"},
		{ConversionID: "x", OriginalFileURL: "s3://uploads/a.jpg", SourceFormat: "jpg"},
		{ConversionID: "x", OriginalFileURL: "s3://uploads/a", TargetFormat: "png"},
		{ConversionID: "x", OriginalFileURL: "ftp://uploads/a.jpg", SourceFormat: "jpg", TargetFormat: "png"},
	}
	for _, req := range cases {
		_, err := f.svc.Submit(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
	_, err := f.store.Get(context.Background(), "x")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.svc.Submit(context.Background(), SubmitRequest{ConversionID: "  ", SourceFormat: "jpg"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "missing conversionId, originalFileUrl, targetFormat")

	_, err = f.svc.Submit(context.Background(), SubmitRequest{
		ConversionID: "y", OriginalFileURL: "s3://uploads/a.jpg", SourceFormat: "jpg", TargetFormat: "png", FileSize: -1,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "invalid fileSize")
}

func TestDeleteRemovesBlobsAndRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := f.upload(t, "anonymous/cat.jpg", jpegBytes(t, 4, 4))
	_, err := f.svc.Submit(ctx, SubmitRequest{ConversionID: "del", OriginalFileURL: url, OriginalFileName: "cat.jpg", TargetFormat: "png"})
	require.NoError(t, err)
	_, err = f.pool.ProcessNext(ctx, 0, 0)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "del"))
	assert.False(t, f.storage.Has("uploads", "anonymous/cat.jpg"))
	assert.False(t, f.storage.Has("converted", "anonymous/del/cat.png"))
	_, err = f.svc.GetStatus(ctx, "del")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "del"), ErrNotFound)
}

func TestDeleteProceedsWhenBlobCleanupFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	url := f.upload(t, "anonymous/cat.jpg", jpegBytes(t, 4, 4))
	_, err := f.svc.Submit(ctx, SubmitRequest{ConversionID: "keep", OriginalFileURL: url, OriginalFileName: "cat.jpg", TargetFormat: "png"})
	require.NoError(t, err)

	f.storage.deleteErr = &apperrors.StorageError{Op: "delete", Bucket: "uploads", Path: "anonymous/cat.jpg", Err: errors.New("unreachable")}
	require.NoError(t, f.svc.Delete(ctx, "keep"))
	_, err = f.svc.GetStatus(ctx, "keep")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, f.storage.Has("uploads", "anonymous/cat.jpg"))
}
