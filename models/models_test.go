package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusProcessing))
	assert.True(t, CanTransition(StatusPending, StatusFailed))
	assert.True(t, CanTransition(StatusProcessing, StatusCompleted))
	assert.True(t, CanTransition(StatusProcessing, StatusPending))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusPending))
	assert.False(t, CanTransition(StatusFailed, StatusProcessing))
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestParseJobRoundTrip(t *testing.T) {
	user := "u-1"
	job := &ConversionJob{
		ConversionID:     "c-1",
		UserID:           &user,
		OriginalFileURL:  "s3://uploads/u-1/photo.jpg",
		OriginalFileName: "photo.jpg",
		SourceFormat:     "jpg",
		TargetFormat:     "png",
		Options:          map[string]any{"width": 640},
		MaxRetries:       3,
		EnqueuedAt:       time.Unix(1700000000, 0).UTC(),
	}
	payload, err := job.Marshal()
	require.NoError(t, err)

	got, err := ParseJob(payload)
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.ConversionID)
	assert.Equal(t, "u-1", got.Owner())
	w, ok := got.OptionInt("width")
	assert.True(t, ok)
	assert.Equal(t, 640, w)
	_, ok = got.OptionInt("height")
	assert.False(t, ok)

	_, err = ParseJob(`{"conversionId":""}`)
	assert.Error(t, err)
	_, err = ParseJob(`not json`)
	assert.Error(t, err)
}

func TestRetryCopiesJob(t *testing.T) {
	job := ConversionJob{ConversionID: "c", Attempt: 1}
	next := job.Retry(time.Now())
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, 1, job.Attempt)
}

func TestParseBlobURL(t *testing.T) {
	ref, err := ParseBlobURL("s3://uploads/u-1/c-1/report.docx")
	require.NoError(t, err)
	assert.Equal(t, BlobRef{Bucket: "uploads", Path: "u-1/c-1/report.docx"}, ref)
	assert.Equal(t, "s3://uploads/u-1/c-1/report.docx", ref.String())

	ref, err = ParseBlobURL("https://minio.local:9000/converted/anonymous/x.png")
	require.NoError(t, err)
	assert.Equal(t, BlobRef{Bucket: "converted", Path: "anonymous/x.png"}, ref)

	for _, bad := range []string{"ftp://a/b", "s3://bucket", "https://host/only-bucket", "::"} {
		_, err := ParseBlobURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestOutputKey(t *testing.T) {
	job := &ConversionJob{ConversionID: "c-9", OriginalFileName: "My Report.final.DOCX", TargetFormat: "PDF"}
	assert.Equal(t, "anonymous/c-9/My Report.final.pdf", OutputKey(job))
	assert.Equal(t, "notes.txt", OutputName(`C:\docs\notes.md`, "txt"))
	assert.Equal(t, "converted.png", OutputName("", "png"))
	assert.Equal(t, "Makefile.txt", OutputName("Makefile", "txt"))
}

func TestRecordUpdateApply(t *testing.T) {
	rec := &ConversionRecord{FileSize: 10}
	RecordUpdate{ConvertedFileURL: StringPtr("s3://b/k"), FileSize: Int64Ptr(42)}.Apply(rec)
	require.NotNil(t, rec.ConvertedFileURL)
	assert.Equal(t, "s3://b/k", *rec.ConvertedFileURL)
	assert.Equal(t, int64(42), rec.FileSize)
	assert.Nil(t, rec.ErrorMessage)
}
