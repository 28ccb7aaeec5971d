package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fileconvert/api"
	"fileconvert/apperrors"
	"fileconvert/converters"
	"fileconvert/formats"
	"fileconvert/models"
	"fileconvert/pipeline"
	"fileconvert/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Submit(ctx context.Context, req pipeline.SubmitRequest) (pipeline.Accepted, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(pipeline.Accepted), args.Error(1)
}

func (m *mockService) GetStatus(ctx context.Context, id string) (*models.ConversionRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*models.ConversionRecord)
	return rec, args.Error(1)
}

func (m *mockService) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func newServer(svc api.ConversionService, checks map[string]api.HealthCheck) http.Handler {
	logger := zap.NewNop()
	catalog, err := router.NewRouter(formats.Default(), converters.All(converters.DefaultToolbox(), nil)...)
	if err != nil {
		panic(err)
	}
	handler := api.NewConversionHandler(svc, catalog, logger)
	return api.NewRouter(logger, handler, checks)
}

func TestCreateConversion(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := &mockService{}
		svc.On("Submit", mock.Anything, mock.MatchedBy(func(req pipeline.SubmitRequest) bool {
			return req.ConversionID == "c1" && req.TargetFormat == "png" && *req.Quality == 80
		})).Return(pipeline.Accepted{ConversionID: "c1", Status: models.StatusPending}, nil)

		w := httptest.NewRecorder()
		body := `{"conversionId":"c1","originalFileUrl":"s3://uploads/a.jpg","sourceFormat":"jpg","targetFormat":"png","quality":80}`
		newServer(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(body)))

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp pipeline.Accepted
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "c1", resp.ConversionID)
		assert.Equal(t, models.StatusPending, resp.Status)
		svc.AssertExpectations(t)
	})

	t.Run("generates an id", func(t *testing.T) {
		svc := &mockService{}
		svc.On("Submit", mock.Anything, mock.MatchedBy(func(req pipeline.SubmitRequest) bool {
			return len(req.ConversionID) == 36
		})).Return(pipeline.Accepted{ConversionID: "generated", Status: models.StatusPending, Duplicate: true}, nil)

		w := httptest.NewRecorder()
		body := `{"originalFileUrl":"s3://uploads/a.jpg","targetFormat":"png"}`
		newServer(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(body)))
		assert.Equal(t, http.StatusOK, w.Code, "duplicates answer 200")
		svc.AssertExpectations(t)
	})

	t.Run("unknown format", func(t *testing.T) {
		svc := &mockService{}
		svc.On("Submit", mock.Anything, mock.Anything).
			Return(pipeline.Accepted{ConversionID: "c2", Status: models.StatusFailed}, &apperrors.UnknownFormatError{Format: "zzz"})

		w := httptest.NewRecorder()
		body := `{"conversionId":"c2","originalFileUrl":"s3://uploads/a.zzz","sourceFormat":"zzz","targetFormat":"png"}`
		newServer(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(body)))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp api.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "Unknown file format: zzz.", resp.Error)
		assert.Equal(t, models.StatusFailed, resp.Status)
	})

	t.Run("invalid", func(t *testing.T) {
		svc := &mockService{}
		svc.On("Submit", mock.Anything, mock.Anything).
			Return(pipeline.Accepted{}, pipeline.ErrInvalidRequest)

		w := httptest.NewRecorder()
		newServer(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := &mockService{}
		w := httptest.NewRecorder()
		newServer(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("backend down", func(t *testing.T) {
		svc := &mockService{}
		svc.On("Submit", mock.Anything, mock.Anything).
			Return(pipeline.Accepted{}, errors.New("dial tcp: refused"))

		w := httptest.NewRecorder()
		body := `{"conversionId":"c3","originalFileUrl":"s3://uploads/a.jpg","targetFormat":"png"}`
		newServer(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversions", strings.NewReader(body)))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "dial tcp")
	})
}

func TestGetConversion(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	svc := &mockService{}
	svc.On("GetStatus", mock.Anything, "c1").Return(&models.ConversionRecord{
		ID:               "c1",
		Status:           models.StatusCompleted,
		OriginalFileName: "a.jpg",
		SourceFormat:     "jpg",
		TargetFormat:     "png",
		ConvertedFileURL: models.StringPtr("s3://converted/anonymous/c1/a.png"),
		FileSize:         120,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil)
	svc.On("GetStatus", mock.Anything, "missing").Return(nil, pipeline.ErrNotFound)
	srv := newServer(svc, nil)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/c1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ConversionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Equal(t, "jpg", resp.OriginalFormat)
	require.NotNil(t, resp.ConvertedFileURL)
	assert.Equal(t, int64(120), resp.FileSize)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteConversion(t *testing.T) {
	svc := &mockService{}
	svc.On("Delete", mock.Anything, "c1").Return(nil)
	svc.On("Delete", mock.Anything, "gone").Return(pipeline.ErrNotFound)
	srv := newServer(svc, nil)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/conversions/c1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/conversions/gone", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertExpectations(t)
}

func TestListFormats(t *testing.T) {
	srv := newServer(&mockService{}, nil)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/formats?category=calendar", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.FormatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Formats)
	for _, f := range resp.Formats {
		assert.Equal(t, formats.CategoryCalendar, f.Category)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/formats?source=ics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp = api.FormatsResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	var ids []string
	for _, f := range resp.Formats {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "csv")
	assert.NotContains(t, ids, "png")

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/formats?source=vcf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp = api.FormatsResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	ids = nil
	for _, f := range resp.Formats {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "json")
	assert.NotContains(t, ids, "ics", "contacts never become calendars")

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/formats?category=audio", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/formats?source=zzz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newServer(&mockService{}, map[string]api.HealthCheck{
		"redis": func(context.Context) error { return nil },
	}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newServer(&mockService{}, map[string]api.HealthCheck{
		"redis": func(context.Context) error { return errors.New("down") },
	}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp api.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unavailable", resp.Checks["redis"])
}
