package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fileconvert/apperrors"
	"fileconvert/formats"
	"fileconvert/models"
	"fileconvert/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversionService is the part of the pipeline the handlers call.
type ConversionService interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (pipeline.Accepted, error)
	GetStatus(ctx context.Context, id string) (*models.ConversionRecord, error)
	Delete(ctx context.Context, id string) error
}

// Catalog answers the format listing.
type Catalog interface {
	Registry() *formats.Registry
	Targets(source formats.Format) []formats.Format
}

type ConversionHandler struct {
	service ConversionService
	catalog Catalog
	logger  *zap.Logger
}

func NewConversionHandler(service ConversionService, catalog Catalog, logger *zap.Logger) *ConversionHandler {
	return &ConversionHandler{service: service, catalog: catalog, logger: logger}
}

func (h *ConversionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateConversion)
	r.Get("/{id}", h.GetConversion)
	r.Delete("/{id}", h.DeleteConversion)

	return r
}

type ErrorResponse struct {
	Error        string        `json:"error"`
	ConversionID string        `json:"conversionId,omitempty"`
	Status       models.Status `json:"status,omitempty"`
}

type ConversionResponse struct {
	ID               string        `json:"id"`
	UserID           *string       `json:"userId"`
	Status           models.Status `json:"status"`
	OriginalFileName string        `json:"originalFilename"`
	OriginalFormat   string        `json:"originalFormat"`
	TargetFormat     string        `json:"targetFormat"`
	OriginalFileURL  string        `json:"originalFileUrl"`
	ConvertedFileURL *string       `json:"convertedFileUrl"`
	ErrorMessage     *string       `json:"errorMessage"`
	FileSize         int64         `json:"fileSize"`
	Attempts         int           `json:"attempts"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func toResponse(rec *models.ConversionRecord) ConversionResponse {
	return ConversionResponse{
		ID:               rec.ID,
		UserID:           rec.UserID,
		Status:           rec.Status,
		OriginalFileName: rec.OriginalFileName,
		OriginalFormat:   rec.SourceFormat,
		TargetFormat:     rec.TargetFormat,
		OriginalFileURL:  rec.OriginalFileURL,
		ConvertedFileURL: rec.ConvertedFileURL,
		ErrorMessage:     rec.ErrorMessage,
		FileSize:         rec.FileSize,
		Attempts:         rec.Attempts,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// CreateConversion queues a conversion. The id is generated when absent.
func (h *ConversionHandler) CreateConversion(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SubmitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ConversionID == "" {
		req.ConversionID = uuid.NewString()
	}

	accepted, err := h.service.Submit(r.Context(), req)
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case apperrors.IsPermanent(err):
		writeError(w, r, http.StatusUnprocessableEntity, ErrorResponse{
			Error:        apperrors.UserMessage(err),
			ConversionID: accepted.ConversionID,
			Status:       accepted.Status,
		})
	case err != nil:
		h.logger.Error("error submitting conversion", zap.String("conversion_id", req.ConversionID), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"})
	case accepted.Duplicate:
		render.Status(r, http.StatusOK)
		render.JSON(w, r, accepted)
	default:
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, accepted)
	}
}

func (h *ConversionHandler) GetConversion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.service.GetStatus(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "conversion not found"})
	case err != nil:
		h.logger.Error("error getting conversion", zap.String("conversion_id", id), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"})
	default:
		render.JSON(w, r, toResponse(rec))
	}
}

func (h *ConversionHandler) DeleteConversion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.service.Delete(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "conversion not found"})
	case err != nil:
		h.logger.Error("error deleting conversion", zap.String("conversion_id", id), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type FormatsResponse struct {
	Formats    []formats.Format   `json:"formats"`
	Categories []formats.Category `json:"categories"`
}

// ListFormats lists the registry, optionally filtered by ?category= or
// narrowed to the targets of ?source=.
func (h *ConversionHandler) ListFormats(w http.ResponseWriter, r *http.Request) {
	registry := h.catalog.Registry()
	list := registry.All()

	if source := r.URL.Query().Get("source"); source != "" {
		f, err := registry.Lookup(source)
		if err != nil {
			writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "unknown format"})
			return
		}
		list = h.catalog.Targets(f)
	}

	if category := r.URL.Query().Get("category"); category != "" {
		if !knownCategory(formats.Category(category)) {
			writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "unknown category"})
			return
		}
		filtered := make([]formats.Format, 0, len(list))
		for _, f := range list {
			if f.Category == formats.Category(category) {
				filtered = append(filtered, f)
			}
		}
		list = filtered
	}

	render.JSON(w, r, FormatsResponse{Formats: list, Categories: formats.Categories})
}

func knownCategory(c formats.Category) bool {
	for _, known := range formats.Categories {
		if known == c {
			return true
		}
	}
	return false
}
