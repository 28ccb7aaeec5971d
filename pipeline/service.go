// Package pipeline is the entry point for callers: it records submissions,
// queues them for the worker pool and serves status reads and deletions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"time"

	"fileconvert/apperrors"
	"fileconvert/models"
	"fileconvert/router"
	"fileconvert/services"
	"fileconvert/worker"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("invalid conversion request")
	ErrNotFound       = services.ErrNotFound
)

const queueFailure = "Conversion could not be queued. Please try again."

type SubmitRequest struct {
	ConversionID     string         `json:"conversionId" validate:"required,notblank"`
	UserID           *string        `json:"userId"`
	OriginalFileURL  string         `json:"originalFileUrl" validate:"required,notblank"`
	OriginalFileName string         `json:"originalFileName"`
	SourceFormat     string         `json:"sourceFormat" validate:"required,notblank"`
	TargetFormat     string         `json:"targetFormat" validate:"required,notblank"`
	Quality          *int           `json:"quality,omitempty"`
	Compression      *bool          `json:"compression,omitempty"`
	Options          map[string]any `json:"options,omitempty"`
	FileSize         int64          `json:"fileSize,omitempty" validate:"gte=0"`
}

type Accepted struct {
	ConversionID string        `json:"conversionId"`
	Status       models.Status `json:"status"`
	// Duplicate is set when the id was already known; nothing new was queued.
	Duplicate bool `json:"duplicate"`
}

type Service struct {
	router     *router.Router
	store      services.RecordStore
	queue      *worker.Queue
	storage    services.StorageGateway
	notifier   services.Notifier
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time
}

type Deps struct {
	Router   *router.Router
	Store    services.RecordStore
	Queue    *worker.Queue
	Storage  services.StorageGateway
	Notifier services.Notifier
	Logger   *zap.Logger
}

func NewService(deps Deps, maxRetries int) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = services.MultiNotifier{}
	}
	return &Service{
		router:     deps.Router,
		store:      deps.Store,
		queue:      deps.Queue,
		storage:    deps.Storage,
		notifier:   notifier,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit records the request and queues it. Unknown formats and pairs no
// rule allows are rejected here: the record is created and failed at once
// and no queue entry is made. Submitting an id that already exists is a
// no-op that reports the current status.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Accepted, error) {
	if req.SourceFormat == "" {
		req.SourceFormat = strings.TrimPrefix(path.Ext(req.OriginalFileName), ".")
	}
	if err := validate(req); err != nil {
		return Accepted{}, err
	}

	route, routeErr := s.router.Resolve(req.SourceFormat, req.TargetFormat)
	job := &models.ConversionJob{
		ConversionID:     req.ConversionID,
		UserID:           req.UserID,
		OriginalFileURL:  req.OriginalFileURL,
		OriginalFileName: req.OriginalFileName,
		SourceFormat:     strings.ToLower(req.SourceFormat),
		TargetFormat:     strings.ToLower(req.TargetFormat),
		Quality:          req.Quality,
		Compression:      req.Compression,
		Options:          req.Options,
		MaxRetries:       s.maxRetries,
		EnqueuedAt:       s.now(),
	}
	if routeErr == nil {
		job.SourceFormat = route.Source.ID
		job.TargetFormat = route.Target.ID
	}
	log := s.logger.With(zap.String("conversion_id", job.ConversionID))

	err := s.store.Create(ctx, models.NewRecord(job, req.FileSize, s.now()))
	if errors.Is(err, services.ErrAlreadyExists) {
		return s.duplicate(ctx, job.ConversionID)
	}
	if err != nil {
		return Accepted{}, fmt.Errorf("create conversion record: %w", err)
	}

	if routeErr != nil {
		s.reject(ctx, log, job.ConversionID, apperrors.UserMessage(routeErr))
		return Accepted{ConversionID: job.ConversionID, Status: models.StatusFailed}, routeErr
	}

	added, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		s.reject(ctx, log, job.ConversionID, queueFailure)
		return Accepted{ConversionID: job.ConversionID, Status: models.StatusFailed}, fmt.Errorf("enqueue conversion: %w", err)
	}
	if !added {
		return s.duplicate(ctx, job.ConversionID)
	}

	log.Info("conversion queued",
		zap.String("source_format", job.SourceFormat),
		zap.String("target_format", job.TargetFormat),
	)
	return Accepted{ConversionID: job.ConversionID, Status: models.StatusPending}, nil
}

func (s *Service) duplicate(ctx context.Context, id string) (Accepted, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Accepted{}, fmt.Errorf("load existing conversion: %w", err)
	}
	return Accepted{ConversionID: id, Status: rec.Status, Duplicate: true}, nil
}

func (s *Service) reject(ctx context.Context, log *zap.Logger, id, msg string) {
	won, err := s.store.Transition(ctx, id, models.StatusPending, models.StatusFailed,
		models.RecordUpdate{ErrorMessage: &msg})
	if err != nil || !won {
		log.Error("failed to reject conversion", zap.Error(err), zap.Bool("won", won))
		return
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return
	}
	if err := s.notifier.Notify(ctx, services.EventFailed, services.NotificationFor(rec)); err != nil {
		log.Warn("notification failed", zap.Error(err))
	}
	log.Info("conversion rejected", zap.String("reason", msg))
}

func (s *Service) GetStatus(ctx context.Context, id string) (*models.ConversionRecord, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a conversion. Blob cleanup is attempted first and its
// failures are logged; the record is deleted regardless.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("conversion_id", id))

	urls := []string{rec.OriginalFileURL}
	if rec.ConvertedFileURL != nil {
		urls = append(urls, *rec.ConvertedFileURL)
	}
	for _, raw := range urls {
		ref, err := models.ParseBlobURL(raw)
		if err != nil {
			log.Warn("skipping blob with unparsable url", zap.String("url", raw), zap.Error(err))
			continue
		}
		if err := s.storage.Delete(ctx, ref.Bucket, ref.Path); err != nil {
			log.Warn("failed to delete blob", zap.String("blob", ref.String()), zap.Error(err))
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.queue.Release(ctx, id); err != nil {
		log.Warn("failed to release in-flight marker", zap.Error(err))
	}
	log.Info("conversion deleted")
	return nil
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func validate(req SubmitRequest) error {
	if err := requestValidator.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}
	if _, err := models.ParseBlobURL(req.OriginalFileURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// describeValidation names each failing field by its JSON key.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	var missing, invalid []string
	for _, e := range verrs {
		switch e.Tag() {
		case "required", "notblank":
			missing = append(missing, e.Field())
		default:
			invalid = append(invalid, e.Field())
		}
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(invalid, ", "))
	}
	return strings.Join(parts, "; ")
}
