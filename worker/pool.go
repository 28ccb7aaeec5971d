package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fileconvert/apperrors"
	"fileconvert/config"
	"fileconvert/converters"
	"fileconvert/models"
	"fileconvert/router"
	"fileconvert/services"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// bookkeepingTimeout bounds record and queue updates made after a job ends.
const bookkeepingTimeout = 10 * time.Second

type Deps struct {
	Queue    *Queue
	Store    services.RecordStore
	Storage  services.StorageGateway
	Router   *router.Router
	Notifier services.Notifier
	Logger   *zap.Logger
}

type Pool struct {
	cfg             config.WorkerConfig
	convertedBucket string
	jobTimeout      time.Duration

	queue    *Queue
	store    services.RecordStore
	storage  services.StorageGateway
	router   *router.Router
	notifier services.Notifier
	logger   *zap.Logger

	now          func() time.Time
	errorBackoff time.Duration
	capture      func(err error, job *models.ConversionJob)
}

func NewPool(cfg *config.Config, deps Deps) *Pool {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = services.MultiNotifier{}
	}
	return &Pool{
		cfg:             cfg.Worker,
		convertedBucket: cfg.Storage.ConvertedBucket,
		jobTimeout:      cfg.JobTimeout(),
		queue:           deps.Queue,
		store:           deps.Store,
		storage:         deps.Storage,
		router:          deps.Router,
		notifier:        notifier,
		logger:          logger,
		now:             time.Now,
		errorBackoff:    5 * time.Second,
		capture:         captureUnclassified,
	}
}

// Run starts the workers, the delayed-job promoter and the recovery sweep,
// and blocks until ctx is cancelled and all of them have returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.StartWorker(ctx, workerID)
		}(i)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.PromoteLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.RecoveryLoop(ctx)
	}()

	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.WorkerCount),
		zap.String("queue", p.queue.Keys().Pending),
	)
	wg.Wait()
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	log := p.logger.With(zap.Int("worker_id", workerID))
	log.Info("worker starting")

	for {
		if ctx.Err() != nil {
			log.Info("worker shutting down")
			return
		}
		if _, err := p.ProcessNext(ctx, workerID, p.cfg.ClaimWait); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error("queue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(p.errorBackoff):
			}
		}
	}
}

// ProcessNext claims one job and carries it to a terminal state, a retry or a
// requeue. It reports whether a job was claimed.
func (p *Pool) ProcessNext(ctx context.Context, workerID int, wait time.Duration) (bool, error) {
	payload, err := p.queue.Claim(ctx, wait)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.processJob(ctx, workerID, payload)
	return true, nil
}

func (p *Pool) processJob(ctx context.Context, workerID int, payload string) {
	log := p.logger.With(zap.Int("worker_id", workerID))

	job, err := models.ParseJob(payload)
	if err != nil {
		log.Error("dropping malformed job", zap.Error(err))
		if err := p.queue.Drop(ctx, payload); err != nil {
			log.Warn("failed to drop malformed job", zap.Error(err))
		}
		return
	}
	log = log.With(zap.String("conversion_id", job.ConversionID), zap.Int("attempt", job.Attempt+1))

	won, err := p.store.Transition(ctx, job.ConversionID, models.StatusPending, models.StatusProcessing,
		models.RecordUpdate{Attempts: models.IntPtr(job.Attempt + 1)})
	if err != nil {
		// The entry stays claimed; the sweep returns it once the claim goes stale.
		log.Error("failed to mark conversion processing", zap.Error(err))
		return
	}
	if !won {
		log.Info("conversion already claimed or finished, dropping copy")
		if err := p.queue.Drop(ctx, payload); err != nil {
			log.Warn("failed to drop duplicate entry", zap.Error(err))
		}
		return
	}

	log.Info("processing conversion",
		zap.String("source_format", job.SourceFormat),
		zap.String("target_format", job.TargetFormat),
	)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()
	go p.cancelAfterGrace(ctx, jobCtx, cancel)

	startTime := p.now()
	url, size, err := p.safeConvert(jobCtx, log, job)
	duration := p.now().Sub(startTime)

	bg, done := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer done()

	if err == nil {
		p.handleSuccess(bg, log, job, payload, url, size, duration)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = &apperrors.TimeoutError{Tool: "conversion", After: p.jobTimeout}
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		p.handleInterrupted(bg, log, job, payload)
		return
	}
	p.handleJobFailure(bg, log, job, payload, err)
}

// cancelAfterGrace lets an in-flight job outlive a shutdown by the grace period.
func (p *Pool) cancelAfterGrace(ctx, jobCtx context.Context, cancel context.CancelFunc) {
	select {
	case <-jobCtx.Done():
		return
	case <-ctx.Done():
	}
	select {
	case <-jobCtx.Done():
	case <-time.After(p.cfg.ShutdownGrace):
		cancel()
	}
}

// safeConvert turns a panic inside a strategy into an unclassified error so
// the job fails instead of the process.
func (p *Pool) safeConvert(ctx context.Context, log *zap.Logger, job *models.ConversionJob) (url string, size int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("conversion panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	return p.convert(ctx, job)
}

func (p *Pool) convert(ctx context.Context, job *models.ConversionJob) (string, int64, error) {
	route, err := p.router.Resolve(job.SourceFormat, job.TargetFormat)
	if err != nil {
		return "", 0, err
	}

	ref, err := models.ParseBlobURL(job.OriginalFileURL)
	if err != nil {
		return "", 0, fmt.Errorf("resolve source: %w", err)
	}
	data, err := p.storage.Download(ctx, ref.Bucket, ref.Path)
	if err != nil {
		return "", 0, err
	}
	if int64(len(data)) > p.cfg.MaxFileSize {
		return "", 0, &apperrors.CorruptInputError{
			Format: route.Source.ID,
			Reason: fmt.Sprintf("file is %d bytes, limit is %d", len(data), p.cfg.MaxFileSize),
		}
	}
	if !route.Strategy.Validate(data, route.Source) {
		return "", 0, &apperrors.CorruptInputError{Format: route.Source.ID, Reason: "content does not match declared format"}
	}

	out, err := route.Strategy.Convert(ctx, data, route.Source, route.Target, converters.OptionsFromJob(job))
	if err != nil {
		return "", 0, err
	}

	normalized := *job
	normalized.TargetFormat = route.Target.ID
	url, err := p.storage.Upload(ctx, p.convertedBucket, models.OutputKey(&normalized), out, route.Target.MimeType)
	if err != nil {
		return "", 0, err
	}
	return url, int64(len(out)), nil
}

func (p *Pool) handleSuccess(ctx context.Context, log *zap.Logger, job *models.ConversionJob, payload, url string, size int64, duration time.Duration) {
	won, err := p.store.Transition(ctx, job.ConversionID, models.StatusProcessing, models.StatusCompleted,
		models.RecordUpdate{ConvertedFileURL: &url, FileSize: &size})
	if err != nil {
		log.Error("failed to update record to completed", zap.Error(err))
		return
	}
	if !won {
		log.Warn("record left processing before completion was committed")
		if err := p.queue.Drop(ctx, payload); err != nil {
			log.Warn("failed to drop entry", zap.Error(err))
		}
		return
	}
	if err := p.queue.Complete(ctx, payload, job.ConversionID); err != nil {
		log.Warn("failed to remove completed job from processing queue", zap.Error(err))
	}

	p.notify(ctx, log, services.EventCompleted, job.ConversionID)
	log.Info("conversion completed",
		zap.Int64("file_size", size),
		zap.Duration("duration", duration),
	)
}

func (p *Pool) handleJobFailure(ctx context.Context, log *zap.Logger, job *models.ConversionJob, payload string, cause error) {
	limit := job.MaxRetries
	if limit <= 0 {
		limit = p.cfg.MaxRetries
	}

	if apperrors.IsTransient(cause) && job.Attempt < limit {
		retry := job.Retry(p.now())
		next, err := retry.Marshal()
		if err != nil {
			log.Error("failed to encode retry", zap.Error(err))
			return
		}
		won, err := p.store.Transition(ctx, job.ConversionID, models.StatusProcessing, models.StatusPending, models.RecordUpdate{})
		if err != nil || !won {
			log.Error("failed to return record to pending", zap.Error(err), zap.Bool("won", won))
			return
		}
		delay := Backoff(retry.Attempt, p.cfg.RetryBaseDelay, p.cfg.RetryMaxDelay)
		if err := p.queue.Defer(ctx, payload, next, p.now().Add(delay)); err != nil {
			log.Error("failed to schedule retry", zap.Error(err))
			return
		}
		log.Warn("conversion failed, retry scheduled",
			zap.Error(cause),
			zap.Int("retry", retry.Attempt),
			zap.Int("max_retries", limit),
			zap.Duration("delay", delay),
		)
		return
	}

	if !apperrors.Classified(cause) {
		p.capture(cause, job)
	}
	msg := apperrors.UserMessage(cause)
	won, err := p.store.Transition(ctx, job.ConversionID, models.StatusProcessing, models.StatusFailed,
		models.RecordUpdate{ErrorMessage: &msg})
	if err != nil {
		log.Error("failed to update record to failed", zap.Error(err))
		return
	}
	if !won {
		log.Warn("record left processing before failure was committed")
		if err := p.queue.Drop(ctx, payload); err != nil {
			log.Warn("failed to drop entry", zap.Error(err))
		}
		return
	}
	if err := p.queue.Fail(ctx, payload, job.ConversionID); err != nil {
		log.Warn("failed to move job to failed queue", zap.Error(err))
	}

	p.notify(ctx, log, services.EventFailed, job.ConversionID)
	log.Error("conversion failed",
		zap.Error(cause),
		zap.Bool("transient", apperrors.IsTransient(cause)),
		zap.Int("attempts", job.Attempt+1),
	)
}

// handleInterrupted returns a job cut off by shutdown to the queue without
// spending a retry.
func (p *Pool) handleInterrupted(ctx context.Context, log *zap.Logger, job *models.ConversionJob, payload string) {
	won, err := p.store.Transition(ctx, job.ConversionID, models.StatusProcessing, models.StatusPending, models.RecordUpdate{})
	if err != nil || !won {
		log.Error("failed to return interrupted conversion to pending", zap.Error(err), zap.Bool("won", won))
		return
	}
	if _, err := p.queue.Requeue(ctx, payload); err != nil {
		log.Error("failed to requeue interrupted conversion", zap.Error(err))
		return
	}
	log.Warn("conversion interrupted by shutdown, requeued")
}

// notify runs after the terminal commit. Sink failures are logged only.
func (p *Pool) notify(ctx context.Context, log *zap.Logger, event services.Event, id string) {
	rec, err := p.store.Get(ctx, id)
	if err != nil {
		log.Warn("failed to load record for notification", zap.Error(err))
		return
	}
	if err := p.notifier.Notify(ctx, event, services.NotificationFor(rec)); err != nil {
		log.Warn("notification failed", zap.String("event", string(event)), zap.Error(err))
	}
}

// Backoff returns the wait before retry number attempt (1-based):
// base, 2*base, 4*base, ... capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (p *Pool) PromoteLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.PromoteDue(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("failed to promote delayed jobs", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Debug("promoted delayed jobs", zap.Int("count", n))
			}
		}
	}
}

func captureUnclassified(err error, job *models.ConversionJob) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("conversion_id", job.ConversionID)
		scope.SetTag("source_format", job.SourceFormat)
		scope.SetTag("target_format", job.TargetFormat)
		sentry.CaptureException(err)
	})
}
