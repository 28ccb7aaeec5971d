package worker

import (
	"context"
	"errors"
	"time"

	"fileconvert/models"
	"fileconvert/services"

	"go.uber.org/zap"
)

const sweepBatch = 100

type SweepResult struct {
	// Requeued counts records taken back from processing.
	Requeued int
	// Reclaimed counts entries claimed but never started.
	Reclaimed int
	// Released counts entries whose record is terminal or gone.
	Released int
	// Failed counts records that stalled once too often and were failed.
	Failed int
}

const stalledMessage = "Conversion stopped responding and exceeded the liveness threshold too many times."

func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	p.logger.Info("starting stale job recovery loop", zap.Duration("interval", p.cfg.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recovery loop shutting down")
			return
		case <-ticker.C:
			res, err := p.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("recovery sweep failed", zap.Error(err))
			}
			if res.Requeued+res.Reclaimed+res.Released+res.Failed > 0 {
				p.logger.Info("recovery sweep finished",
					zap.Int("requeued", res.Requeued),
					zap.Int("reclaimed", res.Reclaimed),
					zap.Int("released", res.Released),
					zap.Int("failed", res.Failed),
				)
			}
		}
	}
}

// Sweep reconciles the processing list with the record store. Records stuck
// in processing past the liveness threshold go back to pending through a
// conditional transition, so concurrent sweeps requeue each one once. Each
// requeue spends a retry; a record out of retries is failed instead.
func (p *Pool) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := p.now().Add(-p.cfg.LivenessThreshold)

	entries, err := p.claimedEntries(ctx)
	if err != nil {
		return res, err
	}

	stale, err := p.store.ListStale(ctx, models.StatusProcessing, cutoff, sweepBatch)
	if err != nil {
		return res, err
	}
	for _, rec := range stale {
		log := p.logger.With(zap.String("conversion_id", rec.ID))
		payload, claimed := entries[rec.ID]
		job := p.staleJob(rec, payload, claimed)

		limit := job.MaxRetries
		if limit <= 0 {
			limit = p.cfg.MaxRetries
		}
		if job.Attempt >= limit {
			if p.expire(ctx, log, rec, job, payload, claimed) {
				res.Failed++
			}
			continue
		}

		won, err := p.store.Transition(ctx, rec.ID, models.StatusProcessing, models.StatusPending, models.RecordUpdate{})
		if err != nil {
			log.Warn("failed to requeue stale conversion", zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		retry := job.Retry(p.now())
		if claimed {
			var next string
			if next, err = retry.Marshal(); err == nil {
				_, err = p.queue.Replace(ctx, payload, next)
			}
		} else {
			err = p.queue.Push(ctx, &retry)
		}
		if err != nil {
			log.Error("record requeued but queue push failed", zap.Error(err))
			continue
		}
		log.Warn("requeued stale conversion",
			zap.Time("updated_at", rec.UpdatedAt),
			zap.Int("retry", retry.Attempt),
			zap.Int("max_retries", limit),
		)
		res.Requeued++
	}

	payloads, err := p.queue.Processing(ctx)
	if err != nil {
		return res, err
	}
	for _, payload := range payloads {
		job, err := models.ParseJob(payload)
		if err != nil {
			if err := p.queue.Drop(ctx, payload); err == nil {
				res.Released++
			}
			continue
		}
		rec, err := p.store.Get(ctx, job.ConversionID)
		switch {
		case errors.Is(err, services.ErrNotFound):
		case err != nil:
			continue
		case rec.Status.IsTerminal():
		case rec.Status == models.StatusPending:
			if p.reclaim(ctx, payload, cutoff) {
				res.Reclaimed++
			}
			continue
		default:
			continue
		}
		if err := p.queue.Drop(ctx, payload); err != nil {
			continue
		}
		if err := p.queue.Release(ctx, job.ConversionID); err == nil {
			res.Released++
		}
	}
	return res, nil
}

// staleJob returns the claimed job for rec, rebuilding it when the entry is lost.
func (p *Pool) staleJob(rec *models.ConversionRecord, payload string, claimed bool) *models.ConversionJob {
	if claimed {
		if job, err := models.ParseJob(payload); err == nil {
			return job
		}
	}
	return jobFromRecord(rec, p.cfg.MaxRetries, p.now())
}

// expire fails a stalled record that has no retries left.
func (p *Pool) expire(ctx context.Context, log *zap.Logger, rec *models.ConversionRecord, job *models.ConversionJob, payload string, claimed bool) bool {
	msg := stalledMessage
	won, err := p.store.Transition(ctx, rec.ID, models.StatusProcessing, models.StatusFailed,
		models.RecordUpdate{ErrorMessage: &msg})
	if err != nil {
		log.Warn("failed to fail stalled conversion", zap.Error(err))
		return false
	}
	if !won {
		return false
	}
	if !claimed {
		// The rebuilt entry still lands on the failed list for inspection.
		if payload, err = job.Marshal(); err != nil {
			payload = rec.ID
		}
	}
	if err := p.queue.Fail(ctx, payload, rec.ID); err != nil {
		log.Warn("failed to move stalled job to failed queue", zap.Error(err))
	}
	p.notify(ctx, log, services.EventFailed, rec.ID)
	log.Error("stalled conversion failed", zap.Int("attempts", rec.Attempts))
	return true
}

// reclaim requeues an entry claimed before cutoff whose worker never moved
// the record to processing.
func (p *Pool) reclaim(ctx context.Context, payload string, cutoff time.Time) bool {
	claimedAt, err := p.queue.ClaimedAt(ctx, payload)
	if err != nil {
		return false
	}
	if claimedAt.IsZero() {
		_ = p.queue.MarkClaimed(ctx, payload)
		return false
	}
	if !claimedAt.Before(cutoff) {
		return false
	}
	moved, err := p.queue.Requeue(ctx, payload)
	return err == nil && moved
}

func (p *Pool) claimedEntries(ctx context.Context) (map[string]string, error) {
	payloads, err := p.queue.Processing(ctx)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string, len(payloads))
	for _, payload := range payloads {
		job, err := models.ParseJob(payload)
		if err != nil {
			continue
		}
		entries[job.ConversionID] = payload
	}
	return entries, nil
}

// jobFromRecord rebuilds a queue entry when the original payload is lost.
// Per-job options survive only in the payload, so defaults apply.
func jobFromRecord(rec *models.ConversionRecord, maxRetries int, now time.Time) *models.ConversionJob {
	attempt := rec.Attempts - 1
	if attempt < 0 {
		attempt = 0
	}
	return &models.ConversionJob{
		ConversionID:     rec.ID,
		UserID:           rec.UserID,
		OriginalFileURL:  rec.OriginalFileURL,
		OriginalFileName: rec.OriginalFileName,
		SourceFormat:     rec.SourceFormat,
		TargetFormat:     rec.TargetFormat,
		Attempt:          attempt,
		MaxRetries:       maxRetries,
		EnqueuedAt:       now,
	}
}
