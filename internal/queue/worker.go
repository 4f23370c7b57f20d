// Package queue runs the store-backed background worker that turns queued
// initiation jobs into provider submissions. Durable retry lives here, in the
// jobs table; in-process transient retry is the resilience package's job.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jusbridge/casesync/internal/config"
	"github.com/jusbridge/casesync/internal/enrich"
	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/resilience"
	"github.com/jusbridge/casesync/internal/store"
)

// Worker claims due jobs and executes them, rate-limited against the
// provider's per-minute allowance.
type Worker struct {
	store      store.Store
	initiator  *enrich.Initiator
	bookkeeper *enrich.Bookkeeper
	cfg        config.QueueConfig
	limiter    *rate.Limiter
	claimRetry resilience.RetryConfig
}

// NewWorker creates a Worker. ratePerMinute caps provider submissions across
// all worker goroutines.
func NewWorker(st store.Store, initiator *enrich.Initiator, bookkeeper *enrich.Bookkeeper, cfg config.QueueConfig, ratePerMinute int) *Worker {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}

	claimRetry := resilience.FromQueueConfig(cfg.MaxAttempts, 0)
	// Claim failures are store hiccups (lock contention, failover), not
	// domain errors, so every one is worth a short in-process retry.
	claimRetry.ShouldRetry = func(error) bool { return true }
	claimRetry.InitialBackoff = 100 * time.Millisecond
	claimRetry.OnRetry = resilience.RetryLogger("store", "claim_next_job")

	return &Worker{
		store:      st,
		initiator:  initiator,
		bookkeeper: bookkeeper,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1),
		claimRetry: claimRetry,
	}
}

// Enqueue registers an initiation job for asynchronous execution.
func (w *Worker) Enqueue(ctx context.Context, input enrich.InitiationInput) (*model.Job, error) {
	if input.Purpose == "" {
		input.Purpose = model.PurposeOnboarding
	}
	payload, err := json.Marshal(model.InitiationJob{
		CNJ:     input.CNJ,
		CaseID:  input.CaseID,
		Purpose: input.Purpose,
	})
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal job payload")
	}

	job, err := w.store.EnqueueJob(ctx, model.JobKindInitiate, payload, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrap(err, "queue: enqueue job")
	}
	zap.L().Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("cnj", input.CNJ),
		zap.String("case_id", input.CaseID),
	)
	return job, nil
}

// Run polls for due jobs until ctx is cancelled. cfg.Workers goroutines share
// the queue; the store's claim is atomic, so a job is only ever picked once.
func (w *Worker) Run(ctx context.Context) error {
	workers := w.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	interval := time.Duration(w.cfg.PollSecs) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}

	zap.L().Info("worker started",
		zap.Int("workers", workers),
		zap.Duration("poll_interval", interval),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
					zap.L().Error("draining queue failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// Drain claims and executes due jobs until the queue is empty.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		job, err := resilience.DoVal(ctx, w.claimRetry, func(ctx context.Context) (*model.Job, error) {
			return w.store.ClaimNextJob(ctx)
		})
		if err != nil {
			return eris.Wrap(err, "queue: claim next job")
		}
		if job == nil {
			return nil
		}
		w.process(ctx, job)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (w *Worker) process(ctx context.Context, job *model.Job) {
	if err := w.limiter.Wait(ctx); err != nil {
		// Shutdown mid-wait: put the job back for the next run.
		w.reschedule(ctx, job, "worker stopped before execution")
		return
	}

	switch job.Kind {
	case model.JobKindInitiate:
		w.runInitiation(ctx, job)
	default:
		zap.L().Error("unknown job kind", zap.String("job_id", job.ID), zap.String("kind", job.Kind))
		w.failTerminal(ctx, job, "unknown job kind "+job.Kind)
	}
}

func (w *Worker) runInitiation(ctx context.Context, job *model.Job) {
	var payload model.InitiationJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Undecodable payloads never succeed; retrying would only burn
		// attempts.
		w.failTerminal(ctx, job, "undecodable payload: "+err.Error())
		return
	}

	// Attempt does not charge the case; the job table carries the retries.
	// The per-case budget is consumed once, when the job fails terminally,
	// so the two retry layers stay independent.
	result := w.initiator.Attempt(ctx, enrich.InitiationInput{
		CNJ:     payload.CNJ,
		CaseID:  payload.CaseID,
		Purpose: payload.Purpose,
	})
	if !result.Success {
		if job.Attempts >= w.cfg.MaxAttempts {
			w.failTerminal(ctx, job, result.Error)
			if err := w.bookkeeper.RecordError(ctx, result.CaseID, model.StageEnrichment, "", result.Error); err != nil {
				zap.L().Error("recording terminal job failure failed",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			}
			return
		}
		w.reschedule(ctx, job, result.Error)
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		zap.L().Error("completing job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	zap.L().Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("request_id", result.RequestID),
		zap.Int64("duration_ms", result.DurationMS),
	)
}

// reschedule applies the durable retry policy: delay with backoff while the
// job has attempts left, fail terminally once the ceiling is hit. The claim
// already counted this attempt.
func (w *Worker) reschedule(ctx context.Context, job *model.Job, msg string) {
	if job.Attempts >= w.cfg.MaxAttempts {
		w.failTerminal(ctx, job, msg)
		return
	}

	retryAt := time.Now().UTC().Add(w.backoff(job.Attempts))
	if err := w.store.FailJob(ctx, job.ID, msg, &retryAt); err != nil {
		zap.L().Error("rescheduling job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	zap.L().Warn("job delayed for retry",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.Time("retry_at", retryAt),
		zap.String("error", msg),
	)
}

func (w *Worker) failTerminal(ctx context.Context, job *model.Job, msg string) {
	if err := w.store.FailJob(ctx, job.ID, msg, nil); err != nil {
		zap.L().Error("failing job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	zap.L().Error("job failed terminally",
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.Attempts),
		zap.String("error", msg),
	)
}

// backoff doubles the configured base per prior attempt.
func (w *Worker) backoff(attempts int) time.Duration {
	base := time.Duration(w.cfg.BackoffSecs) * time.Second
	if attempts < 1 {
		attempts = 1
	}
	return base << (attempts - 1)
}
