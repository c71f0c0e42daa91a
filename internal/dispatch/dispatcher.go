// Package dispatch runs the worker loop that drains the outbound queue: it
// claims due jobs, invokes the provider API, classifies failures, and
// applies the retry-or-dead-letter policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"social-agent-console/internal/classify"
	"social-agent-console/internal/credentials"
	"social-agent-console/internal/models"
	"social-agent-console/internal/provider"
	"social-agent-console/internal/store"
	"social-agent-console/internal/telemetry"
)

// Store is the durable queue surface the dispatcher drives. *store.Store
// satisfies it; tests inject a fake.
type Store interface {
	ClaimNext(ctx context.Context, workerID string, maxBatch int, excluded []string) ([]models.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID string, delay time.Duration, errMsg string, cat models.ErrorCategory) error
	DeadLetterJob(ctx context.Context, p store.DeadLetterParams) error
	ReapExpiredClaims(ctx context.Context, olderThan time.Duration) (int, error)
	PendingDepth(ctx context.Context) (int64, error)
}

// Cooldowns is the shared account cool-down state.
type Cooldowns interface {
	Active(ctx context.Context) ([]string, error)
	Open(ctx context.Context, accountID string, d time.Duration) error
}

// Options tune one dispatcher worker.
type Options struct {
	WorkerID     string
	PollInterval time.Duration
	BatchSize    int
	ClaimTimeout time.Duration
}

// Dispatcher is a single worker. Run several with distinct worker IDs for a
// pool; the store's atomic claim keeps them from colliding.
type Dispatcher struct {
	opts      Options
	store     Store
	cooldowns Cooldowns
	creds     credentials.Resolver
	client    provider.Client
	policy    RetryPolicy
	logger    *zap.Logger

	// wake cuts poll latency for high-priority enqueues. Optional.
	wake <-chan struct{}
}

func New(opts Options, st Store, cd Cooldowns, creds credentials.Resolver, client provider.Client, policy RetryPolicy, logger *zap.Logger) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		opts:      opts,
		store:     st,
		cooldowns: cd,
		creds:     creds,
		client:    client,
		policy:    policy,
		logger:    logger.With(zap.String("worker", opts.WorkerID)),
	}
}

// SetWake attaches the high-priority wake channel before Run.
func (d *Dispatcher) SetWake(ch <-chan struct{}) {
	d.wake = ch
}

// Run polls until the context is cancelled. Polling is the floor guarantee;
// wake signals only shorten the wait.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		d.cycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// cycle runs one reap-claim-process pass.
func (d *Dispatcher) cycle(ctx context.Context) {
	if reaped, err := d.store.ReapExpiredClaims(ctx, d.opts.ClaimTimeout); err != nil {
		d.logger.Warn("reap expired claims", zap.Error(err))
	} else if reaped > 0 {
		d.logger.Info("reclaimed abandoned jobs", zap.Int("count", reaped))
	}

	if depth, err := d.store.PendingDepth(ctx); err == nil {
		telemetry.PendingDepthGauge.Set(float64(depth))
	}

	excluded, err := d.cooldowns.Active(ctx)
	if err != nil {
		d.logger.Warn("read cooldowns", zap.Error(err))
		excluded = nil
	}
	telemetry.CooldownGauge.Set(float64(len(excluded)))

	jobs, err := d.store.ClaimNext(ctx, d.opts.WorkerID, d.opts.BatchSize, excluded)
	if err != nil {
		d.logger.Error("claim jobs", zap.Error(err))
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		d.processJob(ctx, job)
	}
}

// processJob executes one claimed job through to a store transition.
func (d *Dispatcher) processJob(ctx context.Context, job models.Job) {
	telemetry.DispatchedCounter.Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	payload, err := models.DecodePayload(job.ActionType, job.Payload)
	if err != nil {
		// Enqueue validates payloads, so this only happens on schema drift.
		d.finishFailure(ctx, job, models.CategoryPermanent, 0, nil, fmt.Sprintf("undecodable payload: %v", err))
		return
	}

	cred, err := d.creds.Resolve(ctx, job.AccountID)
	if err != nil {
		if errors.Is(err, credentials.ErrAuthFailed) {
			d.finishFailure(ctx, job, models.CategoryAuthFailure, 0, nil, err.Error())
			return
		}
		// Token service unreachable: retryable, not the account's fault.
		d.finishFailure(ctx, job, models.CategoryTransient, 0, nil, err.Error())
		return
	}

	resp, err := d.call(ctx, cred, payload)
	if err != nil {
		d.finishFailure(ctx, job, models.CategoryTransient, 0, nil, err.Error())
		return
	}
	if resp.OK() {
		if err := d.store.CompleteJob(ctx, job.ID); err != nil {
			d.logger.Error("complete job", zap.String("job", job.ID), zap.Error(err))
			return
		}
		telemetry.CompletedCounter.Inc()
		d.logger.Info("job completed",
			zap.String("job", job.ID),
			zap.String("action", string(job.ActionType)),
			zap.String("external_id", resp.ExternalID))
		return
	}

	cat := classify.Classify(resp.StatusCode, resp.Code)
	msg := fmt.Sprintf("provider %d (code %d): %s", resp.StatusCode, resp.Code, resp.Message)
	d.finishFailure(ctx, job, cat, resp.Code, resp.RetryAfter, msg)
}

// call dispatches on the payload variant. Exhaustive over all action types.
func (d *Dispatcher) call(ctx context.Context, cred credentials.Credential, payload models.JobPayload) (provider.Response, error) {
	switch p := payload.(type) {
	case models.ReplyCommentPayload:
		return d.client.ReplyComment(ctx, cred, p)
	case models.ReplyDMPayload:
		return d.client.ReplyDM(ctx, cred, p)
	case models.SendDMPayload:
		return d.client.SendDM(ctx, cred, p)
	case models.PublishPostPayload:
		return d.client.PublishPost(ctx, cred, p)
	case models.RepostUGCPayload:
		return d.client.RepostUGC(ctx, cred, p)
	}
	return provider.Response{}, fmt.Errorf("unhandled payload variant %T", payload)
}

// finishFailure applies the retry-or-dead-letter policy for one failed
// attempt.
func (d *Dispatcher) finishFailure(ctx context.Context, job models.Job, cat models.ErrorCategory, providerCode int, retryAfter *time.Duration, msg string) {
	attempt := job.AttemptCount + 1
	delay := d.policy.Delay(cat, job.AttemptCount, retryAfter)

	if cat == models.CategoryRateLimit {
		// Account-wide cool-down: other pending jobs for this account stop
		// being claimed until the window passes, so retries cannot compound
		// the limit.
		if err := d.cooldowns.Open(ctx, job.AccountID, delay); err != nil {
			d.logger.Warn("open cooldown", zap.String("account", job.AccountID), zap.Error(err))
		}
	}

	if d.policy.ShouldRetry(cat, attempt) {
		if err := d.store.RetryJob(ctx, job.ID, delay, msg, cat); err != nil {
			d.logger.Error("schedule retry", zap.String("job", job.ID), zap.Error(err))
			return
		}
		telemetry.RetriedCounter.Inc()
		d.logger.Warn("job retry scheduled",
			zap.String("job", job.ID),
			zap.String("category", string(cat)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		return
	}

	alert := alertFor(cat, providerCode)
	err := d.store.DeadLetterJob(ctx, store.DeadLetterParams{
		JobID:             job.ID,
		ErrMsg:            msg,
		Category:          cat,
		AlertType:         alert,
		AlertMessage:      fmt.Sprintf("%s job %s dead-lettered after %d attempt(s)", job.ActionType, job.ID, attempt),
		DisconnectAccount: cat == models.CategoryAuthFailure,
	})
	if err != nil {
		d.logger.Error("dead-letter job", zap.String("job", job.ID), zap.Error(err))
		return
	}
	telemetry.DeadLetterCounter.WithLabelValues(string(cat)).Inc()
	telemetry.AlertCounter.WithLabelValues(string(alert)).Inc()
	d.logger.Error("job dead-lettered",
		zap.String("job", job.ID),
		zap.String("category", string(cat)),
		zap.Int("attempt", attempt))
}
