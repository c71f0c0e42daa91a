package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"social-agent-console/internal/models"
)

const jobColumns = `id, account_id, action_type, payload, priority, status, attempt_count,
	scheduled_for, claim_owner, claimed_at, last_error, error_category, created_at, updated_at`

// EnqueueParams collects inputs required to insert a job.
type EnqueueParams struct {
	AccountID    string
	Payload      models.JobPayload
	Priority     models.Priority
	ScheduledFor time.Time
}

// Enqueue validates the payload against its action-type schema and inserts a
// pending job. It fails only on malformed payloads.
func (s *Store) Enqueue(ctx context.Context, p EnqueueParams) (models.Job, error) {
	raw, err := models.EncodePayload(p.Payload)
	if err != nil {
		return models.Job{}, err
	}
	if p.Priority == "" {
		p.Priority = models.PriorityNormal
	}
	runAt := p.ScheduledFor
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO outbound_jobs (id, account_id, action_type, payload, priority, status, attempt_count, scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
	`, id, p.AccountID, p.Payload.ActionType(), raw, p.Priority, models.JobPending, runAt, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", id, "enqueued", map[string]any{
		"account_id":  p.AccountID,
		"action_type": p.Payload.ActionType(),
		"priority":    p.Priority,
	}); err != nil {
		return models.Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:           id,
		AccountID:    p.AccountID,
		ActionType:   p.Payload.ActionType(),
		Payload:      raw,
		Priority:     p.Priority,
		Status:       models.JobPending,
		ScheduledFor: runAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM outbound_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status     models.JobStatus
	ActionType models.ActionType
	AccountID  string
	Limit      int
	Offset     int
}

// ListJobs returns jobs newest first, filtered and paginated.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM outbound_jobs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR action_type = $2)
		  AND ($3 = '' OR account_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, string(f.Status), string(f.ActionType), f.AccountID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ClaimNext atomically claims up to maxBatch due jobs for workerID.
// Selection order is priority desc, scheduled_for asc, created_at asc.
// Accounts in excluded (rate-limit cool-down) and accounts that already have
// a job processing are skipped, so execution within an account stays serial.
// Claimed publish_post jobs flip their originating post to publishing in the
// same transaction.
func (s *Store) ClaimNext(ctx context.Context, workerID string, maxBatch int, excluded []string) ([]models.Job, error) {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	if excluded == nil {
		excluded = []string{}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		WITH due AS (
			SELECT j.id FROM outbound_jobs j
			WHERE j.status = 'pending'
			  AND j.scheduled_for <= NOW()
			  AND j.account_id <> ALL($2::text[])
			  AND NOT EXISTS (
				SELECT 1 FROM outbound_jobs p
				WHERE p.account_id = j.account_id AND p.status = 'processing'
			  )
			  -- only each account's head job, so one batch cannot put two
			  -- jobs of the same account in flight
			  AND NOT EXISTS (
				SELECT 1 FROM outbound_jobs q
				WHERE q.account_id = j.account_id
				  AND q.status = 'pending'
				  AND q.scheduled_for <= NOW()
				  AND (CASE q.priority WHEN 'high' THEN 0 ELSE 1 END, q.scheduled_for, q.created_at, q.id)
					< (CASE j.priority WHEN 'high' THEN 0 ELSE 1 END, j.scheduled_for, j.created_at, j.id)
			  )
			ORDER BY CASE j.priority WHEN 'high' THEN 0 ELSE 1 END,
				j.scheduled_for ASC, j.created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbound_jobs j
		SET status = 'processing', claim_owner = $1, claimed_at = NOW(), updated_at = NOW()
		FROM due WHERE j.id = due.id
		RETURNING `+jobColumns, workerID, excluded, maxBatch)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	var claimed []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, job := range claimed {
		if err := appendAudit(ctx, tx, "outbound_jobs", job.ID, "claimed", map[string]any{
			"worker": workerID,
		}); err != nil {
			return nil, err
		}
		if job.ActionType != models.ActionPublishPost {
			continue
		}
		postID, err := publishPostID(job)
		if err != nil {
			return nil, err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE scheduled_posts SET status = 'publishing', updated_at = NOW()
			WHERE id = $1 AND status = 'approved'
		`, postID)
		if err != nil {
			return nil, fmt.Errorf("mark post publishing: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if err := appendAudit(ctx, tx, "scheduled_posts", postID, "publishing", map[string]any{
				"job_id": job.ID,
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// CompleteJob marks a processing job completed. A publish_post job flips its
// post to published in the same transaction, so a worker crash can never
// leave a published post stuck in publishing.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobProcessing {
		return fmt.Errorf("complete job %s from %s: %w", jobID, job.Status, ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbound_jobs
		SET status = 'completed', claim_owner = NULL, claimed_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", jobID, "completed", nil); err != nil {
		return err
	}

	if job.ActionType == models.ActionPublishPost {
		postID, err := publishPostID(job)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE scheduled_posts SET status = 'published', updated_at = NOW()
			WHERE id = $1 AND status = 'publishing'
		`, postID)
		if err != nil {
			return fmt.Errorf("mark post published: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if err := appendAudit(ctx, tx, "scheduled_posts", postID, "published", map[string]any{
				"job_id": jobID,
			}); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// RetryJob returns a processing job to pending after a retryable failure.
// attempt_count increments exactly once and scheduled_for only ever moves
// forward.
func (s *Store) RetryJob(ctx context.Context, jobID string, delay time.Duration, errMsg string, cat models.ErrorCategory) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE outbound_jobs
		SET status = 'pending',
			attempt_count = attempt_count + 1,
			scheduled_for = GREATEST(scheduled_for, NOW() + $2::interval),
			claim_owner = NULL, claimed_at = NULL,
			last_error = $3, error_category = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, delay, errMsg, cat)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry job %s: %w", jobID, ErrInvalidTransition)
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", jobID, "retry_scheduled", map[string]any{
		"category": cat,
		"delay":    delay.String(),
		"error":    errMsg,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeadLetterParams describes a terminal failure and its side effects.
type DeadLetterParams struct {
	JobID             string
	ErrMsg            string
	Category          models.ErrorCategory
	AlertType         models.AlertType
	AlertMessage      string
	DisconnectAccount bool
}

// DeadLetterJob moves a job to dlq and applies its side effects in one
// transaction: the operator alert, the account disconnect on auth failures,
// and the originating post's failed status for publish_post jobs. The
// account is never left retriable against a credential known to be dead.
func (s *Store) DeadLetterJob(ctx context.Context, p DeadLetterParams) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := lockJob(ctx, tx, p.JobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobProcessing {
		return fmt.Errorf("dead-letter job %s from %s: %w", p.JobID, job.Status, ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbound_jobs
		SET status = 'dlq', attempt_count = attempt_count + 1,
			claim_owner = NULL, claimed_at = NULL,
			last_error = $2, error_category = $3, updated_at = NOW()
		WHERE id = $1
	`, p.JobID, p.ErrMsg, p.Category)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", p.JobID, "dead_lettered", map[string]any{
		"category": p.Category,
		"error":    p.ErrMsg,
		"alert":    p.AlertType,
	}); err != nil {
		return err
	}

	if p.AlertType != "" {
		if err := insertAlert(ctx, tx, job.AccountID, p.AlertType, p.AlertMessage, &job.ID); err != nil {
			return err
		}
	}

	if p.DisconnectAccount {
		if _, err := tx.Exec(ctx, `
			UPDATE agent_accounts SET connected = FALSE, updated_at = NOW() WHERE id = $1
		`, job.AccountID); err != nil {
			return fmt.Errorf("disconnect account: %w", err)
		}
		if err := appendAudit(ctx, tx, "agent_accounts", job.AccountID, "disconnected", map[string]any{
			"job_id": job.ID,
		}); err != nil {
			return err
		}
	}

	if job.ActionType == models.ActionPublishPost {
		postID, err := publishPostID(job)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE scheduled_posts SET status = 'failed', updated_at = NOW()
			WHERE id = $1 AND status IN ('approved', 'publishing')
		`, postID)
		if err != nil {
			return fmt.Errorf("mark post failed: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if err := appendAudit(ctx, tx, "scheduled_posts", postID, "failed", map[string]any{
				"job_id": job.ID,
			}); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// CancelJob cancels a job while it is still pending. Once claimed, jobs run
// to a terminal state; in-flight provider calls are never killed.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobPending {
		return fmt.Errorf("cancel job %s from %s: %w", jobID, job.Status, ErrInvalidTransition)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM outbound_jobs WHERE id = $1
	`, jobID); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", jobID, "cancelled", nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RequeueJob is the explicit operator override for a dead-lettered job:
// attempts reset to zero and the job becomes pending again. Never automatic.
func (s *Store) RequeueJob(ctx context.Context, jobID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE outbound_jobs
		SET status = 'pending', attempt_count = 0, scheduled_for = NOW(),
			last_error = NULL, error_category = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dlq'
	`, jobID)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("requeue job %s: %w", jobID, ErrInvalidTransition)
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", jobID, "requeued", map[string]any{
		"operator_override": true,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReapExpiredClaims returns abandoned claims to pending. A claim older than
// the timeout with no terminal transition means the worker died mid-job.
func (s *Store) ReapExpiredClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE outbound_jobs
		SET status = 'pending', claim_owner = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < NOW() - $1::interval
		RETURNING id
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reap claims: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := appendAudit(ctx, tx, "outbound_jobs", id, "claim_reaped", nil); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// PendingDepth counts jobs ready to claim right now.
func (s *Store) PendingDepth(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbound_jobs WHERE status = 'pending' AND scheduled_for <= NOW()
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

func lockJob(ctx context.Context, tx pgx.Tx, id string) (models.Job, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM outbound_jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func publishPostID(job models.Job) (string, error) {
	payload, err := models.DecodePayload(models.ActionPublishPost, job.Payload)
	if err != nil {
		return "", err
	}
	return payload.(models.PublishPostPayload).PostID, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var claimOwner, lastErr, category pgtype.Text
	var claimedAt pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.AccountID, &job.ActionType, &job.Payload, &job.Priority,
		&job.Status, &job.AttemptCount, &job.ScheduledFor, &claimOwner, &claimedAt,
		&lastErr, &category, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	job.ClaimOwner = textPtr(claimOwner)
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	job.LastError = textPtr(lastErr)
	job.ErrorCategory = categoryPtr(category)
	return job, nil
}
