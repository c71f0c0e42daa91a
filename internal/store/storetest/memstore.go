// Package storetest provides an in-memory store fake implementing the
// surfaces the dispatcher and both state-machine services consume. Tests
// inject it instead of Postgres; it mirrors the transactional semantics of
// the real store, including all-or-nothing side effects.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

// MemStore is a mutex-guarded fake of the durable store.
type MemStore struct {
	mu sync.Mutex

	Jobs     map[string]*models.Job
	Posts    map[string]*models.ScheduledPost
	Reviews  map[string]*models.AttributionReview
	Attribs  map[string]*models.SalesAttribution
	Accounts map[string]*models.AgentAccount
	Weights  map[string]models.ModelWeights
	Alerts   []models.SystemAlert
	Audit    []models.AuditLogEntry

	// Now lets tests control the clock.
	Now func() time.Time

	// FailPoint, when set, runs before a multi-write transition commits.
	// Returning an error simulates a crash: none of the transition's writes
	// may be visible afterwards.
	FailPoint func(op string) error
}

func NewMemStore() *MemStore {
	return &MemStore{
		Jobs:     map[string]*models.Job{},
		Posts:    map[string]*models.ScheduledPost{},
		Reviews:  map[string]*models.AttributionReview{},
		Attribs:  map[string]*models.SalesAttribution{},
		Accounts: map[string]*models.AgentAccount{},
		Weights:  map[string]models.ModelWeights{},
		Now:      time.Now,
	}
}

// AddAccount seeds a connected account.
func (m *MemStore) AddAccount(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[id] = &models.AgentAccount{ID: id, Handle: "@" + id, Connected: true}
}

func (m *MemStore) appendAudit(table, recordID, action string, changes map[string]any) {
	m.Audit = append(m.Audit, models.AuditLogEntry{
		ID:         uuid.New().String(),
		TableName:  table,
		RecordID:   recordID,
		Action:     action,
		Changes:    changes,
		RecordedAt: m.Now(),
	})
}

func (m *MemStore) failpoint(op string) error {
	if m.FailPoint != nil {
		return m.FailPoint(op)
	}
	return nil
}

// Enqueue mirrors store.Enqueue.
func (m *MemStore) Enqueue(_ context.Context, p store.EnqueueParams) (models.Job, error) {
	raw, err := models.EncodePayload(p.Payload)
	if err != nil {
		return models.Job{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	priority := p.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	now := m.Now()
	runAt := p.ScheduledFor
	if runAt.IsZero() {
		runAt = now
	}
	job := models.Job{
		ID:           uuid.New().String(),
		AccountID:    p.AccountID,
		ActionType:   p.Payload.ActionType(),
		Payload:      raw,
		Priority:     priority,
		Status:       models.JobPending,
		ScheduledFor: runAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.Jobs[job.ID] = &job
	m.appendAudit("outbound_jobs", job.ID, "enqueued", nil)
	return job, nil
}

// GetJob returns a copy of the job.
func (m *MemStore) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return *job, nil
}

// ClaimNext mirrors the store's atomic claim query.
func (m *MemStore) ClaimNext(_ context.Context, workerID string, maxBatch int, excluded []string) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxBatch <= 0 {
		maxBatch = 1
	}
	now := m.Now()
	skip := map[string]bool{}
	for _, id := range excluded {
		skip[id] = true
	}
	processing := map[string]bool{}
	for _, j := range m.Jobs {
		if j.Status == models.JobProcessing {
			processing[j.AccountID] = true
		}
	}

	var due []*models.Job
	for _, j := range m.Jobs {
		if j.Status != models.JobPending || j.ScheduledFor.After(now) {
			continue
		}
		if skip[j.AccountID] || processing[j.AccountID] {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(a, b int) bool {
		ja, jb := due[a], due[b]
		if ja.Priority != jb.Priority {
			return ja.Priority == models.PriorityHigh
		}
		if !ja.ScheduledFor.Equal(jb.ScheduledFor) {
			return ja.ScheduledFor.Before(jb.ScheduledFor)
		}
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.Before(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})

	var claimed []models.Job
	claimedAccounts := map[string]bool{}
	for _, j := range due {
		if len(claimed) >= maxBatch {
			break
		}
		// One in-flight job per account, even within a batch.
		if claimedAccounts[j.AccountID] {
			continue
		}
		j.Status = models.JobProcessing
		owner := workerID
		at := now
		j.ClaimOwner = &owner
		j.ClaimedAt = &at
		j.UpdatedAt = now
		claimedAccounts[j.AccountID] = true
		m.appendAudit("outbound_jobs", j.ID, "claimed", map[string]any{"worker": workerID})

		if j.ActionType == models.ActionPublishPost {
			if postID, err := publishPostID(*j); err == nil {
				if post, ok := m.Posts[postID]; ok && post.Status == models.PostApproved {
					post.Status = models.PostPublishing
					m.appendAudit("scheduled_posts", postID, "publishing", nil)
				}
			}
		}
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

// CompleteJob mirrors store.CompleteJob's joint job+post write.
func (m *MemStore) CompleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.Jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	if job.Status != models.JobProcessing {
		return fmt.Errorf("complete job %s from %s: %w", jobID, job.Status, store.ErrInvalidTransition)
	}
	if err := m.failpoint("complete"); err != nil {
		return err
	}

	job.Status = models.JobCompleted
	job.ClaimOwner = nil
	job.ClaimedAt = nil
	job.LastError = nil
	job.UpdatedAt = m.Now()
	m.appendAudit("outbound_jobs", jobID, "completed", nil)

	if job.ActionType == models.ActionPublishPost {
		if postID, err := publishPostID(*job); err == nil {
			if post, ok := m.Posts[postID]; ok && post.Status == models.PostPublishing {
				post.Status = models.PostPublished
				m.appendAudit("scheduled_posts", postID, "published", nil)
			}
		}
	}
	return nil
}

// RetryJob mirrors store.RetryJob, including monotonic scheduled_for.
func (m *MemStore) RetryJob(_ context.Context, jobID string, delay time.Duration, errMsg string, cat models.ErrorCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.Jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	if job.Status != models.JobProcessing {
		return fmt.Errorf("retry job %s from %s: %w", jobID, job.Status, store.ErrInvalidTransition)
	}

	now := m.Now()
	next := now.Add(delay)
	if job.ScheduledFor.After(next) {
		next = job.ScheduledFor
	}
	job.Status = models.JobPending
	job.AttemptCount++
	job.ScheduledFor = next
	job.ClaimOwner = nil
	job.ClaimedAt = nil
	job.LastError = &errMsg
	job.ErrorCategory = &cat
	job.UpdatedAt = now
	m.appendAudit("outbound_jobs", jobID, "retry_scheduled", map[string]any{"category": cat})
	return nil
}

// DeadLetterJob mirrors the real store's single-transaction terminal path:
// job, alert, account disconnect, and post write-back land together or not
// at all.
func (m *MemStore) DeadLetterJob(_ context.Context, p store.DeadLetterParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.Jobs[p.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", p.JobID, store.ErrNotFound)
	}
	if job.Status != models.JobProcessing {
		return fmt.Errorf("dead-letter job %s from %s: %w", p.JobID, job.Status, store.ErrInvalidTransition)
	}
	if err := m.failpoint("dead_letter"); err != nil {
		return err
	}

	now := m.Now()
	job.Status = models.JobDeadLetter
	job.AttemptCount++
	job.ClaimOwner = nil
	job.ClaimedAt = nil
	job.LastError = &p.ErrMsg
	cat := p.Category
	job.ErrorCategory = &cat
	job.UpdatedAt = now
	m.appendAudit("outbound_jobs", p.JobID, "dead_lettered", map[string]any{
		"category": p.Category,
		"alert":    p.AlertType,
	})

	if p.AlertType != "" {
		jobID := job.ID
		m.Alerts = append(m.Alerts, models.SystemAlert{
			ID:        uuid.New().String(),
			AccountID: job.AccountID,
			Type:      p.AlertType,
			Message:   p.AlertMessage,
			JobID:     &jobID,
			CreatedAt: now,
		})
	}
	if p.DisconnectAccount {
		if acct, ok := m.Accounts[job.AccountID]; ok {
			acct.Connected = false
			m.appendAudit("agent_accounts", job.AccountID, "disconnected", nil)
		}
	}
	if job.ActionType == models.ActionPublishPost {
		if postID, err := publishPostID(*job); err == nil {
			if post, ok := m.Posts[postID]; ok &&
				(post.Status == models.PostApproved || post.Status == models.PostPublishing) {
				post.Status = models.PostFailed
				m.appendAudit("scheduled_posts", postID, "failed", nil)
			}
		}
	}
	return nil
}

// ReapExpiredClaims returns stale processing jobs to pending.
func (m *MemStore) ReapExpiredClaims(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.Now().Add(-olderThan)
	count := 0
	for _, j := range m.Jobs {
		if j.Status == models.JobProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			j.Status = models.JobPending
			j.ClaimOwner = nil
			j.ClaimedAt = nil
			count++
			m.appendAudit("outbound_jobs", j.ID, "claim_reaped", nil)
		}
	}
	return count, nil
}

// PendingDepth counts due pending jobs.
func (m *MemStore) PendingDepth(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	var n int64
	for _, j := range m.Jobs {
		if j.Status == models.JobPending && !j.ScheduledFor.After(now) {
			n++
		}
	}
	return n, nil
}

// CancelJob mirrors store.CancelJob.
func (m *MemStore) CancelJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	if job.Status != models.JobPending {
		return fmt.Errorf("cancel job %s from %s: %w", jobID, job.Status, store.ErrInvalidTransition)
	}
	delete(m.Jobs, jobID)
	m.appendAudit("outbound_jobs", jobID, "cancelled", nil)
	return nil
}

// RequeueJob mirrors the operator DLQ override.
func (m *MemStore) RequeueJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
	}
	if job.Status != models.JobDeadLetter {
		return fmt.Errorf("requeue job %s from %s: %w", jobID, job.Status, store.ErrInvalidTransition)
	}
	job.Status = models.JobPending
	job.AttemptCount = 0
	job.ScheduledFor = m.Now()
	job.LastError = nil
	job.ErrorCategory = nil
	m.appendAudit("outbound_jobs", jobID, "requeued", nil)
	return nil
}

func publishPostID(job models.Job) (string, error) {
	payload, err := models.DecodePayload(models.ActionPublishPost, job.Payload)
	if err != nil {
		return "", err
	}
	return payload.(models.PublishPostPayload).PostID, nil
}
