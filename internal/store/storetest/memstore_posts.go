package storetest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

// CreatePost mirrors store.CreatePost.
func (m *MemStore) CreatePost(_ context.Context, p store.CreatePostParams) (models.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mods := p.AgentModifications
	if mods == nil {
		mods = []models.AgentModification{}
	}
	now := m.Now()
	post := models.ScheduledPost{
		ID:                 uuid.New().String(),
		AccountID:          p.AccountID,
		Caption:            p.Caption,
		MediaURL:           p.MediaURL,
		Status:             models.PostPending,
		AgentModifications: mods,
		SelectionFactors:   p.SelectionFactors,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.Posts[post.ID] = &post
	m.appendAudit("scheduled_posts", post.ID, "drafted", nil)
	return post, nil
}

func (m *MemStore) GetPost(_ context.Context, id string) (models.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.Posts[id]
	if !ok {
		return models.ScheduledPost{}, fmt.Errorf("post %s: %w", id, store.ErrNotFound)
	}
	return *post, nil
}

// ApprovePost mirrors the joint post-update plus publish-job insert.
func (m *MemStore) ApprovePost(_ context.Context, postID string) (models.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, ok := m.Posts[postID]
	if !ok {
		return models.ScheduledPost{}, fmt.Errorf("post %s: %w", postID, store.ErrNotFound)
	}
	if post.Status != models.PostPending {
		return models.ScheduledPost{}, fmt.Errorf("approve post %s from %s: %w", postID, post.Status, store.ErrInvalidTransition)
	}

	raw, err := models.EncodePayload(models.PublishPostPayload{
		PostID:   post.ID,
		Caption:  post.Caption,
		MediaURL: post.MediaURL,
	})
	if err != nil {
		return models.ScheduledPost{}, err
	}

	now := m.Now()
	job := models.Job{
		ID:           uuid.New().String(),
		AccountID:    post.AccountID,
		ActionType:   models.ActionPublishPost,
		Payload:      raw,
		Priority:     models.PriorityNormal,
		Status:       models.JobPending,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.Jobs[job.ID] = &job

	post.Status = models.PostApproved
	post.JobID = &job.ID
	post.UpdatedAt = now
	m.appendAudit("scheduled_posts", postID, "approved", map[string]any{"job_id": job.ID})
	m.appendAudit("outbound_jobs", job.ID, "enqueued", map[string]any{"post_id": postID})
	return *post, nil
}

func (m *MemStore) RejectPost(_ context.Context, postID string) (models.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, ok := m.Posts[postID]
	if !ok {
		return models.ScheduledPost{}, fmt.Errorf("post %s: %w", postID, store.ErrNotFound)
	}
	if post.Status != models.PostPending {
		return models.ScheduledPost{}, fmt.Errorf("reject post %s from %s: %w", postID, post.Status, store.ErrInvalidTransition)
	}
	post.Status = models.PostRejected
	post.UpdatedAt = m.Now()
	if post.JobID != nil {
		if job, ok := m.Jobs[*post.JobID]; ok && job.Status == models.JobPending {
			delete(m.Jobs, job.ID)
			m.appendAudit("outbound_jobs", job.ID, "cancelled", nil)
		}
	}
	m.appendAudit("scheduled_posts", postID, "rejected", nil)
	return *post, nil
}

func (m *MemStore) SetPostPreview(_ context.Context, postID, previewKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.Posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, store.ErrNotFound)
	}
	post.PreviewKey = previewKey
	post.UpdatedAt = m.Now()
	return nil
}

// InsertAttribution mirrors store.InsertAttribution.
func (m *MemStore) InsertAttribution(_ context.Context, p store.InsertAttributionParams) (models.SalesAttribution, *models.AttributionReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := p.Attribution
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = m.Now()
	m.Attribs[a.ID] = &a

	var review *models.AttributionReview
	if p.NeedsReview {
		r := models.AttributionReview{
			ID:            uuid.New().String(),
			AttributionID: a.ID,
			AccountID:     a.AccountID,
			ReviewStatus:  models.ReviewPending,
			FraudRisk:     p.FraudRisk,
			CreatedAt:     a.CreatedAt,
		}
		m.Reviews[r.ID] = &r
		m.appendAudit("attribution_reviews", r.ID, "queued", map[string]any{"attribution_id": a.ID})
		review = &r
	}
	return a, review, nil
}

func (m *MemStore) GetReview(_ context.Context, id string) (models.AttributionReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	review, ok := m.Reviews[id]
	if !ok {
		return models.AttributionReview{}, fmt.Errorf("review %s: %w", id, store.ErrNotFound)
	}
	return *review, nil
}

// SetReviewStatus mirrors the idempotent decision semantics: same decision is
// a no-op, a conflicting decision on a settled row errors.
func (m *MemStore) SetReviewStatus(_ context.Context, reviewID string, status models.ReviewStatus, note *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status != models.ReviewApproved && status != models.ReviewRejected {
		return false, fmt.Errorf("set review status %q: %w", status, store.ErrInvalidTransition)
	}
	review, ok := m.Reviews[reviewID]
	if !ok {
		return false, fmt.Errorf("review %s: %w", reviewID, store.ErrNotFound)
	}
	if review.ReviewStatus == status {
		return false, nil
	}
	if review.ReviewStatus != models.ReviewPending {
		return false, fmt.Errorf("review %s already %s: %w", reviewID, review.ReviewStatus, store.ErrInvalidTransition)
	}
	now := m.Now()
	review.ReviewStatus = status
	review.ReviewerNote = note
	review.ReviewedAt = &now
	m.appendAudit("attribution_reviews", reviewID, string(status), nil)
	return true, nil
}

func (m *MemStore) ListReviewedSince(_ context.Context, accountID string, since time.Time) ([]store.ReviewedAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.ReviewedAggregate
	for _, r := range m.Reviews {
		if r.AccountID != accountID || r.ReviewStatus == models.ReviewPending {
			continue
		}
		if r.ReviewedAt == nil || r.ReviewedAt.Before(since) {
			continue
		}
		a, ok := m.Attribs[r.AttributionID]
		if !ok {
			continue
		}
		out = append(out, store.ReviewedAggregate{Review: *r, Attribution: *a})
	}
	return out, nil
}

func (m *MemStore) GetModelWeights(_ context.Context, accountID string) (models.AttributionModel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.Weights[accountID]
	if !ok {
		return models.AttributionModel{}, false, nil
	}
	return models.AttributionModel{AccountID: accountID, Weights: w, UpdatedAt: m.Now()}, true, nil
}

func (m *MemStore) UpsertModelWeights(_ context.Context, accountID string, w models.ModelWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Weights[accountID] = w
	return nil
}
