// Package approval owns the content sign-off state machine: a draft sits in
// pending until an operator (or the agent's policy) approves or rejects it,
// and approval is the only path that puts a publish job on the outbound
// queue.
package approval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

// ErrInvalidDraft marks a draft rejected at intake: unjustified agent edits
// or out-of-range selection scores.
var ErrInvalidDraft = errors.New("invalid draft")

// Store is the persistence surface this service drives.
type Store interface {
	CreatePost(ctx context.Context, p store.CreatePostParams) (models.ScheduledPost, error)
	GetPost(ctx context.Context, id string) (models.ScheduledPost, error)
	ApprovePost(ctx context.Context, id string) (models.ScheduledPost, error)
	RejectPost(ctx context.Context, id string) (models.ScheduledPost, error)
	SetPostPreview(ctx context.Context, id, previewKey string) error
}

// Previewer renders a review thumbnail for a draft's media. Optional; a
// failed preview never blocks the approval flow.
type Previewer interface {
	Generate(ctx context.Context, postID, mediaURL string) (string, error)
}

// Service is the content approval state machine.
type Service struct {
	store     Store
	previewer Previewer
	logger    *zap.Logger
}

func New(st Store, previewer Previewer, logger *zap.Logger) *Service {
	return &Service{store: st, previewer: previewer, logger: logger}
}

// DraftParams is the producer input for a new pending draft.
type DraftParams struct {
	AccountID          string
	Caption            string
	MediaURL           string
	AgentModifications []models.AgentModification
	SelectionFactors   models.SelectionFactors
}

// CreateDraft validates and stores a pending draft, then best-effort
// generates its media preview.
func (s *Service) CreateDraft(ctx context.Context, p DraftParams) (models.ScheduledPost, error) {
	if p.AccountID == "" {
		return models.ScheduledPost{}, fmt.Errorf("%w: account_id required", ErrInvalidDraft)
	}
	if p.Caption == "" && p.MediaURL == "" {
		return models.ScheduledPost{}, fmt.Errorf("%w: caption or media_url required", ErrInvalidDraft)
	}
	for i, m := range p.AgentModifications {
		if m.Reason == "" {
			// Every automated edit must be justified; an unexplained diff is
			// not reviewable.
			return models.ScheduledPost{}, fmt.Errorf("%w: modification %d (%s) missing reason", ErrInvalidDraft, i, m.Field)
		}
	}
	if err := validateFactors(p.SelectionFactors); err != nil {
		return models.ScheduledPost{}, err
	}

	post, err := s.store.CreatePost(ctx, store.CreatePostParams{
		AccountID:          p.AccountID,
		Caption:            p.Caption,
		MediaURL:           p.MediaURL,
		AgentModifications: p.AgentModifications,
		SelectionFactors:   p.SelectionFactors,
	})
	if err != nil {
		return models.ScheduledPost{}, err
	}

	if s.previewer != nil && post.MediaURL != "" {
		key, err := s.previewer.Generate(ctx, post.ID, post.MediaURL)
		if err != nil {
			s.logger.Warn("media preview failed", zap.String("post", post.ID), zap.Error(err))
		} else if err := s.store.SetPostPreview(ctx, post.ID, key); err != nil {
			s.logger.Warn("store media preview", zap.String("post", post.ID), zap.Error(err))
		} else {
			post.PreviewKey = key
		}
	}
	return post, nil
}

// Approve moves a pending draft to approved and enqueues its publish_post
// job at normal priority. The post flips to publishing only when the
// dispatcher claims that job, so approval order implies nothing about
// publish order beyond the queue's own ordering.
func (s *Service) Approve(ctx context.Context, postID string) (models.ScheduledPost, error) {
	post, err := s.store.ApprovePost(ctx, postID)
	if err != nil {
		return models.ScheduledPost{}, err
	}
	s.logger.Info("post approved", zap.String("post", postID), zap.Stringp("job", post.JobID))
	return post, nil
}

// Reject terminally rejects a pending draft. No job is created; re-creation,
// not retry, is the path back.
func (s *Service) Reject(ctx context.Context, postID string) (models.ScheduledPost, error) {
	post, err := s.store.RejectPost(ctx, postID)
	if err != nil {
		return models.ScheduledPost{}, err
	}
	s.logger.Info("post rejected", zap.String("post", postID))
	return post, nil
}

func validateFactors(f models.SelectionFactors) error {
	for _, v := range []struct {
		name  string
		score int
	}{
		{"visual_quality", f.VisualQuality},
		{"engagement_potential", f.EngagementPotential},
		{"brand_alignment", f.BrandAlignment},
		{"recency", f.Recency},
		{"uniqueness", f.Uniqueness},
	} {
		if v.score < 0 || v.score > 100 {
			return fmt.Errorf("%w: %s score %d outside 0-100", ErrInvalidDraft, v.name, v.score)
		}
	}
	return nil
}
