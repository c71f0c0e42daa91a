// Package attribution owns the revenue-credit review checkpoint and the
// periodic learning job that folds reviewed outcomes back into the model
// weights. The review flow and the weight writes are strictly separated.
package attribution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

// Store is the persistence surface this service drives.
type Store interface {
	InsertAttribution(ctx context.Context, p store.InsertAttributionParams) (models.SalesAttribution, *models.AttributionReview, error)
	GetReview(ctx context.Context, id string) (models.AttributionReview, error)
	SetReviewStatus(ctx context.Context, reviewID string, status models.ReviewStatus, note *string) (bool, error)
	ListReviewedSince(ctx context.Context, accountID string, since time.Time) ([]store.ReviewedAggregate, error)
	GetModelWeights(ctx context.Context, accountID string) (models.AttributionModel, bool, error)
	UpsertModelWeights(ctx context.Context, accountID string, w models.ModelWeights) error
}

// Service is the attribution review state machine: pending moves to approved
// or rejected, nothing further.
type Service struct {
	store  Store
	logger *zap.Logger
}

func New(st Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// Ingest records a scored attribution from the external scorer. The caller
// decides whether a human checkpoint is needed (low combined confidence or a
// fraud flag); this core's contract starts at the pending review row.
func (s *Service) Ingest(ctx context.Context, a models.SalesAttribution, needsReview, fraudRisk bool) (models.SalesAttribution, *models.AttributionReview, error) {
	return s.store.InsertAttribution(ctx, store.InsertAttributionParams{
		Attribution: a,
		NeedsReview: needsReview,
		FraudRisk:   fraudRisk,
	})
}

// Approve marks a pending review approved. Idempotent: re-approving an
// already-approved row is a no-op, since a slow UI may double-submit.
func (s *Service) Approve(ctx context.Context, reviewID string, note *string) error {
	changed, err := s.store.SetReviewStatus(ctx, reviewID, models.ReviewApproved, note)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("attribution approved", zap.String("review", reviewID))
	}
	return nil
}

// Reject marks a pending review rejected. Idempotent like Approve.
func (s *Service) Reject(ctx context.Context, reviewID string, note *string) error {
	changed, err := s.store.SetReviewStatus(ctx, reviewID, models.ReviewRejected, note)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("attribution rejected", zap.String("review", reviewID))
	}
	return nil
}
