package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"social-agent-console/internal/models"
)

// InsertAttributionParams collects the scorer's output for one order. The
// review row is created only when the scorer flagged the attribution for a
// human checkpoint.
type InsertAttributionParams struct {
	Attribution models.SalesAttribution
	NeedsReview bool
	FraudRisk   bool
}

// InsertAttribution persists a scored attribution and, when flagged, its
// pending review row. Entry conditions (confidence threshold, fraud flag)
// belong to the external scoring collaborator.
func (s *Store) InsertAttribution(ctx context.Context, p InsertAttributionParams) (models.SalesAttribution, *models.AttributionReview, error) {
	a := p.Attribution
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	timelineJSON, err := json.Marshal(a.JourneyTimeline)
	if err != nil {
		return models.SalesAttribution{}, nil, fmt.Errorf("marshal journey: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.SalesAttribution{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	a.CreatedAt = now
	_, err = tx.Exec(ctx, `
		INSERT INTO sales_attributions (id, account_id, order_id, revenue_cents, first_touch_score, last_touch_score, linear_score, time_decay_score, journey_timeline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.AccountID, a.OrderID, a.RevenueCents, a.FirstTouchScore, a.LastTouchScore, a.LinearScore, a.TimeDecayScore, timelineJSON, now)
	if err != nil {
		return models.SalesAttribution{}, nil, fmt.Errorf("insert attribution: %w", err)
	}

	var review *models.AttributionReview
	if p.NeedsReview {
		r := models.AttributionReview{
			ID:            uuid.New().String(),
			AttributionID: a.ID,
			AccountID:     a.AccountID,
			ReviewStatus:  models.ReviewPending,
			FraudRisk:     p.FraudRisk,
			CreatedAt:     now,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO attribution_reviews (id, attribution_id, account_id, review_status, fraud_risk, created_at)
			VALUES ($1, $2, $3, 'pending', $4, $5)
		`, r.ID, r.AttributionID, r.AccountID, r.FraudRisk, now)
		if err != nil {
			return models.SalesAttribution{}, nil, fmt.Errorf("insert review: %w", err)
		}
		if err := appendAudit(ctx, tx, "attribution_reviews", r.ID, "queued", map[string]any{
			"attribution_id": a.ID,
			"fraud_risk":     p.FraudRisk,
		}); err != nil {
			return models.SalesAttribution{}, nil, err
		}
		review = &r
	}

	if err := tx.Commit(ctx); err != nil {
		return models.SalesAttribution{}, nil, fmt.Errorf("commit: %w", err)
	}
	return a, review, nil
}

// GetReview fetches an attribution review by id.
func (s *Store) GetReview(ctx context.Context, id string) (models.AttributionReview, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, attribution_id, account_id, review_status, fraud_risk, reviewer_note, reviewed_at, created_at
		FROM attribution_reviews WHERE id = $1
	`, id)
	review, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AttributionReview{}, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	return review, err
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	Status    models.ReviewStatus
	AccountID string
	Limit     int
	Offset    int
}

// ListReviews returns reviews oldest first so the operator sees the backlog
// in arrival order.
func (s *Store) ListReviews(ctx context.Context, f ReviewFilter) ([]models.AttributionReview, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, attribution_id, account_id, review_status, fraud_risk, reviewer_note, reviewed_at, created_at
		FROM attribution_reviews
		WHERE ($1 = '' OR review_status = $1)
		  AND ($2 = '' OR account_id = $2)
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4
	`, string(f.Status), f.AccountID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	var out []models.AttributionReview
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, review)
	}
	return out, rows.Err()
}

// SetReviewStatus applies an operator decision. Re-submitting the same
// decision is a no-op (changed=false) so a double-submit from a slow UI does
// not error or duplicate audit rows. A conflicting decision on a settled row
// is an invalid transition. Decisions never touch model weights.
func (s *Store) SetReviewStatus(ctx context.Context, reviewID string, status models.ReviewStatus, note *string) (bool, error) {
	if status != models.ReviewApproved && status != models.ReviewRejected {
		return false, fmt.Errorf("set review status %q: %w", status, ErrInvalidTransition)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, attribution_id, account_id, review_status, fraud_risk, reviewer_note, reviewed_at, created_at
		FROM attribution_reviews WHERE id = $1 FOR UPDATE
	`, reviewID)
	review, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("review %s: %w", reviewID, ErrNotFound)
	}
	if err != nil {
		return false, err
	}

	if review.ReviewStatus == status {
		return false, nil
	}
	if review.ReviewStatus != models.ReviewPending {
		return false, fmt.Errorf("review %s already %s: %w", reviewID, review.ReviewStatus, ErrInvalidTransition)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE attribution_reviews
		SET review_status = $2, reviewer_note = $3, reviewed_at = NOW()
		WHERE id = $1
	`, reviewID, status, note); err != nil {
		return false, fmt.Errorf("update review: %w", err)
	}
	if err := appendAudit(ctx, tx, "attribution_reviews", reviewID, string(status), map[string]any{
		"attribution_id": review.AttributionID,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit review: %w", err)
	}
	return true, nil
}

// ReviewedAggregate is what the learning job reads: settled reviews joined
// with their attribution scores.
type ReviewedAggregate struct {
	Review      models.AttributionReview
	Attribution models.SalesAttribution
}

// ListReviewedSince returns settled reviews for an account after the cutoff.
func (s *Store) ListReviewedSince(ctx context.Context, accountID string, since time.Time) ([]ReviewedAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.attribution_id, r.account_id, r.review_status, r.fraud_risk, r.reviewer_note, r.reviewed_at, r.created_at,
			a.id, a.account_id, a.order_id, a.revenue_cents, a.first_touch_score, a.last_touch_score, a.linear_score, a.time_decay_score, a.journey_timeline, a.created_at
		FROM attribution_reviews r
		JOIN sales_attributions a ON a.id = r.attribution_id
		WHERE r.account_id = $1 AND r.review_status <> 'pending' AND r.reviewed_at >= $2
		ORDER BY r.reviewed_at ASC
	`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("list reviewed: %w", err)
	}
	defer rows.Close()

	var out []ReviewedAggregate
	for rows.Next() {
		var agg ReviewedAggregate
		var note pgtype.Text
		var reviewedAt pgtype.Timestamptz
		var timelineJSON []byte
		if err := rows.Scan(
			&agg.Review.ID, &agg.Review.AttributionID, &agg.Review.AccountID, &agg.Review.ReviewStatus,
			&agg.Review.FraudRisk, &note, &reviewedAt, &agg.Review.CreatedAt,
			&agg.Attribution.ID, &agg.Attribution.AccountID, &agg.Attribution.OrderID, &agg.Attribution.RevenueCents,
			&agg.Attribution.FirstTouchScore, &agg.Attribution.LastTouchScore, &agg.Attribution.LinearScore,
			&agg.Attribution.TimeDecayScore, &timelineJSON, &agg.Attribution.CreatedAt,
		); err != nil {
			return nil, err
		}
		agg.Review.ReviewerNote = textPtr(note)
		if reviewedAt.Valid {
			t := reviewedAt.Time
			agg.Review.ReviewedAt = &t
		}
		if err := json.Unmarshal(timelineJSON, &agg.Attribution.JourneyTimeline); err != nil {
			return nil, fmt.Errorf("unmarshal journey: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// GetModelWeights returns the account's current weights, or false when the
// learning job has not written any yet.
func (s *Store) GetModelWeights(ctx context.Context, accountID string) (models.AttributionModel, bool, error) {
	var m models.AttributionModel
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, first_touch, last_touch, linear, time_decay, updated_at
		FROM attribution_model_weights WHERE account_id = $1
	`, accountID).Scan(&m.AccountID, &m.Weights.FirstTouch, &m.Weights.LastTouch, &m.Weights.Linear, &m.Weights.TimeDecay, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AttributionModel{}, false, nil
	}
	if err != nil {
		return models.AttributionModel{}, false, fmt.Errorf("get weights: %w", err)
	}
	return m, true, nil
}

// UpsertModelWeights writes the learning job's output. Only that job calls
// this; the review flow never does.
func (s *Store) UpsertModelWeights(ctx context.Context, accountID string, w models.ModelWeights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attribution_model_weights (account_id, first_touch, last_touch, linear, time_decay, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET first_touch = EXCLUDED.first_touch, last_touch = EXCLUDED.last_touch,
			linear = EXCLUDED.linear, time_decay = EXCLUDED.time_decay, updated_at = NOW()
	`, accountID, w.FirstTouch, w.LastTouch, w.Linear, w.TimeDecay)
	if err != nil {
		return fmt.Errorf("upsert weights: %w", err)
	}
	return nil
}

func scanReview(row pgx.Row) (models.AttributionReview, error) {
	var review models.AttributionReview
	var note pgtype.Text
	var reviewedAt pgtype.Timestamptz
	if err := row.Scan(&review.ID, &review.AttributionID, &review.AccountID, &review.ReviewStatus,
		&review.FraudRisk, &note, &reviewedAt, &review.CreatedAt); err != nil {
		return models.AttributionReview{}, err
	}
	review.ReviewerNote = textPtr(note)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		review.ReviewedAt = &t
	}
	return review, nil
}
