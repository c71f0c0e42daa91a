package models

import (
	"fmt"
	"time"
)

// ReviewStatus enumerates the attribution review states. The machine is flat:
// pending moves to approved or rejected and nothing further.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Touchpoint is one ordered step in a customer journey.
type Touchpoint struct {
	Kind       string    `json:"kind"`
	Reference  string    `json:"reference,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SalesAttribution holds the per-model scores an external scorer computed for
// one order, plus the journey it scored.
type SalesAttribution struct {
	ID              string       `json:"id"`
	AccountID       string       `json:"account_id"`
	OrderID         string       `json:"order_id"`
	RevenueCents    int64        `json:"revenue_cents"`
	FirstTouchScore float64      `json:"first_touch_score"`
	LastTouchScore  float64      `json:"last_touch_score"`
	LinearScore     float64      `json:"linear_score"`
	TimeDecayScore  float64      `json:"time_decay_score"`
	JourneyTimeline []Touchpoint `json:"journey_timeline"`
	CreatedAt       time.Time    `json:"created_at"`
}

// AttributionReview is the human checkpoint for a low-confidence or
// fraud-flagged attribution.
type AttributionReview struct {
	ID            string       `json:"id"`
	AttributionID string       `json:"attribution_id"`
	AccountID     string       `json:"account_id"`
	ReviewStatus  ReviewStatus `json:"review_status"`
	FraudRisk     bool         `json:"fraud_risk"`
	ReviewerNote  *string      `json:"reviewer_note,omitempty"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ModelWeights are the four attribution model weights. Non-negative, and by
// convention summing to 1.0. Only the periodic learning job writes them;
// review decisions never touch weights directly.
type ModelWeights struct {
	FirstTouch float64 `json:"first_touch"`
	LastTouch  float64 `json:"last_touch"`
	Linear     float64 `json:"linear"`
	TimeDecay  float64 `json:"time_decay"`
}

// Validate rejects negative weights. The sum-to-one convention is not
// enforced structurally.
func (w ModelWeights) Validate() error {
	if w.FirstTouch < 0 || w.LastTouch < 0 || w.Linear < 0 || w.TimeDecay < 0 {
		return fmt.Errorf("model weights must be non-negative: %+v", w)
	}
	return nil
}

// Combined applies the weights to an attribution's per-model scores.
func (w ModelWeights) Combined(a SalesAttribution) float64 {
	return w.FirstTouch*a.FirstTouchScore +
		w.LastTouch*a.LastTouchScore +
		w.Linear*a.LinearScore +
		w.TimeDecay*a.TimeDecayScore
}

// AttributionModel is the persisted weights row for an account.
type AttributionModel struct {
	AccountID string       `json:"account_id"`
	Weights   ModelWeights `json:"weights"`
	UpdatedAt time.Time    `json:"updated_at"`
}
