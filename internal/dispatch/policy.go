package dispatch

import (
	"math"
	"time"

	"social-agent-console/internal/classify"
	"social-agent-console/internal/models"
)

// RetryPolicy decides, per error category, whether a failed attempt retries
// and after what delay. The category fully determines the policy; nothing
// provider-specific leaks past the classifier.
type RetryPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultRetryPolicy matches the documented schedule: 1s base doubling to a
// 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: time.Second, Cap: 30 * time.Second}
}

// MaxRetries returns the retry ceiling for a category. Unknown failures get
// a stricter ceiling than transient ones; auth and permanent never retry.
func (p RetryPolicy) MaxRetries(cat models.ErrorCategory) int {
	switch cat {
	case models.CategoryTransient, models.CategoryRateLimit:
		return 3
	case models.CategoryUnknown:
		return 2
	case models.CategoryAuthFailure, models.CategoryPermanent:
		return 0
	}
	return 0
}

// ShouldRetry reports whether the attempt that just failed (attempt is the
// 1-based count including it) stays under the category's ceiling.
func (p RetryPolicy) ShouldRetry(cat models.ErrorCategory, attempt int) bool {
	return attempt <= p.MaxRetries(cat)
}

// Delay computes the backoff before the next attempt. A provider-supplied
// retry-after hint overrides the computed schedule for rate limits.
func (p RetryPolicy) Delay(cat models.ErrorCategory, attemptsSoFar int, retryAfter *time.Duration) time.Duration {
	if cat == models.CategoryRateLimit && retryAfter != nil {
		return *retryAfter
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attemptsSoFar)))
	if d > cap || d <= 0 {
		d = cap
	}
	return d
}

// alertFor maps a terminal failure to the operator alert it raises.
// Transient and unknown exhaustion read as sync failures; a permanent
// failure reads as a content violation only when the provider rejected on
// policy grounds.
func alertFor(cat models.ErrorCategory, providerCode int) models.AlertType {
	switch cat {
	case models.CategoryAuthFailure:
		return models.AlertAuthFailure
	case models.CategoryRateLimit:
		return models.AlertRateLimit
	case models.CategoryPermanent:
		if classify.PolicyViolation(providerCode) {
			return models.AlertContentViolation
		}
		return models.AlertSyncFailure
	}
	return models.AlertSyncFailure
}
