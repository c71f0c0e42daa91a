// Package classify reduces raw provider API failures to the five error
// categories the dispatcher's retry policy understands. It is a pure lookup
// with no side effects.
package classify

import (
	"net/http"

	"social-agent-console/internal/models"
)

// Provider error codes observed across the five action types. Codes take
// precedence over the HTTP status when both are present.
var codeTable = map[int]models.ErrorCategory{
	// Token invalid, expired, or revoked by the user.
	102: models.CategoryAuthFailure,
	190: models.CategoryAuthFailure,
	463: models.CategoryAuthFailure,
	467: models.CategoryAuthFailure,

	// Application or account level throttling.
	4:   models.CategoryRateLimit,
	17:  models.CategoryRateLimit,
	32:  models.CategoryRateLimit,
	613: models.CategoryRateLimit,

	// Structurally invalid requests: bad parameter, missing permission,
	// target gone, or content rejected on policy grounds.
	10:  models.CategoryPermanent,
	24:  models.CategoryPermanent,
	100: models.CategoryPermanent,
	110: models.CategoryPermanent,
	368: models.CategoryPermanent,
	803: models.CategoryPermanent,

	// Intermittent provider-side failures the docs say to retry.
	1: models.CategoryTransient,
	2: models.CategoryTransient,
}

// Codes whose permanent classification stems from a policy rejection rather
// than a malformed request. These surface as content_violation alerts.
var policyCodes = map[int]bool{
	24:  true,
	368: true,
}

// Classify maps a raw API failure to an error category. providerCode zero
// means the response carried no provider error body.
func Classify(httpStatus, providerCode int) models.ErrorCategory {
	if cat, ok := codeTable[providerCode]; ok {
		return cat
	}
	switch {
	case httpStatus == http.StatusUnauthorized:
		return models.CategoryAuthFailure
	case httpStatus == http.StatusTooManyRequests:
		return models.CategoryRateLimit
	case httpStatus == http.StatusBadRequest,
		httpStatus == http.StatusForbidden,
		httpStatus == http.StatusNotFound,
		httpStatus == http.StatusUnprocessableEntity:
		return models.CategoryPermanent
	case httpStatus >= 500 && httpStatus <= 599:
		return models.CategoryTransient
	}
	return models.CategoryUnknown
}

// PolicyViolation reports whether a permanent failure stems from a content
// policy rejection, which alerts as content_violation instead of
// sync_failure.
func PolicyViolation(providerCode int) bool {
	return policyCodes[providerCode]
}
