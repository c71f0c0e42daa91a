// Package provider is the outbound boundary to the social platform API: one
// call per action type, results passed verbatim to the classifier.
package provider

import (
	"context"
	"time"

	"social-agent-console/internal/credentials"
	"social-agent-console/internal/models"
)

// Response is the raw outcome of a provider call. StatusCode and Code feed
// the classifier unchanged; RetryAfter is the provider's backoff hint when
// it throttled the request.
type Response struct {
	StatusCode int
	Code       int
	Message    string
	ExternalID string
	RetryAfter *time.Duration
}

// OK reports whether the call succeeded.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues one provider call per action type. A returned error means
// the request never produced an HTTP response (network failure, timeout) and
// is classified transient by the dispatcher.
type Client interface {
	ReplyComment(ctx context.Context, cred credentials.Credential, p models.ReplyCommentPayload) (Response, error)
	ReplyDM(ctx context.Context, cred credentials.Credential, p models.ReplyDMPayload) (Response, error)
	SendDM(ctx context.Context, cred credentials.Credential, p models.SendDMPayload) (Response, error)
	PublishPost(ctx context.Context, cred credentials.Credential, p models.PublishPostPayload) (Response, error)
	RepostUGC(ctx context.Context, cred credentials.Credential, p models.RepostUGCPayload) (Response, error)
}
