package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"social-agent-console/internal/credentials"
	"social-agent-console/internal/models"
)

// HTTPClient talks to the provider's REST API. A process-wide pacer keeps
// outbound call volume under the app-level quota; per-account throttling is
// the cool-down set's job, not this client's.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPClient builds the client. timeout must stay shorter than the claim
// timeout so a hung call cannot hold a claim until the reaper takes it.
func NewHTTPClient(baseURL string, timeout time.Duration, callsPerSecond float64, logger *zap.Logger) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Limit(callsPerSecond)
	if callsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		pacer:      rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

func (c *HTTPClient) ReplyComment(ctx context.Context, cred credentials.Credential, p models.ReplyCommentPayload) (Response, error) {
	return c.post(ctx, cred, fmt.Sprintf("/comments/%s/replies", p.CommentID), map[string]any{
		"message": p.Message,
	})
}

func (c *HTTPClient) ReplyDM(ctx context.Context, cred credentials.Credential, p models.ReplyDMPayload) (Response, error) {
	return c.post(ctx, cred, fmt.Sprintf("/threads/%s/messages", p.ThreadID), map[string]any{
		"message": p.Message,
	})
}

func (c *HTTPClient) SendDM(ctx context.Context, cred credentials.Credential, p models.SendDMPayload) (Response, error) {
	return c.post(ctx, cred, "/messages", map[string]any{
		"recipient_id": p.RecipientID,
		"message":      p.Message,
	})
}

func (c *HTTPClient) PublishPost(ctx context.Context, cred credentials.Credential, p models.PublishPostPayload) (Response, error) {
	return c.post(ctx, cred, "/media/publish", map[string]any{
		"caption":   p.Caption,
		"media_url": p.MediaURL,
	})
}

func (c *HTTPClient) RepostUGC(ctx context.Context, cred credentials.Credential, p models.RepostUGCPayload) (Response, error) {
	return c.post(ctx, cred, fmt.Sprintf("/media/%s/repost", p.SourceMediaID), map[string]any{
		"caption": p.Caption,
	})
}

// providerError is the error envelope the platform returns on failures.
type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID string `json:"id"`
}

func (c *HTTPClient) post(ctx context.Context, cred credentials.Credential, path string, body map[string]any) (Response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("pace outbound call: %w", err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()

	out := Response{StatusCode: resp.StatusCode}
	if d := parseRetryAfter(resp.Header.Get("Retry-After")); d != nil {
		out.RetryAfter = d
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read provider response: %w", err)
	}
	var envelope providerError
	if len(payload) > 0 {
		// Non-JSON bodies are tolerated; the status code still classifies.
		_ = json.Unmarshal(payload, &envelope)
	}
	out.Code = envelope.Error.Code
	out.Message = envelope.Error.Message
	out.ExternalID = envelope.ID

	if !out.OK() {
		c.logger.Debug("provider call failed",
			zap.String("path", path),
			zap.Int("status", out.StatusCode),
			zap.Int("code", out.Code))
	}
	return out, nil
}

func parseRetryAfter(v string) *time.Duration {
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
