package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"social-agent-console/internal/credentials"
	"social-agent-console/internal/models"
)

func testCred() credentials.Credential {
	return credentials.Credential{AccountID: "acct-1", AccessToken: "tok-1"}
}

func TestHTTPClient_SuccessCarriesExternalID(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"ext-42"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 0, zap.NewNop())
	resp, err := c.ReplyComment(context.Background(), testCred(), models.ReplyCommentPayload{
		CommentID: "cm-7", Message: "thanks!",
	})
	if err != nil {
		t.Fatalf("reply comment: %v", err)
	}
	if !resp.OK() || resp.ExternalID != "ext-42" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotPath != "/comments/cm-7/replies" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["message"] != "thanks!" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestHTTPClient_ErrorEnvelopeFeedsClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":190,"message":"Error validating access token"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 0, zap.NewNop())
	resp, err := c.SendDM(context.Background(), testCred(), models.SendDMPayload{
		RecipientID: "u-1", Message: "hi",
	})
	if err != nil {
		t.Fatalf("send dm: %v", err)
	}
	if resp.OK() {
		t.Fatalf("expected failure response")
	}
	if resp.StatusCode != 400 || resp.Code != 190 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Message != "Error validating access token" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestHTTPClient_NonJSONBodyStillClassifiesByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 0, zap.NewNop())
	resp, err := c.PublishPost(context.Background(), testCred(), models.PublishPostPayload{
		PostID: "p-1", Caption: "hello",
	})
	if err != nil {
		t.Fatalf("publish post: %v", err)
	}
	if resp.StatusCode != 502 || resp.Code != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHTTPClient_RetryAfterSeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":4,"message":"Application request limit reached"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 0, zap.NewNop())
	resp, err := c.RepostUGC(context.Background(), testCred(), models.RepostUGCPayload{SourceMediaID: "m-1"})
	if err != nil {
		t.Fatalf("repost: %v", err)
	}
	if resp.RetryAfter == nil || *resp.RetryAfter != 17*time.Second {
		t.Fatalf("expected 17s retry-after hint, got %v", resp.RetryAfter)
	}
	if resp.Code != 4 {
		t.Fatalf("expected throttle code, got %d", resp.Code)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter(""); d != nil {
		t.Fatalf("empty header should yield nil, got %v", d)
	}
	if d := parseRetryAfter("banana"); d != nil {
		t.Fatalf("garbage header should yield nil, got %v", d)
	}
	if d := parseRetryAfter("30"); d == nil || *d != 30*time.Second {
		t.Fatalf("expected 30s, got %v", d)
	}

	future := time.Now().Add(45 * time.Second).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d == nil || *d < 40*time.Second || *d > 45*time.Second {
		t.Fatalf("expected ~45s from HTTP date, got %v", d)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(past); d == nil || *d != 0 {
		t.Fatalf("expected clamped zero for past date, got %v", d)
	}
}

func TestHTTPClient_TransportErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	c := NewHTTPClient(srv.URL, time.Second, 0, zap.NewNop())
	_, err := c.ReplyDM(context.Background(), testCred(), models.ReplyDMPayload{ThreadID: "th-1", Message: "hi"})
	if err == nil {
		t.Fatalf("expected transport error")
	}
}
