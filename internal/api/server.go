// Package api exposes the operator surface: read access to every collection
// and the small set of mutating overrides (approve, reject, cancel,
// requeue). Raw provider error strings never leave this layer; callers see
// the error category.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-agent-console/internal/approval"
	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
	"social-agent-console/internal/telemetry"
)

// Reader is the query surface the dashboard reads from.
type Reader interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]models.Job, error)
	GetPost(ctx context.Context, id string) (models.ScheduledPost, error)
	ListPosts(ctx context.Context, f store.PostFilter) ([]models.ScheduledPost, error)
	GetReview(ctx context.Context, id string) (models.AttributionReview, error)
	ListReviews(ctx context.Context, f store.ReviewFilter) ([]models.AttributionReview, error)
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]models.SystemAlert, error)
	ListAudit(ctx context.Context, f store.AuditFilter) ([]models.AuditLogEntry, error)
}

// JobAdmin covers the producer enqueue and the operator job overrides.
type JobAdmin interface {
	Enqueue(ctx context.Context, p store.EnqueueParams) (models.Job, error)
	CancelJob(ctx context.Context, id string) error
	RequeueJob(ctx context.Context, id string) error
}

// Approvals is the content approval state machine.
type Approvals interface {
	CreateDraft(ctx context.Context, p approval.DraftParams) (models.ScheduledPost, error)
	Approve(ctx context.Context, postID string) (models.ScheduledPost, error)
	Reject(ctx context.Context, postID string) (models.ScheduledPost, error)
}

// Reviews is the attribution review state machine.
type Reviews interface {
	Approve(ctx context.Context, reviewID string, note *string) error
	Reject(ctx context.Context, reviewID string, note *string) error
}

// Waker nudges workers after a high-priority enqueue.
type Waker interface {
	Notify(ctx context.Context) error
}

// Server wires the HTTP handlers.
type Server struct {
	reader    Reader
	jobs      JobAdmin
	approvals Approvals
	reviews   Reviews
	wake      Waker
	logger    *zap.Logger
}

func New(reader Reader, jobs JobAdmin, approvals Approvals, reviews Reviews, wake Waker, logger *zap.Logger) *Server {
	return &Server{reader: reader, jobs: jobs, approvals: approvals, reviews: reviews, wake: wake, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	r.Post("/jobs/{id}/requeue", s.handleRequeueJob)

	r.Post("/posts", s.handleCreateDraft)
	r.Get("/posts", s.handleListPosts)
	r.Get("/posts/{id}", s.handleGetPost)
	r.Post("/posts/{id}/approve", s.handleApprovePost)
	r.Post("/posts/{id}/reject", s.handleRejectPost)

	r.Get("/attribution/reviews", s.handleListReviews)
	r.Get("/attribution/reviews/{id}", s.handleGetReview)
	r.Post("/attribution/reviews/{id}/approve", s.handleApproveReview)
	r.Post("/attribution/reviews/{id}/reject", s.handleRejectReview)

	r.Get("/alerts", s.handleListAlerts)
	r.Get("/audit", s.handleListAudit)
	return r
}

type enqueueRequest struct {
	AccountID    string          `json:"account_id"`
	ActionType   string          `json:"action_type"`
	Payload      json.RawMessage `json:"payload"`
	Priority     string          `json:"priority"`
	DelaySeconds int             `json:"delay_seconds"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	payload, err := models.DecodePayload(models.ActionType(req.ActionType), req.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	priority := models.Priority(req.Priority)
	if priority == "" {
		priority = models.PriorityNormal
	}
	if priority != models.PriorityHigh && priority != models.PriorityNormal {
		http.Error(w, "priority must be high or normal", http.StatusBadRequest)
		return
	}
	var runAt time.Time
	if req.DelaySeconds > 0 {
		runAt = time.Now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}

	job, err := s.jobs.Enqueue(r.Context(), store.EnqueueParams{
		AccountID:    req.AccountID,
		Payload:      payload,
		Priority:     priority,
		ScheduledFor: runAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if priority == models.PriorityHigh && s.wake != nil {
		if err := s.wake.Notify(r.Context()); err != nil {
			s.logger.Warn("wake workers", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	jobs, err := s.reader.ListJobs(r.Context(), store.JobFilter{
		Status:     models.JobStatus(r.URL.Query().Get("status")),
		ActionType: models.ActionType(r.URL.Query().Get("action_type")),
		AccountID:  r.URL.Query().Get("account_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.reader.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.CancelJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.RequeueJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

type draftRequest struct {
	AccountID          string                     `json:"account_id"`
	Caption            string                     `json:"caption"`
	MediaURL           string                     `json:"media_url"`
	AgentModifications []models.AgentModification `json:"agent_modifications"`
	SelectionFactors   models.SelectionFactors    `json:"selection_factors"`
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	post, err := s.approvals.CreateDraft(r.Context(), approval.DraftParams{
		AccountID:          req.AccountID,
		Caption:            req.Caption,
		MediaURL:           req.MediaURL,
		AgentModifications: req.AgentModifications,
		SelectionFactors:   req.SelectionFactors,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	posts, err := s.reader.ListPosts(r.Context(), store.PostFilter{
		Status:    models.PostStatus(r.URL.Query().Get("status")),
		AccountID: r.URL.Query().Get("account_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: posts})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.reader.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleApprovePost(w http.ResponseWriter, r *http.Request) {
	post, err := s.approvals.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleRejectPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.approvals.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	reviews, err := s.reader.ListReviews(r.Context(), store.ReviewFilter{
		Status:    models.ReviewStatus(r.URL.Query().Get("status")),
		AccountID: r.URL.Query().Get("account_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: reviews})
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.reader.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

type reviewDecision struct {
	Note *string `json:"note,omitempty"`
}

func (s *Server) handleApproveReview(w http.ResponseWriter, r *http.Request) {
	var req reviewDecision
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.reviews.Approve(r.Context(), chi.URLParam(r, "id"), req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleRejectReview(w http.ResponseWriter, r *http.Request) {
	var req reviewDecision
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.reviews.Reject(r.Context(), chi.URLParam(r, "id"), req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	alerts, err := s.reader.ListAlerts(r.Context(), store.AlertFilter{
		Type:      models.AlertType(r.URL.Query().Get("type")),
		AccountID: r.URL.Query().Get("account_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: alerts})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.reader.ListAudit(r.Context(), store.AuditFilter{
		TableName: r.URL.Query().Get("table"),
		RecordID:  r.URL.Query().Get("record_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: entries})
}

type listResponse struct {
	Items any `json:"items"`
}

// writeError maps domain errors to status codes. Structural errors are the
// caller's bug and come back synchronously; nothing here is retried.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidPayload), errors.Is(err, approval.ErrInvalidDraft):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
