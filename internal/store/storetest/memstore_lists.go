package storetest

import (
	"context"
	"sort"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ListJobs mirrors the store's newest-first listing.
func (m *MemStore) ListJobs(_ context.Context, f store.JobFilter) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for _, j := range m.Jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.ActionType != "" && j.ActionType != f.ActionType {
			continue
		}
		if f.AccountID != "" && j.AccountID != f.AccountID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), nil
}

// ListPosts mirrors the store's newest-first listing.
func (m *MemStore) ListPosts(_ context.Context, f store.PostFilter) ([]models.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ScheduledPost
	for _, p := range m.Posts {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.AccountID != "" && p.AccountID != f.AccountID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), nil
}

// ListReviews mirrors the store's oldest-first backlog ordering.
func (m *MemStore) ListReviews(_ context.Context, f store.ReviewFilter) ([]models.AttributionReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AttributionReview
	for _, r := range m.Reviews {
		if f.Status != "" && r.ReviewStatus != f.Status {
			continue
		}
		if f.AccountID != "" && r.AccountID != f.AccountID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), nil
}

// ListAlerts mirrors the store's newest-first listing.
func (m *MemStore) ListAlerts(_ context.Context, f store.AlertFilter) ([]models.SystemAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.SystemAlert
	for _, a := range m.Alerts {
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.AccountID != "" && a.AccountID != f.AccountID {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), nil
}

// ListAudit mirrors the store's oldest-first history ordering.
func (m *MemStore) ListAudit(_ context.Context, f store.AuditFilter) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AuditLogEntry
	for _, e := range m.Audit {
		if f.TableName != "" && e.TableName != f.TableName {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, f.Limit, f.Offset), nil
}
