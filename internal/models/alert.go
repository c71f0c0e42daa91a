package models

import (
	"time"
)

// AlertType enumerates operator-attention signals. Alerts are write-only for
// this core; the dashboard reads them.
type AlertType string

const (
	AlertAuthFailure      AlertType = "auth_failure"
	AlertRateLimit        AlertType = "rate_limit"
	AlertContentViolation AlertType = "content_violation"
	AlertAgentDown        AlertType = "agent_down"
	AlertSyncFailure      AlertType = "sync_failure"
)

// SystemAlert is a terminal signal requiring operator action.
type SystemAlert struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	JobID     *string   `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLogEntry is one append-only record of a state transition across jobs,
// posts, and attribution reviews. Changes carries enough context to
// reconstruct history without replaying application logic.
type AuditLogEntry struct {
	ID         string         `json:"id"`
	TableName  string         `json:"table_name"`
	RecordID   string         `json:"record_id"`
	Action     string         `json:"action"`
	Changes    map[string]any `json:"changes,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}
