package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"social-agent-console/internal/models"
)

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Type      models.AlertType
	AccountID string
	Limit     int
	Offset    int
}

// ListAlerts returns alerts newest first, filtered and paginated.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]models.SystemAlert, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, type, message, job_id, created_at FROM system_alerts
		WHERE ($1 = '' OR type = $1)
		  AND ($2 = '' OR account_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(f.Type), f.AccountID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	var out []models.SystemAlert
	for rows.Next() {
		var a models.SystemAlert
		var jobID pgtype.Text
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Type, &a.Message, &jobID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.JobID = textPtr(jobID)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	TableName string
	RecordID  string
	Limit     int
	Offset    int
}

// ListAudit returns audit entries oldest first so a record's history reads
// top to bottom.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]models.AuditLogEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, table_name, record_id, action, changes, recorded_at FROM audit_log
		WHERE ($1 = '' OR table_name = $1)
		  AND ($2 = '' OR record_id = $2)
		ORDER BY recorded_at ASC
		LIMIT $3 OFFSET $4
	`, f.TableName, f.RecordID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var changesJSON []byte
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Action, &changesJSON, &e.RecordedAt); err != nil {
			return nil, err
		}
		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &e.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal audit changes: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
