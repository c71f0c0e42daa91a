// Package store is the durable Postgres layer beneath the outbound queue and
// both review state machines. Every state transition is written together
// with its audit entry in one transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-agent-console/internal/models"
)

var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a caller attempts a state change
	// the entity's machine does not permit. It is a caller bug, rejected
	// synchronously, never queued or retried.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// appendAudit writes one immutable audit row inside the caller's transaction.
func appendAudit(ctx context.Context, tx pgx.Tx, table, recordID, action string, changes map[string]any) error {
	var changesJSON []byte
	if changes != nil {
		raw, err := json.Marshal(changes)
		if err != nil {
			return fmt.Errorf("marshal audit changes: %w", err)
		}
		changesJSON = raw
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_log (id, table_name, record_id, action, changes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), table, recordID, action, changesJSON)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// insertAlert writes a system alert inside the caller's transaction.
func insertAlert(ctx context.Context, tx pgx.Tx, accountID string, typ models.AlertType, message string, jobID *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO system_alerts (id, account_id, type, message, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), accountID, typ, message, jobID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func categoryPtr(t pgtype.Text) *models.ErrorCategory {
	if t.Valid {
		c := models.ErrorCategory(t.String)
		return &c
	}
	return nil
}
