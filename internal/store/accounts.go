package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"social-agent-console/internal/models"
)

// UpsertAccount registers or refreshes an agent account projection.
func (s *Store) UpsertAccount(ctx context.Context, id, handle string) (models.AgentAccount, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_accounts (id, handle, connected, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $3)
		ON CONFLICT (id) DO UPDATE SET handle = EXCLUDED.handle, updated_at = NOW()
	`, id, handle, now)
	if err != nil {
		return models.AgentAccount{}, fmt.Errorf("upsert account: %w", err)
	}
	return s.GetAccount(ctx, id)
}

// GetAccount fetches an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (models.AgentAccount, error) {
	var a models.AgentAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, handle, connected, created_at, updated_at FROM agent_accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Handle, &a.Connected, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AgentAccount{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.AgentAccount{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListAccountIDs returns every registered account id. The learning job uses
// it to drive its per-account passes.
func (s *Store) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM agent_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetDisconnected flips the connect flag off outside the dead-letter path,
// e.g. when the credential resolver reports a revoked token before any
// provider call was made.
func (s *Store) SetDisconnected(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE agent_accounts SET connected = FALSE, updated_at = NOW() WHERE id = $1 AND connected
	`, id)
	if err != nil {
		return fmt.Errorf("disconnect account: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if err := appendAudit(ctx, tx, "agent_accounts", id, "disconnected", nil); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
