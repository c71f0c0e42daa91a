package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"social-agent-console/internal/models"
)

const postColumns = `id, account_id, caption, media_url, preview_key, status,
	agent_modifications, selection_factors, job_id, created_at, updated_at`

// CreatePostParams collects inputs for a new pending draft.
type CreatePostParams struct {
	AccountID          string
	Caption            string
	MediaURL           string
	AgentModifications []models.AgentModification
	SelectionFactors   models.SelectionFactors
}

// CreatePost inserts a pending draft produced by the agent's content
// selection. Validation of modifications and factors happens in the approval
// service before this is called.
func (s *Store) CreatePost(ctx context.Context, p CreatePostParams) (models.ScheduledPost, error) {
	mods := p.AgentModifications
	if mods == nil {
		mods = []models.AgentModification{}
	}
	modsJSON, err := json.Marshal(mods)
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("marshal modifications: %w", err)
	}
	factorsJSON, err := json.Marshal(p.SelectionFactors)
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("marshal factors: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO scheduled_posts (id, account_id, caption, media_url, status, agent_modifications, selection_factors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $7)
	`, id, p.AccountID, p.Caption, p.MediaURL, modsJSON, factorsJSON, now)
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("insert post: %w", err)
	}
	if err := appendAudit(ctx, tx, "scheduled_posts", id, "drafted", map[string]any{
		"account_id":    p.AccountID,
		"modifications": len(mods),
	}); err != nil {
		return models.ScheduledPost{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("commit: %w", err)
	}

	return models.ScheduledPost{
		ID:                 id,
		AccountID:          p.AccountID,
		Caption:            p.Caption,
		MediaURL:           p.MediaURL,
		Status:             models.PostPending,
		AgentModifications: mods,
		SelectionFactors:   p.SelectionFactors,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// GetPost fetches a scheduled post by id.
func (s *Store) GetPost(ctx context.Context, id string) (models.ScheduledPost, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ScheduledPost{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return post, err
}

// PostFilter narrows ListPosts.
type PostFilter struct {
	Status    models.PostStatus
	AccountID string
	Limit     int
	Offset    int
}

// ListPosts returns posts newest first, filtered and paginated.
func (s *Store) ListPosts(ctx context.Context, f PostFilter) ([]models.ScheduledPost, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR account_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(f.Status), f.AccountID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	var out []models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, post)
	}
	return out, rows.Err()
}

// ApprovePost transitions a pending post to approved and enqueues its
// publish_post job in the same transaction. The post stays approved until
// the dispatcher claims the job.
func (s *Store) ApprovePost(ctx context.Context, postID string) (models.ScheduledPost, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	post, err := lockPost(ctx, tx, postID)
	if err != nil {
		return models.ScheduledPost{}, err
	}
	if post.Status != models.PostPending {
		return models.ScheduledPost{}, fmt.Errorf("approve post %s from %s: %w", postID, post.Status, ErrInvalidTransition)
	}

	payload := models.PublishPostPayload{
		PostID:   post.ID,
		Caption:  post.Caption,
		MediaURL: post.MediaURL,
	}
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return models.ScheduledPost{}, err
	}

	jobID := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO outbound_jobs (id, account_id, action_type, payload, priority, status, attempt_count, scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6, $6)
	`, jobID, post.AccountID, models.ActionPublishPost, raw, models.PriorityNormal, now)
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("insert publish job: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE scheduled_posts SET status = 'approved', job_id = $2, updated_at = NOW() WHERE id = $1
	`, postID, jobID); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("approve post: %w", err)
	}
	if err := appendAudit(ctx, tx, "scheduled_posts", postID, "approved", map[string]any{
		"job_id": jobID,
	}); err != nil {
		return models.ScheduledPost{}, err
	}
	if err := appendAudit(ctx, tx, "outbound_jobs", jobID, "enqueued", map[string]any{
		"account_id":  post.AccountID,
		"action_type": models.ActionPublishPost,
		"post_id":     postID,
	}); err != nil {
		return models.ScheduledPost{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("commit approve: %w", err)
	}

	post.Status = models.PostApproved
	post.JobID = &jobID
	post.UpdatedAt = now
	return post, nil
}

// RejectPost transitions a pending post to rejected. Terminal; no job is
// created, and a stray pending job left by an earlier approval attempt is
// cancelled.
func (s *Store) RejectPost(ctx context.Context, postID string) (models.ScheduledPost, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ScheduledPost{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	post, err := lockPost(ctx, tx, postID)
	if err != nil {
		return models.ScheduledPost{}, err
	}
	if post.Status != models.PostPending {
		return models.ScheduledPost{}, fmt.Errorf("reject post %s from %s: %w", postID, post.Status, ErrInvalidTransition)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE scheduled_posts SET status = 'rejected', updated_at = NOW() WHERE id = $1
	`, postID); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("reject post: %w", err)
	}
	if post.JobID != nil {
		tag, err := tx.Exec(ctx, `
			DELETE FROM outbound_jobs WHERE id = $1 AND status = 'pending'
		`, *post.JobID)
		if err != nil {
			return models.ScheduledPost{}, fmt.Errorf("cancel publish job: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if err := appendAudit(ctx, tx, "outbound_jobs", *post.JobID, "cancelled", map[string]any{
				"post_id": postID,
			}); err != nil {
				return models.ScheduledPost{}, err
			}
		}
	}
	if err := appendAudit(ctx, tx, "scheduled_posts", postID, "rejected", nil); err != nil {
		return models.ScheduledPost{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("commit reject: %w", err)
	}

	post.Status = models.PostRejected
	return post, nil
}

// SetPostPreview stores the media preview key generated for operator review.
func (s *Store) SetPostPreview(ctx context.Context, postID, previewKey string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_posts SET preview_key = $2, updated_at = NOW() WHERE id = $1
	`, postID, previewKey)
	if err != nil {
		return fmt.Errorf("set post preview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	return nil
}

func lockPost(ctx context.Context, tx pgx.Tx, id string) (models.ScheduledPost, error) {
	row := tx.QueryRow(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1 FOR UPDATE`, id)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ScheduledPost{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return post, err
}

func scanPost(row pgx.Row) (models.ScheduledPost, error) {
	var post models.ScheduledPost
	var modsJSON, factorsJSON []byte
	var jobID pgtype.Text
	if err := row.Scan(&post.ID, &post.AccountID, &post.Caption, &post.MediaURL, &post.PreviewKey,
		&post.Status, &modsJSON, &factorsJSON, &jobID, &post.CreatedAt, &post.UpdatedAt); err != nil {
		return models.ScheduledPost{}, err
	}
	if err := json.Unmarshal(modsJSON, &post.AgentModifications); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("unmarshal modifications: %w", err)
	}
	if err := json.Unmarshal(factorsJSON, &post.SelectionFactors); err != nil {
		return models.ScheduledPost{}, fmt.Errorf("unmarshal factors: %w", err)
	}
	post.JobID = textPtr(jobID)
	return post, nil
}
