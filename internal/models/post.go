package models

import (
	"time"
)

// PostStatus enumerates the content-approval pipeline states. The pipeline is
// linear; failed is terminal and requires manual re-creation, never a retry
// of the same row.
type PostStatus string

const (
	PostPending    PostStatus = "pending"
	PostApproved   PostStatus = "approved"
	PostRejected   PostStatus = "rejected"
	PostPublishing PostStatus = "publishing"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

// AgentModification is one explainable edit the agent made to a content
// template. Reason is mandatory: every automated edit must be justified.
type AgentModification struct {
	Field    string `json:"field"`
	Original string `json:"original"`
	Modified string `json:"modified"`
	Reason   string `json:"reason"`
}

// SelectionFactors are 0-100 scored dimensions shown to the operator during
// review. They never influence dispatch logic.
type SelectionFactors struct {
	VisualQuality       int `json:"visual_quality"`
	EngagementPotential int `json:"engagement_potential"`
	BrandAlignment      int `json:"brand_alignment"`
	Recency             int `json:"recency"`
	Uniqueness          int `json:"uniqueness"`
}

// ScheduledPost is agent-authored content awaiting human sign-off before it
// may be published through the outbound queue.
type ScheduledPost struct {
	ID                 string              `json:"id"`
	AccountID          string              `json:"account_id"`
	Caption            string              `json:"caption"`
	MediaURL           string              `json:"media_url,omitempty"`
	PreviewKey         string              `json:"preview_key,omitempty"`
	Status             PostStatus          `json:"status"`
	AgentModifications []AgentModification `json:"agent_modifications"`
	SelectionFactors   SelectionFactors    `json:"selection_factors"`
	JobID              *string             `json:"job_id,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}
