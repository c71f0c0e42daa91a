package models

import (
	"time"
)

// ActionType enumerates the outbound actions the dispatcher can perform
// against the provider API.
type ActionType string

const (
	ActionReplyComment ActionType = "reply_comment"
	ActionReplyDM      ActionType = "reply_dm"
	ActionSendDM       ActionType = "send_dm"
	ActionPublishPost  ActionType = "publish_post"
	ActionRepostUGC    ActionType = "repost_ugc"
)

// ValidActionType reports whether t is a known action type.
func ValidActionType(t ActionType) bool {
	switch t {
	case ActionReplyComment, ActionReplyDM, ActionSendDM, ActionPublishPost, ActionRepostUGC:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states persisted in Postgres.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dlq"
)

// Priority controls claim ordering. High jumps the normal backlog but never
// bypasses an account's active cool-down.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// ErrorCategory is the closed failure vocabulary the dispatcher reasons
// about. Every provider-specific error shape is reduced to one of these at
// the classification boundary.
type ErrorCategory string

const (
	CategoryAuthFailure ErrorCategory = "auth_failure"
	CategoryPermanent   ErrorCategory = "permanent"
	CategoryRateLimit   ErrorCategory = "rate_limit"
	CategoryTransient   ErrorCategory = "transient"
	CategoryUnknown     ErrorCategory = "unknown"
)

// Job is a unit of outbound work persisted in the queue store.
type Job struct {
	ID            string         `json:"id"`
	AccountID     string         `json:"account_id"`
	ActionType    ActionType     `json:"action_type"`
	Payload       []byte         `json:"payload"`
	Priority      Priority       `json:"priority"`
	Status        JobStatus      `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	ScheduledFor  time.Time      `json:"scheduled_for"`
	ClaimOwner    *string        `json:"claim_owner,omitempty"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	LastError     *string        `json:"last_error,omitempty"`
	ErrorCategory *ErrorCategory `json:"error_category,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// AgentAccount is the minimal projection of a connected social account this
// core needs: the connected flag is flipped off on auth failures.
type AgentAccount struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
