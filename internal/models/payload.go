package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload marks a payload that failed schema validation for its
// action type. Jobs carrying one are rejected at enqueue time and never enter
// the queue.
var ErrInvalidPayload = errors.New("invalid job payload")

// JobPayload is the tagged-variant interface every action payload satisfies.
// The dispatcher switches on the concrete type, never on optional fields.
type JobPayload interface {
	ActionType() ActionType
	Validate() error
}

// ReplyCommentPayload replies to a comment on one of the account's posts.
type ReplyCommentPayload struct {
	CommentID string `json:"comment_id"`
	Message   string `json:"message"`
}

func (ReplyCommentPayload) ActionType() ActionType { return ActionReplyComment }

func (p ReplyCommentPayload) Validate() error {
	if p.CommentID == "" {
		return fmt.Errorf("%w: reply_comment requires comment_id", ErrInvalidPayload)
	}
	if p.Message == "" {
		return fmt.Errorf("%w: reply_comment requires message", ErrInvalidPayload)
	}
	return nil
}

// ReplyDMPayload replies within an existing direct-message thread.
type ReplyDMPayload struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

func (ReplyDMPayload) ActionType() ActionType { return ActionReplyDM }

func (p ReplyDMPayload) Validate() error {
	if p.ThreadID == "" {
		return fmt.Errorf("%w: reply_dm requires thread_id", ErrInvalidPayload)
	}
	if p.Message == "" {
		return fmt.Errorf("%w: reply_dm requires message", ErrInvalidPayload)
	}
	return nil
}

// SendDMPayload opens a new direct-message conversation.
type SendDMPayload struct {
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
}

func (SendDMPayload) ActionType() ActionType { return ActionSendDM }

func (p SendDMPayload) Validate() error {
	if p.RecipientID == "" {
		return fmt.Errorf("%w: send_dm requires recipient_id", ErrInvalidPayload)
	}
	if p.Message == "" {
		return fmt.Errorf("%w: send_dm requires message", ErrInvalidPayload)
	}
	return nil
}

// PublishPostPayload publishes an approved scheduled post. PostID links back
// to the originating scheduled_posts row so terminal job transitions can
// write the post status in the same transaction.
type PublishPostPayload struct {
	PostID   string `json:"post_id"`
	Caption  string `json:"caption"`
	MediaURL string `json:"media_url,omitempty"`
}

func (PublishPostPayload) ActionType() ActionType { return ActionPublishPost }

func (p PublishPostPayload) Validate() error {
	if p.PostID == "" {
		return fmt.Errorf("%w: publish_post requires post_id", ErrInvalidPayload)
	}
	if p.Caption == "" && p.MediaURL == "" {
		return fmt.Errorf("%w: publish_post requires caption or media_url", ErrInvalidPayload)
	}
	return nil
}

// RepostUGCPayload reshares user-generated content the agent selected.
type RepostUGCPayload struct {
	SourceMediaID string `json:"source_media_id"`
	Caption       string `json:"caption,omitempty"`
}

func (RepostUGCPayload) ActionType() ActionType { return ActionRepostUGC }

func (p RepostUGCPayload) Validate() error {
	if p.SourceMediaID == "" {
		return fmt.Errorf("%w: repost_ugc requires source_media_id", ErrInvalidPayload)
	}
	return nil
}

// DecodePayload parses and validates raw payload bytes for the given action
// type, returning the concrete variant.
func DecodePayload(t ActionType, raw []byte) (JobPayload, error) {
	var p JobPayload
	switch t {
	case ActionReplyComment:
		p = &ReplyCommentPayload{}
	case ActionReplyDM:
		p = &ReplyDMPayload{}
	case ActionSendDM:
		p = &SendDMPayload{}
	case ActionPublishPost:
		p = &PublishPostPayload{}
	case ActionRepostUGC:
		p = &RepostUGCPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidPayload, t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return deref(p), nil
}

// EncodePayload validates a payload and returns its JSON encoding.
func EncodePayload(p JobPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

func deref(p JobPayload) JobPayload {
	switch v := p.(type) {
	case *ReplyCommentPayload:
		return *v
	case *ReplyDMPayload:
		return *v
	case *SendDMPayload:
		return *v
	case *PublishPostPayload:
		return *v
	case *RepostUGCPayload:
		return *v
	}
	return p
}
