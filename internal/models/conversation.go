package models

import "time"

// ConversationMode is the AI/human ownership state of a conversation.
type ConversationMode string

const (
	ModeAIActive ConversationMode = "ai_active"
	ModeTakeover ConversationMode = "takeover"
	ModeClosed   ConversationMode = "closed"
)

// Conversation is keyed by (tenant, sender). A conversation is in exactly one
// mode at a time; it is never deleted, only closed or purged by an external
// retention job.
type Conversation struct {
	TenantID     string           `json:"tenantId"`
	SenderID     string           `json:"senderId"`
	Mode         ConversationMode `json:"mode"`
	OperatorID   string           `json:"operatorId,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	LastActivity time.Time        `json:"lastActivity"`
}

// InTakeover reports whether a human currently holds the conversation.
func (c *Conversation) InTakeover() bool {
	return c.Mode == ModeTakeover
}

// IsDormant reports whether the conversation has been idle longer than ttl.
func (c *Conversation) IsDormant(ttl time.Duration) bool {
	return !c.LastActivity.IsZero() && time.Since(c.LastActivity) > ttl
}
