package models

import "time"

// Channel tags accepted from the transport adapters.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelWebchat  = "webchat"
)

// ProcessMessageInput is the normalized inbound message shape delivered by a
// channel adapter. Immutable once received.
type ProcessMessageInput struct {
	UserID              string             `json:"userId"`
	VillageID           string             `json:"villageId,omitempty"`
	Message             string             `json:"message"`
	Channel             string             `json:"channel"`
	ConversationHistory []ConversationTurn `json:"conversationHistory,omitempty"`
	MediaURL            string             `json:"mediaUrl,omitempty"`
	MediaType           string             `json:"mediaType,omitempty"`
	ModelPreference     string             `json:"modelPreference,omitempty"`
	IsEvaluation        bool               `json:"isEvaluation,omitempty"`
	ReceivedAt          time.Time          `json:"receivedAt,omitempty"`
}

// ConversationTurn is a single prior exchange carried along with the inbound message.
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Contact is a structured contact entry extracted for the citizen
// (e.g. the responsible village office).
type Contact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Organization string `json:"organization,omitempty"`
	Title        string `json:"title,omitempty"`
}

// Bubble kinds a rich channel can render.
const (
	BubbleText    = "text"
	BubbleContact = "contact"
)

// ReplyBubble is one outbound message unit on a rich channel. The adapter
// delivers each bubble as its own message, in order.
type ReplyBubble struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Contact *Contact `json:"contact,omitempty"`
}

// ResultMetadata carries per-message processing details for analytics joins.
type ResultMetadata struct {
	ProcessingTimeMs    int64    `json:"processingTimeMs"`
	Model               string   `json:"model,omitempty"`
	HasKnowledge        bool     `json:"hasKnowledge"`
	KnowledgeConfidence *float64 `json:"knowledgeConfidence,omitempty"`
	Sentiment           string   `json:"sentiment,omitempty"`
	Language            string   `json:"language,omitempty"`
	TraceID             string   `json:"traceId,omitempty"`
}

// ProcessMessageResult is the structured outbound reply. The pipeline always
// returns a well-formed result to the channel adapter, even on failure.
type ProcessMessageResult struct {
	Success      bool              `json:"success"`
	Response     string            `json:"response"`
	GuidanceText string            `json:"guidanceText,omitempty"`
	Bubbles      []ReplyBubble     `json:"bubbles,omitempty"`
	Intent       string            `json:"intent"`
	Fields       map[string]string `json:"fields,omitempty"`
	Contacts     []Contact         `json:"contacts,omitempty"`
	Metadata     ResultMetadata    `json:"metadata"`
	Error        string            `json:"error,omitempty"`
}
