package conversation

import "time"

// MessageRole identifies who produced a turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStatus 消息投递状态。
type MessageStatus string

const (
	MessageSending MessageStatus = "sending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// Message is one append-only log entry. Sequence is allocated by the store at
// append time and is gapless and strictly increasing per conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Role           MessageRole   `json:"role"`
	Content        string        `json:"content"`
	Sequence       int           `json:"sequence"`
	TokenCount     int           `json:"tokenCount"`
	Status         MessageStatus `json:"status"`
	Metadata       string        `json:"metadata,omitempty"`
	AudioURL       string        `json:"audioUrl,omitempty"`
	SentAt         time.Time     `json:"sentAt"`
}

// NewUserMessage builds an unsequenced user turn ready for appending.
func NewUserMessage(conversationID, content string) Message {
	return Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Status:         MessageSent,
		SentAt:         time.Now().UTC(),
	}
}

// NewAssistantMessage builds an unsequenced assistant turn.
func NewAssistantMessage(conversationID, content string, tokenCount int, audioURL string) Message {
	return Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        content,
		TokenCount:     tokenCount,
		Status:         MessageSent,
		AudioURL:       audioURL,
		SentAt:         time.Now().UTC(),
	}
}

// NewSystemNote builds a system-role checkpoint carrier.
func NewSystemNote(conversationID, content, metadata string) Message {
	return Message{
		ConversationID: conversationID,
		Role:           RoleSystem,
		Content:        content,
		Status:         MessageSent,
		Metadata:       metadata,
		SentAt:         time.Now().UTC(),
	}
}
