package conversation

import "time"

// Status 对话状态。
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// Defaults applied when a chat request creates a conversation on the fly.
const (
	DefaultTitle        = "新对话"
	DefaultModelName    = "gpt-4o-mini"
	DefaultSystemPrompt = "你是一个有用的AI助手"
)

// Conversation is the per-user chat container. Deleted conversations are
// soft-deleted and excluded from all reads.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	RoleID       string    `json:"roleId,omitempty"`
	Title        string    `json:"title"`
	ModelName    string    `json:"modelName"`
	SystemPrompt string    `json:"systemPrompt"`
	Status       Status    `json:"status"`
	Deleted      bool      `json:"-"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasPlaceholderTitle reports whether the title is still the creation-time
// placeholder and therefore eligible for the one-shot auto rename.
func (c *Conversation) HasPlaceholderTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}
