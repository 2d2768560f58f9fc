// Package store defines the persistence interface shared by the postgres and
// in-memory implementations.
package store

import (
	"context"
	"errors"

	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
	"github.com/nexusvoice/backend/internal/model/user"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrSequenceConflict is returned by AppendMessage when sequence allocation
// keeps colliding with concurrent appenders after retries.
var ErrSequenceConflict = errors.New("sequence allocation conflict")

// ErrDuplicate is returned when a unique constraint rejects a record.
var ErrDuplicate = errors.New("duplicate record")

// CreateConversationParams carries the fields set at conversation creation.
type CreateConversationParams struct {
	UserID       string
	RoleID       string
	Title        string
	ModelName    string
	SystemPrompt string
}

// ConversationPreview is one row of the conversation list.
type ConversationPreview struct {
	Conversation conversation.Conversation `json:"conversation"`
	LastMessage  string                    `json:"lastMessage,omitempty"`
	MessageCount int                       `json:"messageCount"`
}

// SystemConfig is a runtime tuning knob stored alongside the data.
type SystemConfig struct {
	Key     string
	Value   string
	Enabled bool
}

// Store is the single persistence boundary. AppendMessage is the one
// operation with a cross-request concurrency contract: two concurrent
// appends to the same conversation must never receive the same sequence.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, arg CreateConversationParams) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	GetConversationForUser(ctx context.Context, id, userID string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]ConversationPreview, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	SoftDeleteConversation(ctx context.Context, id string) error

	// Append-only message log. AppendMessage allocates the next sequence and
	// bumps the conversation's last-active timestamp as one atomic unit.
	AppendMessage(ctx context.Context, msg conversation.Message) (*conversation.Message, error)
	History(ctx context.Context, conversationID string) ([]conversation.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	SumTokenCount(ctx context.Context, conversationID string) (int, error)

	// Roles
	CreateRole(ctx context.Context, r role.Role) (*role.Role, error)
	GetRoleForChat(ctx context.Context, id, userID string) (*role.Role, error)
	UpdateRoleGreetingAudio(ctx context.Context, id, userID, audioURL, voiceType string) error

	// Users
	CreateUser(ctx context.Context, u user.User) error
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)

	// Runtime configuration
	GetSystemConfig(ctx context.Context, key string) (*SystemConfig, error)
}
