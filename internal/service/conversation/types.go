// Package conversation orchestrates multi-turn chat: conversation lifecycle,
// context window assembly, model calls, and message persistence.
package conversation

import "github.com/nexusvoice/backend/internal/service/ai"

// ChatRequest 一次聊天请求。ConversationID 为空表示隐式新建会话。
type ChatRequest struct {
	ConversationID  string   `json:"conversationId,omitempty"`
	RoleID          string   `json:"roleId,omitempty"`
	Message         string   `json:"message"`
	ModelName       string   `json:"modelName,omitempty"`
	SystemPrompt    string   `json:"systemPrompt,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxTokens       *int     `json:"maxTokens,omitempty"`
	EnableWebSearch bool     `json:"enableWebSearch,omitempty"`
	EnableAudio     bool     `json:"enableAudio,omitempty"`
	VoiceType       string   `json:"voiceType,omitempty"`
}

// ChatResult 同步聊天的结构化结果。模型侧失败以 Success=false 表达，
// 而不是让上游错误直接穿透到调用方。
type ChatResult struct {
	Success        bool          `json:"success"`
	ConversationID string        `json:"conversationId,omitempty"`
	MessageID      string        `json:"messageId,omitempty"`
	Content        string        `json:"content,omitempty"`
	Model          string        `json:"model,omitempty"`
	Usage          ai.TokenUsage `json:"usage"`
	ResponseTimeMs int64         `json:"responseTimeMs,omitempty"`
	AudioURL       string        `json:"audioUrl,omitempty"`
	ErrorCode      string        `json:"errorCode,omitempty"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
}

// CreateConversationRequest 显式创建会话的参数。
type CreateConversationRequest struct {
	Title        string `json:"title,omitempty"`
	ModelName    string `json:"modelName,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	RoleID       string `json:"roleId,omitempty"`
}
