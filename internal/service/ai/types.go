package ai

import "context"

// Turn is one role-tagged entry of a context window.
type Turn struct {
	Role    string `json:"role"` // system / user / assistant
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic model invocation.
type ChatRequest struct {
	Turns           []Turn
	Model           string
	Temperature     float64
	MaxTokens       int
	EnableWebSearch bool
	UserID          string
	ConversationID  string
}

// TokenUsage mirrors the provider's accounting.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatResponse is a successful completion.
type ChatResponse struct {
	Content        string
	Model          string
	FinishReason   string
	Usage          TokenUsage
	ResponseTimeMs int64
}

// StreamHandler receives the callbacks for one streaming model call. For a
// single call they fire strictly sequentially: zero or more OnNext, then
// exactly one of OnError or OnComplete.
type StreamHandler interface {
	OnNext(delta string)
	OnError(err error)
	OnComplete(resp *ChatResponse)
}

// ChatService is the model-provider collaborator boundary. The orchestrator
// depends on this interface; the eino-backed Service implements it and tests
// substitute fakes.
type ChatService interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// StreamChat issues the call asynchronously; it returns once the stream
	// is established and surfaces results through the handler.
	StreamChat(ctx context.Context, req *ChatRequest, handler StreamHandler) error
	ModelName() string
	EstimateTokens(text string) int
}
