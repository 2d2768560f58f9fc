// Package stream implements the duplex streaming-session protocol: typed
// frames, the per-channel request state machine, and the registry of active
// sessions.
package stream

// FrameType 流消息类型。
type FrameType string

const (
	FrameStart     FrameType = "START"
	FrameContent   FrameType = "CONTENT"
	FrameEnd       FrameType = "END"
	FrameError     FrameType = "ERROR"
	FrameHeartbeat FrameType = "HEARTBEAT"
)

// Frame is one wire message of the streaming protocol. Frames are ephemeral
// and never persisted.
type Frame struct {
	Type           FrameType `json:"type"`
	ID             string    `json:"id,omitempty"`
	Delta          string    `json:"delta,omitempty"`
	Model          string    `json:"model,omitempty"`
	FinishReason   string    `json:"finishReason,omitempty"`
	IsEnd          bool      `json:"isEnd"`
	Index          int       `json:"index"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	ResponseTimeMs int64     `json:"responseTimeMs,omitempty"`
}

// StartFrame opens a logical request.
func StartFrame(id, model string) Frame {
	return Frame{Type: FrameStart, ID: id, Model: model}
}

// ContentFrame carries one incremental delta.
func ContentFrame(delta string, index int) Frame {
	return Frame{Type: FrameContent, Delta: delta, Index: index}
}

// EndFrame terminates a logical request successfully.
func EndFrame(finishReason string) Frame {
	return Frame{Type: FrameEnd, FinishReason: finishReason, IsEnd: true}
}

// ErrorFrame terminates a logical request with a failure.
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, ErrorMessage: message, IsEnd: true}
}

// HeartbeatFrame keeps the transport warm; orthogonal to request indexing.
func HeartbeatFrame() Frame {
	return Frame{Type: FrameHeartbeat}
}
