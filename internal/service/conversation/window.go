package conversation

import (
	"strings"

	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
	"github.com/nexusvoice/backend/internal/service/ai"
)

const (
	// MaxMessages 单个会话允许的消息上限。
	MaxMessages = 100
	// MaxTokens 单个会话允许的累计令牌上限。
	MaxTokens = 50000
	// historyLimit 上下文窗口携带的历史轮数上限。
	historyLimit = 20
)

// BuildWindow assembles the model context for one chat turn. The result is
// deterministic for a given (conv, role, history, req) tuple: an optional
// system turn, the most recent user and assistant turns, then the new user
// turn. System and checkpoint rows in the history are never forwarded.
func BuildWindow(conv *conversation.Conversation, r *role.Role, history []conversation.Message, req *ChatRequest) []ai.Turn {
	turns := make([]ai.Turn, 0, historyLimit+2)

	if prompt := buildSystemPrompt(conv, r, req); prompt != "" {
		turns = append(turns, ai.Turn{Role: "system", Content: prompt})
	}

	dialogue := make([]conversation.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == conversation.RoleUser || msg.Role == conversation.RoleAssistant {
			dialogue = append(dialogue, msg)
		}
	}
	if len(dialogue) > historyLimit {
		dialogue = dialogue[len(dialogue)-historyLimit:]
	}
	for _, msg := range dialogue {
		turns = append(turns, ai.Turn{Role: string(msg.Role), Content: msg.Content})
	}

	turns = append(turns, ai.Turn{Role: "user", Content: req.Message})
	return turns
}

// buildSystemPrompt 系统提示词优先级：请求 > 会话 > 默认，末尾集成角色设定。
func buildSystemPrompt(conv *conversation.Conversation, r *role.Role, req *ChatRequest) string {
	var b strings.Builder

	switch {
	case strings.TrimSpace(req.SystemPrompt) != "":
		b.WriteString(strings.TrimSpace(req.SystemPrompt))
	case conv != nil && strings.TrimSpace(conv.SystemPrompt) != "":
		b.WriteString(strings.TrimSpace(conv.SystemPrompt))
	default:
		b.WriteString(conversation.DefaultSystemPrompt)
	}

	if r != nil {
		b.WriteString("\n\n=== 角色设定 ===\n")
		if desc := strings.TrimSpace(r.Description); desc != "" {
			b.WriteString("角色描述：")
			b.WriteString(desc)
			b.WriteString("\n")
		}
		if persona := strings.TrimSpace(r.PersonaPrompt); persona != "" {
			b.WriteString("人设要求：")
			b.WriteString(persona)
			b.WriteString("\n")
		}
		b.WriteString("请严格按照以上角色设定进行对话，保持角色的一致性。")
	}

	return b.String()
}
