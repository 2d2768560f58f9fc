package conversation

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
)

func TestBuildWindowSystemPromptPrecedence(t *testing.T) {
	conv := &conversation.Conversation{SystemPrompt: "会话提示词"}

	window := BuildWindow(conv, nil, nil, &ChatRequest{Message: "hi", SystemPrompt: "请求提示词"})
	if window[0].Role != "system" || window[0].Content != "请求提示词" {
		t.Fatalf("expected request prompt to win, got %+v", window[0])
	}

	window = BuildWindow(conv, nil, nil, &ChatRequest{Message: "hi"})
	if window[0].Content != "会话提示词" {
		t.Fatalf("expected conversation prompt, got %q", window[0].Content)
	}

	window = BuildWindow(&conversation.Conversation{}, nil, nil, &ChatRequest{Message: "hi"})
	if window[0].Content != conversation.DefaultSystemPrompt {
		t.Fatalf("expected default prompt, got %q", window[0].Content)
	}
}

func TestBuildWindowIntegratesRole(t *testing.T) {
	conv := &conversation.Conversation{}
	r := &role.Role{Description: "温柔的向导", PersonaPrompt: "说话轻声细语"}

	window := BuildWindow(conv, r, nil, &ChatRequest{Message: "你好"})

	prompt := window[0].Content
	for _, want := range []string{"=== 角色设定 ===", "角色描述：温柔的向导", "人设要求：说话轻声细语"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected system prompt to contain %q, got %q", want, prompt)
		}
	}
}

func TestBuildWindowCapsHistoryAndDropsSystemRows(t *testing.T) {
	conv := &conversation.Conversation{}

	history := make([]conversation.Message, 0, 30)
	for i := 0; i < 25; i++ {
		history = append(history, conversation.Message{
			Role:    conversation.RoleUser,
			Content: fmt.Sprintf("user-%d", i),
		})
	}
	history = append(history, conversation.Message{Role: conversation.RoleSystem, Content: "检查点"})

	window := BuildWindow(conv, nil, history, &ChatRequest{Message: "最新消息"})

	// system prompt + 20 history turns + new user turn
	if len(window) != 22 {
		t.Fatalf("expected 22 turns, got %d", len(window))
	}
	if window[1].Content != "user-5" {
		t.Fatalf("expected oldest retained turn user-5, got %q", window[1].Content)
	}
	last := window[len(window)-1]
	if last.Role != "user" || last.Content != "最新消息" {
		t.Fatalf("expected trailing new user turn, got %+v", last)
	}
	for _, turn := range window[1:] {
		if turn.Content == "检查点" {
			t.Fatal("system rows must not enter the window")
		}
	}
}

func TestBuildWindowIsDeterministic(t *testing.T) {
	conv := &conversation.Conversation{SystemPrompt: "提示"}
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "a"},
		{Role: conversation.RoleAssistant, Content: "b"},
	}
	req := &ChatRequest{Message: "c"}

	first := BuildWindow(conv, nil, history, req)
	second := BuildWindow(conv, nil, history, req)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected identical windows for identical inputs")
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := deriveTitle("  你好  "); got != "你好" {
		t.Fatalf("expected trimmed title, got %q", got)
	}
	long := strings.Repeat("字", 30)
	got := deriveTitle(long)
	if got != strings.Repeat("字", 20)+"..." {
		t.Fatalf("expected 20-rune prefix with ellipsis, got %q", got)
	}
	if got := deriveTitle("   "); got != "" {
		t.Fatalf("expected empty title for blank text, got %q", got)
	}
}
