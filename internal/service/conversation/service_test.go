package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/service/ai"
	"github.com/nexusvoice/backend/internal/service/tts"
	"github.com/nexusvoice/backend/internal/store/memory"
	"github.com/nexusvoice/backend/internal/stream"
)

// scriptedModel fakes the provider: one canned reply or error, streamed as
// fixed deltas.
type scriptedModel struct {
	reply  string
	deltas []string
	err    error

	mu       sync.Mutex
	requests []*ai.ChatRequest
}

func (m *scriptedModel) Chat(_ context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &ai.ChatResponse{
		Content:      m.reply,
		Model:        req.Model,
		FinishReason: "stop",
		Usage:        ai.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *scriptedModel) StreamChat(_ context.Context, req *ai.ChatRequest, handler ai.StreamHandler) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, delta := range m.deltas {
		handler.OnNext(delta)
	}
	handler.OnComplete(&ai.ChatResponse{
		Content:      m.reply,
		Model:        req.Model,
		FinishReason: "stop",
		Usage:        ai.TokenUsage{TotalTokens: 15},
	})
	return nil
}

func (m *scriptedModel) ModelName() string { return "gpt-4o-mini" }

func (m *scriptedModel) EstimateTokens(text string) int { return len([]rune(text)) }

type frameRecorder struct {
	mu     sync.Mutex
	frames []stream.Frame
}

func (r *frameRecorder) WriteFrame(f stream.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) snapshot() []stream.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stream.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func newTestService(model ai.ChatService) (*Service, *memory.Store) {
	st := memory.New()
	speech := tts.New(config.SpeechConfig{Enabled: false}, nil)
	return NewService(st, model, speech), st
}

func TestChatHelloScenario(t *testing.T) {
	model := &scriptedModel{reply: "你好！很高兴见到你。"}
	svc, st := newTestService(model)

	result, err := svc.Chat(context.Background(), &ChatRequest{Message: "Hello"}, "user-1")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %s", result.ErrorCode)
	}
	if result.ConversationID == "" || result.MessageID == "" {
		t.Fatal("expected conversation and message IDs")
	}
	if result.Usage.TotalTokens != 15 {
		t.Fatalf("expected usage carried through, got %d", result.Usage.TotalTokens)
	}

	history, err := st.History(context.Background(), result.ConversationID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(history))
	}
	if history[0].Role != conversation.RoleUser || history[0].Sequence != 1 {
		t.Fatalf("expected user message at sequence 1, got %+v", history[0])
	}
	if history[1].Role != conversation.RoleAssistant || history[1].Sequence != 2 {
		t.Fatalf("expected assistant message at sequence 2, got %+v", history[1])
	}
	if history[1].Content != "你好！很高兴见到你。" {
		t.Fatalf("unexpected assistant content %q", history[1].Content)
	}

	conv, err := st.GetConversation(context.Background(), result.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Title != "Hello" {
		t.Fatalf("expected auto title from first message, got %q", conv.Title)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc, _ := newTestService(&scriptedModel{reply: "x"})
	if _, err := svc.Chat(context.Background(), &ChatRequest{Message: "   "}, "user-1"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestChatEnforcesMessageLimit(t *testing.T) {
	model := &scriptedModel{reply: "ok"}
	svc, st := newTestService(model)

	conv, err := svc.CreateConversation(context.Background(), &CreateConversationRequest{}, "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < MaxMessages; i++ {
		if _, err := st.AppendMessage(context.Background(), conversation.NewUserMessage(conv.ID, "padding")); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	_, err = svc.Chat(context.Background(), &ChatRequest{ConversationID: conv.ID, Message: "one more"}, "user-1")
	if err == nil {
		t.Fatal("expected limit error")
	}
	count, _ := st.CountMessages(context.Background(), conv.ID)
	if count != MaxMessages {
		t.Fatalf("expected no append past the limit, got %d messages", count)
	}
}

func TestChatUpstreamFailureYieldsStructuredResult(t *testing.T) {
	model := &scriptedModel{err: errors.New("provider down")}
	svc, st := newTestService(model)

	result, err := svc.Chat(context.Background(), &ChatRequest{Message: "hi"}, "user-1")
	if err != nil {
		t.Fatalf("expected structured result, got error %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result")
	}
	if result.ErrorMessage == "" || result.ConversationID == "" {
		t.Fatalf("expected populated failure result, got %+v", result)
	}

	// The user message stays; no assistant message is persisted.
	history, _ := st.History(context.Background(), result.ConversationID)
	if len(history) != 1 || history[0].Role != conversation.RoleUser {
		t.Fatalf("expected only the user message persisted, got %d messages", len(history))
	}
}

func TestChatRejectsForeignConversation(t *testing.T) {
	svc, _ := newTestService(&scriptedModel{reply: "ok"})

	conv, err := svc.CreateConversation(context.Background(), &CreateConversationRequest{}, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Chat(context.Background(), &ChatRequest{ConversationID: conv.ID, Message: "hi"}, "intruder")
	if err == nil {
		t.Fatal("expected authorization failure")
	}
	if got := apperr.HTTPStatus(err); got != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign conversation, got %d", got)
	}
}

func TestCreateConversationUnknownRoleReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(&scriptedModel{reply: "ok"})

	_, err := svc.CreateConversation(context.Background(), &CreateConversationRequest{RoleID: "no-such-role"}, "user-1")
	if err == nil {
		t.Fatal("expected not-found failure")
	}
	if got := apperr.HTTPStatus(err); got != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown role, got %d", got)
	}
}

func TestStreamChatFrameSequenceAndPersistence(t *testing.T) {
	model := &scriptedModel{reply: "你好世界", deltas: []string{"你好", "世界"}}
	svc, st := newTestService(model)

	recorder := &frameRecorder{}
	session := stream.NewSession("s1", recorder)

	if err := svc.StreamChat(context.Background(), &ChatRequest{Message: "打个招呼"}, "user-1", session); err != nil {
		t.Fatalf("stream chat: %v", err)
	}

	frames := recorder.snapshot()
	if len(frames) != 4 {
		t.Fatalf("expected START+2 CONTENT+END, got %d frames", len(frames))
	}
	if frames[0].Type != stream.FrameStart {
		t.Fatalf("expected START first, got %s", frames[0].Type)
	}
	if frames[1].Type != stream.FrameContent || frames[1].Index != 0 || frames[1].Delta != "你好" {
		t.Fatalf("unexpected first content frame %+v", frames[1])
	}
	if frames[2].Index != 1 || frames[2].Delta != "世界" {
		t.Fatalf("unexpected second content frame %+v", frames[2])
	}
	end := frames[3]
	if end.Type != stream.FrameEnd || !end.IsEnd {
		t.Fatalf("expected END terminal, got %+v", end)
	}
	if end.ConversationID == "" || end.MessageID == "" {
		t.Fatalf("expected END to carry persistence IDs, got %+v", end)
	}

	history, err := st.History(context.Background(), end.ConversationID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(history))
	}
	if history[1].ID != end.MessageID || history[1].Content != "你好世界" {
		t.Fatalf("expected persisted assistant to match END frame, got %+v", history[1])
	}
	if session.InFlight() {
		t.Fatal("expected request closed after END")
	}
}

func TestStreamChatBusySessionLeavesNoPartialState(t *testing.T) {
	svc, st := newTestService(&scriptedModel{reply: "ok", deltas: []string{"ok"}})

	conv, err := svc.CreateConversation(context.Background(), &CreateConversationRequest{}, "user-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	recorder := &frameRecorder{}
	session := stream.NewSession("s1", recorder)
	if err := session.Begin("in-flight", "gpt-4o-mini"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	err = svc.StreamChat(context.Background(), &ChatRequest{ConversationID: conv.ID, Message: "排队"}, "user-1", session)
	if !errors.Is(err, stream.ErrBusy) {
		t.Fatalf("expected busy rejection, got %v", err)
	}

	// The rejected turn must not leave an orphan user message behind.
	count, _ := st.CountMessages(context.Background(), conv.ID)
	if count != 0 {
		t.Fatalf("expected no persisted messages after busy rejection, got %d", count)
	}
}

func TestStreamChatUpstreamFailureEmitsErrorFrame(t *testing.T) {
	model := &scriptedModel{err: errors.New("provider down")}
	svc, _ := newTestService(model)

	recorder := &frameRecorder{}
	session := stream.NewSession("s1", recorder)

	if err := svc.StreamChat(context.Background(), &ChatRequest{Message: "hi"}, "user-1", session); err != nil {
		t.Fatalf("expected degraded handling, got %v", err)
	}

	frames := recorder.snapshot()
	if len(frames) != 2 {
		t.Fatalf("expected START+ERROR, got %d frames", len(frames))
	}
	if frames[1].Type != stream.FrameError {
		t.Fatalf("expected ERROR terminal, got %s", frames[1].Type)
	}
	if session.InFlight() {
		t.Fatal("expected request state reset after failure")
	}

	// Session survives for the next request.
	model.err = nil
	model.reply = "recovered"
	model.deltas = []string{"recovered"}
	if err := svc.StreamChat(context.Background(), &ChatRequest{Message: "again"}, "user-1", session); err != nil {
		t.Fatalf("expected session reuse, got %v", err)
	}
	frames = recorder.snapshot()
	last := frames[len(frames)-1]
	if last.Type != stream.FrameEnd {
		t.Fatalf("expected successful END after recovery, got %s", last.Type)
	}
}
