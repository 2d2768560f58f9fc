package roleassist

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/service/ai"
	"github.com/nexusvoice/backend/internal/service/search"
	"github.com/nexusvoice/backend/internal/service/tts"
	"github.com/nexusvoice/backend/internal/store"
	"github.com/nexusvoice/backend/internal/store/memory"
)

// queueModel replays scripted completions, one per Chat call.
type queueModel struct {
	replies []string
	errs    []error
	calls   int
}

func (m *queueModel) Chat(_ context.Context, _ *ai.ChatRequest) (*ai.ChatResponse, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	reply := ""
	if i < len(m.replies) {
		reply = m.replies[i]
	}
	return &ai.ChatResponse{Content: reply, Model: "gpt-4o-mini", FinishReason: "stop"}, nil
}

func (m *queueModel) StreamChat(_ context.Context, _ *ai.ChatRequest, _ ai.StreamHandler) error {
	return errors.New("not used")
}

func (m *queueModel) ModelName() string { return "gpt-4o-mini" }

func (m *queueModel) EstimateTokens(text string) int { return len([]rune(text)) }

type fakeSearch struct {
	items []search.Item
}

func (f *fakeSearch) SearchWeb(_ context.Context, query string, maxResults int, _ string) *search.Result {
	n := maxResults
	if n > len(f.items) {
		n = len(f.items)
	}
	return &search.Result{Query: query, Items: f.items[:n], TotalCount: n, Source: "fake"}
}

func (f *fakeSearch) Enabled() bool { return true }

func newTestService(t *testing.T, model ai.ChatService, searcher search.Service) (*Service, *memory.Store, string) {
	t.Helper()
	st := memory.New()
	conv, err := st.CreateConversation(context.Background(), store.CreateConversationParams{
		UserID:    "user-1",
		Title:     conversation.DefaultTitle,
		ModelName: conversation.DefaultModelName,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for _, text := range []string{"我们来设计一个侦探角色", "好的，他说话简洁冷静"} {
		if _, err := st.AppendMessage(context.Background(), conversation.NewUserMessage(conv.ID, text)); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	speech := tts.New(config.SpeechConfig{Enabled: false}, nil)
	return NewService(st, model, searcher, speech), st, conv.ID
}

func TestParseBriefStripsSurroundingNoise(t *testing.T) {
	brief, err := parseBrief("好的，以下是草稿：\n{\"name\":\"冷静侦探\",\"description\":\"理性\"}\n请查收。")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if brief.Name != "冷静侦探" || brief.Description != "理性" {
		t.Fatalf("unexpected brief %+v", brief)
	}
}

func TestParseBriefLooseFieldFallback(t *testing.T) {
	// sources is malformed for the strict struct; field-by-field parsing
	// still recovers the string fields.
	brief, err := parseBrief(`{"name":"旅人","personaPrompt":"低声细语","sources":{"oops":true}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if brief.Name != "旅人" || brief.PersonaPrompt != "低声细语" {
		t.Fatalf("unexpected brief %+v", brief)
	}
	if len(brief.Sources) != 0 {
		t.Fatalf("expected malformed sources dropped, got %+v", brief.Sources)
	}
}

func TestParseBriefRejectsGarbage(t *testing.T) {
	if _, err := parseBrief("这不是JSON"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := parseBrief("   "); err == nil {
		t.Fatal("expected empty input rejected")
	}
}

func TestGenerateBriefWritesCheckpoint(t *testing.T) {
	model := &queueModel{replies: []string{`{"name":"冷静侦探","description":"理性","personaPrompt":"简洁冷静","greetingMessage":"你好"}`}}
	svc, st, convID := newTestService(t, model, &fakeSearch{})

	brief, err := svc.GenerateBrief(context.Background(), convID, "user-1", false)
	if err != nil {
		t.Fatalf("generate brief: %v", err)
	}
	if brief.VoiceType != "default" {
		t.Fatalf("expected default voice placeholder, got %q", brief.VoiceType)
	}
	if len(brief.Disclaimers) == 0 {
		t.Fatal("expected default disclaimer applied")
	}

	history, _ := st.History(context.Background(), convID)
	last := history[len(history)-1]
	if last.Role != conversation.RoleSystem {
		t.Fatalf("expected checkpoint as system note, got role %s", last.Role)
	}
	meta, ok := conversation.ParseCheckpointMetadata(last.Metadata, conversation.CheckpointRoleBrief)
	if !ok {
		t.Fatalf("expected parseable ROLE_BRIEF checkpoint, metadata=%q", last.Metadata)
	}
	if !strings.Contains(string(meta.Payload), "冷静侦探") {
		t.Fatalf("expected payload to carry the draft, got %q", meta.Payload)
	}
}

func TestGenerateBriefFailsWithoutAccess(t *testing.T) {
	model := &queueModel{replies: []string{`{"name":"x"}`}}
	svc, _, convID := newTestService(t, model, &fakeSearch{})

	_, err := svc.GenerateBrief(context.Background(), convID, "intruder", false)
	if err == nil {
		t.Fatal("expected authorization failure")
	}
	if got := apperr.HTTPStatus(err); got != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign conversation, got %d", got)
	}
}

func TestPreviewResearchTasksUsesLatestBrief(t *testing.T) {
	model := &queueModel{replies: []string{
		`{"name":"初版角色"}`,
		`{"name":"终版角色"}`,
	}}
	svc, _, convID := newTestService(t, model, &fakeSearch{})

	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("first brief: %v", err)
	}
	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("second brief: %v", err)
	}

	preview, err := svc.PreviewResearchTasks(context.Background(), convID, "user-1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview.Tasks) != 3 {
		t.Fatalf("expected 3 suggested tasks, got %d", len(preview.Tasks))
	}
	if !strings.HasPrefix(preview.Tasks[0].Query, "终版角色") {
		t.Fatalf("expected queries built from the newest draft, got %q", preview.Tasks[0].Query)
	}
	if preview.DefaultLimit != defaultResearchLimit || preview.MaxLimit != maxResearchLimit {
		t.Fatalf("unexpected limit policy %+v", preview)
	}
}

func TestPreviewResearchTasksWithoutBrief(t *testing.T) {
	svc, _, convID := newTestService(t, &queueModel{}, &fakeSearch{})
	if _, err := svc.PreviewResearchTasks(context.Background(), convID, "user-1"); err == nil {
		t.Fatal("expected not-found without a draft")
	}
}

func TestApplyResearchMergesSourcesFirstSeen(t *testing.T) {
	model := &queueModel{replies: []string{
		`{"name":"学者","sources":[{"title":"原始来源","url":"https://a.example","snippet":"一"}]}`,
		`{"name":"学者增强","sources":[{"title":"重复来源","url":"https://a.example","snippet":"二"},{"title":"新来源","url":"https://b.example","snippet":"三"}]}`,
	}}
	searcher := &fakeSearch{items: []search.Item{
		{Title: "参考", Snippet: "内容", Link: "https://ref.example", RelevanceScore: 0.8},
	}}
	svc, _, convID := newTestService(t, model, searcher)

	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("brief: %v", err)
	}

	enhanced, err := svc.ApplyResearch(context.Background(), &ApplyResearchRequest{ConversationID: convID}, "user-1")
	if err != nil {
		t.Fatalf("apply research: %v", err)
	}
	if enhanced.Name != "学者增强" {
		t.Fatalf("expected enhanced draft, got %q", enhanced.Name)
	}
	if len(enhanced.Sources) != 2 {
		t.Fatalf("expected URL-deduped sources, got %+v", enhanced.Sources)
	}
	if enhanced.Sources[0].Title != "原始来源" {
		t.Fatalf("expected first-seen source kept, got %+v", enhanced.Sources[0])
	}
	if enhanced.Sources[1].URL != "https://b.example" {
		t.Fatalf("expected new source appended, got %+v", enhanced.Sources[1])
	}
}

func TestApplyResearchKeepsDraftOnEnhanceFailure(t *testing.T) {
	model := &queueModel{
		replies: []string{`{"name":"原始草稿"}`, ""},
		errs:    []error{nil, errors.New("provider down")},
	}
	svc, _, convID := newTestService(t, model, &fakeSearch{})

	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("brief: %v", err)
	}

	result, err := svc.ApplyResearch(context.Background(), &ApplyResearchRequest{ConversationID: convID}, "user-1")
	if err != nil {
		t.Fatalf("expected degraded result, got %v", err)
	}
	if result.Name != "原始草稿" {
		t.Fatalf("expected prior draft kept, got %q", result.Name)
	}
}

func TestConfirmCreateRoleClampsAndDefaultsVoice(t *testing.T) {
	longName := strings.Repeat("长", 60)
	model := &queueModel{replies: []string{`{"name":"` + longName + `","greetingMessage":"初次见面"}`}}
	svc, st, convID := newTestService(t, model, &fakeSearch{})

	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("brief: %v", err)
	}

	created, err := svc.ConfirmCreateRole(context.Background(), &ConfirmRequest{ConversationID: convID}, "user-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := len([]rune(created.Name)); got != 50 {
		t.Fatalf("expected name clamped to 50 runes, got %d", got)
	}
	if created.VoiceType != DefaultVoiceType {
		t.Fatalf("expected fallback voice, got %q", created.VoiceType)
	}
	if created.UserID != "user-1" {
		t.Fatalf("expected private role, got owner %q", created.UserID)
	}

	history, _ := st.History(context.Background(), convID)
	last := history[len(history)-1]
	if _, ok := conversation.ParseCheckpointMetadata(last.Metadata, conversation.CheckpointRoleCreated); !ok {
		t.Fatalf("expected ROLE_CREATED checkpoint, metadata=%q", last.Metadata)
	}
}

func TestConfirmCreateRoleAppliesOverrides(t *testing.T) {
	model := &queueModel{replies: []string{`{"name":"草稿名"}`}}
	svc, _, convID := newTestService(t, model, &fakeSearch{})

	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("brief: %v", err)
	}

	created, err := svc.ConfirmCreateRole(context.Background(), &ConfirmRequest{
		ConversationID: convID,
		OverrideName:   "定制名",
		VoiceType:      "qiniu_zh_male_ljfdxz",
	}, "user-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if created.Name != "定制名" {
		t.Fatalf("expected override name, got %q", created.Name)
	}
	if created.VoiceType != "qiniu_zh_male_ljfdxz" {
		t.Fatalf("expected explicit voice kept, got %q", created.VoiceType)
	}
}

func TestConfirmCreateRoleKeepsDraftWhenResearchFails(t *testing.T) {
	model := &queueModel{
		replies: []string{`{"name":"务实向导","personaPrompt":"脚踏实地","greetingMessage":"欢迎"}`, ""},
		errs:    []error{nil, errors.New("provider down")},
	}
	svc, _, convID := newTestService(t, model, &fakeSearch{items: []search.Item{
		{Title: "参考", Snippet: "内容", Link: "https://ref.example", RelevanceScore: 0.8},
	}})

	if _, err := svc.GenerateBrief(context.Background(), convID, "user-1", false); err != nil {
		t.Fatalf("brief: %v", err)
	}

	// The enhancement call fails; creation still proceeds from the draft.
	created, err := svc.ConfirmCreateRole(context.Background(), &ConfirmRequest{
		ConversationID: convID,
		DeepResearch:   true,
	}, "user-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if created.Name != "务实向导" {
		t.Fatalf("expected role built from pre-enhancement draft, got %q", created.Name)
	}
	if created.PersonaPrompt != "脚踏实地" {
		t.Fatalf("expected draft persona kept, got %q", created.PersonaPrompt)
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, defaultResearchLimit},
		{-3, defaultResearchLimit},
		{5, 5},
		{maxResearchLimit + 10, maxResearchLimit},
	}
	for _, c := range cases {
		if got := clampLimit(c.in); got != c.want {
			t.Fatalf("clampLimit(%d): expected %d, got %d", c.in, c.want, got)
		}
	}
}
