// Package roleassist turns a conversation into a reusable chat role: draft
// generation, optional web research enhancement, and final role creation.
// Drafts live only as checkpoint metadata on system messages; the newest
// ROLE_BRIEF checkpoint is always the current draft.
package roleassist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
	"github.com/nexusvoice/backend/internal/service/ai"
	"github.com/nexusvoice/backend/internal/service/search"
	"github.com/nexusvoice/backend/internal/service/tts"
	"github.com/nexusvoice/backend/internal/store"
	"github.com/nexusvoice/backend/pkg/utils"
)

const (
	// transcriptTurns 草稿生成携带的最近会话轮数。
	transcriptTurns = 20
	// transcriptCharLimit 每条消息提取的最大字符数。
	transcriptCharLimit = 500
	// snippetCharLimit 深研参考资料拼接的上限。
	snippetCharLimit = 3000
	// perQueryResults 单个查询请求的最大检索条数。
	perQueryResults = 4

	defaultResearchLimit = 12
	maxResearchLimit     = 20

	// DefaultVoiceType 创建角色时的兜底音色。
	DefaultVoiceType = "qiniu_zh_female_dmytwz"
)

var defaultDisclaimer = "本角色仅为原创风格设定，不复刻具体IP"

// ApplyResearchRequest 深研草稿更新参数。
type ApplyResearchRequest struct {
	ConversationID  string   `json:"conversationId"`
	ResearchLimit   int      `json:"researchLimit,omitempty"`
	ResearchQueries []string `json:"researchQueries,omitempty"`
}

// ConfirmRequest 角色创建确认参数。
type ConfirmRequest struct {
	ConversationID    string   `json:"conversationId"`
	OverrideName      string   `json:"overrideName,omitempty"`
	VoiceType         string   `json:"voiceType,omitempty"`
	OverrideVoiceType string   `json:"overrideVoiceType,omitempty"`
	DeepResearch      bool     `json:"deepResearch,omitempty"`
	ResearchLimit     int      `json:"researchLimit,omitempty"`
	ResearchQueries   []string `json:"researchQueries,omitempty"`
}

// Service 角色助手。
type Service struct {
	store  store.Store
	model  ai.ChatService
	search search.Service
	tts    tts.Service
}

// NewService wires the role assistant.
func NewService(st store.Store, model ai.ChatService, searcher search.Service, speech tts.Service) *Service {
	return &Service{store: st, model: model, search: searcher, tts: speech}
}

// authorize 校验会话归属，存在性与归属不作区分。
func (s *Service) authorize(ctx context.Context, conversationID, userID string) error {
	if _, err := s.store.GetConversationForUser(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Authorization("您没有访问此对话的权限")
		}
		return err
	}
	return nil
}

// GenerateBrief 基于对话内容生成角色草稿并写入 ROLE_BRIEF 检查点。
func (s *Service) GenerateBrief(ctx context.Context, conversationID, userID string, enableWebSearch bool) (*role.Brief, error) {
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	history, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	transcript := toTranscript(history, transcriptTurns, transcriptCharLimit)

	system := "你是资深AI角色设定助手。基于用户与AI的对话内容，总结出一个可用的'角色草稿'。" +
		"务必原创，避免复刻具体IP设定、名称、台词或标识。" +
		"输出严格为一个JSON对象，不要包含多余文字。字段：" +
		"name(<=20汉字)、description、personaPrompt、greetingMessage、avatarUrl(可空)、voiceType(如未给出，后端将使用默认音色)、" +
		"sources(数组，元素含title/url/snippet，可为空)、disclaimers(数组)。" +
		"整体语气与要求：中文，信息完整、具体、可直接用于人设。"
	user := "请基于以下对话生成角色草稿JSON：\n\n" + strings.Join(transcript, "\n")

	resp, err := s.model.Chat(ctx, &ai.ChatRequest{
		Turns: []ai.Turn{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model:           s.model.ModelName(),
		Temperature:     0.5,
		MaxTokens:       1200,
		UserID:          userID,
		ConversationID:  conversationID,
		EnableWebSearch: enableWebSearch,
	})
	if err != nil {
		return nil, apperr.Upstream("生成角色草稿失败", err)
	}

	brief, err := parseBrief(resp.Content)
	if err != nil {
		return nil, err
	}
	applyBriefDefaults(brief)

	s.saveCheckpoint(ctx, conversationID, "已生成角色草稿",
		conversation.CheckpointRoleBrief, toJSON(brief))

	log.Printf("[roleassist] brief generated conversation=%s name=%q", conversationID, brief.Name)
	return brief, nil
}

// PreviewResearchTasks 生成建议的深研查询清单，不触发任何搜索。
func (s *Service) PreviewResearchTasks(ctx context.Context, conversationID, userID string) (*role.ResearchTaskPreview, error) {
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	draft, err := s.loadLatestBrief(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	rationales := []string{"补充风格与口吻示例", "补充领域知识点", "细化对话风格指南"}
	queries := buildResearchQueries(draft)
	tasks := make([]role.ResearchTask, 0, len(queries))
	for i, q := range queries {
		tasks = append(tasks, role.ResearchTask{
			ID:        fmt.Sprintf("task-%d", i+1),
			Query:     q,
			Rationale: rationales[i%len(rationales)],
			Enabled:   true,
		})
	}

	return &role.ResearchTaskPreview{
		Tasks:        tasks,
		DefaultLimit: defaultResearchLimit,
		MaxLimit:     maxResearchLimit,
	}, nil
}

// ApplyResearch 执行深研并把增强后的草稿写成新的 ROLE_BRIEF 检查点。
func (s *Service) ApplyResearch(ctx context.Context, req *ApplyResearchRequest, userID string) (*role.Brief, error) {
	if err := s.authorize(ctx, req.ConversationID, userID); err != nil {
		return nil, err
	}

	draft, err := s.loadLatestBrief(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(req.ResearchLimit)
	queries := req.ResearchQueries
	if len(queries) == 0 {
		queries = buildResearchQueries(draft)
	}

	newBrief := s.deepResearchEnhance(ctx, draft, limit, userID, req.ConversationID, queries)

	s.saveCheckpoint(ctx, req.ConversationID, "角色草稿已更新（深研结果已合并）",
		conversation.CheckpointRoleBrief, toJSON(newBrief))
	return newBrief, nil
}

// ConfirmCreateRole 把最新草稿落成私人角色，可选先做一轮深研。
func (s *Service) ConfirmCreateRole(ctx context.Context, req *ConfirmRequest, userID string) (*role.Role, error) {
	if err := s.authorize(ctx, req.ConversationID, userID); err != nil {
		return nil, err
	}

	draft, err := s.loadLatestBrief(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	if req.OverrideName != "" {
		draft.Name = req.OverrideName
	}
	// voiceType 前端直传优先。
	if req.VoiceType != "" {
		draft.VoiceType = req.VoiceType
	} else if req.OverrideVoiceType != "" {
		draft.VoiceType = req.OverrideVoiceType
	}

	finalBrief := draft
	if req.DeepResearch {
		limit := clampLimit(req.ResearchLimit)
		queries := req.ResearchQueries
		if len(queries) == 0 {
			queries = buildResearchQueries(draft)
		}
		finalBrief = s.deepResearchEnhance(ctx, draft, limit, userID, req.ConversationID, queries)
	}

	voiceType := finalBrief.VoiceType
	if voiceType == "" || voiceType == "default" {
		voiceType = DefaultVoiceType
	}

	created, err := s.store.CreateRole(ctx, role.Role{
		UserID:          userID,
		Name:            clampStr(finalBrief.Name, 50),
		Description:     clampStr(finalBrief.Description, 255),
		PersonaPrompt:   clampStr(finalBrief.PersonaPrompt, 2000),
		GreetingMessage: clampStr(finalBrief.GreetingMessage, 255),
		AvatarURL:       clampStr(finalBrief.AvatarURL, 255),
		VoiceType:       clampStr(voiceType, 50),
	})
	if err != nil {
		return nil, err
	}

	// 开场白音频 best effort，失败仅保留文本开场白。
	if greeting := strings.TrimSpace(created.GreetingMessage); greeting != "" && s.tts.Enabled() {
		cleaned := utils.CleanForTTS(greeting)
		if audioURL, ttsErr := s.tts.Synthesize(ctx, cleaned, created.VoiceType); ttsErr == nil && audioURL != "" {
			if updErr := s.store.UpdateRoleGreetingAudio(ctx, created.ID, userID, audioURL, created.VoiceType); updErr == nil {
				created.GreetingAudioURL = audioURL
			} else {
				log.Printf("[roleassist] greeting audio update failed role=%s err=%v", created.ID, updErr)
			}
		} else if ttsErr != nil {
			log.Printf("[roleassist] greeting tts failed role=%s err=%v", created.ID, ttsErr)
		}
	}

	s.saveCheckpoint(ctx, req.ConversationID, "角色已创建："+created.Name,
		conversation.CheckpointRoleCreated, toJSON(finalBrief))

	log.Printf("[roleassist] role created role=%s user=%s name=%q", created.ID, userID, created.Name)
	return created, nil
}

// deepResearchEnhance 检索资料并让模型增强草稿。任何失败都降级返回原草稿。
func (s *Service) deepResearchEnhance(ctx context.Context, draft *role.Brief, limit int, userID, conversationID string, queries []string) *role.Brief {
	var items []search.Item
	for _, q := range queries {
		perQuery := perQueryResults
		if limit < perQuery {
			perQuery = limit
		}
		result := s.search.SearchWeb(ctx, q, perQuery, "zh-CN")
		items = append(items, result.Items...)
		if len(items) >= limit {
			break
		}
	}

	var src strings.Builder
	count := 0
	for _, it := range items {
		count++
		fmt.Fprintf(&src, "%d. %s\n%s\n来源：%s\n\n", count, it.Title, it.Snippet, it.Link)
		if src.Len() > snippetCharLimit {
			break
		}
	}

	system := "你是角色研究助手。在不抄袭、仅保留抽象风格的前提下，根据参考资料优化以下角色草稿。" +
		"保持名称、语气与边界的合理性，不使用具体IP专有名词。输出一个JSON对象，字段同前：" +
		"name, description, personaPrompt, greetingMessage, avatarUrl, voiceType, sources, disclaimers。"
	user := "原始草稿：\n" + toJSON(draft) + "\n\n参考资料：\n" + src.String()

	resp, err := s.model.Chat(ctx, &ai.ChatRequest{
		Turns: []ai.Turn{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model:          s.model.ModelName(),
		Temperature:    0.4,
		MaxTokens:      1400,
		UserID:         userID,
		ConversationID: conversationID,
	})
	if err != nil {
		log.Printf("[roleassist] research enhance failed, keeping draft conversation=%s err=%v", conversationID, err)
		return draft
	}

	brief, parseErr := parseBrief(resp.Content)
	if parseErr != nil {
		log.Printf("[roleassist] research parse failed, keeping draft conversation=%s err=%v", conversationID, parseErr)
		return draft
	}
	applyBriefDefaults(brief)

	// 合并来源，按URL去重，先见者保留。
	merged := make([]role.Source, 0, len(draft.Sources)+len(brief.Sources))
	seen := make(map[string]bool)
	for _, src := range append(append([]role.Source{}, draft.Sources...), brief.Sources...) {
		if seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		merged = append(merged, src)
	}
	brief.Sources = merged

	usedItems := len(items)
	if usedItems > limit {
		usedItems = limit
	}
	s.saveCheckpoint(ctx, conversationID, fmt.Sprintf("已完成深研增强（条目%d)", usedItems),
		conversation.CheckpointRoleResearch, src.String())

	return brief
}

// loadLatestBrief 从最新的 ROLE_BRIEF 检查点重建草稿。
func (s *Service) loadLatestBrief(ctx context.Context, conversationID string) (*role.Brief, error) {
	history, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	for i := len(history) - 1; i >= 0; i-- {
		meta, ok := conversation.ParseCheckpointMetadata(history[i].Metadata, conversation.CheckpointRoleBrief)
		if !ok {
			continue
		}
		var brief role.Brief
		if err := json.Unmarshal(meta.Payload, &brief); err != nil {
			log.Printf("[roleassist] brief checkpoint unreadable message=%s err=%v", history[i].ID, err)
			continue
		}
		return &brief, nil
	}
	return nil, apperr.NotFound("未找到角色草稿，请先生成草稿")
}

func (s *Service) saveCheckpoint(ctx context.Context, conversationID, content, checkpointType, payload string) {
	metadata := conversation.BuildCheckpointMetadata(checkpointType, payload)
	if _, err := s.store.AppendMessage(ctx, conversation.NewSystemNote(conversationID, content, metadata)); err != nil {
		log.Printf("[roleassist] checkpoint append failed conversation=%s type=%s err=%v", conversationID, checkpointType, err)
	}
}

// parseBrief 解析模型输出：严格解析，失败后提取首个 {..} 片段，再失败
// 走逐字段容错解析。全部失败返回 Parse 错误。
func parseBrief(text string) (*role.Brief, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Parse("AI响应为空", nil)
	}
	raw := extractFirstJSON(text)

	var brief role.Brief
	if err := json.Unmarshal([]byte(raw), &brief); err == nil {
		return &brief, nil
	}

	var loose map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, apperr.Parse("角色草稿解析失败", err)
	}

	brief = role.Brief{
		Name:            looseString(loose, "name"),
		Description:     looseString(loose, "description"),
		PersonaPrompt:   looseString(loose, "personaPrompt"),
		GreetingMessage: looseString(loose, "greetingMessage"),
		AvatarURL:       looseString(loose, "avatarUrl"),
		VoiceType:       looseString(loose, "voiceType"),
		Sources:         []role.Source{},
		Disclaimers:     []string{},
	}
	if rawSources, ok := loose["sources"]; ok {
		var sources []map[string]json.RawMessage
		if err := json.Unmarshal(rawSources, &sources); err == nil {
			for _, s := range sources {
				brief.Sources = append(brief.Sources, role.Source{
					Title:   looseString(s, "title"),
					URL:     looseString(s, "url"),
					Snippet: looseString(s, "snippet"),
				})
			}
		}
	}
	if rawDisclaimers, ok := loose["disclaimers"]; ok {
		var disclaimers []string
		if err := json.Unmarshal(rawDisclaimers, &disclaimers); err == nil {
			brief.Disclaimers = disclaimers
		}
	}
	return &brief, nil
}

// extractFirstJSON 截取首个 '{' 到末个 '}' 之间的片段。
func extractFirstJSON(text string) string {
	i := strings.Index(text, "{")
	j := strings.LastIndex(text, "}")
	if i >= 0 && j >= i {
		return text[i : j+1]
	}
	return strings.TrimSpace(text)
}

func looseString(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func applyBriefDefaults(brief *role.Brief) {
	if brief.VoiceType == "" {
		brief.VoiceType = "default"
	}
	if len(brief.Disclaimers) == 0 {
		brief.Disclaimers = []string{defaultDisclaimer}
	}
	if brief.Sources == nil {
		brief.Sources = []role.Source{}
	}
}

func buildResearchQueries(draft *role.Brief) []string {
	base := draft.Name
	if base == "" {
		base = "AI 人设风格"
	}
	return []string{
		base + " 风格 特点 写作 口吻 示例",
		base + " 领域 知识 点 概要",
		"对话 风格 指南 中文 实用",
	}
}

// toTranscript 取最近 maxMessages 条消息，逐条截断到 maxPerMessage 字符。
func toTranscript(history []conversation.Message, maxMessages, maxPerMessage int) []string {
	if len(history) == 0 {
		return nil
	}
	start := 0
	if len(history) > maxMessages {
		start = len(history) - maxMessages
	}
	lines := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		content := m.Content
		if runes := []rune(content); len(runes) > maxPerMessage {
			content = string(runes[:maxPerMessage]) + "..."
		}
		lines = append(lines, strings.ToUpper(string(m.Role))+"："+content)
	}
	return lines
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultResearchLimit
	}
	if limit > maxResearchLimit {
		return maxResearchLimit
	}
	return limit
}

func clampStr(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[roleassist] json marshal failed err=%v", err)
		return "{}"
	}
	return string(data)
}
