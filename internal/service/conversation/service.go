package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
	"github.com/nexusvoice/backend/internal/service/ai"
	"github.com/nexusvoice/backend/internal/service/tts"
	"github.com/nexusvoice/backend/internal/store"
	"github.com/nexusvoice/backend/internal/stream"
)

// titleRuneLimit 自动标题取首条用户消息的前若干字符。
const titleRuneLimit = 20

// Service is the chat orchestrator. All user-facing conversation operations
// flow through it; it owns authorization, limits and persistence ordering.
type Service struct {
	store store.Store
	model ai.ChatService
	tts   tts.Service
}

// NewService wires the orchestrator.
func NewService(st store.Store, model ai.ChatService, speech tts.Service) *Service {
	return &Service{store: st, model: model, tts: speech}
}

// Chat handles one synchronous turn. Upstream model failures are folded into
// ChatResult{Success:false}; only authorization, not-found, limit and
// persistence failures surface as errors.
func (s *Service) Chat(ctx context.Context, req *ChatRequest, userID string) (*ChatResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.Validation("消息内容不能为空")
	}

	conv, r, err := s.prepareConversation(ctx, req, userID)
	if err != nil {
		return nil, err
	}

	if err := s.checkLimits(ctx, conv.ID); err != nil {
		return nil, err
	}

	userMsg, err := s.appendUserMessage(ctx, conv.ID, req.Message)
	if err != nil {
		return nil, err
	}

	history, err := s.store.History(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	// 窗口基于追加前的历史，新消息单独作为收尾轮。
	window := BuildWindow(conv, r, trimLast(history, userMsg.ID), req)

	resp, err := s.model.Chat(ctx, s.buildAIRequest(conv, req, window))
	if err != nil {
		log.Printf("[conversation] model call failed conversation=%s err=%v", conv.ID, err)
		return &ChatResult{
			Success:        false,
			ConversationID: conv.ID,
			ErrorCode:      apperr.CodeOf(err),
			ErrorMessage:   "AI服务暂时不可用，请稍后重试",
		}, nil
	}

	audioURL := s.maybeSynthesize(ctx, req, r, resp.Content)

	saved, err := s.store.AppendMessage(ctx, conversation.NewAssistantMessage(conv.ID, resp.Content, resp.Usage.TotalTokens, audioURL))
	if err != nil {
		return nil, err
	}

	s.maybeRenameFromFirstMessage(ctx, conv, req.Message)

	return &ChatResult{
		Success:        true,
		ConversationID: conv.ID,
		MessageID:      saved.ID,
		Content:        resp.Content,
		Model:          resp.Model,
		Usage:          resp.Usage,
		ResponseTimeMs: resp.ResponseTimeMs,
		AudioURL:       audioURL,
	}, nil
}

// StreamChat handles one streaming turn over an established session. The
// front half mirrors Chat; deltas are forwarded as CONTENT frames and the
// assistant message is persisted exactly once, on completion.
func (s *Service) StreamChat(ctx context.Context, req *ChatRequest, userID string, session *stream.Session) error {
	if strings.TrimSpace(req.Message) == "" {
		return apperr.Validation("消息内容不能为空")
	}

	// Reject before any side effect; dispatch is serialized per connection,
	// so the session cannot become busy between this check and Begin.
	if session.InFlight() {
		return stream.ErrBusy
	}

	conv, r, err := s.prepareConversation(ctx, req, userID)
	if err != nil {
		return err
	}

	if err := s.checkLimits(ctx, conv.ID); err != nil {
		return err
	}

	// Claim the session before persisting the user turn so a busy rejection
	// leaves the conversation untouched.
	if err := session.Begin(uuid.NewString(), firstNonEmpty(req.ModelName, conv.ModelName)); err != nil {
		return err
	}

	userMsg, err := s.appendUserMessage(ctx, conv.ID, req.Message)
	if err != nil {
		session.Fail("消息保存失败，请重试")
		return nil
	}

	history, err := s.store.History(ctx, conv.ID)
	if err != nil {
		session.Fail("消息保存失败，请重试")
		return nil
	}
	window := BuildWindow(conv, r, trimLast(history, userMsg.ID), req)

	aiReq := s.buildAIRequest(conv, req, window)

	handler := &streamPersister{
		svc:      s,
		session:  session,
		conv:     conv,
		role:     r,
		req:      req,
		userText: req.Message,
	}
	if err := s.model.StreamChat(context.WithoutCancel(ctx), aiReq, handler); err != nil {
		session.Fail("AI服务暂时不可用，请稍后重试")
		return nil
	}
	return nil
}

// streamPersister adapts provider callbacks to the session frame grammar and
// performs the single persistence point in OnComplete.
type streamPersister struct {
	svc      *Service
	session  *stream.Session
	conv     *conversation.Conversation
	role     *role.Role
	req      *ChatRequest
	userText string

	buffer strings.Builder
}

func (p *streamPersister) OnNext(delta string) {
	p.buffer.WriteString(delta)
	if err := p.session.Content(delta); err != nil {
		log.Printf("[conversation] dropping delta conversation=%s err=%v", p.conv.ID, err)
	}
}

func (p *streamPersister) OnError(err error) {
	log.Printf("[conversation] stream failed conversation=%s err=%v", p.conv.ID, err)
	p.session.Fail("AI服务暂时不可用，请稍后重试")
}

func (p *streamPersister) OnComplete(resp *ai.ChatResponse) {
	ctx := context.Background()

	// 通道已关闭则丢弃结果，不做持久化。
	if p.session.Closed() {
		log.Printf("[conversation] session closed before completion conversation=%s, result discarded", p.conv.ID)
		return
	}

	content := resp.Content
	if content == "" {
		content = p.buffer.String()
	}

	audioURL := p.svc.maybeSynthesize(ctx, p.req, p.role, content)

	saved, err := p.svc.store.AppendMessage(ctx, conversation.NewAssistantMessage(p.conv.ID, content, resp.Usage.TotalTokens, audioURL))
	if err != nil {
		log.Printf("[conversation] persist after stream failed conversation=%s err=%v", p.conv.ID, err)
		p.session.Fail("回复保存失败")
		return
	}

	p.svc.maybeRenameFromFirstMessage(ctx, p.conv, p.userText)

	end := stream.EndFrame(resp.FinishReason)
	end.ConversationID = p.conv.ID
	end.MessageID = saved.ID
	end.Model = resp.Model
	end.ResponseTimeMs = resp.ResponseTimeMs
	if err := p.session.End(end); err != nil {
		log.Printf("[conversation] end frame failed conversation=%s err=%v", p.conv.ID, err)
	}
}

// CreateConversation explicitly creates a conversation. A bound role seeds
// the log with its greeting as the first assistant message, with best-effort
// greeting audio.
func (s *Service) CreateConversation(ctx context.Context, req *CreateConversationRequest, userID string) (*conversation.Conversation, error) {
	var r *role.Role
	if req.RoleID != "" {
		var err error
		r, err = s.loadRole(ctx, req.RoleID, userID)
		if err != nil {
			return nil, err
		}
	}

	params := store.CreateConversationParams{
		UserID:       userID,
		RoleID:       req.RoleID,
		Title:        strings.TrimSpace(req.Title),
		ModelName:    req.ModelName,
		SystemPrompt: req.SystemPrompt,
	}
	if params.Title == "" {
		params.Title = conversation.DefaultTitle
	}
	if params.ModelName == "" {
		params.ModelName = conversation.DefaultModelName
	}
	if params.SystemPrompt == "" {
		params.SystemPrompt = conversation.DefaultSystemPrompt
	}

	conv, err := s.store.CreateConversation(ctx, params)
	if err != nil {
		return nil, err
	}

	if r != nil && strings.TrimSpace(r.GreetingMessage) != "" {
		greeting := strings.TrimSpace(r.GreetingMessage)
		audioURL := r.GreetingAudioURL
		if audioURL == "" && s.tts.Enabled() {
			if url, ttsErr := s.tts.Synthesize(ctx, greeting, r.VoiceType); ttsErr == nil {
				audioURL = url
			} else {
				log.Printf("[conversation] greeting tts failed role=%s err=%v", r.ID, ttsErr)
			}
		}
		if _, err := s.store.AppendMessage(ctx, conversation.NewAssistantMessage(conv.ID, greeting, 0, audioURL)); err != nil {
			log.Printf("[conversation] greeting seed failed conversation=%s err=%v", conv.ID, err)
		}
	}

	log.Printf("[conversation] created conversation=%s user=%s role=%s", conv.ID, userID, req.RoleID)
	return conv, nil
}

// ListConversations returns the caller's recent conversations with previews.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]store.ConversationPreview, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListConversations(ctx, userID, limit)
}

// History returns the full ordered message log of an owned conversation.
func (s *Service) History(ctx context.Context, conversationID, userID string) ([]conversation.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, conversationID)
}

// DeleteConversation soft-deletes an owned conversation.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	log.Printf("[conversation] deleted conversation=%s user=%s", conversationID, userID)
	return nil
}

// prepareConversation resolves an existing conversation (owner only) or
// creates one on the fly, and loads the bound role when present.
func (s *Service) prepareConversation(ctx context.Context, req *ChatRequest, userID string) (*conversation.Conversation, *role.Role, error) {
	var conv *conversation.Conversation
	var err error

	if req.ConversationID != "" {
		conv, err = s.authorize(ctx, req.ConversationID, userID)
		if err != nil {
			return nil, nil, err
		}
	} else {
		conv, err = s.store.CreateConversation(ctx, store.CreateConversationParams{
			UserID:       userID,
			RoleID:       req.RoleID,
			Title:        conversation.DefaultTitle,
			ModelName:    firstNonEmpty(req.ModelName, conversation.DefaultModelName),
			SystemPrompt: firstNonEmpty(req.SystemPrompt, conversation.DefaultSystemPrompt),
		})
		if err != nil {
			return nil, nil, err
		}
	}

	var r *role.Role
	roleID := firstNonEmpty(req.RoleID, conv.RoleID)
	if roleID != "" {
		r, err = s.loadRole(ctx, roleID, userID)
		if err != nil {
			return nil, nil, err
		}
	}
	return conv, r, nil
}

func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*conversation.Conversation, error) {
	conv, err := s.store.GetConversationForUser(ctx, conversationID, userID)
	if err != nil {
		// The store does not distinguish "absent" from "not yours".
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Authorization("您没有访问此对话的权限")
		}
		return nil, err
	}
	return conv, nil
}

// loadRole resolves a role visible to the user, with a typed miss.
func (s *Service) loadRole(ctx context.Context, roleID, userID string) (*role.Role, error) {
	r, err := s.store.GetRoleForChat(ctx, roleID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("角色不存在")
		}
		return nil, err
	}
	return r, nil
}

// checkLimits enforces the per-conversation ceilings before any append.
func (s *Service) checkLimits(ctx context.Context, conversationID string) error {
	count, err := s.store.CountMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if count >= MaxMessages {
		return apperr.LimitExceeded("对话消息数量已达上限")
	}

	tokens, err := s.store.SumTokenCount(ctx, conversationID)
	if err != nil {
		return err
	}
	if tokens >= MaxTokens {
		return apperr.LimitExceeded("对话令牌数量已达上限")
	}
	return nil
}

func (s *Service) appendUserMessage(ctx context.Context, conversationID, content string) (*conversation.Message, error) {
	msg := conversation.NewUserMessage(conversationID, content)
	msg.TokenCount = s.model.EstimateTokens(content)
	return s.store.AppendMessage(ctx, msg)
}

func (s *Service) buildAIRequest(conv *conversation.Conversation, req *ChatRequest, window []ai.Turn) *ai.ChatRequest {
	aiReq := &ai.ChatRequest{
		Turns:           window,
		Model:           firstNonEmpty(req.ModelName, conv.ModelName),
		Temperature:     0.7,
		MaxTokens:       2000,
		EnableWebSearch: req.EnableWebSearch,
		UserID:          conv.UserID,
		ConversationID:  conv.ID,
	}
	if req.Temperature != nil {
		aiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		aiReq.MaxTokens = *req.MaxTokens
	}
	return aiReq
}

// maybeSynthesize 按需为回复生成语音，失败仅记录日志。
func (s *Service) maybeSynthesize(ctx context.Context, req *ChatRequest, r *role.Role, content string) string {
	if !req.EnableAudio || !s.tts.Enabled() || content == "" {
		return ""
	}
	voice := req.VoiceType
	if voice == "" && r != nil {
		voice = r.VoiceType
	}
	url, err := s.tts.Synthesize(ctx, content, voice)
	if err != nil {
		log.Printf("[conversation] reply tts failed err=%v", err)
		return ""
	}
	return url
}

// maybeRenameFromFirstMessage renames a placeholder-titled conversation after
// its first user message. Failures are swallowed; the chat already succeeded.
func (s *Service) maybeRenameFromFirstMessage(ctx context.Context, conv *conversation.Conversation, firstUserText string) {
	if !conv.HasPlaceholderTitle() {
		return
	}
	title := deriveTitle(firstUserText)
	if title == "" {
		return
	}
	if err := s.store.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
		log.Printf("[conversation] title rename failed conversation=%s err=%v", conv.ID, err)
		return
	}
	conv.Title = title
}

// deriveTitle 取消息前20个字符，超出部分以省略号收尾。
func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) <= titleRuneLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleRuneLimit]) + "..."
}

// trimLast drops the just-appended user message from history so the window
// builder adds it exactly once.
func trimLast(history []conversation.Message, messageID string) []conversation.Message {
	if n := len(history); n > 0 && history[n-1].ID == messageID {
		return history[:n-1]
	}
	return history
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
