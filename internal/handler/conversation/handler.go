package conversation

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/auth"
	conversationService "github.com/nexusvoice/backend/internal/service/conversation"
	"github.com/nexusvoice/backend/pkg/utils"
)

// Handler 对话相关的HTTP处理器
type Handler struct {
	svc *conversationService.Service
}

// New 创建对话处理器
func New(svc *conversationService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册对话路由（要求已通过JWT中间件）
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreate)
	r.Get("/conversations", h.handleList)
	r.Post("/conversations/chat", h.handleChat)
	r.Get("/conversations/{conversationID}/messages", h.handleHistory)
	r.Delete("/conversations/{conversationID}", h.handleDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload conversationService.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.svc.CreateConversation(r.Context(), &payload, userID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, conv)
}

// handleChat 同步聊天。模型失败折叠在 200 响应的 success=false 里。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload conversationService.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Chat(r.Context(), &payload, userID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	previews, err := h.svc.ListConversations(r.Context(), userID, limit)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, previews)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	messages, err := h.svc.History(r.Context(), conversationID, userID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	if err := h.svc.DeleteConversation(r.Context(), conversationID, userID); err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
