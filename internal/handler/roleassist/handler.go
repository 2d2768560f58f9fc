package roleassist

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusvoice/backend/internal/apperr"
	"github.com/nexusvoice/backend/internal/auth"
	roleassistService "github.com/nexusvoice/backend/internal/service/roleassist"
	"github.com/nexusvoice/backend/pkg/utils"
)

// Handler 角色助手的HTTP处理器
type Handler struct {
	svc *roleassistService.Service
}

// New 创建角色助手处理器
func New(svc *roleassistService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册角色助手路由（要求已通过JWT中间件）
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/role-assistant/brief", h.handleGenerateBrief)
	r.Get("/role-assistant/research/preview", h.handlePreviewResearch)
	r.Post("/role-assistant/research/apply", h.handleApplyResearch)
	r.Post("/role-assistant/confirm", h.handleConfirm)
}

func (h *Handler) handleGenerateBrief(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload struct {
		ConversationID  string `json:"conversationId"`
		EnableWebSearch bool   `json:"enableWebSearch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	brief, err := h.svc.GenerateBrief(r.Context(), payload.ConversationID, userID, payload.EnableWebSearch)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, brief)
}

func (h *Handler) handlePreviewResearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	preview, err := h.svc.PreviewResearchTasks(r.Context(), conversationID, userID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleApplyResearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload roleassistService.ApplyResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	brief, err := h.svc.ApplyResearch(r.Context(), &payload, userID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, brief)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var payload roleassistService.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	created, err := h.svc.ConfirmCreateRole(r.Context(), &payload, userID)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, created)
}
