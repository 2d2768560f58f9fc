package account

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusvoice/backend/internal/apperr"
	accountService "github.com/nexusvoice/backend/internal/service/account"
	"github.com/nexusvoice/backend/pkg/utils"
)

// Handler 账户相关的HTTP处理器
type Handler struct {
	svc *accountService.Service
}

// New 创建账户处理器
func New(svc *accountService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册账户路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds accountService.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.svc.Register(r.Context(), creds)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds accountService.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.Login(r.Context(), creds)
	if err != nil {
		utils.RespondError(w, apperr.HTTPStatus(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}
