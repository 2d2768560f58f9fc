package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nexusvoice/backend/internal/assets"
	"github.com/nexusvoice/backend/internal/config"
	accountHandler "github.com/nexusvoice/backend/internal/handler/account"
	conversationHandler "github.com/nexusvoice/backend/internal/handler/conversation"
	roleassistHandler "github.com/nexusvoice/backend/internal/handler/roleassist"
	wsHandler "github.com/nexusvoice/backend/internal/handler/ws"
	middlewarePkg "github.com/nexusvoice/backend/internal/middleware"
	accountService "github.com/nexusvoice/backend/internal/service/account"
	conversationService "github.com/nexusvoice/backend/internal/service/conversation"
	roleassistService "github.com/nexusvoice/backend/internal/service/roleassist"
	"github.com/nexusvoice/backend/internal/store"
	"github.com/nexusvoice/backend/internal/stream"
	"github.com/nexusvoice/backend/pkg/utils"
)

// Deps bundles everything the router needs.
type Deps struct {
	Store      store.Store
	Account    *accountService.Service
	Chat       *conversationService.Service
	RoleAssist *roleassistService.Service
	Registry   *stream.Registry
	Auth       config.AuthConfig
	AudioDir   string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.AudioDir != "" {
		fileServer := http.StripPrefix(assets.URLPrefix, http.FileServer(http.Dir(deps.AudioDir)))
		r.Get(assets.URLPrefix+"/*", fileServer.ServeHTTP)
	}

	r.Route("/api", func(api chi.Router) {
		accountHandler.New(deps.Account).RegisterRoutes(api)

		// WebSocket握手自带令牌校验，不经过JWT中间件。
		wsHandler.New(deps.Chat, deps.Registry, deps.Store, deps.Auth.JWTSecret).RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.JWTAuth(deps.Auth.JWTSecret))
			conversationHandler.New(deps.Chat).RegisterRoutes(protected)
			roleassistHandler.New(deps.RoleAssist).RegisterRoutes(protected)
		})
	})

	return r
}
