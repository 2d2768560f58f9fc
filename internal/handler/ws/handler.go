// Package ws exposes the duplex streaming chat endpoint. One WebSocket
// connection maps to one stream.Session; chat requests arrive as JSON text
// frames and responses go out as protocol frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexusvoice/backend/internal/auth"
	conversationService "github.com/nexusvoice/backend/internal/service/conversation"
	"github.com/nexusvoice/backend/internal/store"
	"github.com/nexusvoice/backend/internal/stream"
	"github.com/nexusvoice/backend/pkg/utils"
)

const (
	defaultHeartbeatSeconds = 25
	writeWait               = 10 * time.Second
	pongWait                = 75 * time.Second
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc   *conversationService.Service
	registry  *stream.Registry
	store     store.Store
	jwtSecret string
	upgrader  websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *conversationService.Service, registry *stream.Registry, st store.Store, jwtSecret string) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		registry:  registry,
		store:     st,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleChat)
}

// connWriter serialises all frame writes onto one connection.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) WriteFrame(frame stream.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(frame)
}

type inboundRequest struct {
	Type string `json:"type"`
	conversationService.ChatRequest
}

// handleChat 浏览器无法在握手时携带自定义头，令牌经 query 传递。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := auth.ParseAccessToken(token, h.jwtSecret)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	userID := claims.UserID

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed user=%s err=%v", userID, err)
		return
	}

	sessionID := uuid.NewString()
	writer := &connWriter{conn: conn}
	session := stream.NewSession(sessionID, writer)
	h.registry.Register(session)

	log.Printf("[ws] session opened session=%s user=%s", sessionID, userID)

	defer func() {
		h.registry.Unregister(sessionID)
		conn.Close()
		log.Printf("[ws] session closed session=%s user=%s", sessionID, userID)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go h.heartbeatLoop(r.Context(), session, conn, stopHeartbeat)

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed session=%s err=%v", sessionID, readErr)
			}
			return
		}

		var req inboundRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = writer.WriteFrame(stream.ErrorFrame("请求格式无效"))
			continue
		}

		switch req.Type {
		case "ping":
			if err := session.Heartbeat(); err != nil {
				return
			}
		case "chat", "":
			h.dispatchChat(r.Context(), session, writer, &req.ChatRequest, userID)
		default:
			_ = writer.WriteFrame(stream.ErrorFrame("未知的消息类型"))
		}
	}
}

// dispatchChat 把一次聊天请求交给编排器。单飞控制下的拒绝只产生一个
// ERROR 帧，不影响进行中的请求。
func (h *Handler) dispatchChat(ctx context.Context, session *stream.Session, writer *connWriter, req *conversationService.ChatRequest, userID string) {
	err := h.chatSvc.StreamChat(ctx, req, userID, session)
	if err == nil {
		return
	}
	if errors.Is(err, stream.ErrBusy) {
		_ = writer.WriteFrame(stream.ErrorFrame("上一条消息仍在处理中"))
		return
	}
	log.Printf("[ws] chat rejected session=%s err=%v", session.ID, err)
	_ = writer.WriteFrame(stream.ErrorFrame(err.Error()))
}

// heartbeatLoop 周期性发送协议心跳帧与底层 ping。间隔可经
// ws.heartbeat.seconds 系统配置调整。
func (h *Handler) heartbeatLoop(ctx context.Context, session *stream.Session, conn *websocket.Conn, stop <-chan struct{}) {
	interval := h.heartbeatInterval(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := session.Heartbeat(); err != nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) heartbeatInterval(ctx context.Context) time.Duration {
	interval := defaultHeartbeatSeconds * time.Second
	cfg, err := h.store.GetSystemConfig(ctx, "ws.heartbeat.seconds")
	if err != nil || cfg == nil || !cfg.Enabled {
		return interval
	}
	if secs, parseErr := strconv.Atoi(cfg.Value); parseErr == nil && secs > 0 {
		interval = time.Duration(secs) * time.Second
	}
	return interval
}
