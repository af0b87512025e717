package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/internal/middleware"
	"github.com/lexgig/lexgig-backend/internal/ws"
	"github.com/lexgig/lexgig-backend/pkg/logger"
)

// WSHandler upgrades members to the realtime gig and message stream
type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
	maxSockets     int
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. maxSockets caps concurrent sockets
// per member; 0 disables the cap.
func NewWSHandler(hub *ws.Hub, allowedOrigins string, maxSockets int) *WSHandler {
	h := &WSHandler{
		hub:            hub,
		allowedOrigins: parseOrigins(allowedOrigins),
		maxSockets:     maxSockets,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// parseOrigins parses comma-separated origins string
func parseOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// checkOrigin validates the request origin against allowed origins
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// the gigchat CLI sends no Origin
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	logger.GetLogger().Warn().Str("origin", origin).Msg("ws origin rejected")
	return false
}

// Connect handles GET /api/v1/ws. After the upgrade the client sends
// {"type":"join","conversation_id":N} frames to follow conversations.
// @Summary Real-time gig and message events
// @Tags realtime
// @Router /ws [get]
func (h *WSHandler) Connect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	if h.maxSockets > 0 && h.hub.Connections(userID) >= h.maxSockets {
		common.ErrorResponse(c, http.StatusTooManyRequests, "Too many open realtime connections", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetLogger().Debug().Err(err).Str("member_id", userID).Msg("ws upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
