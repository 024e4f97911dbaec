package ws

import (
	"net/http"
	"strings"
	"time"

	apperrors "persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/jwt"
	"persona-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HandlerConfig configures the upgrade endpoint.
type HandlerConfig struct {
	Client         ClientConfig
	AllowedOrigins []string
	RequireAuth    bool
}

// Handler upgrades HTTP requests into registry clients.
type Handler struct {
	registry *Registry
	tokens   *jwt.Service
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler creates the upgrade handler. tokens may be nil when auth is off.
func NewHandler(registry *Registry, tokens *jwt.Service, cfg HandlerConfig, log *logger.Logger) *Handler {
	h := &Handler{
		registry: registry,
		tokens:   tokens,
		cfg:      cfg,
		log:      log.WithComponent("ws-handler"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWs handles GET /ws. With auth required, a valid token must be passed
// in the token query parameter or the Authorization header; its user is
// joined on the new connection.
func (h *Handler) ServeWs(c *gin.Context) {
	var userID uint
	if h.cfg.RequireAuth {
		claims, err := h.authenticate(c)
		if err != nil {
			_ = c.Error(apperrors.NewUnauthorizedError("UNAUTHORIZED", err.Error()))
			c.Abort()
			return
		}
		userID = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "WebSocket upgrade failed", "remote", c.ClientIP())
		return
	}

	client := NewClient(conn, h.registry, h.cfg.Client, h.log)
	if err := client.Run(); err != nil {
		h.log.LogError(err, "Rejected WebSocket connection")
		return
	}

	if userID != 0 {
		if err := h.registry.Join(client.ID(), userID); err != nil {
			h.log.LogError(err, "Failed to join authenticated user", "user_id", userID)
		}
	}
}

func (h *Handler) authenticate(c *gin.Context) (*jwt.Claims, error) {
	if h.tokens == nil {
		return nil, jwt.ErrInvalidToken
	}
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	return h.tokens.ValidateToken(strings.TrimSpace(token))
}

// Stats handles GET /api/v1/ws/stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"onlineUsers": h.registry.OnlineCount(),
		"connections": h.registry.ConnectionCount(),
	})
}
