package router

import (
	"net/http"
	"strings"

	"persona-chat/backend/internal/api"
	"persona-chat/backend/internal/ws"
	"persona-chat/backend/pkg/config"
	"persona-chat/backend/pkg/di"
	"persona-chat/backend/pkg/errors"
	"persona-chat/backend/pkg/logger"
	"persona-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config

	limiter *middleware.RateLimiter
}

// New builds the engine and its global middleware chain
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(cfg.Security.RateLimit),
		Burst: cfg.Security.RateLimitBurst,
		Skip:  exemptFromRateLimit,
	})
	engine.Use(limiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		limiter:   limiter,
	}
}

// Probes, scrapes, static audio and the long-lived socket are not limited;
// the socket has its own per-connection limiter.
func exemptFromRateLimit(c *gin.Context) bool {
	p := c.Request.URL.Path
	return p == "/health" || p == "/api/health" || p == "/metrics" || p == "/ws" ||
		strings.HasPrefix(p, "/api/audio/")
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.Metrics, promhttp.HandlerOpts{})))
	r.Engine.Static("/api/audio", r.Config.Audio.UploadDir)

	wsHandler := ws.NewHandler(c.Registry, c.JWTService, ws.HandlerConfig{
		Client: ws.ClientConfig{
			SendBuffer:     r.Config.WebSocket.SendBuffer,
			InboundBuffer:  r.Config.WebSocket.InboundBuffer,
			MaxMessageSize: r.Config.WebSocket.MaxMessageSize,
			MessageRate:    r.Config.WebSocket.MessageRate,
			MessageBurst:   r.Config.WebSocket.MessageBurst,
		},
		AllowedOrigins: r.Config.Security.AllowedOrigins,
		RequireAuth:    r.Config.WebSocket.RequireAuth,
	}, r.Logger)
	r.Engine.GET("/ws", wsHandler.ServeWs)

	v1 := r.Engine.Group("/api/v1")
	{
		api.NewChatController(c.Orchestrator, r.Config.Audio.MaxUploadSize, r.Logger).RegisterRoutes(v1)
		api.NewPersonaController(c.Personas).RegisterRoutes(v1)
		v1.GET("/ws/stats", wsHandler.Stats)
	}
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.limiter.Stop()
}

// corsMiddleware answers preflights and echoes allowed origins, including
// the headers a WebSocket upgrade needs.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(o)] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		h := c.Writer.Header()

		switch {
		case origin == "":
		case set[strings.ToLower(origin)]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		}

		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
