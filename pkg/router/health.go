package router

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// setupHealthRoutes reports the checker's components plus live session
// and memory figures. The status code follows the critical components.
func (r *Router) setupHealthRoutes() {
	checker := r.Container.Health
	registry := r.Container.Registry

	healthHandler := func(c *gin.Context) {
		code := http.StatusOK
		status := "ok"
		if !checker.IsSystemHealthy() {
			code = http.StatusServiceUnavailable
			status = "unavailable"
		}

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		c.JSON(code, gin.H{
			"status":     status,
			"version":    os.Getenv("APP_VERSION"),
			"timestamp":  time.Now().Format(time.RFC3339),
			"uptime":     time.Since(startTime).Round(time.Second).String(),
			"components": checker.GetStatus(),
			"websocket": gin.H{
				"connections":  registry.ConnectionCount(),
				"online_users": registry.OnlineCount(),
			},
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	}

	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)
}
