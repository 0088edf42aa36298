package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"care-sync/internal/telemetry"
)

// StatsFunc reports a group of runtime counters.
type StatsFunc func() map[string]int

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, stats map[string]StatsFunc, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.LevelInfo, "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/stats", func(c *gin.Context) {
		resp := gin.H{}
		for name, fn := range stats {
			resp[name] = fn()
		}
		c.JSON(http.StatusOK, resp)
	})
}
