package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// BrowserStatser reports browser-context utilisation.
type BrowserStatser interface {
	Stats() models.BrowserStats
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a handler for GET /api/v1/health.
//
// Degrades status when more than 80% of browser contexts are active or the
// store does not answer.
func Health(browser BrowserStatser, db Pinger, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := browser.Stats()

		status := "healthy"
		if stats.MaxContexts > 0 && stats.ActiveContexts > int(float64(stats.MaxContexts)*0.8) {
			status = "degraded"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			slog.Warn("store ping failed", "error", err)
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       status,
			Uptime:       time.Since(startTime).Round(time.Second).String(),
			BrowserStats: stats,
			Version:      Version,
		})
	}
}
