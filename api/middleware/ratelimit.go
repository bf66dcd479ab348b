package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/ratelimit"
)

// RateLimit throttles API calls per user, or per client IP for requests
// that carry no user. Buckets idle for an hour are dropped every five
// minutes.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	buckets := ratelimit.NewKeyed(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	go buckets.Evict(context.Background(), 5*time.Minute, time.Hour)

	return func(c *gin.Context) {
		identity := UserID(c)
		if identity == "" {
			identity = "ip:" + c.ClientIP()
		}

		if !buckets.Get(identity).Allow() {
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}
		c.Next()
	}
}
