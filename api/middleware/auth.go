package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/models"
)

// Context keys set by Auth.
const (
	KeyAPIKey = "api_key"
	KeyUserID = "user_id"
)

// Auth returns API-key authentication middleware that resolves the key to
// its user.
//
// Supports two header styles:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
func Auth(apiKeys []config.APIKey) gin.HandlerFunc {
	users := make(map[string]string, len(apiKeys))
	for _, k := range apiKeys {
		if k.Key != "" && k.UserID != "" {
			users[k.Key] = k.UserID
		}
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}

		userID, ok := users[key]
		if !ok {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
			return
		}

		c.Set(KeyAPIKey, key)
		c.Set(KeyUserID, userID)
		c.Next()
	}
}

// LocalUser attributes every request to config.LocalUserID. It stands in
// for Auth when authentication is disabled.
func LocalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(KeyUserID, config.LocalUserID)
		c.Next()
	}
}

// UserID returns the authenticated user of the request.
func UserID(c *gin.Context) string {
	return c.GetString(KeyUserID)
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: code, Message: message},
	})
}
