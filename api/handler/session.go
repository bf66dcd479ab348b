package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/api/middleware"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/session"
)

// PutSession returns a handler for PUT /api/v1/session.
func PutSession(vault *session.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, err)
			return
		}
		if err := vault.Put(c.Request.Context(), middleware.UserID(c), req.Cookie); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// DeleteSession returns a handler for DELETE /api/v1/session.
func DeleteSession(vault *session.Vault) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := vault.Clear(c.Request.Context(), middleware.UserID(c)); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
