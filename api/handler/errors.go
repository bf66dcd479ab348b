package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/models"
)

// respondError maps an error to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	var se *models.ScrapeError
	if !errors.As(err, &se) {
		se = models.NewScrapeError(models.ErrCodeInternal, "internal error", err)
	}

	status := mapErrorToStatus(se.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", se.Code,
			"error", err,
		)
	}
	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error:   se.ToDetail(),
	})
}

// respondInvalid reports a request that failed binding or validation.
func respondInvalid(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeInvalidInput, models.ErrCodeUnsupportedFormat:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeQuotaExceeded:
		return http.StatusForbidden // 403
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeJobTerminal:
		return http.StatusConflict // 409
	case models.ErrCodeSessionMissing:
		return http.StatusPreconditionFailed // 412
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeNavigation, models.ErrCodeAuthRejected:
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
