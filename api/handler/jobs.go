package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/api/middleware"
	"github.com/use-agent/leadscout/jobs"
	"github.com/use-agent/leadscout/models"
)

// PostJob returns a handler for POST /api/v1/jobs.
//
// The job runs in the background; the response only confirms admission.
// Poll GET /api/v1/jobs/:id or pass webhook_url to learn the outcome.
func PostJob(m *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.JobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, err)
			return
		}

		job, err := m.Submit(c.Request.Context(), jobs.SubmitRequest{
			UserID:        middleware.UserID(c),
			Query:         req.Query,
			WebhookURL:    req.WebhookURL,
			WebhookSecret: req.WebhookSecret,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, models.JobCreatedResponse{
			ID:     job.ID,
			Status: job.Status,
		})
	}
}

// GetJob returns a handler for GET /api/v1/jobs/:id.
func GetJob(m *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := m.Status(c.Request.Context(), middleware.UserID(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewJobStatusResponse(job))
	}
}

// ListJobs returns a handler for GET /api/v1/jobs.
func ListJobs(m *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 1000 {
				respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, "limit must be between 1 and 1000", err))
				return
			}
			limit = n
		}

		list, err := m.List(c.Request.Context(), middleware.UserID(c), limit)
		if err != nil {
			respondError(c, err)
			return
		}

		resp := models.JobListResponse{Jobs: make([]models.JobStatusResponse, len(list))}
		for i := range list {
			resp.Jobs[i] = models.NewJobStatusResponse(&list[i])
		}
		c.JSON(http.StatusOK, resp)
	}
}

// CancelJob returns a handler for POST /api/v1/jobs/:id/cancel.
func CancelJob(m *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := m.Cancel(c.Request.Context(), middleware.UserID(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, models.NewJobStatusResponse(job))
	}
}
