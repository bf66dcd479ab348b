package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/api/middleware"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/store"
)

// ListLeads returns a handler for GET /api/v1/leads.
func ListLeads(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q models.LeadQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondInvalid(c, err)
			return
		}
		q.Defaults()

		filter := models.LeadFilter{
			UserID:   middleware.UserID(c),
			JobID:    q.JobID,
			Company:  q.Company,
			Location: q.Location,
			Limit:    q.Limit,
			Offset:   q.Offset,
		}
		total, err := st.CountLeads(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		leads, err := st.ListLeads(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.LeadListResponse{
			Leads:  leads,
			Total:  total,
			Limit:  q.Limit,
			Offset: q.Offset,
		})
	}
}
