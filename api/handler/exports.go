package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/api/middleware"
	"github.com/use-agent/leadscout/export"
	"github.com/use-agent/leadscout/models"
)

// PostExport returns a handler for POST /api/v1/exports.
func PostExport(svc *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, err)
			return
		}

		e, err := svc.Create(c.Request.Context(), export.Request{
			UserID: middleware.UserID(c),
			JobID:  req.JobID,
			Format: req.Format,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	}
}

// ListExports returns a handler for GET /api/v1/exports.
func ListExports(svc *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ExportListResponse{Exports: list})
	}
}

// GetExport returns a handler for GET /api/v1/exports/:id.
func GetExport(svc *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svc.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

// DownloadExport returns a handler for GET /api/v1/exports/:id/download.
func DownloadExport(svc *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, f, err := svc.Open(c.Request.Context(), middleware.UserID(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			respondError(c, err)
			return
		}

		filename := "leads-" + e.ID + "." + e.Format
		c.DataFromReader(http.StatusOK, info.Size(), export.ContentType(e.Format), f, map[string]string{
			"Content-Disposition": `attachment; filename="` + filename + `"`,
		})
	}
}
