package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/leadscout/api/handler"
	"github.com/use-agent/leadscout/api/middleware"
	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/export"
	"github.com/use-agent/leadscout/jobs"
	"github.com/use-agent/leadscout/session"
	"github.com/use-agent/leadscout/store"
)

// Services are the components the HTTP API drives.
type Services struct {
	Browser handler.BrowserStatser
	Store   *store.Store
	Vault   *session.Vault
	Jobs    *jobs.Manager
	Exports *export.Service
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (or LocalUser when auth is disabled) → RateLimit
//
// Health endpoint is outside auth so monitoring checks always work.
func NewRouter(svc Services, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(svc.Browser, svc.Store, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	} else {
		protected.Use(middleware.LocalUser())
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Session credential
	protected.PUT("/session", handler.PutSession(svc.Vault))
	protected.DELETE("/session", handler.DeleteSession(svc.Vault))

	// Jobs
	protected.POST("/jobs", handler.PostJob(svc.Jobs))
	protected.GET("/jobs", handler.ListJobs(svc.Jobs))
	protected.GET("/jobs/:id", handler.GetJob(svc.Jobs))
	protected.POST("/jobs/:id/cancel", handler.CancelJob(svc.Jobs))

	// Leads
	protected.GET("/leads", handler.ListLeads(svc.Store))

	// Exports
	protected.POST("/exports", handler.PostExport(svc.Exports))
	protected.GET("/exports", handler.ListExports(svc.Exports))
	protected.GET("/exports/:id", handler.GetExport(svc.Exports))
	protected.GET("/exports/:id/download", handler.DownloadExport(svc.Exports))

	return r
}
