package models

import "time"

// ErrorResponse is the envelope for every failed API call.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// JobCreatedResponse is the response for POST /api/v1/jobs.
type JobCreatedResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// JobStatusResponse is the response for GET /api/v1/jobs/:id.
type JobStatusResponse struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Status       JobStatus `json:"status"`
	ScrapedCount int       `json:"scraped_count"`
	TotalResults *int      `json:"total_results"`
	ErrorCode    *string   `json:"error_code"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    string    `json:"created_at"`
	CompletedAt  *string   `json:"completed_at,omitempty"`
}

// NewJobStatusResponse renders a job for API and webhook consumers.
func NewJobStatusResponse(job *ScrapeJob) JobStatusResponse {
	r := JobStatusResponse{
		ID:           job.ID,
		Query:        job.Query,
		Status:       job.Status,
		ScrapedCount: job.ScrapedCount,
		TotalResults: job.TotalResults,
		ErrorCode:    job.ErrorCode,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		s := job.CompletedAt.Format(time.RFC3339)
		r.CompletedAt = &s
	}
	return r
}

// JobListResponse is the response for GET /api/v1/jobs.
type JobListResponse struct {
	Jobs []JobStatusResponse `json:"jobs"`
}

// LeadListResponse is the response for GET /api/v1/leads.
type LeadListResponse struct {
	Leads  []Lead `json:"leads"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ExportListResponse is the response for GET /api/v1/exports.
type ExportListResponse struct {
	Exports []Export `json:"exports"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string       `json:"status"` // "healthy" or "degraded"
	Uptime       string       `json:"uptime"`
	BrowserStats BrowserStats `json:"browser_stats"`
	Version      string       `json:"version"`
}

// BrowserStats reports how many per-job browser contexts are open.
type BrowserStats struct {
	MaxContexts    int `json:"max_contexts"`
	ActiveContexts int `json:"active_contexts"`
}
