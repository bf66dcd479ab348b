package models

// JobRequest is the payload for POST /api/v1/jobs.
type JobRequest struct {
	// Query is the search-results URL to scrape. Required.
	Query string `json:"query" binding:"required,url"`

	// WebhookURL receives job.completed / job.failed events.
	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// SessionRequest is the payload for PUT /api/v1/session.
type SessionRequest struct {
	// Cookie is the opaque session cookie value for the target site.
	Cookie string `json:"cookie" binding:"required"`
}

// ExportRequest is the payload for POST /api/v1/exports.
type ExportRequest struct {
	// Format is one of "csv", "json", "xlsx". Validated by the export
	// service so unsupported values surface as UNSUPPORTED_FORMAT.
	Format string `json:"format" binding:"required"`

	// JobID optionally restricts the export to leads captured by one job.
	JobID string `json:"job_id,omitempty"`
}

// LeadQuery is the query string for GET /api/v1/leads.
type LeadQuery struct {
	JobID    string `form:"job_id"`
	Company  string `form:"company"`
	Location string `form:"location"`

	// Limit is the page size. Default: 50. Max: 500.
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (q *LeadQuery) Defaults() {
	if q.Limit == 0 {
		q.Limit = 50
	}
}
