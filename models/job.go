package models

import "time"

// JobStatus is the lifecycle state of a ScrapeJob. Stored verbatim in the DB.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether from → to is a legal job transition.
// Transitions are one-directional: pending → running → {completed, failed}.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobRunning
	case JobRunning:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// ScrapeJob is one scrape request over a single search query.
type ScrapeJob struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Query        string     `json:"query"`
	Status       JobStatus  `json:"status"`
	TotalResults *int       `json:"total_results"`
	ScrapedCount int        `json:"scraped_count"`
	ErrorCode    *string    `json:"error_code"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
