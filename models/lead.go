package models

import "time"

// Lead is one extracted profile. (UserID, ProfileURL) is unique.
type Lead struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	JobID            string    `json:"job_id"`
	ProfileURL       string    `json:"profile_url"`
	Name             string    `json:"name"`
	Headline         string    `json:"headline,omitempty"`
	Title            string    `json:"title,omitempty"`
	Company          string    `json:"company,omitempty"`
	CompanyID        string    `json:"company_id,omitempty"`
	Location         string    `json:"location,omitempty"`
	ImageURL         string    `json:"image_url,omitempty"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	ConnectionDegree int       `json:"connection_degree"`
	CapturedAt       time.Time `json:"captured_at"`
}

// LeadFilter narrows a lead listing. Zero values mean "no filter".
type LeadFilter struct {
	UserID   string
	JobID    string
	Company  string
	Location string
	Limit    int
	Offset   int
}

// Export is an immutable materialization of a user's leads into a file.
type Export struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	JobID       *string   `json:"job_id,omitempty"`
	Format      string    `json:"format"`
	RecordCount int       `json:"record_count"`
	FilePath    string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is the subscription and session data the service keeps per user.
type User struct {
	ID          string
	Tier        string
	ExportQuota int
	ExportsUsed int
	QuotaPeriod string
	CreatedAt   time.Time
}
