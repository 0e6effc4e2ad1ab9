package models

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// JobMode selects which part of the pipeline a job runs.
type JobMode string

const (
	// ModeFull discovers taxonomy when needed and transfers files.
	ModeFull JobMode = "full"
	// ModeDiscover records taxonomy only.
	ModeDiscover JobMode = "discover"
	// ModeQuarter transfers files for one year/quarter using taxonomy recorded earlier.
	ModeQuarter JobMode = "quarter"
)

// Valid reports whether m is a known mode.
func (m JobMode) Valid() bool {
	switch m {
	case ModeFull, ModeDiscover, ModeQuarter:
		return true
	}
	return false
}

// Job is the persisted status record of one triggered ingestion.
type Job struct {
	ID           string  `json:"jobId"`
	TenantID     string  `json:"tenantId"`
	EngagementID string  `json:"engagementId"`
	SiteURL      string  `json:"siteUrl"`
	FolderPath   string  `json:"folderPath"`
	Mode         JobMode `json:"mode"`

	// Year and Quarter are only set for ModeQuarter.
	Year    int    `json:"year,omitempty"`
	Quarter string `json:"quarter,omitempty"`

	Status            JobStatus  `json:"status"`
	RunID             string     `json:"runId,omitempty"`
	Error             string     `json:"error,omitempty"`
	DocumentCount     int        `json:"documentCount"`
	DocumentsUploaded bool       `json:"documentsUploaded"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// JobResult is the terminal write applied to a pending job.
type JobResult struct {
	Status        JobStatus
	RunID         string
	Error         string
	DocumentCount int
	CompletedAt   time.Time
}
