package models

import "time"

// Step names and results recorded in a document's history.
const (
	StepIngested      = "ingested"
	StepResultSuccess = "success"
)

// Step is one entry of a document's append-only processing history.
type Step struct {
	Name   string    `json:"step"`
	Result string    `json:"result"`
	At     time.Time `json:"timestamp"`
}

// Document is one accepted file. Content holds the base64 transport form.
type Document struct {
	ID               string    `json:"docId"`
	DocRunID         string    `json:"docRunId"`
	RunID            string    `json:"runId"`
	TenantID         string    `json:"tenantId"`
	EngagementID     string    `json:"engagementId"`
	Year             int       `json:"year"`
	Quarter          string    `json:"quarter"`
	SubCategory      string    `json:"subCategory"`
	Owner            string    `json:"owner"`
	JobID            string    `json:"jobId"`
	OriginalFilename string    `json:"originalFilename"`
	SourcePath       string    `json:"sourcePath"`
	Content          string    `json:"content,omitempty"`
	Fingerprint      string    `json:"fingerprint"`
	Steps            []Step    `json:"steps"`
	CreatedAt        time.Time `json:"createdAt"`
}
