package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/service"
	"github.com/yashugupta786/sp/internal/store"
)

// Status values of the poll response.
const (
	statusPending = "pending"
	statusError   = "error"
	statusSuccess = "success"
)

const emptyMessage = "No new documents were ingested: every file was already stored or no files were found"

// IngestRequest is the body of the trigger endpoints.
type IngestRequest struct {
	SiteURL      string `json:"siteUrl"`
	FolderPath   string `json:"folderPath"`
	TenantID     string `json:"tenantId"`
	EngagementID string `json:"engagementId"`
	// Year and Quarter are read by the quarter endpoint only.
	Year    int    `json:"year,omitempty"`
	Quarter string `json:"quarter,omitempty"`
}

// IngestResponse acknowledges a queued job.
type IngestResponse struct {
	JobID string `json:"jobId"`
}

// StatusRequest is the body of the status endpoint.
type StatusRequest struct {
	JobID string `json:"jobId"`
}

// StatusData carries the documents of a job that stored some.
type StatusData struct {
	JobID        string                  `json:"jobId"`
	RunID        string                  `json:"runId"`
	TenantID     string                  `json:"tenantId"`
	EngagementID string                  `json:"engagementId"`
	TotalFiles   int                     `json:"totalFiles"`
	Documents    []service.DocumentGroup `json:"documents"`
}

// StatusResponse is the poll response. Exactly one of Error, Documents and
// Data is set, depending on Status.
type StatusResponse struct {
	Status    string                   `json:"status"`
	Message   string                   `json:"message"`
	Error     string                   `json:"error,omitempty"`
	Documents *[]service.DocumentGroup `json:"documents,omitempty"`
	Data      *StatusData              `json:"data,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, models.ModeFull)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, models.ModeDiscover)
}

func (s *Server) handleIngestQuarter(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, models.ModeQuarter)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, mode models.JobMode) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("malformed JSON body: %v", err))
		return
	}

	job, err := s.jobs.Trigger(r.Context(), service.TriggerRequest{
		SiteURL:      req.SiteURL,
		FolderPath:   req.FolderPath,
		TenantID:     req.TenantID,
		EngagementID: req.EngagementID,
		Mode:         mode,
		Year:         req.Year,
		Quarter:      req.Quarter,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, IngestResponse{JobID: job.ID})
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error("trigger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create ingestion job")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("malformed JSON body: %v", err))
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}

	res, err := s.poller.Poll(r.Context(), req.JobID)
	if err != nil {
		s.logger.Error("poll failed", "job_id", req.JobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not read job status")
		return
	}
	if res.Kind == service.StatusNotFound {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no ingestion job with id %q", req.JobID))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(res))
}

// statusResponse renders a poll result. It must not be called for StatusNotFound.
func statusResponse(res *service.StatusResult) StatusResponse {
	switch res.Kind {
	case service.StatusPending:
		return StatusResponse{Status: statusPending, Message: "Ingestion is in progress"}
	case service.StatusFailed:
		return StatusResponse{Status: statusError, Message: "Ingestion failed", Error: res.Job.Error}
	case service.StatusEmpty:
		return StatusResponse{Status: statusSuccess, Message: emptyMessage, Documents: &[]service.DocumentGroup{}}
	}
	return StatusResponse{
		Status:  statusSuccess,
		Message: fmt.Sprintf("Ingested %d new documents", res.TotalFiles),
		Data: &StatusData{
			JobID:        res.Job.ID,
			RunID:        res.Job.RunID,
			TenantID:     res.Job.TenantID,
			EngagementID: res.Job.EngagementID,
			TotalFiles:   res.TotalFiles,
			Documents:    res.Groups,
		},
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		TenantID:     q.Get("tenantId"),
		EngagementID: q.Get("engagementId"),
		Status:       models.JobStatus(q.Get("status")),
		Limit:        50,
	}
	if filter.Status != "" && filter.Status != models.JobPending && !filter.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown status %q", filter.Status))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	engagementID := chi.URLParam(r, "engagementID")

	run, err := s.registry.Lookup(r.Context(), tenantID, engagementID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no run for tenant %q engagement %q", tenantID, engagementID))
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "tenant_id", tenantID, "engagement_id", engagementID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not read run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
