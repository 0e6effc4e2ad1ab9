// Package client provides an HTTP client for the ingestion server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the ingestion server's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses SPINGEST_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via SPINGEST_CLIENT_TIMEOUT env var (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SPINGEST_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("SPINGEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// do sends a request with an optional JSON body and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// IngestRequest describes the folder to ingest.
type IngestRequest struct {
	SiteURL      string `json:"siteUrl"`
	FolderPath   string `json:"folderPath"`
	TenantID     string `json:"tenantId"`
	EngagementID string `json:"engagementId"`
	Year         int    `json:"year,omitempty"`
	Quarter      string `json:"quarter,omitempty"`
}

// File is one stored document in a status response.
type File struct {
	DocID            string `json:"docId"`
	OriginalFilename string `json:"originalFilename"`
}

// DocumentGroup lists the documents of one sub-category and owner.
type DocumentGroup struct {
	SubCategory string `json:"subCategory"`
	Owner       string `json:"owner"`
	DocRunID    string `json:"docRunId"`
	Files       []File `json:"files"`
}

// StatusData is present when a job stored documents.
type StatusData struct {
	JobID        string          `json:"jobId"`
	RunID        string          `json:"runId"`
	TenantID     string          `json:"tenantId"`
	EngagementID string          `json:"engagementId"`
	TotalFiles   int             `json:"totalFiles"`
	Documents    []DocumentGroup `json:"documents"`
}

// Status is the poll response of a job.
type Status struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Error     string          `json:"error,omitempty"`
	Documents []DocumentGroup `json:"documents,omitempty"`
	Data      *StatusData     `json:"data,omitempty"`
}

// Pending reports whether the job has not finished yet.
func (s *Status) Pending() bool { return s.Status == "pending" }

// Failed reports whether the job failed.
func (s *Status) Failed() bool { return s.Status == "error" }

// Job is a job summary.
type Job struct {
	ID                string     `json:"jobId"`
	TenantID          string     `json:"tenantId"`
	EngagementID      string     `json:"engagementId"`
	SiteURL           string     `json:"siteUrl"`
	FolderPath        string     `json:"folderPath"`
	Mode              string     `json:"mode"`
	Year              int        `json:"year,omitempty"`
	Quarter           string     `json:"quarter,omitempty"`
	Status            string     `json:"status"`
	RunID             string     `json:"runId,omitempty"`
	Error             string     `json:"error,omitempty"`
	DocumentCount     int        `json:"documentCount"`
	DocumentsUploaded bool       `json:"documentsUploaded"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	TenantID     string
	EngagementID string
	Status       string
	Limit        int
}

// Owner is a leaf of a run tree.
type Owner struct {
	Name     string `json:"name"`
	DocRunID string `json:"docRunId"`
}

// SubCategory groups owners.
type SubCategory struct {
	Name   string  `json:"name"`
	Owners []Owner `json:"owners"`
}

// Period is one (year, quarter) bucket of a run tree.
type Period struct {
	Year          int           `json:"year"`
	Quarter       string        `json:"quarter"`
	SubCategories []SubCategory `json:"subCategories"`
}

// Run is the taxonomy recorded for a tenant/engagement pair.
type Run struct {
	RunID        string `json:"runId"`
	TenantID     string `json:"tenantId"`
	EngagementID string `json:"engagementId"`
	Tree         struct {
		Periods []Period `json:"periods"`
	} `json:"tree"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OperationStats holds stats for one operation.
type OperationStats struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// ServerStats is the server's metrics snapshot.
type ServerStats struct {
	UptimeSeconds float64          `json:"uptimeSeconds"`
	ProviderList  *OperationStats  `json:"providerList,omitempty"`
	ProviderFetch *OperationStats  `json:"providerFetch,omitempty"`
	StoreQuery    *OperationStats  `json:"storeQuery,omitempty"`
	Job           *OperationStats  `json:"job,omitempty"`
	Counters      map[string]int64 `json:"counters"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

type jobIDResponse struct {
	JobID string `json:"jobId"`
}

// Ingest queues a full ingestion and returns the job id.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	return c.trigger(ctx, "/api/v1/ingest", req)
}

// Discover queues a discovery-only job and returns the job id.
func (c *Client) Discover(ctx context.Context, req IngestRequest) (string, error) {
	return c.trigger(ctx, "/api/v1/discover", req)
}

// IngestQuarter queues a transfer for req.Year/req.Quarter using recorded taxonomy.
func (c *Client) IngestQuarter(ctx context.Context, req IngestRequest) (string, error) {
	return c.trigger(ctx, "/api/v1/ingest/quarter", req)
}

func (c *Client) trigger(ctx context.Context, path string, req IngestRequest) (string, error) {
	var resp jobIDResponse
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Status polls a job. An unknown job yields ErrNotFound.
func (c *Client) Status(ctx context.Context, jobID string) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodPost, "/api/v1/ingest/status", map[string]string{"jobId": jobID}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListJobs returns job summaries, newest first.
func (c *Client) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	q := url.Values{}
	if filter.TenantID != "" {
		q.Set("tenantId", filter.TenantID)
	}
	if filter.EngagementID != "" {
		q.Set("engagementId", filter.EngagementID)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetRun returns the run tree for a tenant/engagement pair.
func (c *Client) GetRun(ctx context.Context, tenantID, engagementID string) (*Run, error) {
	var run Run
	path := "/api/v1/runs/" + url.PathEscape(tenantID) + "/" + url.PathEscape(engagementID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetServerStats returns the server's metrics snapshot.
func (c *Client) GetServerStats(ctx context.Context) (*ServerStats, error) {
	var stats ServerStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Wait polls a job every interval until it is no longer pending.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration) (*Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !st.Pending() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Watch streams status frames of a job over a websocket. onStatus is invoked
// for every frame; return an error from it to abort. Watch returns the last
// frame once the server closes the stream after the job finished.
func (c *Client) Watch(ctx context.Context, jobID string, onStatus func(*Status) error) (*Status, error) {
	wsEndpoint := c.baseURL + "/api/v1/jobs/" + url.PathEscape(jobID) + "/watch"
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsEndpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: "not_found", Message: "no ingestion job with that id"}
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *Status
	for {
		var st Status
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil {
				return last, nil
			}
			return last, fmt.Errorf("read status: %w", err)
		}
		last = &st
		if onStatus != nil {
			if err := onStatus(last); err != nil {
				return last, err
			}
		}
	}
}
