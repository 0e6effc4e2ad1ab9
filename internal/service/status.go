package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
)

// StatusKind is the client-facing outcome of a poll.
type StatusKind string

const (
	StatusNotFound StatusKind = "not_found"
	StatusPending  StatusKind = "pending"
	StatusFailed   StatusKind = "failed"
	StatusEmpty    StatusKind = "empty"
	StatusResults  StatusKind = "results"
)

// FileRef names one stored document.
type FileRef struct {
	DocID            string `json:"docId"`
	OriginalFilename string `json:"originalFilename"`
}

// DocumentGroup holds the documents of one (sub-category, owner, doc-run id) scope.
type DocumentGroup struct {
	SubCategory string    `json:"subCategory"`
	Owner       string    `json:"owner"`
	DocRunID    string    `json:"docRunId"`
	Files       []FileRef `json:"files"`
}

// StatusResult is the projection returned by Poll.
type StatusResult struct {
	Kind StatusKind
	// Job is nil for StatusNotFound.
	Job        *models.Job
	Groups     []DocumentGroup
	TotalFiles int
}

// StatusPoller answers status queries for jobs.
type StatusPoller struct {
	store store.Store
}

// NewStatusPoller creates a poller.
func NewStatusPoller(s store.Store) *StatusPoller {
	return &StatusPoller{store: s}
}

// Poll reports the state of a job and, once complete, the documents it stored.
func (p *StatusPoller) Poll(ctx context.Context, jobID string) (*StatusResult, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return &StatusResult{Kind: StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	switch job.Status {
	case models.JobPending:
		return &StatusResult{Kind: StatusPending, Job: job}, nil
	case models.JobFailed:
		return &StatusResult{Kind: StatusFailed, Job: job}, nil
	}

	if job.DocumentCount == 0 {
		return &StatusResult{Kind: StatusEmpty, Job: job}, nil
	}

	docs, err := p.store.ListDocumentsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return &StatusResult{Kind: StatusEmpty, Job: job}, nil
	}

	groups := GroupDocuments(docs)
	return &StatusResult{Kind: StatusResults, Job: job, Groups: groups, TotalFiles: len(docs)}, nil
}

// GroupDocuments groups documents by sub-category, owner and doc-run id.
// Groups are ordered by sub-category then owner, files by name.
func GroupDocuments(docs []models.Document) []DocumentGroup {
	type key struct{ sub, owner, docRunID string }
	index := make(map[key]int)
	var groups []DocumentGroup

	for _, d := range docs {
		k := key{d.SubCategory, d.Owner, d.DocRunID}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, DocumentGroup{SubCategory: d.SubCategory, Owner: d.Owner, DocRunID: d.DocRunID})
		}
		groups[i].Files = append(groups[i].Files, FileRef{DocID: d.ID, OriginalFilename: d.OriginalFilename})
	}

	slices.SortFunc(groups, func(a, b DocumentGroup) int {
		return cmp.Or(
			cmp.Compare(a.SubCategory, b.SubCategory),
			cmp.Compare(a.Owner, b.Owner),
			cmp.Compare(a.DocRunID, b.DocRunID),
		)
	})
	for _, g := range groups {
		slices.SortFunc(g.Files, func(a, b FileRef) int {
			return cmp.Or(cmp.Compare(a.OriginalFilename, b.OriginalFilename), cmp.Compare(a.DocID, b.DocID))
		})
	}
	return groups
}
