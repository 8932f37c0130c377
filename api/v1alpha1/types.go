// Package v1alpha1 holds the request and response types of the public API.
package v1alpha1

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CreateScanJobRequest struct {
	RepoURL string `json:"repoUrl" validate:"required,repo_url"`
	Branch  string `json:"branch,omitempty" validate:"omitempty,branch_name"`
	Path    string `json:"path,omitempty"`
}

type CreateFixJobRequest struct {
	RepoURL   string    `json:"repoUrl" validate:"required,repo_url"`
	Branch    string    `json:"branch,omitempty" validate:"omitempty,branch_name"`
	FindingID uuid.UUID `json:"findingId" validate:"required"`
}

// JobStatusUpdate is the worker callback payload. Findings and Result are
// only accepted together with the COMPLETED status; Error is required for
// FAILED.
type JobStatusUpdate struct {
	Status   string           `json:"status" validate:"required,oneof=IN_PROGRESS COMPLETED FAILED"`
	Error    string           `json:"error,omitempty" validate:"required_if=Status FAILED"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Findings []FindingPayload `json:"findings,omitempty"`
}

type FindingPayload struct {
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description,omitempty"`
	Severity       string          `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW INFO"`
	Category       string          `json:"category,omitempty"`
	FilePath       string          `json:"filePath,omitempty"`
	StartLine      int             `json:"startLine,omitempty"`
	EndLine        int             `json:"endLine,omitempty"`
	CodeSnippet    string          `json:"codeSnippet,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

type Job struct {
	Id              uuid.UUID        `json:"id"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	RepoURL         string           `json:"repoUrl"`
	Branch          string           `json:"branch,omitempty"`
	Path            string           `json:"path,omitempty"`
	TargetFindingId *uuid.UUID       `json:"targetFindingId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	FinishedAt      *time.Time       `json:"finishedAt,omitempty"`
	Error           string           `json:"error,omitempty"`
	Result          json.RawMessage  `json:"result,omitempty"`
	Progress        Progress         `json:"progress"`
	Summary         *FindingsSummary `json:"summary,omitempty"`
}

type JobList struct {
	Items      []Job      `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type FindingsSummary struct {
	Total          int            `json:"total"`
	SeverityCounts map[string]int `json:"severityCounts"`
	CategoryCounts map[string]int `json:"categoryCounts"`
	TopFiles       []FileCount    `json:"topFiles"`
}

type FileCount struct {
	FilePath string `json:"filePath"`
	Count    int    `json:"count"`
}

type Finding struct {
	Id             uuid.UUID       `json:"id"`
	JobId          uuid.UUID       `json:"jobId"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Severity       string          `json:"severity"`
	Category       string          `json:"category,omitempty"`
	FilePath       string          `json:"filePath,omitempty"`
	StartLine      int             `json:"startLine,omitempty"`
	EndLine        int             `json:"endLine,omitempty"`
	CodeSnippet    string          `json:"codeSnippet,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type FindingsPage struct {
	Items      []Finding  `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type Error struct {
	Message string `json:"message"`
}

type Health struct {
	Status string `json:"status"`
}
