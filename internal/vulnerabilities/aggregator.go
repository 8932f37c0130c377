// Package vulnerabilities aggregates the findings of a completed scan job
// into summaries and filtered, paginated pages.
//
// All operations are pure functions over an in-memory finding set: no
// randomness, no hidden counters, identical inputs always yield identical
// output. Findings are immutable once written, so callers need no locking.
package vulnerabilities

import (
	"sort"
	"strings"

	"github.com/strin/fortify/internal/store/model"
)

// TopFilesLimit caps the ranked list of most-affected files.
const TopFilesLimit = 10

type FileCount struct {
	FilePath string `json:"filePath"`
	Count    int    `json:"count"`
}

type Summary struct {
	Total          int                    `json:"total"`
	SeverityCounts map[model.Severity]int `json:"severityCounts"`
	CategoryCounts map[string]int         `json:"categoryCounts"`
	TopFiles       []FileCount            `json:"topFiles"`
}

// Filter narrows a finding set. All set fields must match (conjunction).
type Filter struct {
	Severity model.Severity
	Category string
	FilePath string
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type Page struct {
	Items      model.FindingList `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// Summarize computes severity counts (every level present, zeros included),
// category counts (observed categories only) and the most-affected files
// ranked by finding count, ties broken by path order.
func Summarize(findings []model.Finding) Summary {
	summary := Summary{
		Total:          len(findings),
		SeverityCounts: make(map[model.Severity]int, len(model.SeverityValues)),
		CategoryCounts: make(map[string]int),
	}
	for _, severity := range model.SeverityValues {
		summary.SeverityCounts[severity] = 0
	}

	fileCounts := make(map[string]int)
	for _, f := range findings {
		summary.SeverityCounts[f.Severity]++
		if f.Category != "" {
			summary.CategoryCounts[f.Category]++
		}
		if f.FilePath != "" {
			fileCounts[f.FilePath]++
		}
	}

	topFiles := make([]FileCount, 0, len(fileCounts))
	for path, count := range fileCounts {
		topFiles = append(topFiles, FileCount{FilePath: path, Count: count})
	}
	sort.Slice(topFiles, func(i, j int) bool {
		if topFiles[i].Count != topFiles[j].Count {
			return topFiles[i].Count > topFiles[j].Count
		}
		return topFiles[i].FilePath < topFiles[j].FilePath
	})
	if len(topFiles) > TopFilesLimit {
		topFiles = topFiles[:TopFilesLimit]
	}
	summary.TopFiles = topFiles

	return summary
}

// ListPage filters, orders and paginates a finding set. Ordering is severity
// descending, then createdAt descending among equal severities. Page numbers
// start at 1; a page past the end yields an empty item list, not an error.
func ListPage(findings []model.Finding, filter Filter, page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	filtered := make(model.FindingList, 0, len(findings))
	for _, f := range findings {
		if !matches(f, filter) {
			continue
		}
		filtered = append(filtered, f)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Severity.Rank() != filtered[j].Severity.Rank() {
			return filtered[i].Severity.Rank() > filtered[j].Severity.Rank()
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	totalCount := len(filtered)
	totalPages := (totalCount + limit - 1) / limit

	start := (page - 1) * limit
	end := start + limit
	if start > totalCount {
		start = totalCount
	}
	if end > totalCount {
		end = totalCount
	}

	return Page{
		Items: filtered[start:end],
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			TotalCount: totalCount,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1 && totalCount > 0,
		},
	}
}

func matches(f model.Finding, filter Filter) bool {
	if filter.Severity != "" && f.Severity != filter.Severity {
		return false
	}
	if filter.Category != "" && !strings.EqualFold(f.Category, filter.Category) {
		return false
	}
	if filter.FilePath != "" && f.FilePath != filter.FilePath {
		return false
	}
	return true
}
