package mappers

import (
	api "github.com/strin/fortify/api/v1alpha1"
	"github.com/strin/fortify/internal/progress"
	"github.com/strin/fortify/internal/store/model"
	"github.com/strin/fortify/internal/vulnerabilities"
)

func JobToApi(j model.Job, estimate progress.Estimate, summary *vulnerabilities.Summary) api.Job {
	job := api.Job{
		Id:              j.ID,
		Type:            string(j.Type),
		Status:          string(j.Status),
		RepoURL:         j.RepoURL,
		Branch:          j.Branch,
		Path:            j.Path,
		TargetFindingId: j.TargetFindingID,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
		Error:           j.Error,
		Result:          j.Result,
		Progress: api.Progress{
			Stage:   estimate.Stage,
			Percent: estimate.Percent,
		},
	}
	if summary != nil {
		s := SummaryToApi(*summary)
		job.Summary = &s
	}
	return job
}

func JobListToApi(jobs model.JobList, pagination api.Pagination, now func(j model.Job) progress.Estimate) api.JobList {
	items := []api.Job{}
	for _, j := range jobs {
		items = append(items, JobToApi(j, now(j), nil))
	}
	return api.JobList{Items: items, Pagination: pagination}
}

func SummaryToApi(s vulnerabilities.Summary) api.FindingsSummary {
	severityCounts := make(map[string]int, len(s.SeverityCounts))
	for severity, count := range s.SeverityCounts {
		severityCounts[string(severity)] = count
	}
	topFiles := make([]api.FileCount, 0, len(s.TopFiles))
	for _, f := range s.TopFiles {
		topFiles = append(topFiles, api.FileCount{FilePath: f.FilePath, Count: f.Count})
	}
	return api.FindingsSummary{
		Total:          s.Total,
		SeverityCounts: severityCounts,
		CategoryCounts: s.CategoryCounts,
		TopFiles:       topFiles,
	}
}

func FindingToApi(f model.Finding) api.Finding {
	return api.Finding{
		Id:             f.ID,
		JobId:          f.JobID,
		Title:          f.Title,
		Description:    f.Description,
		Severity:       string(f.Severity),
		Category:       f.Category,
		FilePath:       f.FilePath,
		StartLine:      f.StartLine,
		EndLine:        f.EndLine,
		CodeSnippet:    f.Snippet,
		Recommendation: f.Recommendation,
		Metadata:       f.Metadata,
		CreatedAt:      f.CreatedAt,
	}
}

func FindingsPageToApi(p vulnerabilities.Page) api.FindingsPage {
	items := []api.Finding{}
	for _, f := range p.Items {
		items = append(items, FindingToApi(f))
	}
	return api.FindingsPage{
		Items: items,
		Pagination: api.Pagination{
			Page:       p.Pagination.Page,
			Limit:      p.Pagination.Limit,
			TotalCount: p.Pagination.TotalCount,
			TotalPages: p.Pagination.TotalPages,
			HasNext:    p.Pagination.HasNext,
			HasPrev:    p.Pagination.HasPrev,
		},
	}
}
