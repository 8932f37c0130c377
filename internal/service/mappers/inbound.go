package mappers

import (
	"github.com/google/uuid"

	api "github.com/strin/fortify/api/v1alpha1"
	"github.com/strin/fortify/internal/auth"
	"github.com/strin/fortify/internal/store/model"
)

func ScanJobFromApi(id uuid.UUID, user auth.User, resource *api.CreateScanJobRequest) model.Job {
	branch := resource.Branch
	if branch == "" {
		branch = "main"
	}
	return model.Job{
		ID:       id,
		Type:     model.JobTypeScan,
		Status:   model.JobStatusPending,
		Username: user.Username,
		OrgID:    user.Organization,
		RepoURL:  resource.RepoURL,
		Branch:   branch,
		Path:     resource.Path,
	}
}

func FixJobFromApi(id uuid.UUID, user auth.User, resource *api.CreateFixJobRequest) model.Job {
	branch := resource.Branch
	if branch == "" {
		branch = "main"
	}
	findingID := resource.FindingID
	return model.Job{
		ID:              id,
		Type:            model.JobTypeFix,
		Status:          model.JobStatusPending,
		Username:        user.Username,
		OrgID:           user.Organization,
		RepoURL:         resource.RepoURL,
		Branch:          branch,
		TargetFindingID: &findingID,
	}
}

func FindingsFromApi(jobID uuid.UUID, payloads []api.FindingPayload) []model.Finding {
	findings := make([]model.Finding, 0, len(payloads))
	for _, p := range payloads {
		findings = append(findings, model.Finding{
			ID:             uuid.New(),
			JobID:          jobID,
			Title:          p.Title,
			Description:    p.Description,
			Severity:       model.Severity(p.Severity),
			Category:       p.Category,
			FilePath:       p.FilePath,
			StartLine:      p.StartLine,
			EndLine:        p.EndLine,
			Snippet:        p.CodeSnippet,
			Recommendation: p.Recommendation,
			Metadata:       p.Metadata,
		})
	}
	return findings
}
