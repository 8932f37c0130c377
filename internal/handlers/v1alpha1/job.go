package v1alpha1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/strin/fortify/api/v1alpha1"
	"github.com/strin/fortify/internal/auth"
	"github.com/strin/fortify/internal/handlers/validator"
	"github.com/strin/fortify/internal/progress"
	"github.com/strin/fortify/internal/service"
	"github.com/strin/fortify/internal/service/mappers"
	"github.com/strin/fortify/internal/store/model"
	"github.com/strin/fortify/internal/vulnerabilities"
)

func (h *ServiceHandler) CreateScanJob(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	var request api.CreateScanJobRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		replyError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	if err := v.Struct(request); err != nil {
		replyError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid scan request: %v", err))
		return
	}

	job, err := h.jobSrv.CreateJob(r.Context(), mappers.ScanJobFromApi(uuid.New(), user, &request))
	if err != nil {
		h.replyServiceError(w, r, err, "failed to create scan job")
		return
	}

	zap.S().Named("job_handler").Infow("scan job created", "job_id", job.ID, "repo", job.RepoURL)
	replyJSON(w, r, http.StatusCreated, h.jobToApi(job))
}

func (h *ServiceHandler) CreateFixJob(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	var request api.CreateFixJobRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		replyError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	if err := v.Struct(request); err != nil {
		replyError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid fix request: %v", err))
		return
	}

	job, err := h.jobSrv.CreateJob(r.Context(), mappers.FixJobFromApi(uuid.New(), user, &request))
	if err != nil {
		h.replyServiceError(w, r, err, "failed to create fix job")
		return
	}

	zap.S().Named("job_handler").Infow("fix job created", "job_id", job.ID, "finding_id", request.FindingID)
	replyJSON(w, r, http.StatusCreated, h.jobToApi(job))
}

func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	filter := service.ListJobsFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Type:   model.JobType(r.URL.Query().Get("type")),
		Page:   page,
		Limit:  limit,
	}

	jobs, total, err := h.jobSrv.ListJobs(r.Context(), user, filter)
	if err != nil {
		h.replyServiceError(w, r, err, "failed to list jobs")
		return
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	pagination := api.Pagination{
		Page:       page,
		Limit:      limit,
		TotalCount: int(total),
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}

	replyJSON(w, r, http.StatusOK, mappers.JobListToApi(jobs, pagination, func(j model.Job) progress.Estimate {
		return progress.EstimateJob(j.Status, j.StartedAt, timeNow())
	}))
}

func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		replyError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	view, err := h.jobSrv.GetJob(r.Context(), id, user)
	if err != nil {
		h.replyServiceError(w, r, err, "failed to get job")
		return
	}

	replyJSON(w, r, http.StatusOK, mappers.JobToApi(view.Job, view.Estimate, view.Summary))
}

func (h *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		replyError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobSrv.CancelJob(r.Context(), id, user)
	if err != nil {
		h.replyServiceError(w, r, err, "failed to cancel job")
		return
	}

	zap.S().Named("job_handler").Infow("job cancelled", "job_id", job.ID)
	replyJSON(w, r, http.StatusAccepted, h.jobToApi(job))
}

func (h *ServiceHandler) UpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		replyError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	var request api.JobStatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		replyError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	v := validator.NewValidator()
	if err := v.Struct(request); err != nil {
		replyError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid status update: %v", err))
		return
	}

	job, err := h.jobSrv.UpdateJobStatus(r.Context(), id,
		model.JobStatus(request.Status), request.Error, request.Result,
		mappers.FindingsFromApi(id, request.Findings))
	if err != nil {
		h.replyServiceError(w, r, err, "failed to update job status")
		return
	}

	replyJSON(w, r, http.StatusOK, h.jobToApi(job))
}

func (h *ServiceHandler) GetJobFindings(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		replyError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	filter := vulnerabilities.Filter{
		Severity: model.Severity(r.URL.Query().Get("severity")),
		Category: r.URL.Query().Get("category"),
		FilePath: r.URL.Query().Get("filePath"),
	}

	page, err := h.jobSrv.GetJobFindings(r.Context(), id, user, filter,
		queryInt(r, "page", 1), queryInt(r, "limit", 20))
	if err != nil {
		h.replyServiceError(w, r, err, "failed to get findings")
		return
	}

	replyJSON(w, r, http.StatusOK, mappers.FindingsPageToApi(*page))
}

func (h *ServiceHandler) replyServiceError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	switch err.(type) {
	case *service.ErrJobNotFound:
		replyError(w, r, http.StatusNotFound, err.Error())
	case *service.ErrJobAccessForbidden:
		replyError(w, r, http.StatusForbidden, err.Error())
	case *service.ErrJobNotCancellable, *service.ErrJobNotCompleted, *service.ErrInvalidRequest:
		replyError(w, r, http.StatusBadRequest, err.Error())
	case *service.ErrInvalidJobTransition, *service.ErrStatusConflict:
		replyError(w, r, http.StatusConflict, err.Error())
	case *service.ErrSchemaOutdated:
		zap.S().Named("job_handler").Errorw("schema out of date", "error", err)
		replyError(w, r, http.StatusInternalServerError, err.Error())
	default:
		zap.S().Named("job_handler").Errorw(logMsg, "error", err)
		replyError(w, r, http.StatusInternalServerError, fmt.Sprintf("%s: %v", logMsg, err))
	}
}

func (h *ServiceHandler) jobToApi(job *model.Job) api.Job {
	return mappers.JobToApi(*job, progress.EstimateJob(job.Status, job.StartedAt, timeNow()), nil)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
