package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strin/fortify/internal/auth"
	"github.com/strin/fortify/internal/events"
	"github.com/strin/fortify/internal/progress"
	"github.com/strin/fortify/internal/store"
	"github.com/strin/fortify/internal/store/model"
	"github.com/strin/fortify/internal/vulnerabilities"
	"github.com/strin/fortify/internal/workerclient"
	"github.com/strin/fortify/pkg/metrics"
)

const cancelledByUserReason = "Cancelled by user"

type JobService struct {
	store       store.Store
	worker      workerclient.Client
	eventWriter *events.EventProducer
}

func NewJobService(store store.Store, worker workerclient.Client, ew *events.EventProducer) *JobService {
	return &JobService{
		store:       store,
		worker:      worker,
		eventWriter: ew,
	}
}

// JobView is the read model of a job: the stored record plus the display-only
// progress estimate and, for completed scans, the findings summary.
type JobView struct {
	Job      model.Job
	Estimate progress.Estimate
	Summary  *vulnerabilities.Summary
}

type ListJobsFilter struct {
	Status model.JobStatus
	Type   model.JobType
	Page   int
	Limit  int
}

// CreateJob persists the job in PENDING and dispatches it to the worker.
// The dispatch is fire and forget: a worker that cannot be reached leaves the
// job PENDING for the worker to pick up later, it does not fail the create.
func (s *JobService) CreateJob(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.Type == model.JobTypeFix && job.TargetFindingID == nil {
		return nil, NewErrInvalidRequest("fix job requires a target finding")
	}

	result, err := s.store.Job().Create(ctx, job)
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.JobCreatedKind, result, model.JobStatus(""))

	go func() {
		dispatchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.worker.StartJob(dispatchCtx, result); err != nil {
			zap.S().Named("job_service").Warnw("worker dispatch failed, job stays pending",
				"job_id", result.ID, "error", err)
		}
	}()

	return result, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID, user auth.User) (*JobView, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	// Foreign jobs read as not found so ownership cannot be probed.
	if job.Username != user.Username || job.OrgID != user.Organization {
		return nil, NewErrJobNotFound(id)
	}

	view := &JobView{
		Job:      *job,
		Estimate: progress.EstimateJob(job.Status, job.StartedAt, time.Now()),
	}

	if job.Status == model.JobStatusCompleted && job.Type == model.JobTypeScan {
		findings, err := s.store.Finding().ListByJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		summary := vulnerabilities.Summarize(findings)
		view.Summary = &summary
	}

	return view, nil
}

func (s *JobService) ListJobs(ctx context.Context, user auth.User, filter ListJobsFilter) (model.JobList, int64, error) {
	storeFilter := store.NewJobQueryFilter().ByUsername(user.Username).ByOrgID(user.Organization)
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, 0, NewErrInvalidRequest("unknown status %q", filter.Status)
		}
		storeFilter = storeFilter.ByStatus(filter.Status)
	}
	if filter.Type != "" {
		storeFilter = storeFilter.ByType(filter.Type)
	}

	total, err := s.store.Job().Count(ctx, storeFilter)
	if err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	opts := store.NewJobQueryOptions().
		WithSortOrder(store.SortByCreatedTime).
		WithLimit(limit).
		WithOffset((page - 1) * limit)

	jobs, err := s.store.Job().List(ctx, storeFilter, opts)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CancelJob moves the job to CANCELLED with the store as the commit point,
// then signals the worker best effort. A worker that cannot be reached never
// rolls the cancellation back.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID, user auth.User) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	if job.Username != user.Username || job.OrgID != user.Organization {
		return nil, NewErrJobAccessForbidden(id)
	}

	if !model.CanTransition(job.Status, model.JobStatusCancelled) {
		return nil, NewErrJobNotCancellable(job.Status)
	}

	previous := job.Status
	cancelled, err := s.store.Job().UpdateStatus(ctx, id, previous, model.JobStatusCancelled, cancelledByUserReason, nil)
	if err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			// lost the race with a concurrent transition; the caller gets the
			// same refusal as if the winning status had been there all along
			current := previous
			if fresh, getErr := s.store.Job().Get(ctx, id); getErr == nil {
				current = fresh.Status
			}
			return nil, NewErrJobNotCancellable(current)
		}
		return nil, s.mapStatusError(ctx, err, id, model.JobStatusCancelled)
	}

	metrics.IncreaseJobCancellationsMetric(string(job.Type))
	s.publishEvent(events.JobTransitionKind, cancelled, previous)
	s.updateStatusMetrics(ctx)

	go func() {
		signalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.worker.CancelJob(signalCtx, id); err != nil {
			zap.S().Named("job_service").Warnw("cancel signal not delivered", "job_id", id, "error", err)
		}
	}()

	return cancelled, nil
}

// UpdateJobStatus is the worker callback. A COMPLETED update writes the result
// and the findings in the same transaction as the status change, so a reader
// never observes a completed job with half its findings.
func (s *JobService) UpdateJobStatus(ctx context.Context, id uuid.UUID, to model.JobStatus, reason string, result []byte, findings []model.Finding) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	if !model.CanTransition(job.Status, to) {
		return nil, NewErrInvalidJobTransition(id, job.Status, to)
	}
	if to != model.JobStatusCompleted && (len(findings) > 0 || len(result) > 0) {
		return nil, NewErrInvalidRequest("result and findings are only accepted with %s", model.JobStatusCompleted)
	}

	previous := job.Status

	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Job().UpdateStatus(ctx, id, previous, to, reason, result)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, s.mapStatusError(ctx, err, id, to)
	}

	if len(findings) > 0 {
		if _, err := s.store.Finding().CreateBulk(ctx, findings); err != nil {
			_, _ = store.Rollback(ctx)
			return nil, err
		}
	}

	if ctx, err = store.Commit(ctx); err != nil {
		return nil, err
	}

	if len(findings) > 0 {
		metrics.AddFindingsWrittenMetric(len(findings))
		s.publishFindingsEvent(updated.ID, len(findings))
	}
	s.publishEvent(events.JobTransitionKind, updated, previous)
	s.updateStatusMetrics(ctx)

	return updated, nil
}

// GetJobFindings returns one page of the job's findings. Only completed jobs
// have findings to page over.
func (s *JobService) GetJobFindings(ctx context.Context, id uuid.UUID, user auth.User, filter vulnerabilities.Filter, page, limit int) (*vulnerabilities.Page, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	if job.Username != user.Username || job.OrgID != user.Organization {
		return nil, NewErrJobNotFound(id)
	}

	if job.Status != model.JobStatusCompleted {
		return nil, NewErrJobNotCompleted(id, job.Status)
	}

	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, NewErrInvalidRequest("unknown severity %q", filter.Severity)
	}

	findings, err := s.store.Finding().ListByJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if limit < 1 {
		limit = 20
	}
	result := vulnerabilities.ListPage(findings, filter, page, limit)
	return &result, nil
}

// Statistics exposes the per status job counts for the metrics updater.
func (s *JobService) Statistics(ctx context.Context) (map[model.JobStatus]int, error) {
	return s.store.Statistics(ctx)
}

func (s *JobService) mapStatusError(ctx context.Context, err error, id uuid.UUID, to model.JobStatus) error {
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		return NewErrJobNotFound(id)
	case errors.Is(err, store.ErrSchema):
		zap.S().Named("job_service").Errorw("status rejected by schema", "job_id", id, "status", to, "error", err)
		return NewErrSchemaOutdated(to)
	case errors.Is(err, store.ErrStaleStatus):
		current := to
		if job, getErr := s.store.Job().Get(ctx, id); getErr == nil {
			current = job.Status
		}
		return NewErrStatusConflict(id, current)
	default:
		return err
	}
}

func (s *JobService) publishEvent(kind string, job *model.Job, previous model.JobStatus) {
	if s.eventWriter == nil {
		return
	}
	event := events.JobEvent{
		JobID:          job.ID.String(),
		Type:           job.Type,
		Status:         job.Status,
		PreviousStatus: previous,
		Reason:         job.Error,
		OrgID:          job.OrgID,
		Timestamp:      time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		zap.S().Named("job_service").Errorw("failed to encode job event", "job_id", job.ID, "error", err)
		return
	}
	if err := s.eventWriter.Write(context.TODO(), kind, bytes.NewReader(payload)); err != nil {
		zap.S().Named("job_service").Errorw("failed to publish job event", "job_id", job.ID, "error", err)
	}
}

func (s *JobService) publishFindingsEvent(jobID uuid.UUID, count int) {
	if s.eventWriter == nil {
		return
	}
	payload, err := json.Marshal(events.FindingsEvent{JobID: jobID.String(), Count: count})
	if err != nil {
		return
	}
	if err := s.eventWriter.Write(context.TODO(), events.FindingsKind, bytes.NewReader(payload)); err != nil {
		zap.S().Named("job_service").Errorw("failed to publish findings event", "job_id", jobID, "error", err)
	}
}

func (s *JobService) updateStatusMetrics(ctx context.Context) {
	counts, err := s.store.Statistics(ctx)
	if err != nil {
		return
	}
	for _, status := range model.JobStatusValues {
		metrics.UpdateJobStatusCountMetric(string(status), counts[status])
	}
}
