package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/strin/fortify/internal/store/model"
	"gorm.io/gorm"
)

type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	Count(ctx context.Context, filter *JobQueryFilter) (int64, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, to model.JobStatus, reason string, result []byte) (*model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	InitialMigration(ctx context.Context) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration(ctx context.Context) error {
	db := s.getDB(ctx)

	// The status column is backed by a native enum on postgres. It is created
	// up front so a partially migrated type (a member added in code but not in
	// the database) shows up as a schema error on write, not as silent schema
	// drift.
	if db.Dialector.Name() == "postgres" {
		stm := `DO $$ BEGIN
			CREATE TYPE "JobStatus" AS ENUM ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'FAILED', 'CANCELLED');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`
		if err := db.Exec(stm).Error; err != nil {
			return fmt.Errorf("creating JobStatus enum: %w", err)
		}
	}

	return db.AutoMigrate(&model.Job{})
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	result := s.getDB(ctx).Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		if isEnumValueError(result.Error) {
			return nil, fmt.Errorf("%w: %v", ErrSchema, result.Error)
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

func (s *JobStore) Count(ctx context.Context, filter *JobQueryFilter) (int64, error) {
	var count int64
	tx := s.getDB(ctx).Model(&model.Job{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if result := tx.Count(&count); result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	var rows []struct {
		Status model.JobStatus
		Total  int
	}
	result := s.getDB(ctx).Model(&model.Job{}).Select("status, count(*) as total").Group("status").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	counts := make(map[model.JobStatus]int)
	for _, status := range model.JobStatusValues {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// UpdateStatus moves a job from expected to to with a compare-and-set on
// (id, status): concurrent writers racing on the same job cannot both win.
// The transition itself, including the startedAt/finishedAt stamps, is
// validated and computed by the model; this is the only code path that writes
// the status column.
func (s *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, expected, to model.JobStatus, reason string, result []byte) (*model.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != expected {
		return nil, fmt.Errorf("%w: job %s is %s", ErrStaleStatus, id, job.Status)
	}

	now := time.Now().UTC()
	startedBefore := job.StartedAt != nil
	if err := job.Transition(to, reason, now); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":     job.Status,
		"updated_at": now,
	}
	if job.StartedAt != nil && !startedBefore {
		updates["started_at"] = *job.StartedAt
	}
	if job.FinishedAt != nil {
		updates["finished_at"] = *job.FinishedAt
	}
	if job.Error != "" {
		updates["error"] = job.Error
	}
	if to == model.JobStatusCompleted && result != nil {
		job.Result = result
		updates["result"] = result
	}

	res := s.getDB(ctx).Model(&model.Job{}).Where("id = ? AND status = ?", id, expected).Updates(updates)
	if res.Error != nil {
		if isEnumValueError(res.Error) {
			return nil, fmt.Errorf("%w: %v", ErrSchema, res.Error)
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// we lost the race, report what won
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s is %s", ErrStaleStatus, id, current.Status)
	}

	return job, nil
}

func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.getDB(ctx).Unscoped().Delete(&model.Job{}, "id = ?", id.String())
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
