package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/strin/fortify/internal/store/model"
	"gorm.io/gorm"
)

type Finding interface {
	CreateBulk(ctx context.Context, findings []model.Finding) ([]model.Finding, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) (model.FindingList, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
	InitialMigration(ctx context.Context) error
}

type FindingStore struct {
	db *gorm.DB
}

// Make sure we conform to Finding interface
var _ Finding = (*FindingStore)(nil)

func NewFindingStore(db *gorm.DB) Finding {
	return &FindingStore{db: db}
}

func (s *FindingStore) InitialMigration(ctx context.Context) error {
	return s.getDB(ctx).AutoMigrate(&model.Finding{})
}

// CreateBulk writes all findings of a completed job in one statement. It is
// called exactly once per job, in the same transaction that completes it.
func (s *FindingStore) CreateBulk(ctx context.Context, findings []model.Finding) ([]model.Finding, error) {
	if len(findings) == 0 {
		return findings, nil
	}

	result := s.getDB(ctx).Create(&findings)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("writing findings: %w", result.Error)
	}
	return findings, nil
}

// ListByJob returns every finding of the job ordered newest first. Findings
// are immutable once written, so reads need no locking; display ordering and
// filtering are applied by the aggregation engine on top of this.
func (s *FindingStore) ListByJob(ctx context.Context, jobID uuid.UUID) (model.FindingList, error) {
	var findings model.FindingList
	result := s.getDB(ctx).Order("created_at DESC").Find(&findings, "job_id = ?", jobID)
	if result.Error != nil {
		return nil, result.Error
	}
	return findings, nil
}

func (s *FindingStore) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	result := s.getDB(ctx).Model(&model.Finding{}).Where("job_id = ?", jobID).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (s *FindingStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
