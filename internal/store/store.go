package store

import (
	"context"

	"github.com/strin/fortify/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Finding() Finding
	InitialMigration() error
	Statistics(ctx context.Context) (map[model.JobStatus]int, error)
	Close() error
}

type DataStore struct {
	job     Job
	finding Finding
	db      *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:     NewJobStore(db),
		finding: NewCacheFindingStore(NewFindingStore(db)),
		db:      db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Finding() Finding {
	return s.finding
}

func (s *DataStore) InitialMigration() error {
	ctx := context.Background()
	if err := s.job.InitialMigration(ctx); err != nil {
		return err
	}
	return s.finding.InitialMigration(ctx)
}

// Statistics reports the number of jobs per status, feeding the status gauge.
func (s *DataStore) Statistics(ctx context.Context) (map[model.JobStatus]int, error) {
	return s.Job().CountByStatus(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
