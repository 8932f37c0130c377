package store_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/strin/fortify/internal/config"
	st "github.com/strin/fortify/internal/store"
	"github.com/strin/fortify/internal/store/model"
)

func newPendingJob(username, orgID string) model.Job {
	return model.Job{
		ID:       uuid.New(),
		Type:     model.JobTypeScan,
		Status:   model.JobStatusPending,
		Username: username,
		OrgID:    orgID,
		RepoURL:  "https://example.com/repo.git",
		Branch:   "main",
	}
}

var _ = Describe("job store", Ordered, func() {
	var (
		s      st.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())

		s = st.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM findings;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("create and get", func() {
		It("creates a pending job", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(job.ID))
			Expect(got.StartedAt).To(BeNil())
			Expect(got.FinishedAt).To(BeNil())
		})

		It("returns not found for an unknown id", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("list and count", func() {
		It("filters by owner and status", func() {
			_, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newPendingJob("other", "org2"))
			Expect(err).To(BeNil())

			jobs, err := s.Job().List(context.TODO(),
				st.NewJobQueryFilter().ByUsername("admin").ByOrgID("org"),
				st.NewJobQueryOptions().WithSortOrder(st.SortByCreatedTime))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(2))

			count, err := s.Job().Count(context.TODO(), st.NewJobQueryFilter().ByStatus(model.JobStatusPending))
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})

		It("pages with limit and offset", func() {
			for i := 0; i < 5; i++ {
				_, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
				Expect(err).To(BeNil())
			}

			jobs, err := s.Job().List(context.TODO(),
				st.NewJobQueryFilter().ByUsername("admin"),
				st.NewJobQueryOptions().WithLimit(2).WithOffset(4))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
		})

		It("counts jobs per status", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())

			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusInProgress, "", nil)
			Expect(err).To(BeNil())

			counts, err := s.Job().CountByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[model.JobStatusPending]).To(Equal(1))
			Expect(counts[model.JobStatusInProgress]).To(Equal(1))
			Expect(counts[model.JobStatusCompleted]).To(Equal(0))
		})
	})

	Context("update status", func() {
		It("stamps startedAt on the first move to IN_PROGRESS", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())

			updated, err := s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusInProgress, "", nil)
			Expect(err).To(BeNil())
			Expect(updated.Status).To(Equal(model.JobStatusInProgress))
			Expect(updated.StartedAt).NotTo(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusInProgress))
			Expect(got.StartedAt).NotTo(BeNil())
			Expect(got.FinishedAt).To(BeNil())
		})

		It("stamps finishedAt and result on completion", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusInProgress, "", nil)
			Expect(err).To(BeNil())

			updated, err := s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusInProgress, model.JobStatusCompleted, "", []byte(`{"files":12}`))
			Expect(err).To(BeNil())
			Expect(updated.FinishedAt).NotTo(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusCompleted))
			Expect(got.Result).NotTo(BeEmpty())
		})

		It("requires a reason for FAILED", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())

			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusFailed, "", nil)
			Expect(err).NotTo(BeNil())
		})

		It("rejects a stale expected status", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusInProgress, "", nil)
			Expect(err).To(BeNil())

			// a second writer still believing the job is pending loses
			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusCancelled, "Cancelled by user", nil)
			Expect(errors.Is(err, st.ErrStaleStatus)).To(BeTrue())
		})

		It("commits exactly one of a concurrent cancel and completion", func() {
			for i := 0; i < 20; i++ {
				job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
				Expect(err).To(BeNil())
				_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusInProgress, "", nil)
				Expect(err).To(BeNil())

				var wg sync.WaitGroup
				var cancelErr, completeErr error
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, cancelErr = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusInProgress, model.JobStatusCancelled, "Cancelled by user", nil)
				}()
				go func() {
					defer wg.Done()
					_, completeErr = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusInProgress, model.JobStatusCompleted, "", []byte(`{"files":3}`))
				}()
				wg.Wait()

				// exactly one writer wins each round
				Expect(cancelErr == nil).NotTo(Equal(completeErr == nil))

				got, err := s.Job().Get(context.TODO(), job.ID)
				Expect(err).To(BeNil())
				if cancelErr == nil {
					Expect(got.Status).To(Equal(model.JobStatusCancelled))
					Expect(got.Result).To(BeEmpty())
				} else {
					Expect(got.Status).To(Equal(model.JobStatusCompleted))
					Expect(got.Result).NotTo(BeEmpty())
				}
			}
		})

		It("rejects transitions out of a terminal status", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusCancelled, "Cancelled by user", nil)
			Expect(err).To(BeNil())

			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusCancelled, model.JobStatusInProgress, "", nil)
			var invalid *model.ErrInvalidTransition
			Expect(errors.As(err, &invalid)).To(BeTrue())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusCancelled))
			Expect(got.Error).To(Equal("Cancelled by user"))
		})

		It("keeps the original startedAt across later transitions", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			started, err := s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusPending, model.JobStatusInProgress, "", nil)
			Expect(err).To(BeNil())

			time.Sleep(10 * time.Millisecond)
			_, err = s.Job().UpdateStatus(context.TODO(), job.ID, model.JobStatusInProgress, model.JobStatusCompleted, "", nil)
			Expect(err).To(BeNil())

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.StartedAt.UnixMilli()).To(Equal(started.StartedAt.UnixMilli()))
		})
	})

	Context("findings", func() {
		It("writes findings in bulk and lists them per job", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())

			findings := []model.Finding{
				{ID: uuid.New(), JobID: job.ID, Title: "sql injection", Severity: model.SeverityCritical, Category: "injection", FilePath: "db.go"},
				{ID: uuid.New(), JobID: job.ID, Title: "weak hash", Severity: model.SeverityLow, Category: "crypto", FilePath: "auth.go"},
			}
			created, err := s.Finding().CreateBulk(context.TODO(), findings)
			Expect(err).To(BeNil())
			Expect(created).To(HaveLen(2))

			listed, err := s.Finding().ListByJob(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(listed).To(HaveLen(2))

			count, err := s.Finding().CountByJob(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))
		})

		It("ignores an empty bulk write", func() {
			created, err := s.Finding().CreateBulk(context.TODO(), nil)
			Expect(err).To(BeNil())
			Expect(created).To(BeEmpty())
		})

		It("cascades finding deletion with the job", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob("admin", "org"))
			Expect(err).To(BeNil())
			_, err = s.Finding().CreateBulk(context.TODO(), []model.Finding{
				{ID: uuid.New(), JobID: job.ID, Title: "xss", Severity: model.SeverityHigh},
			})
			Expect(err).To(BeNil())

			Expect(s.Job().Delete(context.TODO(), job.ID)).To(BeNil())

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM findings;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})
	})

	Context("transaction", func() {
		It("commits a job", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = s.Job().Create(ctx, newPendingJob("admin", "org"))
			Expect(err).To(BeNil())

			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls a job back", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = s.Job().Create(ctx, newPendingJob("admin", "org"))
			Expect(err).To(BeNil())

			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})
	})
})
