package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/strin/fortify/internal/auth"
	"github.com/strin/fortify/internal/config"
	"github.com/strin/fortify/internal/service"
	st "github.com/strin/fortify/internal/store"
	"github.com/strin/fortify/internal/store/model"
	"github.com/strin/fortify/internal/vulnerabilities"
)

type fakeWorker struct {
	mu         sync.Mutex
	started    []uuid.UUID
	cancelled  []uuid.UUID
	failCancel bool
	failStart  bool
}

func (f *fakeWorker) StartJob(ctx context.Context, job *model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return errors.New("worker unreachable")
	}
	f.started = append(f.started, job.ID)
	return nil
}

func (f *fakeWorker) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCancel {
		return errors.New("worker unreachable")
	}
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeWorker) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func (f *fakeWorker) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

// completionWinsStore slips a completion in between a cancellation's
// pre-check and its compare-and-set, so the cancel always loses the race.
type completionWinsStore struct {
	st.Store
}

func (s *completionWinsStore) Job() st.Job {
	return &completionWinsJobStore{Job: s.Store.Job()}
}

type completionWinsJobStore struct {
	st.Job
}

func (j *completionWinsJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, expected, to model.JobStatus, reason string, result []byte) (*model.Job, error) {
	if to == model.JobStatusCancelled {
		if _, err := j.Job.UpdateStatus(ctx, id, expected, model.JobStatusCompleted, "", []byte(`{"files":1}`)); err != nil {
			return nil, err
		}
	}
	return j.Job.UpdateStatus(ctx, id, expected, to, reason, result)
}

var _ = Describe("job service", Ordered, func() {
	var (
		s      st.Store
		gormdb *gorm.DB
		worker *fakeWorker
		srv    *service.JobService
		owner  auth.User
	)

	BeforeAll(func() {
		cfg, err := config.New()
		Expect(err).To(BeNil())
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())

		s = st.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())

		owner = auth.User{Username: "admin", Organization: "org"}
	})

	BeforeEach(func() {
		worker = &fakeWorker{}
		srv = service.NewJobService(s, worker, nil)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM findings;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	AfterAll(func() {
		s.Close()
	})

	newScanJob := func(user auth.User) model.Job {
		return model.Job{
			ID:       uuid.New(),
			Type:     model.JobTypeScan,
			Status:   model.JobStatusPending,
			Username: user.Username,
			OrgID:    user.Organization,
			RepoURL:  "https://example.com/repo.git",
			Branch:   "main",
		}
	}

	Context("create", func() {
		It("creates a pending job and dispatches it", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))

			Eventually(worker.startedCount).Should(Equal(1))
		})

		It("leaves the job pending when the worker is unreachable", func() {
			worker.failStart = true

			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			Consistently(worker.startedCount, 200*time.Millisecond).Should(Equal(0))

			got, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(got.Job.Status).To(Equal(model.JobStatusPending))
		})

		It("rejects a fix job without a target finding", func() {
			job := newScanJob(owner)
			job.Type = model.JobTypeFix

			_, err := srv.CreateJob(context.TODO(), job)
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})
	})

	Context("get", func() {
		It("estimates progress for a pending job", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			view, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(view.Estimate.Stage).To(Equal("queued"))
			Expect(view.Estimate.Percent).To(Equal(5))
			Expect(view.Summary).To(BeNil())
		})

		It("estimates analyzing after 45 elapsed seconds", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, nil)
			Expect(err).To(BeNil())

			startedAt := time.Now().Add(-45 * time.Second)
			Expect(gormdb.Model(&model.Job{}).Where("id = ?", job.ID).Update("started_at", startedAt).Error).To(BeNil())

			view, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(view.Estimate.Stage).To(Equal("analyzing"))
			Expect(view.Estimate.Percent).To(Equal(65))
		})

		It("reads a foreign job as not found", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			stranger := auth.User{Username: "mallory", Organization: "org2"}
			_, err = srv.GetJob(context.TODO(), job.ID, stranger)
			var notFound *service.ErrJobNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("summarizes findings of a completed scan", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, nil)
			Expect(err).To(BeNil())

			findings := []model.Finding{
				{ID: uuid.New(), JobID: job.ID, Title: "sqli", Severity: model.SeverityCritical, Category: "injection", FilePath: "db.go"},
				{ID: uuid.New(), JobID: job.ID, Title: "rce", Severity: model.SeverityCritical, Category: "injection", FilePath: "exec.go"},
				{ID: uuid.New(), JobID: job.ID, Title: "weak hash", Severity: model.SeverityLow, Category: "crypto", FilePath: "auth.go"},
			}
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusCompleted, "", []byte(`{"files":3}`), findings)
			Expect(err).To(BeNil())

			view, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(view.Summary).NotTo(BeNil())
			Expect(view.Summary.Total).To(Equal(3))
			Expect(view.Summary.SeverityCounts[model.SeverityCritical]).To(Equal(2))
			Expect(view.Summary.SeverityCounts[model.SeverityHigh]).To(Equal(0))
			Expect(view.Summary.SeverityCounts[model.SeverityMedium]).To(Equal(0))
			Expect(view.Summary.SeverityCounts[model.SeverityLow]).To(Equal(1))
			Expect(view.Summary.SeverityCounts[model.SeverityInfo]).To(Equal(0))
		})
	})

	Context("list", func() {
		It("lists only the caller's jobs with pagination", func() {
			for i := 0; i < 3; i++ {
				_, err := srv.CreateJob(context.TODO(), newScanJob(owner))
				Expect(err).To(BeNil())
			}
			stranger := auth.User{Username: "other", Organization: "org2"}
			_, err := srv.CreateJob(context.TODO(), newScanJob(stranger))
			Expect(err).To(BeNil())

			jobs, total, err := srv.ListJobs(context.TODO(), owner, service.ListJobsFilter{Page: 1, Limit: 2})
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(3)))
			Expect(jobs).To(HaveLen(2))
		})

		It("rejects an unknown status filter", func() {
			_, _, err := srv.ListJobs(context.TODO(), owner, service.ListJobsFilter{Status: "RUNNING"})
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})
	})

	Context("cancel", func() {
		It("cancels a pending job for its owner", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			cancelled, err := srv.CancelJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(cancelled.Status).To(Equal(model.JobStatusCancelled))
			Expect(cancelled.Error).To(Equal("Cancelled by user"))
			Expect(cancelled.FinishedAt).NotTo(BeNil())

			Eventually(worker.cancelledCount).Should(Equal(1))
		})

		It("keeps the cancellation when the worker signal fails", func() {
			worker.failCancel = true

			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			cancelled, err := srv.CancelJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(cancelled.Status).To(Equal(model.JobStatusCancelled))

			got, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(got.Job.Status).To(Equal(model.JobStatusCancelled))
		})

		It("refuses a non-owner and leaves the job untouched", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			stranger := auth.User{Username: "mallory", Organization: "org2"}
			_, err = srv.CancelJob(context.TODO(), job.ID, stranger)
			var forbidden *service.ErrJobAccessForbidden
			Expect(errors.As(err, &forbidden)).To(BeTrue())

			got, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(got.Job.Status).To(Equal(model.JobStatusPending))
		})

		It("refuses to cancel a completed job, naming the status", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, nil)
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusCompleted, "", nil, nil)
			Expect(err).To(BeNil())

			_, err = srv.CancelJob(context.TODO(), job.ID, owner)
			var notCancellable *service.ErrJobNotCancellable
			Expect(errors.As(err, &notCancellable)).To(BeTrue())
			Expect(err.Error()).To(Equal(fmt.Sprintf("Cannot cancel job in %s status", model.JobStatusCompleted)))
			Expect(notCancellable.Status).To(Equal(model.JobStatusCompleted))
		})

		It("returns not found for an unknown job", func() {
			_, err := srv.CancelJob(context.TODO(), uuid.New(), owner)
			var notFound *service.ErrJobNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("reports a cancel that loses to a concurrent completion as not cancellable", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, nil)
			Expect(err).To(BeNil())

			racing := service.NewJobService(&completionWinsStore{Store: s}, worker, nil)
			_, err = racing.CancelJob(context.TODO(), job.ID, owner)
			var notCancellable *service.ErrJobNotCancellable
			Expect(errors.As(err, &notCancellable)).To(BeTrue())
			Expect(notCancellable.Status).To(Equal(model.JobStatusCompleted))
			Expect(err.Error()).To(Equal(fmt.Sprintf("Cannot cancel job in %s status", model.JobStatusCompleted)))

			got, err := srv.GetJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())
			Expect(got.Job.Status).To(Equal(model.JobStatusCompleted))
			Expect(worker.cancelledCount()).To(Equal(0))
		})
	})

	Context("worker callback", func() {
		It("rejects findings outside a completion", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			findings := []model.Finding{{ID: uuid.New(), JobID: job.ID, Title: "xss", Severity: model.SeverityHigh}}
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, findings)
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("writes the findings with the completion atomically", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, nil)
			Expect(err).To(BeNil())

			findings := []model.Finding{
				{ID: uuid.New(), JobID: job.ID, Title: "sqli", Severity: model.SeverityCritical},
			}
			updated, err := srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusCompleted, "", []byte(`{}`), findings)
			Expect(err).To(BeNil())
			Expect(updated.Status).To(Equal(model.JobStatusCompleted))

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM findings;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("refuses to move a cancelled job", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.CancelJob(context.TODO(), job.ID, owner)
			Expect(err).To(BeNil())

			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusCompleted, "", nil, nil)
			var invalid *service.ErrInvalidJobTransition
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("requires a reason for a failure report", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusFailed, "", nil, nil)
			Expect(err).NotTo(BeNil())
		})
	})

	Context("findings page", func() {
		completedJobWithFindings := func() uuid.UUID {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusInProgress, "", nil, nil)
			Expect(err).To(BeNil())

			findings := []model.Finding{
				{ID: uuid.New(), JobID: job.ID, Title: "sqli", Severity: model.SeverityCritical, Category: "injection", FilePath: "db.go"},
				{ID: uuid.New(), JobID: job.ID, Title: "xss", Severity: model.SeverityHigh, Category: "xss", FilePath: "web.go"},
				{ID: uuid.New(), JobID: job.ID, Title: "weak hash", Severity: model.SeverityLow, Category: "crypto", FilePath: "auth.go"},
			}
			_, err = srv.UpdateJobStatus(context.TODO(), job.ID, model.JobStatusCompleted, "", nil, findings)
			Expect(err).To(BeNil())
			return job.ID
		}

		It("pages findings ordered by severity", func() {
			jobID := completedJobWithFindings()

			page, err := srv.GetJobFindings(context.TODO(), jobID, owner, vulnerabilities.Filter{}, 1, 2)
			Expect(err).To(BeNil())
			Expect(page.Items).To(HaveLen(2))
			Expect(page.Items[0].Severity).To(Equal(model.SeverityCritical))
			Expect(page.Pagination.TotalCount).To(Equal(3))
			Expect(page.Pagination.HasNext).To(BeTrue())
		})

		It("filters by severity", func() {
			jobID := completedJobWithFindings()

			page, err := srv.GetJobFindings(context.TODO(), jobID, owner, vulnerabilities.Filter{Severity: model.SeverityHigh}, 1, 20)
			Expect(err).To(BeNil())
			Expect(page.Items).To(HaveLen(1))
			Expect(page.Items[0].Title).To(Equal("xss"))
		})

		It("refuses findings of a job that is not completed", func() {
			job, err := srv.CreateJob(context.TODO(), newScanJob(owner))
			Expect(err).To(BeNil())

			_, err = srv.GetJobFindings(context.TODO(), job.ID, owner, vulnerabilities.Filter{}, 1, 20)
			var notCompleted *service.ErrJobNotCompleted
			Expect(errors.As(err, &notCompleted)).To(BeTrue())
		})
	})
})
