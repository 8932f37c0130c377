// Package client implements the polling side of status reconciliation: a
// watcher that follows one job until it settles in a terminal status.
package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/strin/fortify/internal/store/model"
)

const (
	DefaultPollInterval = 5 * time.Second
	pollJitterStdev     = 250 * time.Millisecond
)

// JobGetter is the read surface the watcher polls. The store-backed view is
// authoritative: whatever it returns replaces anything observed before.
type JobGetter interface {
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
}

// Observer is invoked on every observed status change, including the final
// transition into a terminal status.
type Observer func(job *model.Job)

type Watcher struct {
	getter   JobGetter
	interval time.Duration
	log      *zap.SugaredLogger
}

type WatcherOption func(w *Watcher)

func WithPollInterval(interval time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.interval = interval
	}
}

func NewWatcher(getter JobGetter, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		getter:   getter,
		interval: DefaultPollInterval,
		log:      zap.S().Named("watcher"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Watch polls the job at a jittered fixed interval until it reaches a
// terminal status or the context is cancelled. It returns the final job on a
// terminal status and the context error on cancellation. Poll errors are
// logged and retried on the next tick; a transiently failing reader never
// terminates the loop.
func (w *Watcher) Watch(ctx context.Context, id uuid.UUID, observer Observer) (*model.Job, error) {
	ticker := jitterbug.New(w.interval, &jitterbug.Norm{Stdev: pollJitterStdev, Mean: 0})
	defer ticker.Stop()

	var lastStatus model.JobStatus

	for {
		job, err := w.getter.GetJob(ctx, id)
		if err != nil {
			w.log.Warnw("poll failed", "job_id", id, "error", err)
		} else {
			if job.Status != lastStatus {
				lastStatus = job.Status
				if observer != nil {
					observer(job)
				}
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
