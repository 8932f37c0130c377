// Package progress derives a display-only progress estimate from a job's
// status and elapsed run time.
//
// The worker reports no telemetry, so the stage and percentage are inferred
// heuristically from wall-clock time. The estimate is never persisted and
// never feeds back into the job lifecycle; the store's status is always
// authoritative.
package progress

import (
	"time"

	"github.com/strin/fortify/internal/store/model"
)

// Stage labels shown to users while a job runs.
const (
	StageQueued       = "queued"
	StageInitializing = "cloning/initializing"
	StageAnalyzing    = "analyzing"
	StageFinalizing   = "finalizing/generating report"
	StageCompleted    = "completed"
	StageFailed       = "failed"
	StageCancelled    = "cancelled"
)

// Elapsed-time thresholds measured from startedAt.
const (
	initializingWindow = 30 * time.Second
	analyzingWindow    = 120 * time.Second
)

type Estimate struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// Estimate maps (status, startedAt, now) to a stage label and percentage. It
// is pure: no state, no side effects, safe to call arbitrarily often. A nil
// startedAt on a running job falls back to a mid-range value, and a negative
// elapsed duration (client/store clock skew) is clamped to zero.
func EstimateJob(status model.JobStatus, startedAt *time.Time, now time.Time) Estimate {
	switch status {
	case model.JobStatusPending:
		return Estimate{Stage: StageQueued, Percent: 5}
	case model.JobStatusCompleted:
		return Estimate{Stage: StageCompleted, Percent: 100}
	case model.JobStatusFailed:
		return Estimate{Stage: StageFailed, Percent: 0}
	case model.JobStatusCancelled:
		return Estimate{Stage: StageCancelled, Percent: 0}
	case model.JobStatusInProgress:
		if startedAt == nil {
			// the start stamp has not been observed yet
			return Estimate{Stage: StageAnalyzing, Percent: 50}
		}
		elapsed := now.Sub(*startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		switch {
		case elapsed < initializingWindow:
			return Estimate{Stage: StageInitializing, Percent: 25}
		case elapsed < analyzingWindow:
			return Estimate{Stage: StageAnalyzing, Percent: 65}
		default:
			return Estimate{Stage: StageFinalizing, Percent: 90}
		}
	default:
		return Estimate{Stage: StageQueued, Percent: 0}
	}
}
