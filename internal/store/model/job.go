package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the canonical lifecycle status of a job. The column is backed
// by the pg enum type "JobStatus"; a store that rejects one of these values
// has not been migrated yet and the rejection is surfaced as a schema error,
// not as a user error.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// JobStatusValues lists every status in enum declaration order.
var JobStatusValues = []JobStatus{
	JobStatusPending,
	JobStatusInProgress,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

type JobType string

const (
	JobTypeScan JobType = "scan"
	JobTypeFix  JobType = "fix"
)

// jobTransitions is the whole transition graph. Terminal statuses have no
// outgoing edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusInProgress, JobStatusFailed, JobStatusCancelled},
	JobStatusInProgress: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
	JobStatusCancelled:  {},
}

func (s JobStatus) Valid() bool {
	_, found := jobTransitions[s]
	return found
}

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a requested status change is not an
// edge of the transition graph, including any change out of a terminal status.
type ErrInvalidTransition struct {
	From JobStatus
	To   JobStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid job transition from %s to %s", e.From, e.To)
}

type Job struct {
	ID              uuid.UUID  `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	Type            JobType    `gorm:"not null;type:VARCHAR(20)"`
	Status          JobStatus  `gorm:"not null;type:JobStatus;index:jobs_status_idx"`
	Username        string     `gorm:"not null;index:jobs_org_username_idx"`
	OrgID           string     `gorm:"not null;index:jobs_org_username_idx"`
	RepoURL         string     `gorm:"not null"`
	Branch          string     `gorm:"type:VARCHAR(255)"`
	Path            string     `gorm:"type:VARCHAR(1024)"`
	TargetFindingID *uuid.UUID `gorm:"type:VARCHAR(255)"`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Error           string
	Result          []byte    `gorm:"type:jsonb"`
	Findings        []Finding `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE;"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// Transition applies a status change in place, stamping the side effects that
// belong to the target status. It is the only code path allowed to mutate
// Status. Reason is required when entering FAILED or CANCELLED and ignored
// otherwise.
func (j *Job) Transition(to JobStatus, reason string, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return &ErrInvalidTransition{From: j.Status, To: to}
	}

	switch to {
	case JobStatusInProgress:
		if j.StartedAt == nil {
			startedAt := now
			j.StartedAt = &startedAt
		}
	case JobStatusFailed, JobStatusCancelled:
		if reason == "" {
			return fmt.Errorf("transition to %s requires a reason", to)
		}
		j.Error = reason
		finishedAt := now
		j.FinishedAt = &finishedAt
	case JobStatusCompleted:
		finishedAt := now
		j.FinishedAt = &finishedAt
	}

	j.Status = to
	return nil
}
