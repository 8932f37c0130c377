package events

import (
	"time"

	"github.com/strin/fortify/internal/store/model"
)

// JobEvent is emitted on every committed job transition. Consumers see the
// transition exactly as the store recorded it, including the losing side of
// a cancel/complete race never being published.
type JobEvent struct {
	JobID          string          `json:"job_id"`
	Type           model.JobType   `json:"type"`
	Status         model.JobStatus `json:"status"`
	PreviousStatus model.JobStatus `json:"previous_status,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	OrgID          string          `json:"org_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

type FindingsEvent struct {
	JobID string `json:"job_id"`
	Count int    `json:"count"`
}
