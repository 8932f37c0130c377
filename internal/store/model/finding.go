package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity is the ordered severity scale of a finding, CRITICAL being the
// highest. Rank is used for ordering; the persisted value is the string.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SeverityValues lists every severity from highest to lowest.
var SeverityValues = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

func (s Severity) Valid() bool {
	_, found := severityRank[s]
	return found
}

// Rank returns the ordering weight of the severity, higher meaning more
// severe. Unknown severities rank below INFO.
func (s Severity) Rank() int {
	if rank, found := severityRank[s]; found {
		return rank
	}
	return -1
}

// Finding is one issue reported by a completed scan job. Findings are written
// in bulk in the transaction that completes the owning job and are never
// updated afterward; they are removed only by the cascade delete of the job.
type Finding struct {
	ID             uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	JobID          uuid.UUID `gorm:"not null;type:VARCHAR(255);index:findings_job_id_idx"`
	Title          string    `gorm:"not null"`
	Description    string
	Severity       Severity `gorm:"not null;type:VARCHAR(20)"`
	Category       string   `gorm:"not null;type:VARCHAR(100)"`
	FilePath       string   `gorm:"not null;type:VARCHAR(1024)"`
	StartLine      int
	EndLine        int
	Snippet        string
	Recommendation string
	Metadata       []byte    `gorm:"type:jsonb"`
	CreatedAt      time.Time `gorm:"not null"`
}

type FindingList []Finding

func (f Finding) String() string {
	val, _ := json.Marshal(f)
	return string(val)
}
