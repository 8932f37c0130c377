package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")

	// ErrStaleStatus is returned when a compare-and-set status update matched
	// the job id but not the expected status. Exactly one of the concurrent
	// writers wins; the others receive this error.
	ErrStaleStatus = errors.New("job status changed concurrently")

	// ErrSchema is returned when the database rejects a value the application
	// considers valid, typically an enum member the store has not been
	// migrated to know about yet. It signals a deployment problem, not a
	// user error, and must never be folded into not-found or state errors.
	ErrSchema = errors.New("store rejected a value it does not recognize")
)

// invalidTextRepresentation is the SQLSTATE postgres raises when a value is
// not a member of the target enum type.
const invalidTextRepresentation = "22P02"

// isEnumValueError recognizes the postgres error raised when a value is not a
// member of the target enum type, e.g. a "CANCELLED" write against a
// "JobStatus" enum created before that member was added. The string check
// covers drivers that do not surface a structured error.
func isEnumValueError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == invalidTextRepresentation
	}
	return strings.Contains(err.Error(), "invalid input value for enum")
}
