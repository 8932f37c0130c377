package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/strin/fortify/internal/store/model"
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id uuid.UUID) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", id)}
}

type ErrJobAccessForbidden struct {
	error
}

func NewErrJobAccessForbidden(id uuid.UUID) *ErrJobAccessForbidden {
	return &ErrJobAccessForbidden{fmt.Errorf("forbidden to access job %s", id)}
}

// ErrJobNotCancellable carries the status that blocked the cancel so the
// message can name it.
type ErrJobNotCancellable struct {
	error
	Status model.JobStatus
}

func NewErrJobNotCancellable(status model.JobStatus) *ErrJobNotCancellable {
	return &ErrJobNotCancellable{
		error:  fmt.Errorf("Cannot cancel job in %s status", status),
		Status: status,
	}
}

type ErrInvalidJobTransition struct {
	error
}

func NewErrInvalidJobTransition(id uuid.UUID, from, to model.JobStatus) *ErrInvalidJobTransition {
	return &ErrInvalidJobTransition{fmt.Errorf("job %s cannot move from %s to %s", id, from, to)}
}

// ErrStatusConflict is returned when a concurrent transition won the
// compare-and-set and the requested one lost.
type ErrStatusConflict struct {
	error
}

func NewErrStatusConflict(id uuid.UUID, status model.JobStatus) *ErrStatusConflict {
	return &ErrStatusConflict{fmt.Errorf("job %s already moved to %s", id, status)}
}

type ErrJobNotCompleted struct {
	error
}

func NewErrJobNotCompleted(id uuid.UUID, status model.JobStatus) *ErrJobNotCompleted {
	return &ErrJobNotCompleted{fmt.Errorf("job %s has no findings yet: status is %s", id, status)}
}

// ErrSchemaOutdated signals that the database rejected a known status value,
// meaning the schema has not been migrated to this release yet.
type ErrSchemaOutdated struct {
	error
}

func NewErrSchemaOutdated(status model.JobStatus) *ErrSchemaOutdated {
	return &ErrSchemaOutdated{fmt.Errorf("database schema does not accept status %s: run the migration", status)}
}

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(format string, args ...any) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf(format, args...)}
}
