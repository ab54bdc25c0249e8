package datasync

import (
	"errors"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

var (
	// ErrNotBound is returned by operations that need a bound school.
	ErrNotBound = errors.New("no school is bound")

	// ErrNotFound is returned when a record to update or delete does not
	// exist in the working state.
	ErrNotFound = errors.New("record not found")
)

// Status is the outcome of a save, drain or refresh cycle.
type Status string

const (
	// StatusSkipped means the cycle did not start: sync is paused, no school
	// is bound, there is nothing dirty, or another cycle is running.
	StatusSkipped Status = "skipped"
	// StatusPostponed means an automatic save found the user still typing.
	StatusPostponed Status = "postponed"
	// StatusNothing means the dirty categories produced an empty payload.
	StatusNothing Status = "nothing"
	// StatusSaved means the write was confirmed by the remote store.
	StatusSaved Status = "saved"
	// StatusQueued means the write went to the offline queue.
	StatusQueued Status = "queued"
	// StatusFailed means a permanent error stopped the write.
	StatusFailed Status = "failed"
	// StatusRefreshed means a refresh cycle completed.
	StatusRefreshed Status = "refreshed"
)

// SaveResult describes one cycle.
type SaveResult struct {
	Status Status
	Reason string // why a cycle was skipped

	Categories []schema.Category
	Operations int
	QueueID    string

	// Err is the remote error that sent the write to the queue or failed
	// it.
	Err error

	// Violations holds the mass-deletion errors of a drain. The deletions
	// they name were not sent.
	Violations []error
}

func skipped(reason string) SaveResult {
	return SaveResult{Status: StatusSkipped, Reason: reason}
}
