package models

import (
	"fmt"
	"time"
)

// OperationType names the kind of bulk operation a [Job] tracks.
type OperationType string

const (
	OperationExport        OperationType = "export"
	OperationImport        OperationType = "import"
	OperationBulkCopy      OperationType = "bulk_copy"
	OperationBulkDelete    OperationType = "bulk_delete"
	OperationBulkTTLUpdate OperationType = "bulk_ttl_update"
	OperationBulkTag       OperationType = "bulk_tag"
)

// Valid reports whether o is a known operation type.
func (o OperationType) Valid() bool {
	switch o {
	case OperationExport, OperationImport, OperationBulkCopy, OperationBulkDelete, OperationBulkTTLUpdate, OperationBulkTag:
		return true
	}
	return false
}

// JobStatus is a state of the job state machine.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	// JobCancelled is reserved; no pipeline sets it.
	JobCancelled JobStatus = "cancelled"
)

var allowedTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobCancelled},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job tracks one bulk operation.
//
// Counters are nil until known. CompletedAt is set iff Status is terminal.
type Job struct {
	JobID         string        `json:"job_id"`
	NamespaceID   string        `json:"namespace_id"`
	OperationType OperationType `json:"operation_type"`
	Status        JobStatus     `json:"status"`
	TotalKeys     *int          `json:"total_keys"`
	ProcessedKeys *int          `json:"processed_keys"`
	ErrorCount    *int          `json:"error_count"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at"`
	UserEmail     string        `json:"user_email"`
}

// Validate checks the job's invariants.
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if j.NamespaceID == "" {
		return fmt.Errorf("namespace_id is required")
	}
	if !j.OperationType.Valid() {
		return fmt.Errorf("unknown operation type %q", j.OperationType)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	if j.TotalKeys != nil && j.ProcessedKeys != nil && *j.ProcessedKeys > *j.TotalKeys {
		return fmt.Errorf("processed_keys %d exceeds total_keys %d", *j.ProcessedKeys, *j.TotalKeys)
	}
	if j.Status.Terminal() != (j.CompletedAt != nil) {
		return fmt.Errorf("completed_at must be set exactly when status is terminal (status %s)", j.Status)
	}
	return nil
}

// JobCounts carries counters written at finalize. Nil fields keep their stored value.
type JobCounts struct {
	TotalKeys     *int
	ProcessedKeys *int
	ErrorCount    *int
}

// Counts builds a [JobCounts] with all three counters set.
func Counts(total, processed, errors int) JobCounts {
	return JobCounts{TotalKeys: IntPtr(total), ProcessedKeys: IntPtr(processed), ErrorCount: IntPtr(errors)}
}

// JobFilter narrows a job listing. Zero values match everything.
type JobFilter struct {
	NamespaceID   string
	Status        JobStatus
	OperationType OperationType
	Limit         int
}
