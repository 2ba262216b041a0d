package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

const jobColumns = `job_id, namespace_id, operation_type, status, total_keys, processed_keys, error_count, started_at, completed_at, user_email`

// JobRepository persists [models.Job] rows in the bulk_jobs table.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job row.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `INSERT INTO bulk_jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var completedAt any
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		job.JobID,
		job.NamespaceID,
		string(job.OperationType),
		string(job.Status),
		job.TotalKeys,
		job.ProcessedKeys,
		job.ErrorCount,
		job.StartedAt.UTC(),
		completedAt,
		job.UserEmail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID. Unknown IDs return an error wrapping [shared.ErrJobNotFound].
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM bulk_jobs WHERE job_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// AddProgress increments the processed and error counters of a running job.
func (r *JobRepository) AddProgress(ctx context.Context, id string, processedDelta, errorDelta int) error {
	query := `
		UPDATE bulk_jobs
		SET processed_keys = COALESCE(processed_keys, 0) + ?,
			error_count = COALESCE(error_count, 0) + ?
		WHERE job_id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query, processedDelta, errorDelta, id, string(models.JobRunning))
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s is not running", shared.ErrInvalidTransition, id)
	}
	return nil
}

// UpdateStatus moves a job from one status to another, guarded by the current status.
//
// Counters left nil in counts keep their stored value. completedAt is written as given (nil clears it).
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, from, to models.JobStatus, counts models.JobCounts, completedAt *time.Time) error {
	query := `
		UPDATE bulk_jobs
		SET status = ?,
			total_keys = COALESCE(?, total_keys),
			processed_keys = COALESCE(?, processed_keys),
			error_count = COALESCE(?, error_count),
			completed_at = ?
		WHERE job_id = ? AND status = ?
	`

	var completed any
	if completedAt != nil {
		completed = completedAt.UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		string(to),
		counts.TotalKeys,
		counts.ProcessedKeys,
		counts.ErrorCount,
		completed,
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", shared.ErrInvalidTransition, id, from)
	}
	return nil
}

// List retrieves jobs matching the filter, newest first.
func (r *JobRepository) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.NamespaceID != "" {
		clauses = append(clauses, "namespace_id = ?")
		args = append(args, filter.NamespaceID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.OperationType != "" {
		clauses = append(clauses, "operation_type = ?")
		args = append(args, string(filter.OperationType))
	}

	query := `SELECT ` + jobColumns + ` FROM bulk_jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, job_id DESC LIMIT ?"
	args = append(args, limitOrDefault(filter.Limit, defaultJobListLimit, maxJobListLimit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanOne scans a single row into a [models.Job]
func (r *JobRepository) scanOne(row *sql.Row) (*models.Job, error) {
	job, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrJobNotFound
	}
	return job, err
}

func (r *JobRepository) scan(s scanner) (*models.Job, error) {
	var (
		job         models.Job
		opType      string
		status      string
		total       sql.NullInt64
		processed   sql.NullInt64
		errCount    sql.NullInt64
		completedAt sql.NullTime
	)

	err := s.Scan(
		&job.JobID,
		&job.NamespaceID,
		&opType,
		&status,
		&total,
		&processed,
		&errCount,
		&job.StartedAt,
		&completedAt,
		&job.UserEmail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.OperationType = models.OperationType(opType)
	job.Status = models.JobStatus(status)
	job.TotalKeys = nullInt(total)
	job.ProcessedKeys = nullInt(processed)
	job.ErrorCount = nullInt(errCount)
	if completedAt.Valid {
		job.CompletedAt = models.TimePtr(completedAt.Time)
	}
	return &job, nil
}
