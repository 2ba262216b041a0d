// Package jobs owns the job ledger: creation, progress accounting and the status state machine for bulk operations.
//
// A job moves queued → running → {completed, failed, cancelled}. Pipelines create jobs directly in the running
// state; [Ledger.Start] exists for callers that defer execution. Terminal states are final.
//
// A job with per-item errors still finalizes as completed; partial failure is reported through error_count.
// Only a failure of the whole request finalizes a job as failed. Nothing in this package sets cancelled.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

// Store persists job rows. Implemented by repositories.JobRepository.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	AddProgress(ctx context.Context, id string, processedDelta, errorDelta int) error
	UpdateStatus(ctx context.Context, id string, from, to models.JobStatus, counts models.JobCounts, completedAt *time.Time) error
	List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
}

// CreateOptions describes a new job.
type CreateOptions struct {
	NamespaceID string
	Operation   models.OperationType
	TotalKeys   *int
	UserEmail   string
	// Deferred creates the job as queued instead of running.
	Deferred bool
}

// Ledger creates, advances and finalizes jobs.
type Ledger struct {
	store  Store
	clock  clock.Clock
	logger *log.Logger
}

// NewLedger creates a ledger over store. A nil clock uses the wall clock.
func NewLedger(store Store, clk clock.Clock, logger *log.Logger) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Ledger{store: store, clock: clk, logger: shared.WithLogger(logger, "component", "ledger")}
}

// Create records a new job and returns its time-ordered ID.
func (l *Ledger) Create(ctx context.Context, opts CreateOptions) (string, error) {
	if opts.NamespaceID == "" {
		return "", fmt.Errorf("%w: namespace id", shared.ErrMissingArgument)
	}
	if !opts.Operation.Valid() {
		return "", fmt.Errorf("%w: operation type %q", shared.ErrInvalidArgument, opts.Operation)
	}
	if opts.TotalKeys != nil && *opts.TotalKeys < 0 {
		return "", fmt.Errorf("%w: negative total_keys", shared.ErrInvalidArgument)
	}

	status := models.JobRunning
	if opts.Deferred {
		status = models.JobQueued
	}

	job := &models.Job{
		JobID:         shared.GenerateJobID(string(opts.Operation)),
		NamespaceID:   opts.NamespaceID,
		OperationType: opts.Operation,
		Status:        status,
		TotalKeys:     opts.TotalKeys,
		StartedAt:     l.clock.Now().UTC(),
		UserEmail:     opts.UserEmail,
	}

	if err := l.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	l.logger.Debug("job created", "job_id", job.JobID, "namespace", job.NamespaceID, "operation", job.OperationType, "status", status)
	return job.JobID, nil
}

// Start moves a queued job to running.
func (l *Ledger) Start(ctx context.Context, id string) error {
	job, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(models.JobRunning) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, job.Status, models.JobRunning)
	}
	return l.store.UpdateStatus(ctx, id, job.Status, models.JobRunning, models.JobCounts{}, nil)
}

// Advance adds to a running job's processed and error counters.
func (l *Ledger) Advance(ctx context.Context, id string, processedDelta, errorDelta int) error {
	if processedDelta < 0 || errorDelta < 0 {
		return fmt.Errorf("%w: negative progress delta", shared.ErrInvalidArgument)
	}
	if processedDelta == 0 && errorDelta == 0 {
		return nil
	}
	if err := l.store.AddProgress(ctx, id, processedDelta, errorDelta); err != nil {
		return fmt.Errorf("failed to advance job %s: %w", id, err)
	}
	return nil
}

// Finalize moves a job into a terminal status and records its final counters.
//
// Counters left nil keep their stored values. Finalizing an already terminal job fails with
// [shared.ErrInvalidTransition].
func (l *Ledger) Finalize(ctx context.Context, id string, status models.JobStatus, counts models.JobCounts) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal status", shared.ErrInvalidTransition, status)
	}

	job, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, job.Status, status)
	}

	total := pick(counts.TotalKeys, job.TotalKeys)
	processed := pick(counts.ProcessedKeys, job.ProcessedKeys)
	if total != nil && processed != nil && *processed > *total {
		return fmt.Errorf("%w: processed_keys %d exceeds total_keys %d", shared.ErrInvalidArgument, *processed, *total)
	}

	now := l.clock.Now().UTC()
	if err := l.store.UpdateStatus(ctx, id, job.Status, status, counts, &now); err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", id, err)
	}

	l.logger.Info("job finalized", "job_id", id, "status", status,
		"total", deref(total), "processed", deref(processed), "errors", deref(pick(counts.ErrorCount, job.ErrorCount)))
	return nil
}

// Get returns a job or an error wrapping [shared.ErrJobNotFound].
func (l *Ledger) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs matching filter, newest first.
func (l *Ledger) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", shared.ErrInvalidArgument, filter.Status)
	}
	if filter.OperationType != "" && !filter.OperationType.Valid() {
		return nil, fmt.Errorf("%w: operation type %q", shared.ErrInvalidArgument, filter.OperationType)
	}
	return l.store.List(ctx, filter)
}

func pick(a, b *int) *int {
	if a != nil {
		return a
	}
	return b
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
