// package tasks implements the export, import and bulk delete pipelines for namespaced KV stores.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/jobs"
	"github.com/desertthunder/kvx/internal/metrics"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/services"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/samber/lo"
)

// errLedgerWrite marks an error from a job ledger write. Jobs that hit one keep their last known state.
var errLedgerWrite = errors.New("job ledger write failed")

// Ledger is the subset of [jobs.Ledger] the pipelines drive.
type Ledger interface {
	Create(ctx context.Context, opts jobs.CreateOptions) (string, error)
	Advance(ctx context.Context, id string, processedDelta, errorDelta int) error
	Finalize(ctx context.Context, id string, status models.JobStatus, counts models.JobCounts) error
}

// Auditor records completed operations. Implemented by audit.Log.
type Auditor interface {
	Record(ctx context.Context, namespaceID, operation, userEmail string, details map[string]any) bool
}

// EngineOpts contains the dependencies of a [TransferEngine].
type EngineOpts struct {
	Store   services.KVStore
	Ledger  Ledger
	Audit   Auditor
	Metrics *metrics.Metrics
	Logger  *log.Logger
	// BatchSize is the number of items per bulk call, clamped to [services.MaxBulkItems].
	BatchSize int
	// PageSize is the listing page size, clamped to [services.MaxListLimit].
	PageSize int
}

// TransferEngine runs bulk transfer pipelines against one KV store.
type TransferEngine struct {
	store     services.KVStore
	ledger    Ledger
	audit     Auditor
	metrics   *metrics.Metrics
	logger    *log.Logger
	batchSize int
	pageSize  int
}

// NewTransferEngine creates a new TransferEngine with the provided dependencies.
func NewTransferEngine(opts EngineOpts) *TransferEngine {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.BatchSize <= 0 || opts.BatchSize > services.MaxBulkItems {
		opts.BatchSize = services.MaxBulkItems
	}
	if opts.PageSize <= 0 || opts.PageSize > services.MaxListLimit {
		opts.PageSize = services.MaxListLimit
	}

	return &TransferEngine{
		store:     opts.Store,
		ledger:    opts.Ledger,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    shared.WithLogger(opts.Logger, "component", "transfer", "store", opts.Store.Name()),
		batchSize: opts.BatchSize,
		pageSize:  opts.PageSize,
	}
}

// CollisionPolicy names the intended handling of keys that already exist during import.
//
// The policy is accepted and recorded but writes always use the store's default overwrite behavior.
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionSkip      CollisionPolicy = "skip"
	CollisionRename    CollisionPolicy = "rename"
)

// ParseCollisionPolicy parses a policy name. An empty name selects [CollisionOverwrite].
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CollisionOverwrite, nil
	case CollisionOverwrite, CollisionSkip, CollisionRename:
		return p, nil
	default:
		return "", fmt.Errorf("%w: collision policy %q", shared.ErrInvalidArgument, s)
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *TransferEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// batchTally is the outcome of a chunked run.
type batchTally struct {
	processed int
	errors    int
}

// runBatches splits items into chunks of the engine batch size and calls write for each one, in order.
//
// A failed call counts its chunk as errors and the run continues. Every chunk outcome is written to the
// ledger before the next chunk starts; a ledger error or a cancelled context stops the run.
func runBatches[T any](
	ctx context.Context,
	e *TransferEngine,
	progress chan<- ProgressUpdate,
	jobID string,
	op models.OperationType,
	phase Phase,
	items []T,
	write func(ctx context.Context, chunk []T) error,
) (batchTally, error) {
	var tally batchTally
	chunks := lo.Chunk(items, e.batchSize)
	logger := shared.WithLogger(e.logger, "job_id", jobID, "operation", op)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return tally, fmt.Errorf("%w: cancelled before batch %d: %v", shared.ErrServiceUnavailable, i+1, err)
		}

		start := time.Now()
		err := write(ctx, chunk)
		e.metrics.ObserveBatch(string(op), err, time.Since(start))

		processedDelta, errorDelta := len(chunk), 0
		if err != nil {
			processedDelta, errorDelta = 0, len(chunk)
			logger.Error("batch failed", "batch", i+1, "batches", len(chunks), "size", len(chunk), "error", err)
			e.metrics.ObserveKeys(string(op), "failed", len(chunk))
		} else {
			logger.Debug("batch written", "batch", i+1, "batches", len(chunks), "size", len(chunk))
			e.metrics.ObserveKeys(string(op), "processed", len(chunk))
		}
		tally.processed += processedDelta
		tally.errors += errorDelta

		if err := e.ledger.Advance(ctx, jobID, processedDelta, errorDelta); err != nil {
			return tally, fmt.Errorf("%w: %w", errLedgerWrite, err)
		}
		e.sendProgress(progress, batchUpdate(jobID, phase, i+1, len(chunks), len(chunk), err))
	}

	return tally, nil
}

// fail finalizes a job as failed after a whole-request error. Ledger errors are logged, not returned.
// A cause wrapping errLedgerWrite leaves the job untouched.
func (e *TransferEngine) fail(ctx context.Context, jobID string, op models.OperationType, cause error) {
	if errors.Is(cause, errLedgerWrite) {
		e.logger.Warn("job left in last known state", "job_id", jobID, "error", cause)
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.ledger.Finalize(ctx, jobID, models.JobFailed, models.JobCounts{}); err != nil {
		e.logger.Error("failed to mark job failed", "job_id", jobID, "error", err, "cause", cause)
		return
	}
	e.metrics.ObserveJob(string(op), string(models.JobFailed))
}

// complete finalizes a job as completed and records its metric.
func (e *TransferEngine) complete(ctx context.Context, progress chan<- ProgressUpdate, jobID string, op models.OperationType, counts models.JobCounts) error {
	if err := e.ledger.Finalize(ctx, jobID, models.JobCompleted, counts); err != nil {
		return err
	}
	e.metrics.ObserveJob(string(op), string(models.JobCompleted))

	processed, errors := 0, 0
	if counts.ProcessedKeys != nil {
		processed = *counts.ProcessedKeys
	}
	if counts.ErrorCount != nil {
		errors = *counts.ErrorCount
	}
	e.sendProgress(progress, finalizeUpdate(jobID, string(models.JobCompleted), processed, errors))
	return nil
}

func (e *TransferEngine) record(ctx context.Context, namespaceID string, op models.OperationType, userEmail string, details map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, namespaceID, string(op), userEmail, details)
}
