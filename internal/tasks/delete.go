package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/kvx/internal/jobs"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/samber/lo"
)

// BulkDeleteRequest names the keys to delete from a namespace.
type BulkDeleteRequest struct {
	NamespaceID string
	Keys        []string
	UserEmail   string
}

// BulkDeleteResult is the outcome of a bulk delete.
type BulkDeleteResult struct {
	JobID         string           `json:"job_id"`
	Status        models.JobStatus `json:"status"`
	TotalKeys     int              `json:"total_keys"`
	ProcessedKeys int              `json:"processed_keys"`
	ErrorCount    int              `json:"error_count"`
}

// BulkDelete removes keys in fixed-size batches with the same accounting as [TransferEngine.Import].
//
// Duplicate and empty key names are dropped before the job is created.
func (e *TransferEngine) BulkDelete(ctx context.Context, progress chan<- ProgressUpdate, req BulkDeleteRequest) (*BulkDeleteResult, error) {
	if req.NamespaceID == "" {
		return nil, fmt.Errorf("%w: namespace id", shared.ErrMissingArgument)
	}
	keys := lo.Uniq(lo.Compact(req.Keys))
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: keys", shared.ErrMissingArgument)
	}

	op := models.OperationBulkDelete
	total := len(keys)
	jobID, err := e.ledger.Create(ctx, jobs.CreateOptions{
		NamespaceID: req.NamespaceID,
		Operation:   op,
		TotalKeys:   models.IntPtr(total),
		UserEmail:   req.UserEmail,
	})
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("job_id", jobID, "namespace", req.NamespaceID)
	logger.Info("bulk delete started", "keys", total)

	tally, err := runBatches(ctx, e, progress, jobID, op, DeleteBatches, keys,
		func(ctx context.Context, chunk []string) error {
			return e.store.BulkDelete(ctx, req.NamespaceID, chunk)
		})
	if err != nil {
		logger.Error("bulk delete aborted", "error", err)
		e.fail(ctx, jobID, op, err)
		return nil, err
	}

	if err := e.complete(ctx, progress, jobID, op, models.Counts(total, tally.processed, tally.errors)); err != nil {
		return nil, err
	}

	e.record(ctx, req.NamespaceID, op, req.UserEmail, map[string]any{
		"total":     total,
		"processed": tally.processed,
		"errors":    tally.errors,
		"job_id":    jobID,
	})

	logger.Info("bulk delete completed", "processed", tally.processed, "errors", tally.errors)
	return &BulkDeleteResult{
		JobID:         jobID,
		Status:        models.JobCompleted,
		TotalKeys:     total,
		ProcessedKeys: tally.processed,
		ErrorCount:    tally.errors,
	}, nil
}
