package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/kvx/internal/formatter"
	"github.com/desertthunder/kvx/internal/jobs"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/samber/lo"
)

// ImportRequest carries a raw import payload.
type ImportRequest struct {
	NamespaceID string
	Payload     []byte
	Collision   CollisionPolicy
	UserEmail   string
}

// ImportResult is the client-visible outcome of an import.
type ImportResult struct {
	JobID         string           `json:"job_id"`
	Status        models.JobStatus `json:"status"`
	TotalKeys     int              `json:"total_keys"`
	ProcessedKeys int              `json:"processed_keys"`
	ErrorCount    int              `json:"error_count"`
	Format        formatter.Format `json:"format"`
}

// Import parses a payload and writes its records in fixed-size batches, in input order.
//
// Parse errors are returned before any job exists. Failed batches are counted into error_count and the
// job finalizes as completed, so processed_keys + error_count equals total_keys.
func (e *TransferEngine) Import(ctx context.Context, progress chan<- ProgressUpdate, req ImportRequest) (*ImportResult, error) {
	if req.NamespaceID == "" {
		return nil, fmt.Errorf("%w: namespace id", shared.ErrMissingArgument)
	}
	if req.Collision == "" {
		req.Collision = CollisionOverwrite
	}

	payload, err := formatter.ParsePayload(req.Payload)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, parsedUpdate(string(payload.Format), len(payload.Records)))

	op := models.OperationImport
	total := len(payload.Records)
	jobID, err := e.ledger.Create(ctx, jobs.CreateOptions{
		NamespaceID: req.NamespaceID,
		Operation:   op,
		TotalKeys:   models.IntPtr(total),
		UserEmail:   req.UserEmail,
	})
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("job_id", jobID, "namespace", req.NamespaceID, "format", payload.Format)
	logger.Info("import started", "records", total, "batch_size", e.batchSize, "collision", req.Collision)

	items := lo.Map(payload.Records, func(r models.KeyRecord, _ int) models.BulkWriteItem {
		return r.ToBulkWrite()
	})
	tally, err := runBatches(ctx, e, progress, jobID, op, WriteBatches, items,
		func(ctx context.Context, chunk []models.BulkWriteItem) error {
			return e.store.BulkWrite(ctx, req.NamespaceID, chunk)
		})
	if err != nil {
		logger.Error("import aborted", "error", err, "processed", tally.processed, "errors", tally.errors)
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
		"format":    string(payload.Format),
		"collision": string(req.Collision),
	})

	logger.Info("import completed", "processed", tally.processed, "errors", tally.errors)
	return &ImportResult{
		JobID:         jobID,
		Status:        models.JobCompleted,
		TotalKeys:     total,
		ProcessedKeys: tally.processed,
		ErrorCount:    tally.errors,
		Format:        payload.Format,
	}, nil
}
