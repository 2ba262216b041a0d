package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/kvx/internal/formatter"
	"github.com/desertthunder/kvx/internal/jobs"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/services"
	"github.com/desertthunder/kvx/internal/shared"
)

// ExportRequest selects the namespace and serialization of an export.
type ExportRequest struct {
	NamespaceID string
	Format      formatter.Format
	UserEmail   string
}

// ExportResult is a finished export.
type ExportResult struct {
	JobID       string
	Format      formatter.Format
	Filename    string
	ContentType string
	Body        []byte
	KeyCount    int
	// Omitted holds the keys whose value fetch failed.
	Omitted []string
}

// Export serializes every key of a namespace.
//
// Keys are listed page by page and fetched one at a time. A key whose fetch fails is logged and left out of
// the body; the job still finalizes as completed with total_keys = processed_keys = the included count.
func (e *TransferEngine) Export(ctx context.Context, progress chan<- ProgressUpdate, req ExportRequest) (*ExportResult, error) {
	if req.NamespaceID == "" {
		return nil, fmt.Errorf("%w: namespace id", shared.ErrMissingArgument)
	}
	if req.Format == "" {
		req.Format = formatter.FormatJSON
	}

	op := models.OperationExport
	jobID, err := e.ledger.Create(ctx, jobs.CreateOptions{
		NamespaceID: req.NamespaceID,
		Operation:   op,
		UserEmail:   req.UserEmail,
	})
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("job_id", jobID, "namespace", req.NamespaceID, "format", req.Format)
	logger.Info("export started")

	records, omitted, err := e.collect(ctx, progress, jobID, req.NamespaceID)
	if err != nil {
		logger.Error("export failed", "error", err)
		e.fail(ctx, jobID, op, err)
		return nil, err
	}

	e.sendProgress(progress, encodeUpdate(jobID, string(req.Format), len(records)))
	body, err := formatter.Encode(records, req.Format)
	if err != nil {
		logger.Error("export encoding failed", "error", err)
		e.fail(ctx, jobID, op, err)
		return nil, err
	}

	n := len(records)
	if err := e.complete(ctx, progress, jobID, op, models.Counts(n, n, 0)); err != nil {
		return nil, err
	}

	e.record(ctx, req.NamespaceID, op, req.UserEmail, map[string]any{
		"format":    string(req.Format),
		"key_count": n,
		"job_id":    jobID,
	})

	logger.Info("export completed", "keys", n, "omitted", len(omitted))
	return &ExportResult{
		JobID:       jobID,
		Format:      req.Format,
		Filename:    formatter.Filename(req.NamespaceID, req.Format),
		ContentType: req.Format.ContentType(),
		Body:        body,
		KeyCount:    n,
		Omitted:     omitted,
	}, nil
}

// collect lists and fetches every key of a namespace in listing order.
func (e *TransferEngine) collect(ctx context.Context, progress chan<- ProgressUpdate, jobID, namespaceID string) ([]models.KeyRecord, []string, error) {
	var (
		records []models.KeyRecord
		omitted []string
		cursor  string
		seen    int
	)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("%w: export cancelled: %v", shared.ErrServiceUnavailable, err)
		}

		keys, err := e.store.ListKeys(ctx, namespaceID, services.ListOptions{Limit: e.pageSize, Cursor: cursor})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list keys (page %d): %w", page, err)
		}
		e.sendProgress(progress, listPageUpdate(jobID, page, len(keys.Keys)))

		included := 0
		for _, key := range keys.Keys {
			seen++
			value, err := e.store.GetValue(ctx, namespaceID, key.Name)
			if err != nil {
				e.logger.Warn("omitting key from export", "job_id", jobID, "key", key.Name, "error", err)
				e.metrics.ObserveKeys(string(models.OperationExport), "omitted", 1)
				omitted = append(omitted, key.Name)
				continue
			}
			records = append(records, models.KeyRecord{Name: key.Name, Value: value, Metadata: key.Metadata})
			included++
		}
		e.metrics.ObserveKeys(string(models.OperationExport), "processed", included)

		if err := e.ledger.Advance(ctx, jobID, included, 0); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", errLedgerWrite, err)
		}
		e.sendProgress(progress, fetchedPageUpdate(jobID, len(records), seen))

		if keys.Done() {
			break
		}
		cursor = keys.Cursor
	}

	return records, omitted, nil
}
