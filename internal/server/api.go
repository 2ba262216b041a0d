package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/formatter"
	"github.com/desertthunder/kvx/internal/metadata"
	"github.com/desertthunder/kvx/internal/metrics"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/desertthunder/kvx/internal/tasks"
)

// MaxImportBytes caps an import request body.
const MaxImportBytes = 256 << 20

// maxJSONBytes caps the small JSON bodies of metadata and delete requests.
const maxJSONBytes = 32 << 20

// JobHeader carries the job id of a raw export response.
const JobHeader = "X-Kvx-Job-Id"

// Transfers runs bulk pipelines. Implemented by [tasks.TransferEngine].
type Transfers interface {
	Export(ctx context.Context, progress chan<- tasks.ProgressUpdate, req tasks.ExportRequest) (*tasks.ExportResult, error)
	Import(ctx context.Context, progress chan<- tasks.ProgressUpdate, req tasks.ImportRequest) (*tasks.ImportResult, error)
	BulkDelete(ctx context.Context, progress chan<- tasks.ProgressUpdate, req tasks.BulkDeleteRequest) (*tasks.BulkDeleteResult, error)
}

// Jobs reads the job ledger. Implemented by jobs.Ledger.
type Jobs interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
}

// Metadata is the metadata index. Implemented by [metadata.Index].
type Metadata interface {
	Get(ctx context.Context, namespaceID, keyName string) (*models.MetadataRecord, error)
	Upsert(ctx context.Context, namespaceID, keyName string, update models.MetadataUpdate, userEmail string) error
	BulkTag(ctx context.Context, req metadata.BulkTagRequest) (int, error)
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error)
}

// AuditTrail reads audit entries. Implemented by audit.Log.
type AuditTrail interface {
	List(ctx context.Context, namespaceID string, limit int) ([]*models.AuditEntry, error)
}

// APIOpts contains the dependencies of an [API].
type APIOpts struct {
	Transfers Transfers
	Jobs      Jobs
	Metadata  Metadata
	Audit     AuditTrail
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// API serves the JSON endpoints.
type API struct {
	transfers Transfers
	jobs      Jobs
	metadata  Metadata
	audit     AuditTrail
	metrics   *metrics.Metrics
	logger    *log.Logger
}

// NewAPI creates an API over the provided dependencies.
func NewAPI(opts APIOpts) *API {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &API{
		transfers: opts.Transfers,
		jobs:      opts.Jobs,
		metadata:  opts.Metadata,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    shared.WithLogger(opts.Logger, "component", "api"),
	}
}

// NewRouter builds the full route table with logging, recovery, identity and metrics middleware.
func NewRouter(api *API) *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recovery(api.logger), Identity(), Logging(api.logger), Instrument(api.metrics))

	r.HandleFunc(http.MethodGet, "/api/health", api.Health)
	r.HandleFunc(http.MethodGet, "/api/export/{namespaceId}", api.Export)
	r.HandleFunc(http.MethodPost, "/api/import/{namespaceId}", api.Import)
	r.HandleFunc(http.MethodPost, "/api/keys/{namespaceId}/bulk-delete", api.BulkDelete)
	r.HandleFunc(http.MethodGet, "/api/jobs", api.ListJobs)
	r.HandleFunc(http.MethodGet, "/api/jobs/{jobId}", api.GetJob)
	r.HandleFunc(http.MethodGet, "/api/search", api.Search)
	r.HandleFunc(http.MethodPost, "/api/metadata/{namespaceId}/bulk-tag", api.BulkTag)
	r.HandleFunc(http.MethodGet, "/api/metadata/{namespaceId}/{keyName...}", api.GetMetadata)
	r.HandleFunc(http.MethodPut, "/api/metadata/{namespaceId}/{keyName...}", api.PutMetadata)
	r.HandleFunc(http.MethodGet, "/api/audit/{namespaceId}", api.ListAudit)

	if api.metrics != nil {
		r.Handler(NewMetricsHandler(api.metrics))
	}
	return r
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{"status": "ok"})
}

// Export streams a full namespace export as a raw attachment.
func (a *API) Export(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespaceId")
	format, err := formatter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	result, err := a.transfers.Export(r.Context(), nil, tasks.ExportRequest{
		NamespaceID: ns,
		Format:      format,
		UserEmail:   UserFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", formatter.ContentDisposition(ns, result.Format))
	w.Header().Set(JobHeader, result.JobID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Body); err != nil {
		a.logger.Warn("export response write failed", "job_id", result.JobID, "error", err)
	}
}

// Import runs a bulk import of the request body.
func (a *API) Import(w http.ResponseWriter, r *http.Request) {
	collision, err := tasks.ParseCollisionPolicy(r.URL.Query().Get("collision"))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImportBytes))
	if err != nil {
		writeError(w, a.logger, r, fmt.Errorf("failed to read import body: %w", err))
		return
	}

	result, err := a.transfers.Import(r.Context(), nil, tasks.ImportRequest{
		NamespaceID: r.PathValue("namespaceId"),
		Payload:     body,
		Collision:   collision,
		UserEmail:   UserFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, result)
}

type bulkDeleteBody struct {
	Keys []string `json:"keys"`
}

// BulkDelete removes the listed keys from a namespace.
func (a *API) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var body bulkDeleteBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	if len(body.Keys) == 0 {
		writeError(w, a.logger, r, fmt.Errorf("%w: keys array required", shared.ErrInvalidInput))
		return
	}

	result, err := a.transfers.BulkDelete(r.Context(), nil, tasks.BulkDeleteRequest{
		NamespaceID: r.PathValue("namespaceId"),
		Keys:        body.Keys,
		UserEmail:   UserFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, result)
}

// GetJob returns one job record.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.Get(r.Context(), r.PathValue("jobId"))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, job)
}

// ListJobs returns jobs filtered by status, operation type and namespace, newest first.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	list, err := a.jobs.List(r.Context(), models.JobFilter{
		NamespaceID:   q.Get("namespace_id"),
		Status:        models.JobStatus(q.Get("status")),
		OperationType: models.OperationType(q.Get("operation_type")),
		Limit:         limit,
	})
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, list)
}

// Search queries the metadata index.
func (a *API) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := a.metadata.Search(r.Context(), models.SearchQuery{
		Query:       q.Get("query"),
		NamespaceID: q.Get("namespaceId"),
		Tags:        metadata.ParseTags(q.Get("tags")),
	})
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, results)
}

// GetMetadata returns a key's metadata, empty when none is stored.
func (a *API) GetMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := a.metadata.Get(r.Context(), r.PathValue("namespaceId"), r.PathValue("keyName"))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, rec)
}

// PutMetadata replaces the supplied metadata fields of a key.
func (a *API) PutMetadata(w http.ResponseWriter, r *http.Request) {
	var update models.MetadataUpdate
	if err := decodeBody(w, r, &update); err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	err := a.metadata.Upsert(r.Context(), r.PathValue("namespaceId"), r.PathValue("keyName"), update, UserFromContext(r.Context()))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, nil)
}

type bulkTagBody struct {
	Keys      []string `json:"keys"`
	Tags      []string `json:"tags"`
	Operation string   `json:"operation"`
}

// BulkTag applies a tag operation to many keys.
func (a *API) BulkTag(w http.ResponseWriter, r *http.Request) {
	var body bulkTagBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	op, err := metadata.ParseTagOperation(body.Operation)
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	n, err := a.metadata.BulkTag(r.Context(), metadata.BulkTagRequest{
		NamespaceID: r.PathValue("namespaceId"),
		Keys:        body.Keys,
		Tags:        body.Tags,
		Operation:   op,
		UserEmail:   UserFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, map[string]int{"processed_keys": n})
}

// ListAudit returns recent audit entries for a namespace.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}

	entries, err := a.audit.List(r.Context(), r.PathValue("namespaceId"), limit)
	if err != nil {
		writeError(w, a.logger, r, err)
		return
	}
	writeResult(w, entries)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: request body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit %q", shared.ErrInvalidArgument, s)
	}
	return n, nil
}
