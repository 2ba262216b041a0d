package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/desertthunder/kvx/internal/audit"
	"github.com/desertthunder/kvx/internal/jobs"
	"github.com/desertthunder/kvx/internal/metadata"
	"github.com/desertthunder/kvx/internal/metrics"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/repositories"
	"github.com/desertthunder/kvx/internal/services"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/desertthunder/kvx/internal/tasks"
	tu "github.com/desertthunder/kvx/internal/testing"
)

type testAPI struct {
	router http.Handler
	store  *tu.FlakyKV
	mem    *services.MemoryKV
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db := tu.NewTestDB(t)
	logger := shared.NewLogger(io.Discard)
	clk := clock.NewMock()
	mem := services.NewMemoryKV()
	store := tu.NewFlakyKV(mem)
	m := metrics.New()

	ledger := jobs.NewLedger(repositories.NewJobRepository(db), clk, logger)
	auditLog := audit.New(repositories.NewAuditRepository(db), clk, logger)
	index := metadata.NewIndex(repositories.NewMetadataRepository(db), auditLog, clk, logger)
	engine := tasks.NewTransferEngine(tasks.EngineOpts{
		Store:   store,
		Ledger:  ledger,
		Audit:   auditLog,
		Metrics: m,
		Logger:  logger,
	})

	api := NewAPI(APIOpts{
		Transfers: engine,
		Jobs:      ledger,
		Metadata:  index,
		Audit:     auditLog,
		Metrics:   m,
		Logger:    logger,
	})
	return &testAPI{router: NewRouter(api), store: store, mem: mem}
}

func (a *testAPI) do(t *testing.T, method, target string, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// decodeResult unmarshals a success envelope's result into dst.
func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rec.Body.String())
	}
	if dst != nil {
		if err := json.Unmarshal(env.Result, dst); err != nil {
			t.Fatalf("invalid result %s: %v", env.Result, err)
		}
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON error %q: %v", rec.Body.String(), err)
	}
	msg, _ := body["error"].(string)
	return msg
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/health", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result map[string]string
	decodeResult(t, rec, &result)
	if result["status"] != "ok" {
		t.Errorf("unexpected health result: %v", result)
	}
}

func TestJobsEndpoints(t *testing.T) {
	t.Run("unknown job is 404", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/api/jobs/unknown-id", "", nil)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != `{"error":"Job not found"}` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("import job is retrievable and listed", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/import/ns1", `[{"name":"a","value":"1"}]`, http.Header{
			UserHeader: []string{"ops@example.com"},
		})
		var imported tasks.ImportResult
		decodeResult(t, rec, &imported)

		rec = api.do(t, http.MethodGet, "/api/jobs/"+imported.JobID, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var job models.Job
		decodeResult(t, rec, &job)
		if job.Status != models.JobCompleted || job.UserEmail != "ops@example.com" || job.OperationType != models.OperationImport {
			t.Errorf("unexpected job: %+v", job)
		}

		rec = api.do(t, http.MethodGet, "/api/jobs?operation_type=import&status=completed", "", nil)
		var list []models.Job
		decodeResult(t, rec, &list)
		if len(list) != 1 || list[0].JobID != imported.JobID {
			t.Errorf("unexpected job list: %+v", list)
		}
	})

	t.Run("invalid filters are 400", func(t *testing.T) {
		api := newTestAPI(t)
		for _, target := range []string{"/api/jobs?status=paused", "/api/jobs?limit=abc"} {
			if rec := api.do(t, http.MethodGet, target, "", nil); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", target, rec.Code)
			}
		}
	})
}

func TestImportEndpoint(t *testing.T) {
	t.Run("NDJSON body", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/import/ns1?collision=overwrite", "{\"name\":\"k1\",\"value\":\"v1\"}\n{\"name\":\"k2\",\"value\":\"v2\"}", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var result map[string]any
		decodeResult(t, rec, &result)
		if result["status"] != "completed" || result["total_keys"] != float64(2) ||
			result["processed_keys"] != float64(2) || result["error_count"] != float64(0) {
			t.Errorf("unexpected result: %v", result)
		}
		if id, _ := result["job_id"].(string); !strings.HasPrefix(id, "import-") {
			t.Errorf("unexpected job id: %v", result["job_id"])
		}
		if api.mem.Len("ns1") != 2 {
			t.Errorf("expected 2 stored keys, got %d", api.mem.Len("ns1"))
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/import/ns1", "{\"name\":\"k1\",\"value\":\"v1\"}\n{oops", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if msg := decodeError(t, rec); msg == "" {
			t.Error("expected error message")
		}
	})

	t.Run("unknown collision policy is 400", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/import/ns1?collision=merge", `[]`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("failed batch still completes", func(t *testing.T) {
		api := newTestAPI(t)
		api.store.FailWrites[1] = true

		rec := api.do(t, http.MethodPost, "/api/import/ns1", `[{"name":"a","value":"1"},{"name":"b","value":"2"}]`, nil)
		var result tasks.ImportResult
		decodeResult(t, rec, &result)
		if result.Status != models.JobCompleted || result.ErrorCount != 2 || result.ProcessedKeys != 0 {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("wrong method is 405", func(t *testing.T) {
		api := newTestAPI(t)
		if rec := api.do(t, http.MethodGet, "/api/import/ns1", "", nil); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestExportEndpoint(t *testing.T) {
	t.Run("NDJSON attachment", func(t *testing.T) {
		api := newTestAPI(t)
		_ = api.mem.BulkWrite(context.Background(), "ns1", []models.BulkWriteItem{{Key: "k1", Value: "v1"}, {Key: "k2", Value: "v2"}})

		rec := api.do(t, http.MethodGet, "/api/export/ns1?format=ndjson", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		want := "{\"name\":\"k1\",\"value\":\"v1\",\"metadata\":{}}\n{\"name\":\"k2\",\"value\":\"v2\",\"metadata\":{}}"
		if rec.Body.String() != want {
			t.Errorf("unexpected body:\n%s", rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
			t.Errorf("unexpected content type %q", ct)
		}
		if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="ns1-export.ndjson"` {
			t.Errorf("unexpected content disposition %q", cd)
		}
		if !strings.HasPrefix(rec.Header().Get(JobHeader), "export-") {
			t.Errorf("expected export job header, got %q", rec.Header().Get(JobHeader))
		}
	})

	t.Run("default format is JSON", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodGet, "/api/export/empty", "", nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "[]" {
			t.Errorf("expected empty JSON array, got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown format is 400", func(t *testing.T) {
		api := newTestAPI(t)
		if rec := api.do(t, http.MethodGet, "/api/export/ns1?format=csv", "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("listing failure is 500", func(t *testing.T) {
		api := newTestAPI(t)
		api.store.ListErr = shared.ErrKVRequest
		rec := api.do(t, http.MethodGet, "/api/export/ns1", "", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if msg := decodeError(t, rec); msg != internalErrorMessage {
			t.Errorf("expected generic message, got %q", msg)
		}
	})
}

func TestBulkDeleteEndpoint(t *testing.T) {
	api := newTestAPI(t)
	_ = api.mem.BulkWrite(context.Background(), "ns1", []models.BulkWriteItem{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})

	rec := api.do(t, http.MethodPost, "/api/keys/ns1/bulk-delete", `{"keys":["a","b"]}`, nil)
	var result tasks.BulkDeleteResult
	decodeResult(t, rec, &result)
	if result.Status != models.JobCompleted || result.TotalKeys != 2 || result.ProcessedKeys != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if api.mem.Len("ns1") != 0 {
		t.Errorf("expected namespace emptied, got %d keys", api.mem.Len("ns1"))
	}

	for _, body := range []string{`{}`, `{"keys":[]}`, `not json`} {
		if rec := api.do(t, http.MethodPost, "/api/keys/ns1/bulk-delete", body, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestMetadataEndpoints(t *testing.T) {
	api := newTestAPI(t)
	user := http.Header{UserHeader: []string{"ops@example.com"}}

	t.Run("absent metadata is empty", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/metadata/ns1/missing", "", nil)
		var got models.MetadataRecord
		decodeResult(t, rec, &got)
		if got.KeyName != "missing" || len(got.Tags) != 0 || got.CustomMetadata == nil {
			t.Errorf("unexpected record: %+v", got)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		rec := api.do(t, http.MethodPut, "/api/metadata/ns1/users/1", `{"tags":["a","b","c"],"custom_metadata":{"owner":"ops"}}`, user)
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
			t.Fatalf("unexpected put response %d: %s", rec.Code, rec.Body.String())
		}

		rec = api.do(t, http.MethodGet, "/api/metadata/ns1/users/1", "", nil)
		var got models.MetadataRecord
		decodeResult(t, rec, &got)
		if got.KeyName != "users/1" || len(got.Tags) != 3 || got.CustomMetadata["owner"] != "ops" {
			t.Errorf("unexpected record: %+v", got)
		}
	})

	t.Run("bulk tag remove", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/metadata/ns1/bulk-tag", `{"keys":["users/1"],"tags":["b"],"operation":"remove"}`, user)
		var result map[string]int
		decodeResult(t, rec, &result)
		if result["processed_keys"] != 1 {
			t.Errorf("unexpected result: %v", result)
		}

		rec = api.do(t, http.MethodGet, "/api/metadata/ns1/users/1", "", nil)
		var got models.MetadataRecord
		decodeResult(t, rec, &got)
		if strings.Join(got.Tags, ",") != "a,c" {
			t.Errorf("expected tags a,c got %v", got.Tags)
		}
	})

	t.Run("bulk tag without tags is 400 and leaves tags alone", func(t *testing.T) {
		for _, body := range []string{`{"keys":["users/1"]}`, `{"keys":["users/1"],"tags":null}`} {
			if rec := api.do(t, http.MethodPost, "/api/metadata/ns1/bulk-tag", body, user); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", body, rec.Code)
			}
		}

		rec := api.do(t, http.MethodGet, "/api/metadata/ns1/users/1", "", nil)
		var got models.MetadataRecord
		decodeResult(t, rec, &got)
		if strings.Join(got.Tags, ",") != "a,c" {
			t.Errorf("expected tags a,c got %v", got.Tags)
		}
	})

	t.Run("bulk tag with unknown operation is 400", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/metadata/ns1/bulk-tag", `{"keys":["k"],"tags":["x"],"operation":"merge"}`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("empty put is 400", func(t *testing.T) {
		if rec := api.do(t, http.MethodPut, "/api/metadata/ns1/k", `{}`, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("search", func(t *testing.T) {
		_ = api.do(t, http.MethodPut, "/api/metadata/ns2/session", `{"tags":["hot"]}`, nil)

		rec := api.do(t, http.MethodGet, "/api/search?tags=hot,c", "", nil)
		var results []models.SearchResult
		decodeResult(t, rec, &results)
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %+v", results)
		}

		rec = api.do(t, http.MethodGet, "/api/search?query=user&namespaceId=ns1", "", nil)
		decodeResult(t, rec, &results)
		if len(results) != 1 || results[0].KeyName != "users/1" {
			t.Errorf("unexpected results: %+v", results)
		}
	})

	t.Run("audit trail", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/audit/ns1?limit=10", "", nil)
		var entries []models.AuditEntry
		decodeResult(t, rec, &entries)
		if len(entries) != 2 {
			t.Fatalf("expected 2 audit entries, got %d", len(entries))
		}
		ops := map[string]bool{}
		for _, e := range entries {
			ops[e.Operation] = true
			if e.UserEmail != "ops@example.com" {
				t.Errorf("expected user ops@example.com, got %q", e.UserEmail)
			}
		}
		if !ops["metadata_update"] || !ops["bulk_tag"] {
			t.Errorf("unexpected operations: %v", ops)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("user defaults to unknown", func(t *testing.T) {
		var seen string
		h := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = UserFromContext(r.Context())
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if seen != UnknownUser {
			t.Errorf("expected %q, got %q", UnknownUser, seen)
		}
	})

	t.Run("recovery returns 500", func(t *testing.T) {
		var buf bytes.Buffer
		h := Recovery(shared.NewLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "boom") {
			t.Errorf("expected panic logged, got %q", buf.String())
		}
	})

	t.Run("metrics endpoint reports requests", func(t *testing.T) {
		api := newTestAPI(t)
		_ = api.do(t, http.MethodGet, "/api/health", "", nil)

		rec := api.do(t, http.MethodGet, "/metrics", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `kvx_http_requests_total{code="200",method="GET",route="GET /api/health"} 1`) {
			t.Errorf("expected health request counted, got:\n%s", rec.Body.String())
		}
	})
}

func TestServerLifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	router := NewBasicRouter()
	router.HandleFunc(http.MethodGet, "/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	srv := NewServer(shared.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: 5, WriteTimeout: 5}, router, shared.NewLogger(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("expected pong, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
