package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

const testNamespacePath = "/accounts/acct/storage/kv/namespaces/ns1"

func newTestCloudflare(t *testing.T, handler http.HandlerFunc) *CloudflareKV {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	kv, err := NewCloudflareKV(context.Background(), CloudflareOptions{
		BaseURL:    server.URL,
		AccountID:  "acct",
		APIToken:   "secret-token",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return kv
}

func writeEnvelope(w http.ResponseWriter, result any, cursor string) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"success": true, "errors": []any{}, "result": result}
	if cursor != "" {
		body["result_info"] = map[string]any{"count": 1, "cursor": cursor}
	}
	json.NewEncoder(w).Encode(body)
}

func TestCloudflareKV(t *testing.T) {
	ctx := context.Background()

	t.Run("NewCloudflareKV", func(t *testing.T) {
		tc := []struct {
			name string
			opts CloudflareOptions
		}{
			{name: "missing account", opts: CloudflareOptions{APIToken: "t"}},
			{name: "missing token", opts: CloudflareOptions{AccountID: "a"}},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := NewCloudflareKV(ctx, tt.opts); !errors.Is(err, shared.ErrMissingCredentials) {
					t.Errorf("expected ErrMissingCredentials, got %v", err)
				}
			})
		}

		t.Run("defaults base url", func(t *testing.T) {
			kv, err := NewCloudflareKV(ctx, CloudflareOptions{AccountID: "a", APIToken: "t"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if kv.baseURL != defaultCloudflareBaseURL {
				t.Errorf("expected %s, got %s", defaultCloudflareBaseURL, kv.baseURL)
			}
		})
	})

	t.Run("ListKeys", func(t *testing.T) {
		kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != testNamespacePath+"/keys" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
				t.Errorf("expected bearer token, got %q", got)
			}
			if r.URL.Query().Get("limit") != "1000" {
				t.Errorf("expected limit clamped to 1000, got %s", r.URL.Query().Get("limit"))
			}

			switch r.URL.Query().Get("cursor") {
			case "":
				writeEnvelope(w, []map[string]any{{"name": "k1", "metadata": map[string]any{"a": 1}}}, "next")
			case "next":
				writeEnvelope(w, []map[string]any{{"name": "k2"}}, "")
			default:
				t.Errorf("unexpected cursor %s", r.URL.Query().Get("cursor"))
			}
		})

		page, err := kv.ListKeys(ctx, "ns1", ListOptions{Limit: 5000})
		if err != nil {
			t.Fatalf("ListKeys failed: %v", err)
		}
		if len(page.Keys) != 1 || page.Keys[0].Name != "k1" || page.Cursor != "next" {
			t.Fatalf("unexpected first page %+v", page)
		}
		if page.Keys[0].Metadata["a"] != float64(1) {
			t.Errorf("expected listing metadata, got %v", page.Keys[0].Metadata)
		}

		page, err = kv.ListKeys(ctx, "ns1", ListOptions{Cursor: page.Cursor})
		if err != nil {
			t.Fatalf("ListKeys failed: %v", err)
		}
		if !page.Done() || page.Keys[0].Name != "k2" {
			t.Errorf("unexpected last page %+v", page)
		}
	})

	t.Run("GetValue", func(t *testing.T) {
		kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.EscapedPath() {
			case testNamespacePath + "/values/a%2Fb":
				w.Write([]byte("raw value"))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})

		got, err := kv.GetValue(ctx, "ns1", "a/b")
		if err != nil {
			t.Fatalf("GetValue failed: %v", err)
		}
		if got != "raw value" {
			t.Errorf("expected raw value, got %q", got)
		}

		if _, err := kv.GetValue(ctx, "ns1", "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutValue", func(t *testing.T) {
		t.Run("plain value with ttl", func(t *testing.T) {
			kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut {
					t.Errorf("expected PUT, got %s", r.Method)
				}
				if r.URL.Query().Get("expiration_ttl") != "120" {
					t.Errorf("expected ttl query, got %s", r.URL.RawQuery)
				}
				body, _ := io.ReadAll(r.Body)
				if string(body) != "v1" {
					t.Errorf("expected body v1, got %q", body)
				}
				writeEnvelope(w, nil, "")
			})

			if err := kv.PutValue(ctx, "ns1", models.BulkWriteItem{Key: "k1", Value: "v1", ExpirationTTL: models.IntPtr(120)}); err != nil {
				t.Fatalf("PutValue failed: %v", err)
			}
		})

		t.Run("metadata as multipart", func(t *testing.T) {
			kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Errorf("expected multipart body: %v", err)
					return
				}
				if r.FormValue("value") != "v1" || r.FormValue("metadata") != `{"owner":"ops"}` {
					t.Errorf("unexpected form %v", r.MultipartForm.Value)
				}
				writeEnvelope(w, nil, "")
			})

			item := models.BulkWriteItem{Key: "k1", Value: "v1", Metadata: map[string]any{"owner": "ops"}}
			if err := kv.PutValue(ctx, "ns1", item); err != nil {
				t.Fatalf("PutValue failed: %v", err)
			}
		})
	})

	t.Run("DeleteValue", func(t *testing.T) {
		kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete || r.URL.Path != testNamespacePath+"/values/k1" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			writeEnvelope(w, nil, "")
		})

		if err := kv.DeleteValue(ctx, "ns1", "k1"); err != nil {
			t.Fatalf("DeleteValue failed: %v", err)
		}
	})

	t.Run("BulkWrite", func(t *testing.T) {
		t.Run("sends items", func(t *testing.T) {
			kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut || r.URL.Path != testNamespacePath+"/bulk" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var items []map[string]any
				if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
					t.Errorf("failed to decode body: %v", err)
					return
				}
				if len(items) != 2 {
					t.Errorf("expected 2 items, got %d", len(items))
					return
				}
				if _, ok := items[0]["metadata"]; ok {
					t.Error("metadata should be omitted when absent")
				}
				if items[1]["expiration_ttl"] != float64(60) {
					t.Errorf("expected ttl on second item, got %v", items[1])
				}
				writeEnvelope(w, nil, "")
			})

			items := []models.BulkWriteItem{
				{Key: "k1", Value: "v1"},
				{Key: "k2", Value: "v2", ExpirationTTL: models.IntPtr(60)},
			}
			if err := kv.BulkWrite(ctx, "ns1", items); err != nil {
				t.Fatalf("BulkWrite failed: %v", err)
			}
		})

		t.Run("surfaces api errors", func(t *testing.T) {
			kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"success":false,"errors":[{"code":10001,"message":"bad payload"}]}`))
			})

			err := kv.BulkWrite(ctx, "ns1", []models.BulkWriteItem{{Key: "k1", Value: "v1"}})
			if !errors.Is(err, shared.ErrKVRequest) {
				t.Fatalf("expected ErrKVRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), "bad payload") {
				t.Errorf("expected api message in error, got %v", err)
			}
		})

		t.Run("unsuccessful envelope", func(t *testing.T) {
			kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":false,"errors":[{"code":1,"message":"nope"}]}`))
			})

			if err := kv.BulkWrite(ctx, "ns1", []models.BulkWriteItem{{Key: "k1"}}); !errors.Is(err, shared.ErrKVRequest) {
				t.Errorf("expected ErrKVRequest, got %v", err)
			}
		})

		t.Run("rejects oversized batch", func(t *testing.T) {
			kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
				t.Error("no request expected")
			})

			items := make([]models.BulkWriteItem, MaxBulkItems+1)
			if err := kv.BulkWrite(ctx, "ns1", items); !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	})

	t.Run("BulkDelete", func(t *testing.T) {
		kv := newTestCloudflare(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != testNamespacePath+"/bulk/delete" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var keys []string
			json.NewDecoder(r.Body).Decode(&keys)
			if len(keys) != 2 || keys[0] != "k1" {
				t.Errorf("unexpected keys %v", keys)
			}
			writeEnvelope(w, nil, "")
		})

		if err := kv.BulkDelete(ctx, "ns1", []string{"k1", "k2"}); err != nil {
			t.Fatalf("BulkDelete failed: %v", err)
		}
	})
}
