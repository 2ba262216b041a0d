package formatter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

func TestFormat(t *testing.T) {
	t.Run("ParseFormat", func(t *testing.T) {
		tc := []struct {
			in      string
			want    Format
			wantErr bool
		}{
			{in: "", want: FormatJSON},
			{in: "json", want: FormatJSON},
			{in: "NDJSON", want: FormatNDJSON},
			{in: "csv", wantErr: true},
		}
		for _, tt := range tc {
			t.Run(tt.in, func(t *testing.T) {
				got, err := ParseFormat(tt.in)
				if tt.wantErr {
					if !errors.Is(err, shared.ErrInvalidFormat) {
						t.Errorf("expected ErrInvalidFormat, got %v", err)
					}
					return
				}
				if err != nil || got != tt.want {
					t.Errorf("ParseFormat(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
				}
			})
		}
	})

	t.Run("headers", func(t *testing.T) {
		if got := ContentDisposition("ns1", FormatNDJSON); got != `attachment; filename="ns1-export.ndjson"` {
			t.Errorf("unexpected content disposition %s", got)
		}
		if FormatNDJSON.ContentType() != "application/x-ndjson" || FormatJSON.ContentType() != "application/json" {
			t.Error("unexpected content types")
		}
	})
}

func TestEncode(t *testing.T) {
	records := []models.KeyRecord{
		{Name: "k1", Value: "v1"},
		{Name: "k2", Value: "v2"},
	}

	t.Run("ndjson", func(t *testing.T) {
		got, err := Encode(records, FormatNDJSON)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		want := "{\"name\":\"k1\",\"value\":\"v1\",\"metadata\":{}}\n{\"name\":\"k2\",\"value\":\"v2\",\"metadata\":{}}"
		if string(got) != want {
			t.Errorf("unexpected ndjson:\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("json", func(t *testing.T) {
		got, err := Encode(records, FormatJSON)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if !strings.Contains(string(got), "\n  {") {
			t.Errorf("expected pretty-printed output, got %s", got)
		}

		var decoded []map[string]any
		if err := json.Unmarshal(got, &decoded); err != nil {
			t.Fatalf("output is not a JSON array: %v", err)
		}
		if len(decoded) != 2 || decoded[1]["name"] != "k2" {
			t.Errorf("unexpected decoded output %v", decoded)
		}
		if md, ok := decoded[0]["metadata"].(map[string]any); !ok || len(md) != 0 {
			t.Errorf("expected empty metadata object, got %v", decoded[0]["metadata"])
		}
	})

	t.Run("empty export is an empty array", func(t *testing.T) {
		got, err := Encode(nil, FormatJSON)
		if err != nil || string(got) != "[]" {
			t.Errorf("expected [], got %q (%v)", got, err)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := Encode(records, "xml"); !errors.Is(err, shared.ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat, got %v", err)
		}
	})
}

func TestParsePayload(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		body := `[
  {"name": "k1", "value": "v1", "metadata": {"a": 1}},
  {"name": "k2", "value": "v2", "expiration_ttl": 3600}
]`
		got, err := ParsePayload([]byte(body))
		if err != nil {
			t.Fatalf("ParsePayload failed: %v", err)
		}
		if got.Format != FormatJSON {
			t.Errorf("expected json format, got %s", got.Format)
		}
		if len(got.Records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(got.Records))
		}
		if got.Records[0].Metadata["a"] != float64(1) {
			t.Errorf("expected metadata on first record, got %v", got.Records[0].Metadata)
		}
		if got.Records[1].ExpirationTTL == nil || *got.Records[1].ExpirationTTL != 3600 {
			t.Errorf("expected ttl on second record, got %v", got.Records[1].ExpirationTTL)
		}
	})

	t.Run("ndjson skips blank lines", func(t *testing.T) {
		body := "{\"name\":\"k1\",\"value\":\"v1\"}\n\n  \r\n{\"name\":\"k2\",\"value\":\"v2\"}\n"
		got, err := ParsePayload([]byte(body))
		if err != nil {
			t.Fatalf("ParsePayload failed: %v", err)
		}
		if got.Format != FormatNDJSON {
			t.Errorf("expected ndjson format, got %s", got.Format)
		}
		if len(got.Records) != 2 || got.Records[0].Name != "k1" || got.Records[1].Name != "k2" {
			t.Errorf("unexpected records %+v", got.Records)
		}
	})

	t.Run("single object is ndjson", func(t *testing.T) {
		got, err := ParsePayload([]byte(`{"name":"k1","value":"v1"}`))
		if err != nil {
			t.Fatalf("ParsePayload failed: %v", err)
		}
		if got.Format != FormatNDJSON || len(got.Records) != 1 {
			t.Errorf("unexpected payload %+v", got)
		}
	})

	t.Run("empty body has no records", func(t *testing.T) {
		got, err := ParsePayload([]byte("  \n"))
		if err != nil {
			t.Fatalf("ParsePayload failed: %v", err)
		}
		if len(got.Records) != 0 {
			t.Errorf("expected no records, got %d", len(got.Records))
		}
	})

	t.Run("rejects", func(t *testing.T) {
		tc := []struct {
			name string
			body string
		}{
			{name: "malformed ndjson line", body: "{\"name\":\"k1\",\"value\":\"v1\"}\n{not json}\n"},
			{name: "missing value", body: `[{"name":"k1"}]`},
			{name: "non-string value", body: `{"name":"k1","value":5}`},
			{name: "empty name", body: `{"name":"","value":"v"}`},
			{name: "fractional ttl", body: `{"name":"k1","value":"v","expiration_ttl":1.5}`},
			{name: "array of scalars", body: `[1, 2]`},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := ParsePayload([]byte(tt.body)); !errors.Is(err, shared.ErrInvalidPayload) {
					t.Errorf("expected ErrInvalidPayload, got %v", err)
				}
			})
		}
	})

	t.Run("round trip from export", func(t *testing.T) {
		records := []models.KeyRecord{{Name: "k1", Value: "v1"}, {Name: "k2", Value: "v2"}}
		for _, f := range []Format{FormatJSON, FormatNDJSON} {
			body, err := Encode(records, f)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := ParsePayload(body)
			if err != nil {
				t.Fatalf("ParsePayload(%s) failed: %v", f, err)
			}
			if got.Format != f {
				t.Errorf("expected detected format %s, got %s", f, got.Format)
			}
			for i := range records {
				if got.Records[i].Name != records[i].Name || got.Records[i].Value != records[i].Value {
					t.Errorf("%s: record %d mismatch: %+v", f, i, got.Records[i])
				}
			}
		}
	})
}

func TestWriteExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ns1-export.json")
	if err := WriteExport([]byte("[]"), path); err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "[]" {
		t.Errorf("unexpected file contents %q (%v)", data, err)
	}
}
