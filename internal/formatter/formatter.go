// package formatter serializes namespace exports and classifies import payloads (JSON array or NDJSON)
package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

// Format is a serialization format for exports and imports.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
)

// ParseFormat parses a format name. An empty name selects [FormatJSON].
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatNDJSON:
		return FormatNDJSON, nil
	default:
		return "", fmt.Errorf("%w: %q (expected json or ndjson)", shared.ErrInvalidFormat, s)
	}
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	return string(f)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatNDJSON {
		return "application/x-ndjson"
	}
	return "application/json"
}

// Filename returns the download filename for an export of namespaceID.
func Filename(namespaceID string, f Format) string {
	return fmt.Sprintf("%s-export.%s", namespaceID, f.Ext())
}

// ContentDisposition returns the attachment header value for an export download.
func ContentDisposition(namespaceID string, f Format) string {
	return fmt.Sprintf("attachment; filename=%q", Filename(namespaceID, f))
}

// Encode serializes records in the given format.
//
// JSON output is a single pretty-printed array. NDJSON output has one compact object per line.
// Every object carries name, value and metadata ({} when absent).
func Encode(records []models.KeyRecord, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return EncodeJSON(records)
	case FormatNDJSON:
		return EncodeNDJSON(records)
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidFormat, f)
	}
}

// EncodeJSON writes records as an indented JSON array.
func EncodeJSON(records []models.KeyRecord) ([]byte, error) {
	out := make([]models.ExportRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r.ToExport())
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON export: %w", err)
	}
	return data, nil
}

// EncodeNDJSON writes records as newline-delimited JSON objects. The last line has no trailing newline.
func EncodeNDJSON(records []models.KeyRecord) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range records {
		line, err := json.Marshal(r.ToExport())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal NDJSON record %q: %w", r.Name, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// WriteExport writes an encoded export to path, creating parent directories as needed.
func WriteExport(body []byte, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}
