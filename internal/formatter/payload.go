package formatter

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed record.schema.json
var recordSchemaJSON string

var recordSchema = jsonschema.MustCompileString("record.schema.json", recordSchemaJSON)

// Payload is a classified and decoded import body.
type Payload struct {
	Format  Format
	Records []models.KeyRecord
}

// ParsePayload classifies an import body and decodes its records.
//
// The body is first parsed as a single JSON array. If that fails it is parsed as NDJSON: one record per
// non-blank line, each line independent. Any malformed line or invalid record rejects the whole payload
// with an error wrapping [shared.ErrInvalidPayload].
func ParsePayload(body []byte) (*Payload, error) {
	var (
		elements []json.RawMessage
		format   = FormatJSON
	)

	if err := json.Unmarshal(body, &elements); err != nil {
		format = FormatNDJSON
		elements, err = splitNDJSON(string(body))
		if err != nil {
			return nil, err
		}
	}

	records := make([]models.KeyRecord, 0, len(elements))
	for i, raw := range elements {
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %d: %v", shared.ErrInvalidPayload, position(format), i+1, err)
		}
		records = append(records, rec)
	}

	return &Payload{Format: format, Records: records}, nil
}

// splitNDJSON returns the non-blank lines of body, each checked to be a standalone JSON value.
func splitNDJSON(body string) ([]json.RawMessage, error) {
	var elements []json.RawMessage
	for i, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			return nil, fmt.Errorf("%w: line %d is not valid JSON", shared.ErrInvalidPayload, i+1)
		}
		elements = append(elements, json.RawMessage(line))
	}
	return elements, nil
}

func decodeRecord(raw json.RawMessage) (models.KeyRecord, error) {
	var (
		generic any
		rec     models.KeyRecord
	)

	if err := json.Unmarshal(raw, &generic); err != nil {
		return rec, err
	}
	if err := recordSchema.Validate(generic); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func position(f Format) string {
	if f == FormatNDJSON {
		return "record"
	}
	return "element"
}
