// package repositories provides persistence layer implementations for the kvx ledger tables.
package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// encodeJSON serializes v for a TEXT column. When supplied is false the column is bound as SQL NULL.
func encodeJSON(v any, supplied bool) (sql.NullString, error) {
	if !supplied {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeJSON parses a TEXT column into dst, leaving dst untouched for empty text.
func decodeJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

// nullInt converts a nullable integer column into an optional int.
func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// limitOrDefault clamps a requested row limit to [1, max], using def for non-positive values.
func limitOrDefault(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
