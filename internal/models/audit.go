package models

import "time"

// AuditEntry records one completed mutating operation.
type AuditEntry struct {
	ID          int64          `json:"id,omitempty"`
	NamespaceID string         `json:"namespace_id"`
	Operation   string         `json:"operation"`
	UserEmail   string         `json:"user_email"`
	Details     map[string]any `json:"details"`
	Timestamp   time.Time      `json:"timestamp"`
}
