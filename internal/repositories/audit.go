package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/kvx/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// AuditRepository appends and lists rows in the audit_log table.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository with the given database connection
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts an audit entry and sets its ID.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	details, err := encodeJSON(entry.Details, true)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (namespace_id, operation, user_email, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.NamespaceID,
		entry.Operation,
		entry.UserEmail,
		details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns the most recent audit entries for a namespace, newest first.
func (r *AuditRepository) List(ctx context.Context, namespaceID string, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, namespace_id, operation, user_email, details, timestamp
		FROM audit_log
		WHERE namespace_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, namespaceID, limitOrDefault(limit, defaultAuditLimit, maxAuditLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		var (
			entry   models.AuditEntry
			details string
		)
		if err := rows.Scan(&entry.ID, &entry.NamespaceID, &entry.Operation, &entry.UserEmail, &details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Details = map[string]any{}
		if err := decodeJSON(details, &entry.Details); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}
