package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 100
)

// MetadataRepository persists tags and custom metadata in the key_metadata table.
type MetadataRepository struct {
	db *sql.DB
}

// NewMetadataRepository creates a new MetadataRepository with the given database connection
func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Get retrieves the metadata for a key. Missing rows return an error wrapping [shared.ErrNotFound].
func (r *MetadataRepository) Get(ctx context.Context, namespaceID, keyName string) (*models.MetadataRecord, error) {
	query := `
		SELECT namespace_id, key_name, tags, custom_metadata, created_at, updated_at
		FROM key_metadata
		WHERE namespace_id = ? AND key_name = ?
	`

	var (
		rec       models.MetadataRecord
		tags      string
		custom    string
		createdAt time.Time
		updatedAt time.Time
	)

	err := r.db.QueryRowContext(ctx, query, namespaceID, keyName).Scan(
		&rec.NamespaceID, &rec.KeyName, &tags, &custom, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: metadata for %s/%s", shared.ErrNotFound, namespaceID, keyName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}

	if err := decodeRecord(&rec, tags, custom); err != nil {
		return nil, err
	}
	rec.CreatedAt = models.TimePtr(createdAt)
	rec.UpdatedAt = models.TimePtr(updatedAt)
	return &rec, nil
}

// Upsert inserts or updates the metadata row for a key.
//
// Only fields supplied in update are written; the other column keeps its stored value
// (or its empty default on insert). updated_at is always set to now.
func (r *MetadataRepository) Upsert(ctx context.Context, namespaceID, keyName string, update models.MetadataUpdate, now time.Time) error {
	tags, err := encodeJSON(update.Tags, update.Tags != nil)
	if err != nil {
		return err
	}
	custom, err := encodeJSON(update.CustomMetadata, update.CustomMetadata != nil)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO key_metadata (namespace_id, key_name, tags, custom_metadata, created_at, updated_at)
		VALUES (?1, ?2, COALESCE(?3, '[]'), COALESCE(?4, '{}'), ?5, ?5)
		ON CONFLICT (namespace_id, key_name) DO UPDATE SET
			tags = COALESCE(?3, key_metadata.tags),
			custom_metadata = COALESCE(?4, key_metadata.custom_metadata),
			updated_at = ?5
	`

	if _, err := r.db.ExecContext(ctx, query, namespaceID, keyName, tags, custom, now.UTC()); err != nil {
		return fmt.Errorf("failed to upsert metadata: %w", err)
	}
	return nil
}

// Search returns records matching every supplied filter, most recently updated first.
//
// Query is a case-sensitive substring of key_name; Tags match when a record holds any one of them.
func (r *MetadataRepository) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	var (
		clauses []string
		args    []any
	)

	if q.Query != "" {
		clauses = append(clauses, "instr(key_name, ?) > 0")
		args = append(args, q.Query)
	}
	if q.NamespaceID != "" {
		clauses = append(clauses, "namespace_id = ?")
		args = append(args, q.NamespaceID)
	}
	if len(q.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Tags)), ", ")
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(key_metadata.tags) AS t WHERE t.value IN ("+placeholders+"))")
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}

	query := `SELECT namespace_id, key_name, tags, custom_metadata FROM key_metadata`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ?"
	args = append(args, limitOrDefault(q.Limit, defaultSearchLimit, maxSearchLimit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search metadata: %w", err)
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var (
			rec    models.MetadataRecord
			tags   string
			custom string
		)
		if err := rows.Scan(&rec.NamespaceID, &rec.KeyName, &tags, &custom); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if err := decodeRecord(&rec, tags, custom); err != nil {
			return nil, err
		}
		results = append(results, models.SearchResult{
			NamespaceID:    rec.NamespaceID,
			KeyName:        rec.KeyName,
			Tags:           rec.Tags,
			CustomMetadata: rec.CustomMetadata,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}

func decodeRecord(rec *models.MetadataRecord, tags, custom string) error {
	rec.Tags = []string{}
	rec.CustomMetadata = map[string]any{}
	if err := decodeJSON(tags, &rec.Tags); err != nil {
		return err
	}
	if err := decodeJSON(custom, &rec.CustomMetadata); err != nil {
		return err
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.CustomMetadata == nil {
		rec.CustomMetadata = map[string]any{}
	}
	return nil
}
