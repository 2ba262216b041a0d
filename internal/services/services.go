// package services defines the KVStore capability for the external namespaced key-value store
//
// Cloudflare Workers KV (REST API), in-memory (local development and tests)
package services

import (
	"context"

	"github.com/desertthunder/kvx/internal/models"
)

// KVStore is the capability the pipelines use to reach the external key-value store.
//
// Implementations are constructed once per process and passed explicitly to each consumer.
type KVStore interface {
	// ListKeys returns one page of keys in a namespace. An empty cursor starts from the beginning.
	ListKeys(ctx context.Context, namespaceID string, opts ListOptions) (*KeyPage, error)

	// GetValue returns the value stored under key. Missing keys return an error wrapping shared.ErrNotFound.
	GetValue(ctx context.Context, namespaceID, key string) (string, error)

	// PutValue writes a single key.
	PutValue(ctx context.Context, namespaceID string, item models.BulkWriteItem) error

	// DeleteValue removes a single key. Deleting a missing key is not an error.
	DeleteValue(ctx context.Context, namespaceID, key string) error

	// BulkWrite writes up to [MaxBulkItems] items in one call.
	BulkWrite(ctx context.Context, namespaceID string, items []models.BulkWriteItem) error

	// BulkDelete removes up to [MaxBulkItems] keys in one call.
	BulkDelete(ctx context.Context, namespaceID string, keys []string) error

	// Name identifies the store in logs.
	Name() string
}

const (
	// MaxBulkItems is the store's item limit per bulk write or bulk delete call.
	MaxBulkItems = 10000
	// MaxListLimit is the store's page size limit for key listing.
	MaxListLimit = 1000
)

// ListOptions controls a key listing call.
type ListOptions struct {
	Limit  int
	Cursor string
	Prefix string
}

// KeyInfo describes one listed key.
type KeyInfo struct {
	Name       string         `json:"name"`
	Expiration int64          `json:"expiration,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// KeyPage is one page of a cursor-paginated listing.
//
// Cursor is empty on the last page.
type KeyPage struct {
	Keys   []KeyInfo
	Cursor string
}

// Done reports whether this is the last page.
func (p *KeyPage) Done() bool {
	return p.Cursor == ""
}

func clampListLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
