package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

type memoryEntry struct {
	value    string
	metadata map[string]any
	ttl      *int
}

// MemoryKV is an in-process [KVStore] used for local development and tests.
//
// Keys are listed in lexicographic order; the cursor is the offset of the next page.
type MemoryKV struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]memoryEntry
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{namespaces: make(map[string]map[string]memoryEntry)}
}

// Name returns the store name.
func (m *MemoryKV) Name() string {
	return "memory"
}

// ListKeys returns one page of keys sorted by name.
func (m *MemoryKV) ListKeys(ctx context.Context, namespaceID string, opts ListOptions) (*KeyPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: cursor %q", shared.ErrInvalidArgument, opts.Cursor)
		}
		offset = n
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[namespaceID]
	names := slices.Sorted(maps.Keys(ns))
	if opts.Prefix != "" {
		names = slices.DeleteFunc(names, func(n string) bool { return !strings.HasPrefix(n, opts.Prefix) })
	}

	page := &KeyPage{Keys: []KeyInfo{}}
	if offset >= len(names) {
		return page, nil
	}

	end := min(offset+clampListLimit(opts.Limit), len(names))
	for _, name := range names[offset:end] {
		page.Keys = append(page.Keys, KeyInfo{Name: name, Metadata: ns[name].metadata})
	}
	if end < len(names) {
		page.Cursor = strconv.Itoa(end)
	}
	return page, nil
}

// GetValue returns the stored value or an error wrapping [shared.ErrNotFound].
func (m *MemoryKV) GetValue(ctx context.Context, namespaceID, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.namespaces[namespaceID][key]
	if !ok {
		return "", fmt.Errorf("%w: key %q in namespace %s", shared.ErrNotFound, key, namespaceID)
	}
	return entry.value, nil
}

// PutValue stores a single key.
func (m *MemoryKV) PutValue(ctx context.Context, namespaceID string, item models.BulkWriteItem) error {
	return m.BulkWrite(ctx, namespaceID, []models.BulkWriteItem{item})
}

// DeleteValue removes a single key.
func (m *MemoryKV) DeleteValue(ctx context.Context, namespaceID, key string) error {
	return m.BulkDelete(ctx, namespaceID, []string{key})
}

// BulkWrite stores all items, overwriting existing keys.
func (m *MemoryKV) BulkWrite(ctx context.Context, namespaceID string, items []models.BulkWriteItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) > MaxBulkItems {
		return fmt.Errorf("%w: bulk write of %d items exceeds limit %d", shared.ErrInvalidArgument, len(items), MaxBulkItems)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespaceID]
	if !ok {
		ns = make(map[string]memoryEntry)
		m.namespaces[namespaceID] = ns
	}
	for _, item := range items {
		if item.Key == "" {
			return fmt.Errorf("%w: empty key", shared.ErrInvalidArgument)
		}
		ns[item.Key] = memoryEntry{value: item.Value, metadata: item.Metadata, ttl: item.ExpirationTTL}
	}
	return nil
}

// BulkDelete removes all keys that exist.
func (m *MemoryKV) BulkDelete(ctx context.Context, namespaceID string, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) > MaxBulkItems {
		return fmt.Errorf("%w: bulk delete of %d keys exceeds limit %d", shared.ErrInvalidArgument, len(keys), MaxBulkItems)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.namespaces[namespaceID], key)
	}
	return nil
}

// Len returns the number of keys stored in a namespace.
func (m *MemoryKV) Len(namespaceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespaceID])
}
