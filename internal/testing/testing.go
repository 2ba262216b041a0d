// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/services"
	"github.com/desertthunder/kvx/internal/shared"
)

// ErrInjected is returned by [FlakyKV] for injected failures.
var ErrInjected = errors.New("injected failure")

// FlakyKV wraps a [services.KVStore] and fails selected calls.
//
// Call numbers are 1-based and counted per method.
type FlakyKV struct {
	services.KVStore

	FailWrites  map[int]bool
	FailDeletes map[int]bool
	FailGets    map[string]bool
	ListErr     error

	mu          sync.Mutex
	writeSizes  []int
	deleteSizes []int
	writeKeys   [][]string
}

// NewFlakyKV wraps store. A nil store uses a fresh [services.MemoryKV].
func NewFlakyKV(store services.KVStore) *FlakyKV {
	if store == nil {
		store = services.NewMemoryKV()
	}
	return &FlakyKV{
		KVStore:     store,
		FailWrites:  map[int]bool{},
		FailDeletes: map[int]bool{},
		FailGets:    map[string]bool{},
	}
}

func (f *FlakyKV) ListKeys(ctx context.Context, namespaceID string, opts services.ListOptions) (*services.KeyPage, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.KVStore.ListKeys(ctx, namespaceID, opts)
}

func (f *FlakyKV) GetValue(ctx context.Context, namespaceID, key string) (string, error) {
	if f.FailGets[key] {
		return "", ErrInjected
	}
	return f.KVStore.GetValue(ctx, namespaceID, key)
}

func (f *FlakyKV) BulkWrite(ctx context.Context, namespaceID string, items []models.BulkWriteItem) error {
	f.mu.Lock()
	f.writeSizes = append(f.writeSizes, len(items))
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key
	}
	f.writeKeys = append(f.writeKeys, keys)
	call := len(f.writeSizes)
	f.mu.Unlock()

	if f.FailWrites[call] {
		return ErrInjected
	}
	return f.KVStore.BulkWrite(ctx, namespaceID, items)
}

func (f *FlakyKV) BulkDelete(ctx context.Context, namespaceID string, keys []string) error {
	f.mu.Lock()
	f.deleteSizes = append(f.deleteSizes, len(keys))
	call := len(f.deleteSizes)
	f.mu.Unlock()

	if f.FailDeletes[call] {
		return ErrInjected
	}
	return f.KVStore.BulkDelete(ctx, namespaceID, keys)
}

// WriteSizes returns the item count of every BulkWrite call in order.
func (f *FlakyKV) WriteSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.writeSizes...)
}

// WriteKeys returns the keys of every BulkWrite call in order.
func (f *FlakyKV) WriteKeys() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.writeKeys...)
}

// DeleteSizes returns the key count of every BulkDelete call in order.
func (f *FlakyKV) DeleteSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.deleteSizes...)
}

// NewTestDB opens an in-memory SQLite database with migrations applied and closes it when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
