// Package metadata keeps tags and custom metadata for KV keys and searches them.
//
// Records are keyed by (namespace, key) and written with upsert-on-conflict, so concurrent writers
// converge to the last write.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/samber/lo"
)

// MaxSearchResults caps every search.
const MaxSearchResults = 100

// Store persists metadata records. Implemented by repositories.MetadataRepository.
type Store interface {
	Get(ctx context.Context, namespaceID, keyName string) (*models.MetadataRecord, error)
	Upsert(ctx context.Context, namespaceID, keyName string, update models.MetadataUpdate, now time.Time) error
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error)
}

// Auditor records metadata changes. Implemented by audit.Log.
type Auditor interface {
	Record(ctx context.Context, namespaceID, operation, userEmail string, details map[string]any) bool
}

// TagOperation selects how [Index.BulkTag] combines supplied tags with stored ones.
type TagOperation string

const (
	TagAdd     TagOperation = "add"
	TagRemove  TagOperation = "remove"
	TagReplace TagOperation = "replace"
)

// ParseTagOperation parses an operation name. An empty name selects [TagReplace].
func ParseTagOperation(s string) (TagOperation, error) {
	switch op := TagOperation(strings.ToLower(strings.TrimSpace(s))); op {
	case "":
		return TagReplace, nil
	case TagAdd, TagRemove, TagReplace:
		return op, nil
	default:
		return "", fmt.Errorf("%w: tag operation %q", shared.ErrInvalidOperation, s)
	}
}

// Apply combines stored tags with supplied tags.
func (op TagOperation) Apply(existing, supplied []string) []string {
	switch op {
	case TagAdd:
		return lo.Union(existing, supplied)
	case TagRemove:
		return lo.Without(existing, supplied...)
	default:
		return append([]string{}, supplied...)
	}
}

// BulkTagRequest applies one tag operation to many keys.
type BulkTagRequest struct {
	NamespaceID string
	Keys        []string
	Tags        []string
	Operation   TagOperation
	UserEmail   string
}

// Index is the metadata index and search engine.
type Index struct {
	store  Store
	audit  Auditor
	clock  clock.Clock
	logger *log.Logger
}

// NewIndex creates an index over store. A nil clock uses the wall clock; a nil auditor disables audit entries.
func NewIndex(store Store, auditor Auditor, clk clock.Clock, logger *log.Logger) *Index {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Index{store: store, audit: auditor, clock: clk, logger: shared.WithLogger(logger, "component", "metadata")}
}

// Get returns the stored record, or an empty record when none exists.
func (i *Index) Get(ctx context.Context, namespaceID, keyName string) (*models.MetadataRecord, error) {
	if namespaceID == "" || keyName == "" {
		return nil, fmt.Errorf("%w: namespace id and key name", shared.ErrMissingArgument)
	}

	rec, err := i.store.Get(ctx, namespaceID, keyName)
	if errors.Is(err, shared.ErrNotFound) {
		return models.EmptyMetadata(namespaceID, keyName), nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert replaces whichever fields update supplies and leaves the others untouched.
func (i *Index) Upsert(ctx context.Context, namespaceID, keyName string, update models.MetadataUpdate, userEmail string) error {
	if namespaceID == "" || keyName == "" {
		return fmt.Errorf("%w: namespace id and key name", shared.ErrMissingArgument)
	}
	if update.Empty() {
		return fmt.Errorf("%w: tags or custom_metadata required", shared.ErrInvalidInput)
	}
	if update.Tags != nil {
		update.Tags = lo.Uniq(lo.Compact(update.Tags))
	}

	if err := i.store.Upsert(ctx, namespaceID, keyName, update, i.clock.Now()); err != nil {
		return err
	}

	fields := []string{}
	if update.Tags != nil {
		fields = append(fields, "tags")
	}
	if update.CustomMetadata != nil {
		fields = append(fields, "custom_metadata")
	}
	i.logger.Debug("metadata updated", "namespace", namespaceID, "key", keyName, "fields", fields)
	i.record(ctx, namespaceID, "metadata_update", userEmail, map[string]any{"key_name": keyName, "fields": fields})
	return nil
}

// BulkTag applies a tag operation to each key in order and returns the number of keys written.
//
// Each key is read, combined and written independently. A storage error stops the run and is returned
// with the count of keys already written.
func (i *Index) BulkTag(ctx context.Context, req BulkTagRequest) (int, error) {
	if req.NamespaceID == "" {
		return 0, fmt.Errorf("%w: namespace id", shared.ErrMissingArgument)
	}
	if req.Operation == "" {
		req.Operation = TagReplace
	}
	if _, err := ParseTagOperation(string(req.Operation)); err != nil {
		return 0, err
	}

	keys := lo.Uniq(lo.Compact(req.Keys))
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: keys", shared.ErrMissingArgument)
	}
	if req.Tags == nil {
		return 0, fmt.Errorf("%w: tags", shared.ErrMissingArgument)
	}
	supplied := lo.Uniq(lo.Compact(req.Tags))

	processed := 0
	for _, key := range keys {
		current, err := i.Get(ctx, req.NamespaceID, key)
		if err != nil {
			return processed, err
		}

		tags := req.Operation.Apply(current.Tags, supplied)
		if err := i.store.Upsert(ctx, req.NamespaceID, key, models.MetadataUpdate{Tags: tags}, i.clock.Now()); err != nil {
			i.logger.Error("bulk tag stopped", "namespace", req.NamespaceID, "key", key, "processed", processed, "error", err)
			return processed, err
		}
		processed++
	}

	i.logger.Info("bulk tag applied", "namespace", req.NamespaceID, "operation", req.Operation, "keys", processed)
	i.record(ctx, req.NamespaceID, "bulk_tag", req.UserEmail, map[string]any{
		"operation": string(req.Operation),
		"tags":      supplied,
		"keys":      processed,
	})
	return processed, nil
}

// Search returns records matching every supplied filter, most recently updated first, capped at
// [MaxSearchResults].
func (i *Index) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	q.Tags = lo.Uniq(lo.Compact(q.Tags))
	if q.Limit <= 0 || q.Limit > MaxSearchResults {
		q.Limit = MaxSearchResults
	}
	return i.store.Search(ctx, q)
}

// ParseTags splits a comma-separated tag list, dropping blanks.
func ParseTags(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))
}

func (i *Index) record(ctx context.Context, namespaceID, operation, userEmail string, details map[string]any) {
	if i.audit == nil {
		return
	}
	i.audit.Record(ctx, namespaceID, operation, userEmail, details)
}
