// Package audit records completed mutating operations.
//
// Writes are best-effort: a failed append is logged and never returned to the caller.
package audit

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
)

// Store persists audit entries. Implemented by repositories.AuditRepository.
type Store interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, namespaceID string, limit int) ([]*models.AuditEntry, error)
}

// Log appends audit entries without failing the operation it describes.
type Log struct {
	store  Store
	clock  clock.Clock
	logger *log.Logger
}

// New creates an audit log over store. A nil clock uses the wall clock.
func New(store Store, clk clock.Clock, logger *log.Logger) *Log {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Log{store: store, clock: clk, logger: shared.WithLogger(logger, "component", "audit")}
}

// Record appends one entry. It reports whether the write succeeded; callers are free to ignore it.
//
// The write is detached from ctx cancellation so an entry for a finished operation is still attempted
// after the client disconnects.
func (l *Log) Record(ctx context.Context, namespaceID, operation, userEmail string, details map[string]any) bool {
	if details == nil {
		details = map[string]any{}
	}

	entry := &models.AuditEntry{
		NamespaceID: namespaceID,
		Operation:   operation,
		UserEmail:   userEmail,
		Details:     details,
		Timestamp:   l.clock.Now().UTC(),
	}

	if err := l.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		l.logger.Warn("failed to write audit entry", "namespace", namespaceID, "operation", operation, "error", err)
		return false
	}
	return true
}

// List returns recent entries for a namespace, newest first.
func (l *Log) List(ctx context.Context, namespaceID string, limit int) ([]*models.AuditEntry, error) {
	return l.store.List(ctx, namespaceID, limit)
}
