// Package repositories implements SQLite persistence for the job ledger, key metadata index and audit trail.
//
// Key Implementations:
//   - [JobRepository] : bulk_jobs rows with compare-and-set status updates and counter increments
//   - [MetadataRepository] : key_metadata rows written through upsert-on-conflict, plus substring/tag search
//   - [AuditRepository] : append-only audit_log rows
//
// Tags and custom metadata are typed ([]string, map[string]any) everywhere above this package.
// They are serialized to JSON text only at the SQL boundary by [encodeJSON] and [decodeJSON].
//
// Timestamps are stored in UTC so that lexical ordering of the stored text matches chronological order.
package repositories
