// Package models defines domain entities for the kvx bulk transfer service.
//
// The package contains three categories of types:
//
// 1. Transfer records: data moved between a client and the external KV store
//   - [KeyRecord] : one key with its value, optional metadata and TTL
//   - [BulkWriteItem] : the store's bulk write shape for a single key
//
// 2. Ledger entities: durable state kept in the relational store
//   - [Job] : one bulk operation with progress and error accounting
//   - [MetadataRecord] : tags and custom metadata for a (namespace, key) pair
//   - [AuditEntry] : append-only record of a completed mutation
//
// 3. Query results
//   - [SearchResult] : a metadata record as returned by search
//
// [JobStatus] transitions are owned by the ledger; [JobStatus.CanTransition] encodes the allowed moves.
package models
