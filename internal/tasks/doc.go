// Package tasks runs the bulk transfer pipelines between a client and the external KV store with real-time
// progress reporting.
//
// # Core Operations
//
// [TransferEngine] implements three pipelines. Each one mints a job in the ledger, drives the [services.KVStore]
// sequentially, and finishes with a ledger finalize and one audit entry:
//
//  1. [TransferEngine.Export] : enumerate + fetch + serialize
//     - Lists keys page by page with the store cursor
//     - Fetches each value; a failed fetch is logged and the key omitted
//     - Encodes the included keys as JSON or NDJSON
//
//  2. [TransferEngine.Import] : parse + batch + write + reconcile
//     - Classifies the payload (JSON array first, NDJSON otherwise)
//     - Writes fixed-size chunks in input order, one bulk call per chunk
//     - A failed chunk adds its size to error_count and the pipeline moves on
//
//  3. [TransferEngine.BulkDelete] : chunked deletes with the same accounting as import
//
// # Progress Reporting
//
// All operations accept an optional channel for [ProgressUpdate] values. Updates use select with default
// so a slow or absent reader never blocks a pipeline.
//
// # Failure Policy
//
// Jobs finalize as completed even when chunks fail; partial failure is visible only in error_count.
// A failure of the whole request after the job exists (listing error, cancelled context) finalizes the job
// as failed on a best-effort basis. A ledger write failure is returned as is and leaves the job in its last
// recorded state.
package tasks
