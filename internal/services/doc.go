// Package services defines the [KVStore] capability for the external namespaced key-value store and implements it
// for Cloudflare Workers KV and for an in-memory store.
//
// # KVStore Interface
//
// The pipelines in internal/tasks only see [KVStore]. A single implementation is built in cmd/ at startup
// and injected, so tests substitute [MemoryKV] or a failing wrapper without touching global state.
//
// # Cloudflare Implementation
//
// [CloudflareKV] talks to the v4 REST API under /accounts/{account}/storage/kv/namespaces/{namespace}.
// The API token is attached as a bearer token by an [oauth2.StaticTokenSource] client, and every request
// first waits on a [rate.Limiter] so long imports stay under the account's request budget.
//
// Listing uses cursor pagination with at most [MaxListLimit] keys per page. Bulk writes and deletes accept
// at most [MaxBulkItems] items; callers chunk larger inputs.
//
// # Memory Implementation
//
// [MemoryKV] is selected when no account is configured. It lists keys in lexicographic order and uses the
// page offset as its cursor.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrKVRequest] : transport failure or non-2xx response
//   - [shared.ErrNotFound] : missing key or namespace (HTTP 404)
//   - [shared.ErrMissingCredentials] : account or token not configured
//   - [shared.ErrInvalidArgument] : batch larger than the store limit
package services
