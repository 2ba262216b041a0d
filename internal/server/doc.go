// Package server provides HTTP routing, middleware, and the JSON API for bulk KV operations.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] with method-qualified patterns
// (e.g. "GET /api/jobs/{jobId}").
//
// # Responses
//
// Successful JSON responses are wrapped as {"success": true, "result": ...}. Errors are {"error": "..."} with
// 400 for malformed input, 404 for unknown jobs and 500 otherwise. Exports are the one raw response: the
// serialized body is sent as an attachment.
//
// # Identity
//
// The caller's email is read from the access proxy header [UserHeader] and recorded on jobs and audit
// entries. It is not verified here.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
// [MetricsHandler] is registered this way.
package server
