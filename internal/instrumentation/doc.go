// Package instrumentation provides OpenTelemetry metrics and tracing for the
// inboxqa gateway.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, route and status
//   - http_request_duration_seconds: request latency
//   - active_sessions: signed-in sessions held by this process
//
// Upstream:
//   - upstream_operations_total: Gmail, Google OAuth and OpenAI calls by service, operation, status
//   - upstream_operation_duration_seconds: upstream latency
//
// Authentication:
//   - oauth_auth_total: completed sign-ins by result
//   - oauth_token_refresh_total: credential refreshes by result
//
// Documents and questions:
//   - document_uploads_total: uploads by result
//   - qa_questions_total: questions by outcome (answered, no_document, error)
//
// # Exporters
//
// Metrics go to Prometheus (default), OTLP over HTTP or stdout. Traces go to
// OTLP over HTTP, stdout or nowhere (default). See DefaultConfig for the
// environment variables that select them.
//
// # Cardinality
//
// Labels never carry user identifiers. Routes are recorded as chi patterns,
// never raw paths.
package instrumentation
