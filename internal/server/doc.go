// Package server exposes the inbox and document Q&A operations over HTTP.
//
// # Routes
//
// Sign-in uses the Google authorization-code flow:
//
//	GET  /auth/google           redirect to the consent screen
//	GET  /auth/google/callback  create a session, redirect to <origin>/dashboard
//	GET  /login-failed          401 after a failed sign-in
//	GET  /logout                end the session, redirect to <origin>
//
// Everything else requires the session cookie:
//
//	GET  /userinfo  {"email"}
//	GET  /emails    {"messages":[...]}
//	POST /reply     {"success":true}
//	POST /upload    {"message","pages","characters"}
//	POST /ask       {"answer"}
//	POST /clear     {"message"}
//
// Health probes live at /healthz, /readyz and /healthz/detailed. Prometheus
// metrics are served separately by MetricsServer.
//
// Errors are JSON objects of the form {"error":"<message>"}; the underlying
// cause is logged but never returned to the client.
package server
