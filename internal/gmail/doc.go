// Package gmail reads the signed-in user's inbox and sends threaded replies
// through the Gmail REST API.
//
// The Gateway resolves a fresh access token for each call from a
// CredentialProvider, so callers only ever pass a session ID. Message
// fetches fan out with a fixed concurrency limit, and all API calls share a
// circuit breaker that only counts server-side faults.
package gmail
