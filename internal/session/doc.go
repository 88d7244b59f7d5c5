// Package session owns authenticated browser sessions.
//
// A session is created when the Google consent flow completes and holds the
// account email together with a Credential. The Manager hands out access
// tokens through Credentials, refreshing them in place when they are close
// to expiry; a credential that cannot be refreshed ends in an
// Unauthenticated error rather than an upstream failure.
//
// Sessions live in a Store. MemoryStore keeps them in process, RedisStore
// keeps them in Redis or Valkey with tokens encrypted at rest.
package session
