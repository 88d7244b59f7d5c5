// Package qa answers questions about a session's uploaded document with a
// chat completion model.
package qa
