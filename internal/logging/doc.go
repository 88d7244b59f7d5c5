// Package logging provides structured logging helpers for the inboxqa gateway.
//
// All components log through log/slog. This package keeps attribute names
// consistent and makes sure personal data never reaches the log stream in
// clear text.
//
// # Usage Patterns
//
// Build the process logger once at startup:
//
//	logger := logging.New(logging.Options{Format: logging.FormatJSON, Debug: false})
//	slog.SetDefault(logger)
//
// Scope a logger to a route and log with shared attributes:
//
//	logger := logging.WithRoute(slog.Default(), "/emails")
//	logger.Info("listed messages", logging.UserHash(email), logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
//   - User emails are hashed with AnonymizeEmail before they are logged
//   - Session identifiers are hashed the same way
//   - Tokens are never logged, only their length via SanitizeToken
package logging
