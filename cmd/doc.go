// Package cmd implements the command-line interface for inboxqa.
//
// This package provides the following commands:
//   - serve: Start the HTTP gateway
//   - version: Display version information
//   - keygen: Print a new session encryption key
package cmd
