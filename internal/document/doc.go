// Package document holds the reference document each session asks
// questions about.
//
// An upload is streamed to a temporary file, parsed for plain text and then
// removed, whatever the outcome. Only the extracted text is kept, in a
// per-session slot that a new upload overwrites and Clear or logout empties.
package document
