package gmail

import (
	"encoding/base64"
	"mime"
	"strings"

	"github.com/teemow/inboxqa/internal/apperr"
)

// Validation messages.
const (
	MsgMissingFields = "Missing required fields"
	MsgInvalidHeader = "Recipient and subject must be a single line"
)

// Reply is an outgoing plain-text reply within an existing thread.
type Reply struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ThreadID string `json:"threadId"`
}

// Validate requires every field to be non-blank and the header fields to
// contain no line breaks.
func (r Reply) Validate() error {
	for _, f := range []string{r.To, r.Subject, r.Body, r.ThreadID} {
		if strings.TrimSpace(f) == "" {
			return apperr.Validation(MsgMissingFields)
		}
	}
	if strings.ContainsAny(r.To, "\r\n") || strings.ContainsAny(r.Subject, "\r\n") {
		return apperr.Validation(MsgInvalidHeader)
	}
	return nil
}

// Compose renders the reply as an RFC 2822 message.
func (r Reply) Compose() string {
	var b strings.Builder

	b.WriteString("To: ")
	b.WriteString(r.To)
	b.WriteString("\r\n")

	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(r.Subject))
	b.WriteString("\r\n")

	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(r.Body)

	return b.String()
}

// Raw returns the composed message in the base64url form Gmail expects.
func (r Reply) Raw() string {
	return base64.URLEncoding.EncodeToString([]byte(r.Compose()))
}

// encodeRFC2047 encodes non-ASCII header values, e.g. subjects with umlauts.
func encodeRFC2047(s string) string {
	for _, c := range s {
		if c > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
