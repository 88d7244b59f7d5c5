package gmail

import (
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"
)

// Placeholders used when a From header has no usable address.
const (
	UnknownSenderName    = "Unknown Sender"
	UnknownSenderAddress = "unknown"
	NoSubject            = "No Subject"
)

// Message is a read-only summary of an inbox message.
type Message struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	FromName    string `json:"from"`
	FromAddress string `json:"email"`
	Date        string `json:"date"`
	Snippet     string `json:"snippet"`
	ThreadID    string `json:"threadId"`
	MessageID   string `json:"messageId"`
}

// Address is a parsed From header.
type Address struct {
	Name    string
	Address string
}

var angleAddr = regexp.MustCompile(`^(.*)<(.*)>$`)

// ParseFrom splits a From header into display name and address.
//
//	"Jane Doe <jane@x.com>"  -> Jane Doe / jane@x.com
//	"jane@x.com"             -> jane@x.com / jane@x.com
//	"", "Jane <>", "undisclosed" -> Unknown Sender / unknown
func ParseFrom(raw string) Address {
	v := strings.TrimSpace(raw)

	if m := angleAddr.FindStringSubmatch(v); m != nil && strings.Contains(m[2], "@") {
		a := Address{
			Name:    strings.TrimSpace(m[1]),
			Address: strings.TrimSpace(m[2]),
		}
		// Quoted or encoded-word names decode cleanly when the header is well formed.
		if parsed, err := mail.ParseAddress(v); err == nil && parsed.Name != "" {
			a.Name = parsed.Name
		}
		if a.Name == "" {
			a.Name = a.Address
		}
		return a
	}

	if strings.Contains(v, "@") {
		return Address{Name: v, Address: v}
	}

	return Address{Name: UnknownSenderName, Address: UnknownSenderAddress}
}

// HeaderValue returns the first header named header, ignoring case.
func HeaderValue(m *gmail.Message, header string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

func toMessage(m *gmail.Message) Message {
	from := ParseFrom(HeaderValue(m, "From"))

	subject := HeaderValue(m, "Subject")
	if subject == "" {
		subject = NoSubject
	}

	return Message{
		ID:          m.Id,
		Subject:     subject,
		FromName:    from.Name,
		FromAddress: from.Address,
		Date:        HeaderValue(m, "Date"),
		Snippet:     m.Snippet,
		ThreadID:    m.ThreadId,
		MessageID:   HeaderValue(m, "Message-ID"),
	}
}
