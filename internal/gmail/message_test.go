package gmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func TestParseFrom(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Address
	}{
		{"name and address", "Jane Doe <jane@x.com>", Address{"Jane Doe", "jane@x.com"}},
		{"bare address", "jane@x.com", Address{"jane@x.com", "jane@x.com"}},
		{"empty", "", Address{UnknownSenderName, UnknownSenderAddress}},
		{"no address", "Mailer Daemon", Address{UnknownSenderName, UnknownSenderAddress}},
		{"surrounding space", "  Bob <bob@example.org>  ", Address{"Bob", "bob@example.org"}},
		{"quoted name", `"Doe, Jane" <jane@x.com>`, Address{"Doe, Jane", "jane@x.com"}},
		{"encoded word", "=?UTF-8?B?SsO8cmdlbg==?= <j@example.de>", Address{"Jürgen", "j@example.de"}},
		{"angle only", "<noreply@example.com>", Address{"noreply@example.com", "noreply@example.com"}},
		{"empty brackets", "<>", Address{UnknownSenderName, UnknownSenderAddress}},
		{"name with empty brackets", "Jane <>", Address{UnknownSenderName, UnknownSenderAddress}},
		{"bracketed non-address", "Jane <undisclosed>", Address{UnknownSenderName, UnknownSenderAddress}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFrom(tt.raw))
		})
	}
}

func TestHeaderValue(t *testing.T) {
	m := &gmail.Message{Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
		{Name: "subject", Value: "lower"},
		{Name: "Message-Id", Value: "<abc@mail>"},
	}}}

	assert.Equal(t, "lower", HeaderValue(m, "Subject"))
	assert.Equal(t, "<abc@mail>", HeaderValue(m, "Message-ID"))
	assert.Equal(t, "", HeaderValue(m, "Date"))
	assert.Equal(t, "", HeaderValue(&gmail.Message{}, "Subject"))
	assert.Equal(t, "", HeaderValue(nil, "Subject"))
}

func TestToMessage(t *testing.T) {
	m := &gmail.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "Hello there",
		Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
			{Name: "From", Value: "Jane Doe <jane@x.com>"},
			{Name: "Date", Value: "Mon, 1 Jan 2024 10:00:00 +0000"},
			{Name: "Message-ID", Value: "<id@x.com>"},
		}},
	}

	assert.Equal(t, Message{
		ID:          "m1",
		Subject:     NoSubject,
		FromName:    "Jane Doe",
		FromAddress: "jane@x.com",
		Date:        "Mon, 1 Jan 2024 10:00:00 +0000",
		Snippet:     "Hello there",
		ThreadID:    "t1",
		MessageID:   "<id@x.com>",
	}, toMessage(m))
}
