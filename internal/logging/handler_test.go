package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: FormatJSON, Output: &buf})

	logger.Info("listed messages", Route("/emails"), Status(StatusSuccess))
	logger.Debug("hidden at info level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "listed messages", entry["msg"])
	assert.Equal(t, "/emails", entry[KeyRoute])
	assert.Equal(t, "success", entry[KeyStatus])
	assert.NotContains(t, buf.String(), "hidden at info level")
}

func TestNew_JSONDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: FormatJSON, Debug: true, Output: &buf})

	logger.Debug("refresh skipped")
	assert.Contains(t, buf.String(), "refresh skipped")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: FormatText, Output: &buf})

	logger.Info("server started", "addr", ":5000")
	assert.Contains(t, buf.String(), "server started")
	assert.Contains(t, buf.String(), ":5000")
}
