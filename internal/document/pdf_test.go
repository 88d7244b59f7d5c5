package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestExtractPDF(t *testing.T) {
	path := writeTemp(t, buildPDF("Quarterly revenue grew", "Churn fell to two percent"))

	text, pages, err := ExtractPDF(path)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Contains(t, text, "Quarterly revenue grew")
	assert.Contains(t, text, "Churn fell to two percent")
}

func TestExtractPDF_Malformed(t *testing.T) {
	path := writeTemp(t, []byte("%PDF-1.4\nthis is not really a pdf\n%%EOF\n"))

	_, _, err := ExtractPDF(path)
	assert.Error(t, err)
}

func TestExtractPDF_Missing(t *testing.T) {
	_, _, err := ExtractPDF(filepath.Join(t.TempDir(), "nope.pdf"))
	assert.Error(t, err)
}
