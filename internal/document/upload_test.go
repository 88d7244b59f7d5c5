package document

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxqa/internal/apperr"
)

func newTestService(t *testing.T, maxBytes int64) (*Service, *Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore()
	svc, err := NewService(Config{Dir: dir, MaxBytes: maxBytes}, store)
	require.NoError(t, err)
	return svc, store, dir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary upload files must be removed")
}

func pdfFile(name string, data []byte) File {
	return File{Name: name, ContentType: "application/pdf", Body: bytes.NewReader(data)}
}

func TestUpload_Success(t *testing.T) {
	svc, store, dir := newTestService(t, 0)

	res, err := svc.Upload(context.Background(), "sess", pdfFile("report.pdf", buildPDF("Hello from the report")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Greater(t, res.Characters, 0)

	d, ok := store.Peek("sess")
	require.True(t, ok)
	assert.Contains(t, d.Text, "Hello from the report")
	assert.Equal(t, d.Text, svc.Peek("sess"))
	assertDirEmpty(t, dir)
}

func TestUpload_Overwrites(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	svc.extract = func(path string) (string, int, error) {
		data, err := os.ReadFile(path)
		return strings.TrimPrefix(string(data), "%PDF-"), 1, err
	}

	_, err := svc.Upload(context.Background(), "sess", pdfFile("a.pdf", []byte("%PDF-document A")))
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), "sess", pdfFile("b.pdf", []byte("%PDF-document B")))
	require.NoError(t, err)

	assert.Equal(t, "document B", svc.Peek("sess"))
}

func TestUpload_SessionsIsolated(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	svc.extract = func(path string) (string, int, error) {
		data, err := os.ReadFile(path)
		return string(data), 1, err
	}

	_, err := svc.Upload(context.Background(), "alice", pdfFile("a.pdf", []byte("%PDF-alice")))
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), "bob", pdfFile("b.pdf", []byte("%PDF-bob")))
	require.NoError(t, err)

	assert.Equal(t, "%PDF-alice", svc.Peek("alice"))
	assert.Equal(t, "%PDF-bob", svc.Peek("bob"))
}

func TestUpload_Validation(t *testing.T) {
	svc, store, dir := newTestService(t, 64)

	tests := []struct {
		name string
		file File
		msg  string
	}{
		{"no body", File{Name: "a.pdf"}, MsgNoFile},
		{"wrong type", File{Name: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("%PDF-")}, MsgNotPDF},
		{"fake pdf", pdfFile("fake.pdf", []byte("PK\x03\x04 zip archive")), MsgNotPDF},
		{"too large", pdfFile("big.pdf", append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 100)...)), MsgTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), "sess", tt.file)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, tt.msg, e.Message)
		})
	}

	assert.Equal(t, 0, store.Len())
	assertDirEmpty(t, dir)
}

func TestUpload_ExtensionOnly(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	svc.extract = func(string) (string, int, error) { return "text", 1, nil }

	_, err := svc.Upload(context.Background(), "sess", File{
		Name:        "scan.PDF",
		ContentType: "application/octet-stream",
		Body:        strings.NewReader("%PDF-1.7"),
	})
	assert.NoError(t, err)
}

func TestUpload_ParseFailureRemovesFile(t *testing.T) {
	svc, store, dir := newTestService(t, 0)

	var seen string
	svc.extract = func(path string) (string, int, error) {
		seen = path
		_, err := os.Stat(path)
		require.NoError(t, err, "file must exist while parsing")
		return "", 0, errors.New("corrupt xref")
	}

	_, err := svc.Upload(context.Background(), "sess", pdfFile("broken.pdf", []byte("%PDF-1.4 garbage")))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindParse, e.Kind)
	assert.Equal(t, MsgParseFailed, e.Message)

	assert.Contains(t, seen, "broken.pdf")
	assert.Equal(t, 0, store.Len())
	assertDirEmpty(t, dir)
}

func TestUpload_NoTextIsParseError(t *testing.T) {
	svc, _, dir := newTestService(t, 0)
	svc.extract = func(string) (string, int, error) { return " \n\n", 3, nil }

	_, err := svc.Upload(context.Background(), "sess", pdfFile("scan.pdf", []byte("%PDF-1.4")))
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
	assertDirEmpty(t, dir)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":             "report.pdf",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\file 1.pdf`: "file_1.pdf",
		"":                       defaultFileName,
		"...":                    defaultFileName,
		"Q3 résumé (final).pdf":  "Q3_r_sum_final_.pdf",
		strings.Repeat("a", 150): strings.Repeat("a", 100),
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeName(in), in)
	}
}

func TestDeclaredPDF(t *testing.T) {
	assert.True(t, declaredPDF("x.bin", "application/pdf"))
	assert.True(t, declaredPDF("x.bin", "Application/PDF; charset=binary"))
	assert.True(t, declaredPDF("x.pdf", ""))
	assert.False(t, declaredPDF("x.txt", "text/plain"))
}

func TestService_EvictsIdleDocuments(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	svc.extract = func(string) (string, int, error) { return "text", 1, nil }

	_, err := svc.Upload(context.Background(), "sess", pdfFile("a.pdf", []byte("%PDF-1.4")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunEviction(ctx, time.Millisecond, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", svc.Peek("sess"))
}
