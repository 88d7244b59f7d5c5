package document

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxqa/internal/apperr"
	"github.com/teemow/inboxqa/internal/instrumentation"
	"github.com/teemow/inboxqa/internal/logging"
)

// DefaultMaxBytes caps the size of an uploaded file.
const DefaultMaxBytes = 20 << 20

// Client-facing messages.
const (
	MsgNoFile       = "No file uploaded"
	MsgNotPDF       = "Only PDF files are supported"
	MsgTooLarge     = "File is too large"
	MsgParseFailed  = "Failed to parse PDF"
	MsgUploaded     = "PDF uploaded and parsed successfully"
	MsgCleared      = "Extracted text cleared"
	pdfContentType  = "application/pdf"
	defaultFileName = "upload.pdf"
)

var (
	pdfMagic = []byte("%PDF-")

	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

	errNoText = errors.New("no extractable text")
)

// File is an incoming upload.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Result summarizes a successful upload.
type Result struct {
	Pages      int `json:"pages"`
	Characters int `json:"characters"`
}

// Config configures a Service.
type Config struct {
	// Dir receives temporary upload files. Defaults to a subdirectory of os.TempDir.
	Dir string

	// MaxBytes defaults to DefaultMaxBytes.
	MaxBytes int64

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Service accepts PDF uploads into a Store.
type Service struct {
	store    *Store
	dir      string
	maxBytes int64
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	extract func(path string) (string, int, error)
}

// NewService creates the upload directory if needed.
func NewService(cfg Config, store *Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}

	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "inboxqa-uploads")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:    store,
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logging.WithService(logger, "document"),
		metrics:  cfg.Metrics,
		extract:  ExtractPDF,
	}, nil
}

// MaxBytes returns the upload size limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload parses f and, on success, replaces the session's document.
// The temporary file is removed on every path.
func (s *Service) Upload(ctx context.Context, sessionID string, f File) (res Result, err error) {
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
		}
		s.metrics.RecordDocumentUpload(ctx, status)
	}()

	if f.Body == nil {
		return Result{}, apperr.Validation(MsgNoFile)
	}
	if !declaredPDF(f.Name, f.ContentType) {
		return Result{}, apperr.Validation(MsgNotPDF)
	}

	body := bufio.NewReader(f.Body)
	head, _ := body.Peek(len(pdfMagic))
	if !bytes.Equal(head, pdfMagic) {
		return Result{}, apperr.Validation(MsgNotPDF)
	}

	path, err := s.spool(body, f.Name)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Warn("Failed to remove upload", "path", path, logging.Err(rmErr))
			}
		}()
	}
	if err != nil {
		return Result{}, err
	}

	_, span := instrumentation.StartSpan(ctx, "document.extract")
	text, pages, err := s.extract(path)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errNoText
	}
	span.SetAttributes(attribute.Int(instrumentation.SpanAttrCount, pages))
	instrumentation.EndSpan(span, err)
	if err != nil {
		s.logger.Warn("PDF parse failed", logging.Session(sessionID), logging.Err(err))
		return Result{}, apperr.Parse(MsgParseFailed, err)
	}

	s.store.Put(sessionID, Document{Text: text, Pages: pages, UploadedAt: time.Now()})

	res = Result{Pages: pages, Characters: utf8.RuneCountInString(text)}
	s.logger.Info("Document uploaded", logging.Session(sessionID), "pages", res.Pages, "characters", res.Characters)
	return res, nil
}

// Clear empties the session's document slot.
func (s *Service) Clear(sessionID string) {
	s.store.Clear(sessionID)
}

// Touch keeps the session's document from idle eviction.
func (s *Service) Touch(sessionID string) {
	s.store.Touch(sessionID)
}

// RunEviction drops documents idle for longer than idle until ctx is done.
// It covers session stores that cannot report expiry.
func (s *Service) RunEviction(ctx context.Context, idle, interval time.Duration) {
	s.store.RunEviction(ctx, idle, interval, func(ids []string) {
		for _, id := range ids {
			s.logger.Debug("Idle document evicted", logging.Session(id))
		}
	})
}

// Peek returns the session's document text, or "" when empty.
func (s *Service) Peek(sessionID string) string {
	d, _ := s.store.Peek(sessionID)
	return d.Text
}

// spool copies r into a new file in the upload dir, enforcing the size
// limit. The returned path is set whenever a file was created.
func (s *Service) spool(r io.Reader, name string) (string, error) {
	pattern := fmt.Sprintf("%d-*-%s", time.Now().UnixMilli(), sanitizeName(name))
	tmp, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	path := tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return path, apperr.Validation(MsgTooLarge)
		}
		return path, fmt.Errorf("failed to store upload: %w", err)
	}
	if n > s.maxBytes {
		return path, apperr.Validation(MsgTooLarge)
	}
	return path, nil
}

func declaredPDF(name, contentType string) bool {
	if strings.EqualFold(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]), pdfContentType) {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func sanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return defaultFileName
	}
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return base
}
