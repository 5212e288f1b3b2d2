// Package media resolves uploaded avatar files to URLs.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxBytes = 5 << 20
	sniffBytes      = 3072
)

var (
	// ErrTooLarge reports an upload above the configured size limit.
	ErrTooLarge = errors.New("media: upload exceeds size limit")
	// ErrUnsupportedType reports an upload that is not an image.
	ErrUnsupportedType = errors.New("media: unsupported content type")
	// ErrEmptyUpload reports an upload without content.
	ErrEmptyUpload = errors.New("media: empty upload")

	errMissingDir     = errors.New("media: directory is required")
	errMissingBaseURL = errors.New("media: base url is required")
)

// Resolver stores uploads and hands back the URL they are served from.
type Resolver interface {
	Upload(ctx context.Context, filename string, body io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// LocalStoreConfig configures a directory-backed resolver.
type LocalStoreConfig struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
	Logger   *zap.Logger
}

// LocalStore keeps uploads in a local directory under UUIDv7 names.
type LocalStore struct {
	dir      string
	baseURL  string
	maxBytes int64
	logger   *zap.Logger
}

// NewLocalStore creates the directory when missing.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errMissingDir
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("media: create directory %s: %w", cfg.Dir, err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStore{
		dir:      cfg.Dir,
		baseURL:  baseURL,
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

// Upload sniffs the content type, writes the body through a temp file and
// renames it into place. The original filename is only used in logs.
func (s *LocalStore) Upload(_ context.Context, filename string, body io.Reader) (string, error) {
	limited := io.LimitReader(body, s.maxBytes+1)

	header := make([]byte, sniffBytes)
	read, err := io.ReadFull(limited, header)
	switch {
	case errors.Is(err, io.EOF):
		return "", ErrEmptyUpload
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return "", fmt.Errorf("media: read upload: %w", err)
	}
	header = header[:read]

	detected := mimetype.Detect(header)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}

	key, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("media: generate key: %w", err)
	}
	name := key.String() + detected.Extension()
	fullPath := filepath.Join(s.dir, name)
	tmpPath := fullPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("media: create temp file: %w", err)
	}
	size, err := io.Copy(file, io.MultiReader(bytes.NewReader(header), limited))
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("media: write upload: %w", err)
	}
	if size > s.maxBytes {
		file.Close()
		os.Remove(tmpPath)
		return "", ErrTooLarge
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("media: sync upload: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("media: close upload: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("media: rename upload: %w", err)
	}

	s.logger.Info("avatar stored",
		zap.String("original_filename", filename),
		zap.String("object", name),
		zap.String("content_type", detected.String()),
		zap.Int64("size_bytes", size))
	return s.baseURL + "/" + name, nil
}

// Delete removes a file this store handed out. URLs it does not own and
// files that are already gone are ignored.
func (s *LocalStore) Delete(_ context.Context, url string) error {
	name, ok := s.objectName(url)
	if !ok {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("media: delete %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) objectName(url string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(url, prefix)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}
