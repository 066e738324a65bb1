// Package blob stores opaque uploads such as job photos and identity
// documents and hands back a URL for each.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrTooLarge        = errors.New("blob: upload exceeds size limit")
	ErrUnsupportedType = errors.New("blob: unsupported content type")
	ErrEmpty           = errors.New("blob: upload is empty")
)

// DefaultMaxBytes caps a single upload.
const DefaultMaxBytes = 10 << 20

// Store persists an upload and returns its public URL.
type Store interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"application/pdf": ".pdf",
}

// FSStore writes uploads under a directory and serves them from baseURL.
type FSStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create dir: %w", err)
	}
	return &FSStore{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: DefaultMaxBytes,
	}, nil
}

func (s *FSStore) WithMaxBytes(n int64) *FSStore {
	if n > 0 {
		s.maxBytes = n
	}
	return s
}

// Dir is the directory the files live in, for static serving.
func (s *FSStore) Dir() string { return s.dir }

// Upload writes r to a fresh key. The file only becomes visible once fully
// written. An empty contentType is inferred from the extension of name.
func (s *FSStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
	}

	key := uuid.NewString() + ext
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(ctxReader{ctx: ctx, r: r}, s.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if n == 0 {
		return "", ErrEmpty
	}
	if n > s.maxBytes {
		return "", ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		return "", fmt.Errorf("blob: commit: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// ctxReader stops a copy once the request context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
