// Package assets stores uploaded files and hands back their public URL.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUpstreamUnavailable means the storage backend could not take the upload.
var ErrUpstreamUnavailable = errors.New("asset storage unavailable")

// ErrUnsupportedType is returned for content that is not an accepted image.
var ErrUnsupportedType = errors.New("unsupported image type")

// Uploader stores bytes under key and returns where they can be fetched.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// PhotoKey returns a fresh object key for a user's photo of contentType.
func PhotoKey(userID, contentType string) (string, error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return fmt.Sprintf("photos/%s/%s%s", userID, uuid.NewString(), ext), nil
}

// LocalUploader writes into a directory served under baseURL.
type LocalUploader struct {
	root    string
	baseURL string
}

// NewLocalUploader creates root if needed.
func NewLocalUploader(root, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("assets/local: mkdir %s: %w", root, err)
	}
	return &LocalUploader{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root is the directory uploads are written to.
func (u *LocalUploader) Root() string { return u.root }

func (u *LocalUploader) Upload(_ context.Context, key, _ string, r io.Reader) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	full := filepath.Join(u.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %v", ErrUpstreamUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrUpstreamUnavailable, key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %v", ErrUpstreamUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrUpstreamUnavailable, key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("%w: rename %s: %v", ErrUpstreamUnavailable, key, err)
	}
	return u.baseURL + filepath.ToSlash(clean), nil
}
