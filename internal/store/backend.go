package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Backend persists the serialized bytes of whole collections.
type Backend interface {
	// Load returns the stored bytes, or ErrCollectionMissing.
	Load(ctx context.Context, c Collection) ([]byte, error)
	// Save replaces the stored bytes atomically.
	Save(ctx context.Context, c Collection, data []byte) error
	// Init stores data only if c does not exist yet. It never truncates.
	Init(ctx context.Context, c Collection, data []byte) error
	// Quarantine keeps a copy of unparseable content aside.
	Quarantine(ctx context.Context, c Collection, data []byte) error
}

// FileBackend keeps each collection in <dir>/<collection>.json.
type FileBackend struct {
	dir string
	now func() time.Time
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir, now: time.Now}, nil
}

func (b *FileBackend) path(c Collection) string {
	return filepath.Join(b.dir, string(c)+".json")
}

// Load reads the collection file.
func (b *FileBackend) Load(_ context.Context, c Collection) ([]byte, error) {
	data, err := os.ReadFile(b.path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCollectionMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path(c), err)
	}
	return data, nil
}

// Save writes to a temp file in the same directory and renames it over the
// collection file, so readers see either the old or the new content.
func (b *FileBackend) Save(_ context.Context, c Collection, data []byte) error {
	tmp, err := b.writeTemp(c, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path(c)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", b.path(c), err)
	}
	return nil
}

// Init links a fully written temp file into place; the link fails if the
// collection already exists, which leaves existing content untouched.
func (b *FileBackend) Init(_ context.Context, c Collection, data []byte) error {
	tmp, err := b.writeTemp(c, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, b.path(c)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("materialize %s: %w", b.path(c), err)
	}
	return nil
}

// Quarantine copies data to <collection>.json.corrupt-<unix nanos>.
func (b *FileBackend) Quarantine(_ context.Context, c Collection, data []byte) error {
	dst := fmt.Sprintf("%s.corrupt-%d", b.path(c), b.now().UnixNano())
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("quarantine %s: %w", b.path(c), err)
	}
	return nil
}

func (b *FileBackend) writeTemp(c Collection, data []byte) (string, error) {
	f, err := os.CreateTemp(b.dir, string(c)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", c, err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write temp file for %s: %w", c, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync temp file for %s: %w", c, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close temp file for %s: %w", c, err)
	}
	return name, nil
}
