package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend stores one JSON lock record per file under a directory.
// An atomic hard link is the mutex primitive: the kernel guarantees exactly
// one concurrent publisher wins, so there is no check-then-use race.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the lock directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(resource string) string {
	// Resources are slash-separated paths; escape them into a flat,
	// reversible file name.
	return filepath.Join(b.dir, url.PathEscape(resource)+".lock")
}

// TryCreate implements Backend. The record is staged to a temp file and
// published with an exclusive hard link, so a winner's lock file is complete
// the instant it becomes visible and contenders never read a partial record.
func (b *FileBackend) TryCreate(ctx context.Context, l *Lock) (*Lock, bool, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("failed to serialize lock: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".staging-*")
	if err != nil {
		return nil, false, fmt.Errorf("failed to stage lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, false, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, false, fmt.Errorf("failed to write lock file: %w", err)
	}

	if err := os.Link(tmp.Name(), b.path(l.Resource)); err != nil {
		if os.IsExist(err) {
			existing, gerr := b.Get(ctx, l.Resource)
			if gerr != nil {
				return nil, false, gerr
			}
			if existing == nil {
				// Raced with a release between link and read; treat as
				// contention and let the manager retry.
				return nil, false, fmt.Errorf("lock on '%s' vanished during acquisition", l.Resource)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil, true, nil
}

// Get reads the lock record, returning nil when the resource is unlocked.
func (b *FileBackend) Get(ctx context.Context, resource string) (*Lock, error) {
	data, err := os.ReadFile(b.path(resource))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("corrupt lock file for '%s': %w", resource, err)
	}
	return &l, nil
}

// Delete removes the lock record; absence is not an error.
func (b *FileBackend) Delete(ctx context.Context, resource string) error {
	if err := os.Remove(b.path(resource)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// List reads every lock record in the directory.
func (b *FileBackend) List(ctx context.Context) ([]*Lock, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock directory: %w", err)
	}

	var locks []*Lock
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		resource, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".lock"))
		if err != nil {
			continue
		}
		l, err := b.Get(ctx, resource)
		if err != nil {
			return nil, err
		}
		if l != nil {
			locks = append(locks, l)
		}
	}
	return locks, nil
}
