package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"dramaforge/internal/fileutil"
)

const (
	blobExt        = ".json"
	lockRetryDelay = 20 * time.Millisecond
)

// File is a Backend that stores each key as a file below a root directory.
// Writes take an exclusive flock on <root>/.lock so several processes can
// share one directory.
type File struct {
	root string
	// mu serializes writers in this process; the flock only excludes other processes.
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFile prepares a file backend rooted at dir.
func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &File{root: dir, lock: flock.New(filepath.Join(dir, ".lock"))}, nil
}

func (f *File) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid checkpoint key %q", key)
	}
	return filepath.Join(f.root, clean+blobExt), nil
}

func (f *File) Put(ctx context.Context, key string, blob []byte) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := f.lockContext(ctx); err != nil {
		return err
	}
	defer f.unlock()

	if err := fileutil.WriteFileAtomic(target, blob, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	target, err := f.path(key)
	if err != nil {
		return nil, false, err
	}
	blob, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", target, err)
	}
	return blob, true, nil
}

func (f *File) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), blobExt) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), blobExt)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk checkpoint directory: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *File) Delete(ctx context.Context, key string) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := f.lockContext(ctx); err != nil {
		return err
	}
	defer f.unlock()
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	return nil
}

func (f *File) lockContext(ctx context.Context) error {
	f.mu.Lock()
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	if !locked {
		f.mu.Unlock()
		return errors.New("checkpoint lock unavailable")
	}
	return nil
}

func (f *File) unlock() {
	_ = f.lock.Unlock()
	f.mu.Unlock()
}
