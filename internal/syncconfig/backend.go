package syncconfig

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the config file name inside the app data directory.
const FileName = "git-sync.json"

const lockTimeout = time.Second

// Backend reads and writes the serialized configuration. Load returns an
// error wrapping fs.ErrNotExist when nothing has been persisted yet.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileBackend stores the configuration as a JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to dir/git-sync.json.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dir, FileName)}
}

// Path returns the config file location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the config file.
func (b *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return data, nil
}

// Save atomically replaces the config file while holding a sibling lock
// file, so a second writer cannot interleave a partial file.
func (b *FileBackend) Save(data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	lock := flock.New(b.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire lock: timeout after %v", lockTimeout)
	}
	defer lock.Unlock() //nolint:errcheck

	tmp, err := os.CreateTemp(dir, ".git-sync-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

// MemoryBackend keeps the serialized configuration in memory.
type MemoryBackend struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryBackend returns a backend, optionally pre-seeded with data.
func NewMemoryBackend(data []byte) *MemoryBackend {
	return &MemoryBackend{data: data}
}

// Load returns the stored bytes or fs.ErrNotExist.
func (m *MemoryBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), m.data...), nil
}

// Save stores a copy of data.
func (m *MemoryBackend) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
