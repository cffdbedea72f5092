package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	entrySuffix  = ".entry"
	manifestName = "manifest.json"
)

var errNotFound = errors.New("cache entry not found")

// backend persists entry payloads and the manifest
type backend interface {
	read(name string) ([]byte, error)
	write(name string, data []byte) error
	remove(name string) error
	list() ([]string, error)
	loadManifest() ([]byte, error)
	saveManifest(data []byte) error
}

// fileBackend stores one file per entry plus manifest.json in dir
type fileBackend struct {
	dir string
}

func newFileBackend(dir string) (*fileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNotFound
	}
	return data, err
}

// write replaces name atomically through a temp file and rename
func (b *fileBackend) write(name string, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(b.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}
	return nil
}

func (b *fileBackend) remove(name string) error {
	err := os.Remove(filepath.Join(b.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *fileBackend) list() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), entrySuffix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (b *fileBackend) loadManifest() ([]byte, error) {
	return b.read(manifestName)
}

func (b *fileBackend) saveManifest(data []byte) error {
	return b.write(manifestName, data)
}

// memoryBackend keeps everything in process memory
type memoryBackend struct {
	mu       sync.RWMutex
	files    map[string][]byte
	manifest []byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{files: make(map[string][]byte)}
}

func (b *memoryBackend) read(name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.files[name]
	if !ok {
		return nil, errNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memoryBackend) write(name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = append([]byte(nil), data...)
	return nil
}

func (b *memoryBackend) remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, name)
	return nil
}

func (b *memoryBackend) list() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	return names, nil
}

func (b *memoryBackend) loadManifest() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.manifest == nil {
		return nil, errNotFound
	}
	return b.manifest, nil
}

func (b *memoryBackend) saveManifest(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.manifest = data
	return nil
}

// manifest is the persisted index of entries
type manifest struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

const manifestVersion = 1

func decodeManifest(data []byte) ([]Entry, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return m.Entries, nil
}

func encodeManifest(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(manifest{Version: manifestVersion, Entries: entries}, "", "  ")
}
