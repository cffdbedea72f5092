// Package cache stores parsed trees and per-file results keyed by content
// hash. Entries expire after a TTL and are evicted in least-recently-used
// order once the byte budget is exceeded. The cache is an optimization
// only: every read or decode failure degrades to a miss.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const headerMagic = "sentinel-cache/1"

// Options configure a cache instance
type Options struct {
	// Dir selects the file backend; empty keeps entries in memory
	Dir string
	// MaxBytes is the payload budget; 0 means unbounded
	MaxBytes int64
	// TTL bounds entry age; 0 disables expiry
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Entry is the metadata of one stored payload
type Entry struct {
	Key         string    `json:"key"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`

	gen uint64
}

// Cache is a content-hash validated, TTL and size bounded LRU store.
// The mutex guards in-memory state only; backend I/O happens outside it.
type Cache struct {
	opts    Options
	backend backend
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front is most recently used
	size    int64
	gen     uint64

	flight singleflight.Group
}

// Stats summarize the in-memory index
type Stats struct {
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
}

// New opens a cache, loading the manifest of a file backend. Entries that
// are expired, missing on disk or absent from the manifest are dropped.
func New(opts Options) (*Cache, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var be backend
	if opts.Dir == "" {
		be = newMemoryBackend()
	} else {
		fb, err := newFileBackend(opts.Dir)
		if err != nil {
			return nil, err
		}
		be = fb
	}

	c := &Cache{
		opts:    opts,
		backend: be,
		logger:  logger,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
	c.load()
	return c, nil
}

// HashContent returns the hex sha256 of b
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func entryName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + entrySuffix
}

// load rebuilds the index from the manifest and removes orphaned files
func (c *Cache) load() {
	var entries []Entry
	if data, err := c.backend.loadManifest(); err == nil {
		if entries, err = decodeManifest(data); err != nil {
			c.logger.Debug("discarding unreadable cache manifest", zap.String("dir", c.opts.Dir), zap.Error(err))
			entries = nil
		}
	}

	names, err := c.backend.list()
	if err != nil {
		c.logger.Debug("failed to list cache entries", zap.Error(err))
	}
	onDisk := make(map[string]bool, len(names))
	for _, name := range names {
		onDisk[name] = true
	}

	// oldest access first so the final list front is the most recent
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	now := c.opts.Now()
	kept := make(map[string]bool)
	for _, e := range entries {
		name := entryName(e.Key)
		if !onDisk[name] || c.expired(e, now) || kept[name] {
			continue
		}
		kept[name] = true
		c.gen++
		e.gen = c.gen
		entry := e
		c.entries[e.Key] = c.lru.PushFront(&entry)
		c.size += e.Size
	}

	for _, name := range c.evictLocked(0) {
		delete(kept, name)
	}

	for _, name := range names {
		if !kept[name] {
			_ = c.backend.remove(name)
		}
	}
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	return c.opts.TTL > 0 && now.Sub(e.CreatedAt) > c.opts.TTL
}

// Get returns the payload for key if it exists, is within the TTL and was
// stored for contentHash. Any failure is reported as a miss.
func (c *Cache) Get(ctx context.Context, key, contentHash string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	entry := elem.Value.(*Entry)
	now := c.opts.Now()
	if c.expired(*entry, now) || entry.ContentHash != contentHash {
		c.removeLocked(elem)
		c.mu.Unlock()
		_ = c.backend.remove(entryName(key))
		c.logger.Debug("cache entry stale", zap.String("key", key))
		return nil, false
	}
	entry.LastAccess = now
	c.lru.MoveToFront(elem)
	gen := entry.gen
	c.mu.Unlock()

	data, err := c.backend.read(entryName(key))
	if err != nil {
		c.dropIfCurrent(key, gen)
		return nil, false
	}
	payload, ok := decodeEntry(data, contentHash)
	if !ok {
		c.logger.Debug("dropping corrupt cache entry", zap.String("key", key))
		c.dropIfCurrent(key, gen)
		return nil, false
	}
	return payload, true
}

// Put stores payload for key. Least-recently-used entries are evicted
// until the new entry fits; a payload larger than the budget is not stored.
func (c *Cache) Put(ctx context.Context, key, contentHash string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size := int64(len(payload))
	name := entryName(key)

	if c.opts.MaxBytes > 0 && size > c.opts.MaxBytes {
		c.Delete(key)
		return nil
	}

	if err := c.backend.write(name, encodeEntry(contentHash, payload)); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	now := c.opts.Now()
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	evicted := c.evictLocked(size)
	c.gen++
	c.entries[key] = c.lru.PushFront(&Entry{
		Key:         key,
		ContentHash: contentHash,
		Size:        size,
		CreatedAt:   now,
		LastAccess:  now,
		gen:         c.gen,
	})
	c.size += size
	c.mu.Unlock()

	for _, victim := range evicted {
		_ = c.backend.remove(victim)
	}
	if len(evicted) > 0 {
		c.logger.Debug("evicted cache entries", zap.Int("count", len(evicted)))
	}
	return nil
}

// GetOrLoad returns the cached payload or calls load once across
// concurrent callers asking for the same key and content hash.
func (c *Cache) GetOrLoad(ctx context.Context, key, contentHash string, load func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if payload, ok := c.Get(ctx, key, contentHash); ok {
		return payload, true, nil
	}

	v, err, _ := c.flight.Do(key+"\x00"+contentHash, func() (interface{}, error) {
		payload, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, contentHash, payload); err != nil {
			c.logger.Debug("cache put failed", zap.String("key", key), zap.Error(err))
		}
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Delete removes key if present
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		c.removeLocked(elem)
	}
	c.mu.Unlock()
	if ok {
		_ = c.backend.remove(entryName(key))
	}
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the total stored payload bytes
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns a snapshot of the index
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.lru.Len(), Bytes: c.size, MaxBytes: c.opts.MaxBytes}
}

// Flush persists the manifest
func (c *Cache) Flush() error {
	c.mu.Lock()
	entries := make([]Entry, 0, c.lru.Len())
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		entries = append(entries, *elem.Value.(*Entry))
	}
	c.mu.Unlock()

	data, err := encodeManifest(entries)
	if err != nil {
		return fmt.Errorf("failed to encode cache manifest: %w", err)
	}
	if err := c.backend.saveManifest(data); err != nil {
		return fmt.Errorf("failed to save cache manifest: %w", err)
	}
	return nil
}

// Close flushes the manifest
func (c *Cache) Close() error {
	return c.Flush()
}

func (c *Cache) dropIfCurrent(key string, gen uint64) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok && elem.Value.(*Entry).gen == gen {
		c.removeLocked(elem)
	} else {
		ok = false
	}
	c.mu.Unlock()
	if ok {
		_ = c.backend.remove(entryName(key))
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := c.lru.Remove(elem).(*Entry)
	delete(c.entries, entry.Key)
	c.size -= entry.Size
}

// evictLocked removes entries from the back until incoming bytes fit and
// returns the backend names to delete
func (c *Cache) evictLocked(incoming int64) []string {
	if c.opts.MaxBytes <= 0 {
		return nil
	}
	var names []string
	for c.size+incoming > c.opts.MaxBytes {
		back := c.lru.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*Entry)
		c.removeLocked(back)
		names = append(names, entryName(entry.Key))
	}
	return names
}

// encodeEntry frames payload with the content hash and a checksum
func encodeEntry(contentHash string, payload []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\n", headerMagic, contentHash, HashContent(payload))
	buf.Write(payload)
	return buf.Bytes()
}

func decodeEntry(data []byte, contentHash string) ([]byte, bool) {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil, false
	}
	fields := strings.Fields(string(data[:nl]))
	if len(fields) != 3 || fields[0] != headerMagic || fields[1] != contentHash {
		return nil, false
	}
	payload := data[nl+1:]
	if HashContent(payload) != fields[2] {
		return nil, false
	}
	return payload, true
}
