package pricecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"vmbroker/internal/logging"
)

const cacheExt = ".json"

// Clock supplies the current time; injectable for expiry tests
type Clock func() time.Time

// record is the on-disk shape: a write timestamp plus the raw payload.
// Records are replaced whole, never partially updated.
type record struct {
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
	Data      json.RawMessage `json:"data"`
}

// RecordInfo describes one cache entry without its payload
type RecordInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Age       time.Duration
	SizeBytes int64 `json:"sizeBytes"`
}

// Cache is a file-backed TTL cache, one JSON file per key. Keys are
// independent: concurrent requests against different keys never contend.
// Concurrent writers to the same key race with last-write-wins semantics,
// which is acceptable because both writes hold equally fresh fetches.
type Cache struct {
	dir string
	now Clock
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source
func WithClock(now Clock) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache rooted at dir. The directory is created on demand.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+cacheExt)
}

func (c *Cache) ensureDir() error {
	return os.MkdirAll(c.dir, 0755)
}

// Key builds a cache key from a provider name and query shape
func Key(parts ...string) string {
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	return strings.Join(lowered, "_")
}

// Get loads the payload for key into out if a record exists and is younger
// than maxAge. Returns false on miss, expiry, or any read error; cache
// problems degrade to a miss rather than failing the caller.
func (c *Cache) Get(key string, maxAge time.Duration, out any) bool {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Logger().Warn("discarding unreadable cache record",
			zap.String("key", key), zap.Error(err))
		return false
	}

	age := c.now().UnixMilli() - rec.Timestamp
	if age >= maxAge.Milliseconds() {
		return false
	}

	if err := json.Unmarshal(rec.Data, out); err != nil {
		logging.Logger().Warn("discarding undecodable cache payload",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Put stores payload under key, replacing any existing record whole
func (c *Cache) Put(key string, payload any) error {
	if err := c.ensureDir(); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	data, err := json.MarshalIndent(record{
		Timestamp: c.now().UnixMilli(),
		Data:      raw,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache record: %w", err)
	}

	return os.WriteFile(c.path(key), data, 0644)
}

// Invalidate removes the record for key. Removing a missing key succeeds.
func (c *Cache) Invalidate(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to invalidate cache key %s: %w", key, err)
	}
	return nil
}

// InvalidateAll removes every record in the cache directory
func (c *Cache) InvalidateAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), cacheExt) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// List returns metadata for every record in the cache
func (c *Cache) List() ([]RecordInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []RecordInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), cacheExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}

		ts := time.UnixMilli(rec.Timestamp)
		infos = append(infos, RecordInfo{
			Key:       strings.TrimSuffix(entry.Name(), cacheExt),
			Timestamp: ts,
			Age:       c.now().Sub(ts),
			SizeBytes: int64(len(data)),
		})
	}
	return infos, nil
}
