package cache

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/apierr"
)

// DefaultTTL applies when Options.TTL is not positive.
const DefaultTTL = time.Hour

// Options configures a Cache.
type Options struct {
	// Enabled turns the cache on. A disabled cache accepts every call and
	// stores nothing.
	Enabled bool
	// Dir is the cache directory. It is created when missing.
	Dir string
	// TTL is the maximum age of a usable entry.
	TTL time.Duration
	// Backend overrides the default FileBackend rooted at Dir.
	Backend Backend
	// Now overrides the wall clock (useful in tests).
	Now func() time.Time
	// Logger receives hit/miss/eviction debug records.
	Logger *slog.Logger
}

// Cache stores JSON-encoded values with a flat TTL. It is not safe for
// concurrent use across processes; a race between Has and Get degrades to a
// miss.
type Cache struct {
	enabled bool
	ttl     time.Duration
	backend Backend
	now     func() time.Time
	logger  *slog.Logger
}

// New returns a Cache configured by opts. When the cache is enabled and no
// Backend is supplied, a FileBackend is opened in opts.Dir.
func New(opts Options) (*Cache, error) {
	c := &Cache{
		enabled: opts.Enabled,
		ttl:     opts.TTL,
		backend: opts.Backend,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if !c.enabled {
		return c, nil
	}
	if c.backend == nil {
		fb, err := NewFileBackend(opts.Dir)
		if err != nil {
			return nil, err
		}
		c.backend = fb
	}
	return c, nil
}

// Disabled returns a cache that never stores anything.
func Disabled() *Cache {
	c, _ := New(Options{})
	return c
}

// Enabled reports whether the cache stores values.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Has reports whether key holds an entry younger than the TTL.
func (c *Cache) Has(key string) bool {
	if !c.Enabled() {
		return false
	}
	modTime, ok, err := c.backend.Stat(key)
	if err != nil || !ok {
		return false
	}
	return c.now().Sub(modTime) < c.ttl
}

// Get decodes the entry stored under key into out. It reports false when the
// entry is absent or expired.
func (c *Cache) Get(key string, out any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	if !c.Has(key) {
		c.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	data, _, err := c.backend.Read(key)
	if errors.Is(err, ErrNotFound) {
		// removed between Has and Read
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, apierr.Errorf(apierr.ErrStorage, "cache", "entry %q is empty", key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, apierr.New(apierr.ErrStorage, "cache: decode entry "+key, errors.WithStack(err))
	}
	c.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key string, value any) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return apierr.New(apierr.ErrEncode, "cache: encode entry "+key, err)
	}
	if err := c.backend.Write(key, data, c.now()); err != nil {
		return err
	}
	c.logger.Debug("cache set", "key", key)
	return nil
}

// Remove deletes the entry stored under key. Removing an absent key succeeds.
func (c *Cache) Remove(key string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.backend.Delete(key); err != nil {
		return err
	}
	c.logger.Debug("cache evict", "key", key)
	return nil
}

// Purge deletes every entry.
func (c *Cache) Purge() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Purge()
}

// Close releases the backend.
func (c *Cache) Close() error {
	if !c.Enabled() || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
