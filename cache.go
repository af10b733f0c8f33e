package apiclient

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"
)

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type cacheEntry struct {
	key      string
	resp     *Response
	storedAt time.Time
	size     int64
}

// ResponseCache keeps successful GET responses for MaxAge. Entries are kept
// in insertion order so the size budget evicts the oldest first.
type ResponseCache struct {
	cfg CacheConfig
	now Clock

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	bytes   int64
	stats   CacheStats

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewResponseCache creates a cache. A nil clock means time.Now.
func NewResponseCache(cfg CacheConfig, now Clock) *ResponseCache {
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		cfg:     cfg,
		now:     now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		stop:    make(chan struct{}),
	}
}

// CacheKey derives the cache key of a request. Query parameters are
// normalised so their order does not matter.
func CacheKey(method, path, rawQuery string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	if rawQuery != "" {
		if values, err := url.ParseQuery(rawQuery); err == nil {
			rawQuery = values.Encode()
		}
		h.Write([]byte(rawQuery))
	}
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// IsExcluded reports whether path falls under an excluded prefix. A prefix
// matches whole segments only: "/auth" excludes "/auth/login" but not
// "/authors".
func (c *ResponseCache) IsExcluded(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range c.cfg.ExcludedPaths {
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Lookup returns a copy of the fresh entry for key. Stale entries are dropped.
func (c *ResponseCache) Lookup(key string) (*Response, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if !c.freshLocked(entry) {
		c.removeLocked(el)
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	resp := entry.resp.clone()
	resp.Cached = true
	return resp, true
}

// Store records resp under key unless path is excluded. An entry larger than
// the whole budget is not stored.
func (c *ResponseCache) Store(key, path string, resp *Response) bool {
	if !c.cfg.Enabled || resp == nil || c.IsExcluded(path) {
		return false
	}

	stored := resp.clone()
	stored.Cached = false
	entry := &cacheEntry{key: key, resp: stored, storedAt: c.now(), size: stored.size()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.MaxTotalBytes > 0 && entry.size > c.cfg.MaxTotalBytes {
		return false
	}

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	c.entries[key] = c.order.PushBack(entry)
	c.bytes += entry.size

	for c.cfg.MaxTotalBytes > 0 && c.bytes > c.cfg.MaxTotalBytes {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.stats.Evictions++
	}
	return true
}

// InvalidateAll drops every entry.
func (c *ResponseCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.bytes = 0
	c.mu.Unlock()
}

// Sweep drops every stale entry and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !c.freshLocked(el.Value.(*cacheEntry)) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Keys returns the keys currently held, oldest first.
func (c *ResponseCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*cacheEntry).key)
	}
	return keys
}

// Len returns the number of entries, stale ones included.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SizeBytes returns the approximate memory held by all entries.
func (c *ResponseCache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	s.Bytes = c.bytes
	return s
}

// StartJanitor sweeps stale entries every SweepInterval until Stop. onSweep,
// when set, observes each sweep result.
func (c *ResponseCache) StartJanitor(onSweep func(removed int)) {
	if !c.cfg.Enabled || c.cfg.SweepInterval <= 0 {
		return
	}

	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				removed := c.Sweep()
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()
}

// Stop ends the janitor and waits for it to exit.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *ResponseCache) freshLocked(entry *cacheEntry) bool {
	return c.now().Sub(entry.storedAt) < c.cfg.MaxAge
}

func (c *ResponseCache) removeLocked(el *list.Element) {
	entry := c.order.Remove(el).(*cacheEntry)
	delete(c.entries, entry.key)
	c.bytes -= entry.size
}
