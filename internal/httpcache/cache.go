package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

// snapshot is one buffered catalog response.
type snapshot struct {
	status   int
	header   http.Header
	body     []byte
	etag     string
	storedAt time.Time
	usedAt   time.Time
}

// Cache holds catalog snapshots by request key. Once it grows past
// maxEntries the least recently used snapshot is evicted.
type Cache struct {
	ttl        time.Duration
	maxEntries int

	mu    sync.Mutex
	snaps map[string]*snapshot
}

func New(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{ttl: ttl, maxEntries: maxEntries, snaps: map[string]*snapshot{}}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

// lookup returns a copy of the snapshot for key and marks it used.
func (c *Cache) lookup(key string, now time.Time) (snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[key]
	if !ok {
		return snapshot{}, false
	}
	s.usedAt = now
	return *s, true
}

// fresh reports whether s may be served without asking upstream.
func (c *Cache) fresh(s snapshot, now time.Time) bool {
	return c.ttl > 0 && now.Sub(s.storedAt) < c.ttl
}

func (c *Cache) store(key string, resp *http.Response, body []byte, now time.Time) {
	s := &snapshot{
		status:   resp.StatusCode,
		header:   resp.Header.Clone(),
		body:     body,
		etag:     strings.TrimSpace(resp.Header.Get("ETag")),
		storedAt: now,
		usedAt:   now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[key] = s
	for len(c.snaps) > c.maxEntries {
		c.evictLocked(key)
	}
}

// revalidated restarts the TTL of key after upstream answered 304.
func (c *Cache) revalidated(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.snaps[key]; ok {
		s.storedAt = now
		s.usedAt = now
	}
}

func (c *Cache) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, key)
}

// evictLocked drops the least recently used snapshot other than keep.
func (c *Cache) evictLocked(keep string) {
	var (
		oldest string
		at     time.Time
	)
	for k, s := range c.snaps {
		if k == keep {
			continue
		}
		if oldest == "" || s.usedAt.Before(at) {
			oldest, at = k, s.usedAt
		}
	}
	delete(c.snaps, oldest)
}

// requestKey identifies a catalog read. The API key is hashed so snapshots
// of different keys never mix and the key is not held in clear text.
func requestKey(req *http.Request) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(req.Header.Get("X-Theta-Api-Key"))))
	return req.Method + " " + req.URL.String() + " " + hex.EncodeToString(sum[:8])
}
