package httpcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPathPrefixes limits caching to catalog reads. Infer request
// snapshots change remotely and must always be fetched fresh.
var DefaultPathPrefixes = []string{"/service/"}

type Config struct {
	Enabled      bool          `yaml:"enabled" json:"enabled" toml:"enabled"`
	TTL          time.Duration `yaml:"-" json:"-" toml:"-"`
	TTLSeconds   int           `yaml:"ttl_seconds" json:"ttl_seconds" toml:"ttl_seconds"`
	MaxEntries   int           `yaml:"max_entries" json:"max_entries" toml:"max_entries"`
	PathPrefixes []string      `yaml:"path_prefixes,omitempty" json:"path_prefixes,omitempty" toml:"path_prefixes,omitempty"`
}

// Normalize fills defaults and derives TTL from TTLSeconds when unset.
// A zero TTL revalidates every hit (ETag) instead of serving it directly.
func (c Config) Normalize() Config {
	if c.TTL == 0 && c.TTLSeconds > 0 {
		c.TTL = time.Duration(c.TTLSeconds) * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 128
	}
	if len(c.PathPrefixes) == 0 {
		c.PathPrefixes = DefaultPathPrefixes
	}
	return c
}

// ApplyEnv overlays THETA_MCP_HTTP_CACHE_* variables onto c.
func (c Config) ApplyEnv() Config {
	if v := strings.TrimSpace(os.Getenv("THETA_MCP_HTTP_CACHE_ENABLED")); v != "" {
		c.Enabled = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	if v := strings.TrimSpace(os.Getenv("THETA_MCP_HTTP_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.TTLSeconds = n
			c.TTL = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("THETA_MCP_HTTP_CACHE_MAX_ENTRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxEntries = n
		}
	}
	return c
}

type Transport struct {
	base     http.RoundTripper
	c        *Cache
	prefixes []string
}

// NewTransport wraps base with a read-through cache. When caching is disabled
// base is returned unchanged.
func NewTransport(base http.RoundTripper, cfg Config) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !cfg.Enabled {
		return base
	}
	cfg = cfg.Normalize()
	return &Transport{
		base:     base,
		c:        New(cfg.TTL, cfg.MaxEntries),
		prefixes: cfg.PathPrefixes,
	}
}

// Cache exposes the underlying store.
func (t *Transport) Cache() *Cache { return t.c }

func (t *Transport) cacheable(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("httpcache: nil request")
	}
	if !t.cacheable(req) {
		return t.base.RoundTrip(req)
	}

	key := requestKey(req)
	snap, ok := t.c.lookup(key, time.Now())
	switch {
	case ok && t.c.fresh(snap, time.Now()):
		return hit(req, snap), nil
	case ok && snap.etag != "":
		return t.revalidate(req, key, snap)
	case ok:
		t.c.drop(key)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	return t.keep(req, key, resp)
}

// revalidate asks upstream whether snap is still current.
func (t *Transport) revalidate(req *http.Request, key string, snap snapshot) (*http.Response, error) {
	cond := req.Clone(req.Context())
	cond.Header.Set("If-None-Match", snap.etag)

	resp, err := t.base.RoundTrip(cond)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		t.c.revalidated(key, time.Now())
		return hit(req, snap), nil
	}
	return t.keep(req, key, resp)
}

// keep buffers resp and stores it only when it is a success; errors are
// never served from cache.
func (t *Transport) keep(req *http.Request, key string, resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.c.drop(key)
	} else {
		t.c.store(key, resp, b, time.Now())
	}
	out := *resp
	out.Request = req
	out.Header = resp.Header.Clone()
	out.Body = io.NopCloser(bytes.NewReader(b))
	out.ContentLength = int64(len(b))
	return &out, nil
}

func hit(req *http.Request, snap snapshot) *http.Response {
	status := snap.status
	if status == 0 {
		status = http.StatusOK
	}
	h := snap.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("X-Cache", "HIT")
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(snap.body)),
		ContentLength: int64(len(snap.body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}
