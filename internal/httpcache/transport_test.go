package httpcache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func get(t *testing.T, cl *http.Client, url string, apiKey string) (string, *http.Response) {
	t.Helper()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if apiKey != "" {
		req.Header.Set("x-theta-api-key", apiKey)
	}
	resp, err := cl.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", url, err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return string(b), resp
}

func TestTransportETagRevalidate304(t *testing.T) {
	var gotIfNoneMatch atomic.Value
	var hitCount atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitCount.Add(1)
		if inm := r.Header.Get("If-None-Match"); inm != "" {
			gotIfNoneMatch.Store(inm)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)

	cl := &http.Client{Transport: NewTransport(nil, Config{Enabled: true, MaxEntries: 32})}

	if b, _ := get(t, cl, srv.URL+"/service/list", "k"); b != "hello" {
		t.Fatalf("unexpected body: %q", b)
	}
	b, resp := get(t, cl, srv.URL+"/service/list", "k")
	if b != "hello" {
		t.Fatalf("expected cached body after 304, got %q", b)
	}
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Fatalf("expected cache hit header")
	}
	if v := gotIfNoneMatch.Load(); v == nil || v.(string) != `"v1"` {
		t.Fatalf("expected If-None-Match to be sent, got %v", v)
	}
	if n := hitCount.Load(); n != 2 {
		t.Fatalf("expected 2 server hits, got %d", n)
	}
}

func TestTransportCacheKeySeparatesAPIKeys(t *testing.T) {
	var hitCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitCount.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	cl := &http.Client{Transport: NewTransport(nil, Config{Enabled: true, TTL: time.Minute})}

	get(t, cl, srv.URL+"/service/list", "A")
	get(t, cl, srv.URL+"/service/list", "B")
	get(t, cl, srv.URL+"/service/list", "A")

	if n := hitCount.Load(); n != 2 {
		t.Fatalf("expected 2 server hits for 2 distinct keys, got %d", n)
	}
}

func TestTransportSkipsInferRequests(t *testing.T) {
	var hitCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitCount.Add(1)
		_, _ = w.Write([]byte(`{"state":"pending"}`))
	}))
	t.Cleanup(srv.Close)

	cl := &http.Client{Transport: NewTransport(nil, Config{Enabled: true, TTL: time.Minute})}
	get(t, cl, srv.URL+"/infer_request/abc", "k")
	get(t, cl, srv.URL+"/infer_request/abc", "k")

	if n := hitCount.Load(); n != 2 {
		t.Fatalf("infer request snapshots must not be cached, got %d hits", n)
	}
}

func TestTransportDoesNotCacheErrors(t *testing.T) {
	var hitCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hitCount.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	tr := NewTransport(nil, Config{Enabled: true, TTL: time.Minute})
	cl := &http.Client{Transport: tr}

	if _, resp := get(t, cl, srv.URL+"/service/whisper", "k"); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if b, _ := get(t, cl, srv.URL+"/service/whisper", "k"); b != "ok" {
		t.Fatalf("expected fresh body after error, got %q", b)
	}
	if n := tr.(*Transport).Cache().Len(); n != 1 {
		t.Fatalf("expected 1 cached entry, got %d", n)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var hitCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitCount.Add(1)
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	tr := NewTransport(nil, Config{Enabled: true, TTL: time.Minute, MaxEntries: 2})
	cl := &http.Client{Transport: tr}

	get(t, cl, srv.URL+"/service/a", "k")
	time.Sleep(2 * time.Millisecond)
	get(t, cl, srv.URL+"/service/b", "k")
	time.Sleep(2 * time.Millisecond)
	get(t, cl, srv.URL+"/service/a", "k")
	time.Sleep(2 * time.Millisecond)
	get(t, cl, srv.URL+"/service/c", "k")

	if n := tr.(*Transport).Cache().Len(); n != 2 {
		t.Fatalf("expected 2 cached entries, got %d", n)
	}
	if b, resp := get(t, cl, srv.URL+"/service/a", "k"); b != "/service/a" || resp.Header.Get("X-Cache") != "HIT" {
		t.Fatalf("recently used entry should survive eviction")
	}
	get(t, cl, srv.URL+"/service/b", "k")
	if n := hitCount.Load(); n != 4 {
		t.Fatalf("expected 4 upstream hits, got %d", n)
	}
}

func TestApplyEnvKeepsDefaults(t *testing.T) {
	_ = os.Unsetenv("THETA_MCP_HTTP_CACHE_ENABLED")
	_ = os.Unsetenv("THETA_MCP_HTTP_CACHE_TTL_SECONDS")
	cfg := Config{TTLSeconds: 60}.ApplyEnv().Normalize()
	if cfg.Enabled {
		t.Fatalf("expected disabled by default")
	}
	if cfg.TTL != 60*time.Second {
		t.Fatalf("expected default ttl 60s, got %s", cfg.TTL)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("THETA_MCP_HTTP_CACHE_ENABLED", "yes")
	t.Setenv("THETA_MCP_HTTP_CACHE_TTL_SECONDS", "5")
	t.Setenv("THETA_MCP_HTTP_CACHE_MAX_ENTRIES", "7")
	cfg := Config{TTLSeconds: 60}.ApplyEnv().Normalize()
	if !cfg.Enabled || cfg.TTL != 5*time.Second || cfg.MaxEntries != 7 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestDisabledReturnsBase(t *testing.T) {
	base := http.DefaultTransport
	if got := NewTransport(base, Config{}); got != base {
		t.Fatalf("expected base transport when disabled")
	}
}
