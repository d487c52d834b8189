package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// RecordedRequest is one call observed by FakeAPI.
// RawBody keeps the body as sent; Body is its decoded form.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   url.Values
	APIKey  string
	Body    map[string]any
	RawBody []byte
}

type failure struct {
	status int
	body   string
}

// SubmitFunc decides the infer request returned for a submission. The
// returned map is stored and can be fetched later by its "id".
type SubmitFunc func(alias string, query url.Values, body map[string]any) map[string]any

// FakeAPI emulates the on-demand inference API over httptest.
type FakeAPI struct {
	*httptest.Server
	APIKey string

	mu       sync.Mutex
	services []map[string]any
	requests map[string]map[string]any
	uploads  map[string]map[string]bool
	failures map[string]failure
	submit   SubmitFunc
	recorded []RecordedRequest
	seq      int
}

// NewFakeAPI starts a fake that accepts only apiKey. It is closed on test cleanup.
func NewFakeAPI(t testing.TB, apiKey string) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		APIKey:   apiKey,
		requests: map[string]map[string]any{},
		uploads:  map[string]map[string]bool{},
		failures: map[string]failure{},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeAPI) AddService(svc map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = append(f.services, svc)
}

// PutInferRequest stores (or replaces) a request snapshot keyed by its "id".
func (f *FakeAPI) PutInferRequest(req map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[fmt.Sprint(req["id"])] = req
}

func (f *FakeAPI) OnSubmit(fn SubmitFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submit = fn
}

// AllowUpload makes the presigned URL endpoint answer for these fields.
func (f *FakeAPI) AllowUpload(alias string, fields ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads[alias] == nil {
		f.uploads[alias] = map[string]bool{}
	}
	for _, fl := range fields {
		f.uploads[alias][fl] = true
	}
}

// FailPath answers every request to path with status and body.
func (f *FakeAPI) FailPath(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = failure{status: status, body: body}
}

func (f *FakeAPI) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.recorded...)
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	var (
		raw  []byte
		body map[string]any
	)
	if r.Body != nil {
		raw, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.recorded = append(f.recorded, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		APIKey:  r.Header.Get("x-theta-api-key"),
		Body:    body,
		RawBody: raw,
	})

	if r.Header.Get("x-theta-api-key") != f.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "invalid api key"})
		return
	}
	if fl, ok := f.failures[r.URL.Path]; ok {
		w.WriteHeader(fl.status)
		_, _ = w.Write([]byte(fl.body))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "service" && parts[1] == "list":
		f.ok(w, map[string]any{
			"services":   f.services,
			"pagination": map[string]any{"page": 0, "number": len(f.services), "total": len(f.services)},
		})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "service":
		matched := []map[string]any{}
		for _, s := range f.services {
			if s["id"] == parts[1] || s["alias"] == parts[1] {
				matched = append(matched, s)
				break
			}
		}
		f.ok(w, map[string]any{"services": matched})
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "infer_request" && parts[2] == "input_presigned_urls":
		alias := parts[1]
		urls := map[string]any{}
		fields, _ := body["input_fields"].([]any)
		for _, fv := range fields {
			name, _ := fv.(string)
			if f.uploads[alias][name] {
				urls[name] = map[string]any{
					"upload_url": f.Server.URL + "/upload/" + alias + "/" + name,
					"filename":   alias + "-" + name + ".bin",
				}
			}
		}
		f.ok(w, map[string]any{"urls": urls})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "infer_request":
		f.seq++
		var req map[string]any
		if f.submit != nil {
			req = f.submit(parts[1], r.URL.Query(), body)
		}
		if req == nil {
			req = map[string]any{"state": "pending"}
		}
		if _, ok := req["id"]; !ok {
			req["id"] = fmt.Sprintf("infr_%04d", f.seq)
		}
		if _, ok := req["create_time"]; !ok {
			req["create_time"] = "2026-01-02T03:04:05Z"
			req["update_time"] = "2026-01-02T03:04:05Z"
		}
		f.requests[fmt.Sprint(req["id"])] = req
		f.ok(w, map[string]any{"infer_requests": []any{req}})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "infer_request":
		list := []any{}
		if req, ok := f.requests[parts[1]]; ok {
			list = append(list, req)
		}
		f.ok(w, map[string]any{"infer_requests": list})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "error": "route not found"})
	}
}

func (f *FakeAPI) ok(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "body": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServiceFixture builds a service payload with a single "default" prediction.
func ServiceFixture(alias, name, state, instructions string, inputVars map[string]any, variants ...string) map[string]any {
	pred := map[string]any{
		"rank":         1,
		"func_type":    "infer",
		"instructions": instructions,
		"cost":         1,
		"cost_divisor": 1,
		"input_vars":   inputVars,
		"output_vars":  map[string]any{"text": map[string]any{"type": "string"}},
	}
	if len(variants) > 0 {
		pred["variants"] = variants
	}
	return map[string]any{
		"id":                 "svc_" + alias,
		"alias":              alias,
		"name":               name,
		"state":              state,
		"default_prediction": "default",
		"predictions":        map[string]any{"default": pred},
	}
}
