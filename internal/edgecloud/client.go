package edgecloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golovatskygroup/edgecloud-mcp/internal/httpcache"
	"github.com/golovatskygroup/edgecloud-mcp/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://ondemand.thetaedgecloud.com"
	APIKeyHeader   = "x-theta-api-key"

	// MaxWait is the longest the API holds a submission open.
	MaxWait = 60
)

// Config holds what a Client needs to reach the API.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Cache   httpcache.Config
}

// Client talks to the on-demand inference API. It is safe for concurrent use
// and holds no state besides its configuration.
type Client struct {
	apiKey  string
	baseURL string
	c       *http.Client
	log     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (its transport is used as is).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.c = hc
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a client. The API key is required; an empty base URL selects
// DefaultBaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("edgecloud: api key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	cl := &Client{
		apiKey:  key,
		baseURL: base,
		c: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: httpcache.NewTransport(nil, cfg.Cache),
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// do sends one request and decodes the enveloped answer into out. route is
// the path template used for metrics and logs.
func (c *Client) do(ctx context.Context, method, route, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("edgecloud: encode %s request: %w", route, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "edgecloud-mcp")
	req.Header.Set(APIKeyHeader, c.apiKey)

	start := time.Now()
	resp, err := c.c.Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(route, method, 0, time.Since(start))
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	dur := time.Since(start)
	metrics.ObserveAPIRequest(route, method, resp.StatusCode, dur)
	c.log.Debug().
		Str("method", method).
		Str("route", route).
		Int("status", resp.StatusCode).
		Dur("duration", dur).
		Str("cache", resp.Header.Get("X-Cache")).
		Msg("api request")
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("edgecloud: decode %s response: %w", route, err)
	}
	return nil
}

// ListServices returns every service the API declares, public and internal.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var env envelope[serviceListBody]
	if err := c.do(ctx, http.MethodGet, "/service/list", "/service/list", nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Body.Services, nil
}

// GetService looks a service up by id or alias.
func (c *Client) GetService(ctx context.Context, idOrAlias string) (*Service, error) {
	idOrAlias = strings.TrimSpace(idOrAlias)
	if idOrAlias == "" {
		return nil, errors.New("service id or alias is required")
	}
	var env envelope[serviceListBody]
	if err := c.do(ctx, http.MethodGet, "/service/{id}", "/service/"+url.PathEscape(idOrAlias), nil, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Body.Services) == 0 {
		return nil, fmt.Errorf("service %q: %w", idOrAlias, ErrNotFound)
	}
	return &env.Body.Services[0], nil
}

// CreateInferRequest submits a job. With a positive Wait the API holds the
// response open until the job finishes or the wait elapses; no polling
// happens here.
func (c *Client) CreateInferRequest(ctx context.Context, serviceAlias string, p CreateInferRequestParams) (*InferRequest, error) {
	serviceAlias = strings.TrimSpace(serviceAlias)
	if serviceAlias == "" {
		return nil, errors.New("service alias is required")
	}

	q := url.Values{}
	if p.Wait != nil {
		q.Set("wait", strconv.Itoa(*p.Wait))
	}
	if p.Prediction != "" {
		q.Set("prediction", p.Prediction)
	}

	input := p.Input
	if input == nil {
		input = map[string]any{}
	}
	body := map[string]any{"input": input}
	if p.Variant != "" {
		body["variant"] = p.Variant
	}
	if p.Webhook != "" {
		body["webhook"] = p.Webhook
	}

	var env envelope[inferRequestBody]
	if err := c.do(ctx, http.MethodPost, "/infer_request/{alias}", "/infer_request/"+url.PathEscape(serviceAlias), q, body, &env); err != nil {
		return nil, err
	}
	if len(env.Body.InferRequests) == 0 {
		return nil, fmt.Errorf("infer request for %q: %w", serviceAlias, ErrNotFound)
	}
	return &env.Body.InferRequests[0], nil
}

// GetInferRequest fetches the current snapshot of a request.
func (c *Client) GetInferRequest(ctx context.Context, id string) (*InferRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("request id is required")
	}
	var env envelope[inferRequestBody]
	if err := c.do(ctx, http.MethodGet, "/infer_request/{id}", "/infer_request/"+url.PathEscape(id), nil, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Body.InferRequests) == 0 {
		return nil, fmt.Errorf("infer request %q: %w", id, ErrNotFound)
	}
	return &env.Body.InferRequests[0], nil
}

// GetPresignedURLs asks for one upload target per input field.
func (c *Client) GetPresignedURLs(ctx context.Context, serviceAlias string, inputFields []string) (*PresignedURLResponse, error) {
	serviceAlias = strings.TrimSpace(serviceAlias)
	if serviceAlias == "" {
		return nil, errors.New("service alias is required")
	}
	if inputFields == nil {
		inputFields = []string{}
	}
	var env envelope[PresignedURLResponse]
	path := "/infer_request/" + url.PathEscape(serviceAlias) + "/input_presigned_urls"
	if err := c.do(ctx, http.MethodPost, "/infer_request/{alias}/input_presigned_urls", path, nil, map[string]any{"input_fields": inputFields}, &env); err != nil {
		return nil, err
	}
	if env.Body.URLs == nil {
		env.Body.URLs = map[string]UploadTarget{}
	}
	return &env.Body, nil
}
