package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
	"github.com/golovatskygroup/edgecloud-mcp/internal/httpcache"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeoutSeconds = 90
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultCacheTTL       = 60
)

// ErrMissingAPIKey is returned by Validate when no API key was configured.
var ErrMissingAPIKey = errors.New("THETA_API_KEY environment variable is required")

// Config holds runtime parameters for the server.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	APIKey         string           `json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL        string           `json:"base_url" yaml:"base_url" toml:"base_url"`
	TimeoutSeconds int              `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	LogLevel       string           `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat      string           `json:"log_format" yaml:"log_format" toml:"log_format"`
	MetricsAddr    string           `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
	HTTPCache      httpcache.Config `json:"http_cache" yaml:"http_cache" toml:"http_cache"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Resolve loads the optional file at path and overlays the environment.
func Resolve(path string) (Config, error) {
	var cfg Config
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	return cfg.ApplyEnv(), nil
}

// ApplyEnv overlays set environment variables onto c.
func (c Config) ApplyEnv() Config {
	if v := strings.TrimSpace(os.Getenv("THETA_API_KEY")); v != "" {
		c.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("THETA_API_BASE_URL")); v != "" {
		c.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("THETA_MCP_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("THETA_MCP_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("THETA_MCP_LOG_FORMAT")); v != "" {
		c.LogFormat = v
	}
	if v, ok := os.LookupEnv("THETA_MCP_METRICS_ADDR"); ok {
		c.MetricsAddr = strings.TrimSpace(v)
	}
	c.HTTPCache = c.HTTPCache.ApplyEnv()
	return c
}

// WithDefaults fills every unspecified field.
func (c Config) WithDefaults() Config {
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.BaseURL == "" {
		c.BaseURL = edgecloud.DefaultBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.HTTPCache.TTLSeconds <= 0 && c.HTTPCache.TTL == 0 {
		c.HTTPCache.TTLSeconds = DefaultCacheTTL
	}
	c.HTTPCache = c.HTTPCache.Normalize()
	return c
}

// Validate reports the first problem that would stop the server from starting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", c.BaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base_url %q: must be an absolute http(s) URL", c.BaseURL)
	}
	if c.TimeoutSeconds <= edgecloud.MaxWait {
		return fmt.Errorf("timeout_seconds must exceed the %ds server-side wait, got %d", edgecloud.MaxWait, c.TimeoutSeconds)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q: want console or json", c.LogFormat)
	}
	return nil
}

// Client returns the API client settings.
func (c Config) Client() edgecloud.Config {
	return edgecloud.Config{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
		Cache:   c.HTTPCache,
	}
}

// Logger builds the process logger writing to w. Call after Validate.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if !strings.EqualFold(c.LogFormat, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
