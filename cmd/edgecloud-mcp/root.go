package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/golovatskygroup/edgecloud-mcp/internal/config"
	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
	"github.com/golovatskygroup/edgecloud-mcp/internal/metrics"
	"github.com/golovatskygroup/edgecloud-mcp/internal/registry"
	"github.com/golovatskygroup/edgecloud-mcp/internal/server"
	"github.com/golovatskygroup/edgecloud-mcp/internal/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const dashboardURL = "https://www.thetaedgecloud.com/dashboard/api-keys"

type rootOptions struct {
	configPath  string
	baseURL     string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "edgecloud-mcp",
		Short:         "MCP server for the Theta EdgeCloud on-demand inference API",
		Long:          "Serves list_services, infer, get_request_status, get_upload_url and describe_service over MCP stdio.\nThe API key is read from THETA_API_KEY or the config file.",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	f := root.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to config file (.yaml, .yml, .json, .toml)")
	f.StringVar(&opts.baseURL, "base-url", "", "API base URL (defaults THETA_API_BASE_URL or "+edgecloud.DefaultBaseURL+")")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults THETA_MCP_LOG_LEVEL or info)")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json (defaults THETA_MCP_LOG_FORMAT or console)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (defaults THETA_MCP_METRICS_ADDR, empty disables)")

	root.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Print the tool definitions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tools.NewHandler(nil, nil, zerolog.Nop()).BuiltinTools())
		},
	})
	return root
}

// resolveConfig layers file, environment and explicitly set flags, in that order.
func resolveConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	if f.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.Logger(stderr)
	log.Info().
		Int("api_key_length", len(cfg.APIKey)).
		Str("base_url", cfg.BaseURL).
		Int("timeout_seconds", cfg.TimeoutSeconds).
		Bool("http_cache", cfg.HTTPCache.Enabled).
		Msg("configuration loaded")

	client, err := edgecloud.New(cfg.Client(), edgecloud.WithLogger(log))
	if err != nil {
		return err
	}
	handler := tools.NewHandler(client, registry.NewRegistry(), log)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	if err := server.New(handler, log).Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

type mcpServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

func printSetupGuidance(w io.Writer) {
	example := map[string]map[string]mcpServerEntry{
		"mcpServers": {
			"theta-edgecloud": {
				Command: "edgecloud-mcp",
				Args:    []string{},
				Env:     map[string]string{"THETA_API_KEY": "your-api-key-here"},
			},
		},
	}
	b, _ := json.MarshalIndent(example, "", "  ")

	fmt.Fprintf(w, "Error: %v\n\n", config.ErrMissingAPIKey)
	fmt.Fprintf(w, "Get your API key from: %s\n\n", dashboardURL)
	fmt.Fprintln(w, "Then set it in your MCP config:")
	fmt.Fprintln(w, string(b))
}
