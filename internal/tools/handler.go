package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
	"github.com/golovatskygroup/edgecloud-mcp/internal/metrics"
	"github.com/golovatskygroup/edgecloud-mcp/internal/registry"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// API is the subset of the on-demand API the tools call.
type API interface {
	ListServices(ctx context.Context) ([]edgecloud.Service, error)
	GetService(ctx context.Context, idOrAlias string) (*edgecloud.Service, error)
	CreateInferRequest(ctx context.Context, serviceAlias string, p edgecloud.CreateInferRequestParams) (*edgecloud.InferRequest, error)
	GetInferRequest(ctx context.Context, id string) (*edgecloud.InferRequest, error)
	GetPresignedURLs(ctx context.Context, serviceAlias string, inputFields []string) (*edgecloud.PresignedURLResponse, error)
}

var errNoClient = errors.New("API client is not configured")

// Handler processes tool calls against the on-demand API.
type Handler struct {
	mu       sync.RWMutex
	api      API
	registry *registry.Registry
	log      zerolog.Logger
	catalog  singleflight.Group

	schemasOnce sync.Once
	schemas     toolSchemas
	schemasErr  error
}

// NewHandler creates a new tool handler. A nil registry gets the default categories.
func NewHandler(api API, reg *registry.Registry, log zerolog.Logger) *Handler {
	if reg == nil {
		reg = registry.NewRegistry()
	}
	return &Handler{api: api, registry: reg, log: log}
}

// SetAPI swaps the client used by subsequent calls.
func (h *Handler) SetAPI(api API) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.api = api
}

func (h *Handler) client() (API, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.api == nil {
		return nil, errNoClient
	}
	return h.api, nil
}

// Registry returns the category registry shared by all calls.
func (h *Handler) Registry() *registry.Registry {
	return h.registry
}

// BuiltinTools returns the tool surface in listing order.
func (h *Handler) BuiltinTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "list_services",
			Description: "List all available AI models and services on Theta EdgeCloud. Returns service names, descriptions, and input/output specifications.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"category": {"type": "string", "description": "Optional filter by category (e.g., \"image\", \"audio\", \"text\")"}
				},
				"required": []
			}`),
		},
		{
			Name:        "infer",
			Description: "Run AI inference on a Theta EdgeCloud model. Supports image generation, audio transcription, text generation, and more.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"service": {"type": "string", "description": "Service alias (e.g., \"whisper\", \"flux-1-schnell\", \"llama-3-1-8b\")"},
					"input": {"type": "object", "description": "Input parameters for the model (varies by service)", "additionalProperties": true},
					"wait": {"type": "number", "description": "Seconds to wait for result (0-60, default 30). Use 0 for async processing.", "minimum": 0, "maximum": 60, "default": 30},
					"prediction": {"type": "string", "description": "Specific prediction method if service has multiple (usually not needed)"},
					"variant": {"type": "string", "description": "Model variant to use (e.g., \"turbo\", \"large-v3\") if available"},
					"webhook": {"type": "string", "description": "Optional URL the API calls when the request finishes"}
				},
				"required": ["service", "input"]
			}`),
		},
		{
			Name:        "get_request_status",
			Description: "Check the status of an inference request. Use this to get results of async requests.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"request_id": {"type": "string", "description": "The inference request ID (returned from infer tool)"}
				},
				"required": ["request_id"]
			}`),
		},
		{
			Name:        "get_upload_url",
			Description: "Get a presigned URL to upload a file for inference. Use this when you need to upload a local file (audio, image, etc.) before running inference.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"service": {"type": "string", "description": "Service alias (e.g., \"whisper\", \"sdxl\")"},
					"input_field": {"type": "string", "description": "Which input field needs the file (e.g., \"audio_filename\", \"image\")"}
				},
				"required": ["service", "input_field"]
			}`),
		},
		{
			Name:        "describe_service",
			Description: "Show the full input/output specification of one service: predictions, variables with types and defaults, variants, and an example input.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"service": {"type": "string", "description": "Service alias or id (from list_services)"}
				},
				"required": ["service"]
			}`),
		},
	}
}

func (h *Handler) compiledSchemas() (toolSchemas, error) {
	h.schemasOnce.Do(func() {
		h.schemas, h.schemasErr = compileToolSchemas(h.BuiltinTools())
	})
	return h.schemas, h.schemasErr
}

// Handle runs one tool call. Failures are reported as error-flagged results;
// the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	callID := uuid.NewString()
	start := time.Now()

	res := h.dispatch(ctx, name, args)

	dur := time.Since(start)
	metrics.ObserveToolCall(name, res.IsError, dur)
	var ev *zerolog.Event
	if res.IsError {
		ev = h.log.Warn().Str("result", resultText(res))
	} else {
		ev = h.log.Info()
	}
	ev.Str("call_id", callID).
		Str("tool", name).
		Dur("duration", dur).
		Bool("is_error", res.IsError).
		Msg("tool call")
	return res, nil
}

func (h *Handler) dispatch(ctx context.Context, name string, args json.RawMessage) *mcp.CallToolResult {
	schemas, err := h.compiledSchemas()
	if err != nil {
		return errorResult(err.Error())
	}
	if _, ok := schemas[name]; !ok {
		return errorResult("Unknown tool: " + name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if err := schemas.check(name, args); err != nil {
		return errorResult("Invalid input: " + err.Error())
	}

	var text string
	switch name {
	case "list_services":
		text, err = h.listServices(ctx, args)
	case "infer":
		text, err = h.infer(ctx, args)
	case "get_request_status":
		text, err = h.getRequestStatus(ctx, args)
	case "get_upload_url":
		text, err = h.getUploadURL(ctx, args)
	case "describe_service":
		text, err = h.describeService(ctx, args)
	default:
		err = fmt.Errorf("Unknown tool: %s", name)
	}
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(text)
}

// decodeArgs unmarshals tool arguments, tagging failures as invalid input.
// Numbers inside free-form values stay json.Number so they are forwarded
// digit for digit.
func decodeArgs(args json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Invalid input: %w", err)
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + msg}}, IsError: true}
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(*mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}
