package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/golovatskygroup/edgecloud-mcp/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

const (
	Name    = "theta-edgecloud-on-demand-api"
	Version = "0.1.0"
)

// Server is the MCP front of the tool handler
type Server struct {
	mcp     *mcp.Server
	handler *tools.Handler
	log     zerolog.Logger
}

// New creates a server exposing every builtin tool of handler
func New(handler *tools.Handler, log zerolog.Logger) *Server {
	s := &Server{handler: handler, log: log}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    Name,
		Version: Version,
	}, &mcp.ServerOptions{
		Instructions: s.buildInstructions(),
	})

	for _, t := range handler.BuiltinTools() {
		tool := t
		s.mcp.AddTool(&tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handler.Handle(ctx, tool.Name, req.Params.Arguments)
		})
	}
	return s
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().
		Str("name", Name).
		Str("version", Version).
		Int("tools", len(s.handler.BuiltinTools())).
		Msg("Theta EdgeCloud On-Demand API MCP Server running")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

func (s *Server) buildInstructions() string {
	var sb strings.Builder
	sb.WriteString("Theta EdgeCloud On-Demand API: run hosted AI models (image generation, audio transcription, text generation, video).\n\n")
	sb.WriteString("Typical workflow:\n")
	sb.WriteString("1. list_services: discover models and their example inputs (optionally filter by category)\n")
	sb.WriteString("2. describe_service: inspect one model's inputs, outputs and variants\n")
	sb.WriteString("3. get_upload_url: get a presigned URL when a model needs a local file\n")
	sb.WriteString("4. infer: run the model; waits up to 60 seconds for the result\n")
	sb.WriteString("5. get_request_status: fetch the result of a request that was still processing\n\n")
	sb.WriteString("Categories:\n")

	for _, cat := range s.handler.Registry().ListCategories() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", cat.Name, cat.Description))
	}
	sb.WriteString("- other: everything else\n")
	return sb.String()
}
