package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/fingraph/internal/pipeline"
	"github.com/ziadkadry99/fingraph/internal/query"
	"github.com/ziadkadry99/fingraph/internal/schema"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes the financial graph to agents.
type Server struct {
	pipeline  *pipeline.Pipeline
	schema    *schema.Descriptor
	validator *query.Validator
	mcp       *server.MCPServer
}

// NewServer creates a new MCP server with the given dependencies.
func NewServer(p *pipeline.Pipeline, d *schema.Descriptor) *Server {
	s := &Server{
		pipeline:  p,
		schema:    d,
		validator: query.NewValidator(d),
	}

	s.mcp = server.NewMCPServer(
		"fingraph",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(askTool, s.handleAsk)
	s.mcp.AddTool(describeSchemaTool, s.handleDescribeSchema)
	s.mcp.AddTool(checkQueryTool, s.handleCheckQuery)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
