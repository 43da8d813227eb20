// Package server exposes the sync engine as an MCP server.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codesync/internal/config"
	"codesync/internal/engine"
	"codesync/internal/journal"
	"codesync/internal/workspace"
)

//go:embed guidelines.md
var guidelines string

// Options wires a Server to its collaborators. Journal and Workspace are
// optional.
type Options struct {
	Engine    *engine.Engine
	Journal   *journal.Journal
	Workspace *workspace.Workspace
	Config    *config.Config
	Logger    *slog.Logger
	Version   string
}

// Server is the MCP front end.
type Server struct {
	mcpServer    *mcp.Server
	engine       *engine.Engine
	journal      *journal.Journal
	workspace    *workspace.Workspace
	cfg          *config.Config
	logger       *slog.Logger
	systemPrompt string
	schemas      map[string]string
}

// New creates a Server with all tools and resources registered.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		engine:       opts.Engine,
		journal:      opts.Journal,
		workspace:    opts.Workspace,
		cfg:          opts.Config,
		logger:       opts.Logger,
		systemPrompt: guidelines,
		schemas:      make(map[string]string),
	}
	s.mcpServer = mcp.NewServer(&mcp.Implementation{Name: "codesync", Version: opts.Version}, &mcp.ServerOptions{
		Instructions: "Read codesync://usage-guidelines before editing.",
	})
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves MCP over stdin/stdout until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func textResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Failed to encode result: " + err.Error())
	}
	return textResult(string(jsonBytes))
}
