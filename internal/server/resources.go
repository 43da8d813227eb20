package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codesync/internal/journal"
)

const (
	guidelinesURI = "codesync://usage-guidelines"
	schemaPrefix  = "codesync://schemas/"
	batchPrefix   = "codesync://batches/"
)

func resourceText(uri, mimeType, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: text}},
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         guidelinesURI,
		Name:        "Usage Guidelines",
		Description: "How to identify elements and submit edit batches",
		MIMEType:    "text/markdown",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return resourceText(guidelinesURI, "text/markdown", s.systemPrompt), nil
	})

	// Schemas are recorded by addTool, so every registered tool has one.
	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: schemaPrefix + "{tool_name}",
		Name:        "Tool Schema",
		Description: "JSON schema for the named tool's arguments",
		MIMEType:    "application/schema+json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		schemaJSON, ok := s.schemas[strings.TrimPrefix(uri, schemaPrefix)]
		if !ok {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return resourceText(uri, "application/schema+json", schemaJSON), nil
	})

	if s.journal == nil {
		return
	}
	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: batchPrefix + "{batch_id}",
		Name:        "Batch Record",
		Description: "Diffs and failures of a recorded batch",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		res, err := s.journal.Get(ctx, strings.TrimPrefix(uri, batchPrefix))
		if errors.Is(err, journal.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, err
		}
		return resourceText(uri, "application/json", string(data)), nil
	})
}
