package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"codesync/internal/engine"
	"codesync/internal/fonts"
	"codesync/internal/identity"
	"codesync/internal/inject"
	"codesync/internal/markup"
	"codesync/internal/position"
	"codesync/internal/transform"
	"codesync/internal/workspace"
)

// Arguments structs

type EncodeIdentifierArgs struct {
	Path     string        `json:"path" jsonschema:"Workspace-relative path of the file, with forward slashes"`
	StartTag position.Span `json:"start_tag" jsonschema:"Span of the opening tag; lines are 1-based, columns 0-based"`
	EndTag   position.Span `json:"end_tag" jsonschema:"Span of the closing tag; equal to the end of start_tag for self-closing elements"`
	Commit   string        `json:"commit,omitempty" jsonschema:"Revision of the file the spans refer to"`
}

type DecodeIdentifierArgs struct {
	Identifier string `json:"identifier" jsonschema:"The data-oid value to decode"`
}

type ProcessBatchArgs struct {
	Batch    engine.Batch      `json:"batch" jsonschema:"Mutations and declaration changes to apply"`
	Contents map[string]string `json:"contents,omitempty" jsonschema:"File contents keyed by path; read from the workspace when omitted"`
	Write    bool              `json:"write,omitempty" jsonschema:"Store generated files in the workspace"`
}

type InstrumentFileArgs struct {
	FilePath string `json:"file_path" jsonschema:"Workspace-relative path of the file to instrument"`
	Content  string `json:"content,omitempty" jsonschema:"File content; read from the workspace when omitted"`
}

type MergeFontArgs struct {
	File  string            `json:"file,omitempty" jsonschema:"Font module to edit; defaults to the configured fonts file"`
	Font  fonts.Declaration `json:"font" jsonschema:"The font declaration to add or merge"`
	Theme bool              `json:"theme,omitempty" jsonschema:"Also register the font variable in the theme fontFamily"`
	Write bool              `json:"write,omitempty" jsonschema:"Store generated files in the workspace"`
}

type RemoveFontArgs struct {
	File  string `json:"file,omitempty" jsonschema:"Font module to edit; defaults to the configured fonts file"`
	Name  string `json:"name" jsonschema:"Exported name of the font declaration"`
	Theme bool   `json:"theme,omitempty" jsonschema:"Also remove the theme fontFamily entry"`
	Write bool   `json:"write,omitempty" jsonschema:"Store generated files in the workspace"`
}

type EnsureScriptArgs struct {
	Path       string         `json:"path,omitempty" jsonschema:"Root layout file; defaults to the configured layout"`
	Marker     *inject.Marker `json:"marker,omitempty" jsonschema:"Script to keep present; defaults to the configured script"`
	Deprecated []string       `json:"deprecated,omitempty" jsonschema:"Patterns of script sources to remove"`
	Write      bool           `json:"write,omitempty" jsonschema:"Store generated files in the workspace"`
}

type BatchHistoryArgs struct {
	BatchID string `json:"batch_id,omitempty" jsonschema:"Return the full record of this batch"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Number of recent batches to list"`
}

// schemaFor infers the input schema of T. Element specs nest recursively,
// so they are described by a fixed schema.
func schemaFor[T any]() (*jsonschema.Schema, error) {
	element := &jsonschema.Schema{
		Type:        "object",
		Description: "Element to insert: tag, attributes [{name, value}], text, children",
		Required:    []string{"tag"},
		Properties: map[string]*jsonschema.Schema{
			"tag":        {Type: "string"},
			"text":       {Type: "string"},
			"attributes": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"children":   {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
		},
	}
	return jsonschema.For[T](&jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[markup.ElementSpec](): element,
		},
	})
}

func addTool[In any](s *Server, name, description string, h mcp.ToolHandlerFor[In, any]) {
	schema, err := schemaFor[In]()
	if err != nil {
		panic(fmt.Sprintf("schema for %s: %v", name, err))
	}
	if data, err := json.MarshalIndent(schema, "", "  "); err == nil {
		s.schemas[name] = string(data)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, h)
}

func (s *Server) registerTools() {
	addTool(s, "encode_identifier", "Encodes an element location into a data-oid identifier",
		func(ctx context.Context, req *mcp.CallToolRequest, args EncodeIdentifierArgs) (*mcp.CallToolResult, any, error) {
			id, err := identity.Encode(identity.TemplateNode{
				Path:     args.Path,
				StartTag: args.StartTag,
				EndTag:   args.EndTag,
				Commit:   args.Commit,
			})
			if err != nil {
				return errorResult(fmt.Sprintf("Encode failed: %v", err)), nil, nil
			}
			return textResult(id), nil, nil
		})

	addTool(s, "decode_identifier", "Decodes a data-oid identifier into the element location it names",
		func(ctx context.Context, req *mcp.CallToolRequest, args DecodeIdentifierArgs) (*mcp.CallToolResult, any, error) {
			node, err := identity.Decode(args.Identifier)
			if err != nil {
				return errorResult(fmt.Sprintf("Decode failed: %v", err)), nil, nil
			}
			return jsonResult(node), nil, nil
		})

	addTool(s, "process_batch", "Applies a batch of edits and returns one diff per changed file",
		func(ctx context.Context, req *mcp.CallToolRequest, args ProcessBatchArgs) (*mcp.CallToolResult, any, error) {
			res, err := s.run(ctx, args.Batch, args.Contents, args.Write)
			if err != nil {
				return errorResult(err.Error()), nil, nil
			}
			return jsonResult(res), nil, nil
		})

	addTool(s, "instrument_file", "Returns the file with an identifier stamped on every element",
		func(ctx context.Context, req *mcp.CallToolRequest, args InstrumentFileArgs) (*mcp.CallToolResult, any, error) {
			content := args.Content
			if content == "" {
				contents, err := s.read([]string{args.FilePath})
				if err != nil {
					return errorResult(err.Error()), nil, nil
				}
				c, ok := contents[args.FilePath]
				if !ok {
					return errorResult(fmt.Sprintf("File not found: %s", args.FilePath)), nil, nil
				}
				content = c
			}
			out, n, err := transform.Instrument(args.FilePath, content, s.cfg.MarkerAttribute)
			if err != nil {
				return errorResult(fmt.Sprintf("Instrument failed: %v", err)), nil, nil
			}
			s.logger.Debug("instrumented file", "path", args.FilePath, "elements", n)
			return textResult(out), nil, nil
		})

	addTool(s, "merge_font", "Adds a font declaration or merges it into an existing one",
		func(ctx context.Context, req *mcp.CallToolRequest, args MergeFontArgs) (*mcp.CallToolResult, any, error) {
			if err := args.Font.Validate(); err != nil {
				return errorResult(fmt.Sprintf("Invalid font: %v", err)), nil, nil
			}
			font := args.Font
			b := engine.Batch{Fonts: []engine.FontChange{{File: s.fontsFile(args.File), Add: &font}}}
			if args.Theme && font.Variable != "" {
				b.Themes = []engine.ThemeChange{{
					File: s.cfg.ThemeFile,
					Add:  &fonts.ThemeEntry{Key: font.Name, Values: []string{"var(" + font.Variable + ")"}},
				}}
			}
			res, err := s.run(ctx, b, nil, args.Write)
			if err != nil {
				return errorResult(err.Error()), nil, nil
			}
			return jsonResult(res), nil, nil
		})

	addTool(s, "remove_font", "Removes a font declaration and its unused import",
		func(ctx context.Context, req *mcp.CallToolRequest, args RemoveFontArgs) (*mcp.CallToolResult, any, error) {
			b := engine.Batch{Fonts: []engine.FontChange{{File: s.fontsFile(args.File), Remove: args.Name}}}
			if args.Theme {
				b.Themes = []engine.ThemeChange{{File: s.cfg.ThemeFile, Remove: args.Name}}
			}
			res, err := s.run(ctx, b, nil, args.Write)
			if err != nil {
				return errorResult(err.Error()), nil, nil
			}
			return jsonResult(res), nil, nil
		})

	addTool(s, "ensure_script", "Keeps a script element present in the root layout and drops deprecated ones",
		func(ctx context.Context, req *mcp.CallToolRequest, args EnsureScriptArgs) (*mcp.CallToolResult, any, error) {
			in := engine.Injection{Path: args.Path, Deprecated: args.Deprecated}
			if in.Path == "" {
				in.Path = s.cfg.Layout
			}
			switch {
			case args.Marker != nil:
				in.Marker = *args.Marker
			case s.cfg.Script != nil:
				in.Marker = *s.cfg.Script
				if in.Deprecated == nil {
					in.Deprecated = s.cfg.DeprecatedScripts
				}
			default:
				return errorResult("No script given and none configured"), nil, nil
			}
			res, err := s.run(ctx, engine.Batch{Injections: []engine.Injection{in}}, nil, args.Write)
			if err != nil {
				return errorResult(err.Error()), nil, nil
			}
			return jsonResult(res), nil, nil
		})

	addTool(s, "batch_history", "Lists recorded batches, or returns one batch in full",
		func(ctx context.Context, req *mcp.CallToolRequest, args BatchHistoryArgs) (*mcp.CallToolResult, any, error) {
			if s.journal == nil {
				return errorResult("Batch journal is disabled"), nil, nil
			}
			if args.BatchID != "" {
				res, err := s.journal.Get(ctx, args.BatchID)
				if err != nil {
					return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
				}
				return jsonResult(res), nil, nil
			}
			list, err := s.journal.Recent(ctx, args.Limit)
			if err != nil {
				return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
			}
			if len(list) == 0 {
				return textResult("No batches recorded."), nil, nil
			}
			return jsonResult(list), nil, nil
		})
}

func (s *Server) fontsFile(file string) string {
	if file != "" {
		return file
	}
	return s.cfg.FontsFile
}

func (s *Server) read(paths []string) (map[string]string, error) {
	if s.workspace == nil {
		return nil, fmt.Errorf("no workspace open; pass contents explicitly")
	}
	return s.workspace.Read(paths)
}

// run processes b against contents, or against the workspace files it
// touches when contents is nil, and writes the diffs back if asked.
func (s *Server) run(ctx context.Context, b engine.Batch, contents map[string]string, write bool) (*engine.Result, error) {
	if contents == nil {
		var err error
		if contents, err = s.read(workspace.Sources(b)); err != nil {
			return nil, err
		}
	}
	res := s.engine.Run(ctx, b, contents)
	if write && len(res.Diffs) > 0 {
		if s.workspace == nil {
			return nil, fmt.Errorf("no workspace open; cannot write")
		}
		if err := s.workspace.Write(res.Diffs); err != nil {
			return nil, fmt.Errorf("batch %s processed but not fully written: %w", res.BatchID, err)
		}
	}
	return res, nil
}
