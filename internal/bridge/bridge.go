// Package bridge serves the sync engine to editor plugins over a
// Content-Length framed JSON-RPC stream, the framing language servers use.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"codesync/internal/engine"
	"codesync/internal/identity"
	"codesync/internal/transform"
	"codesync/internal/workspace"
)

// Options configures a Bridge. Workspace is optional.
type Options struct {
	Engine          *engine.Engine
	Workspace       *workspace.Workspace
	MarkerAttribute string
	Logger          *slog.Logger
}

type document struct {
	version int
	text    string
}

// Bridge answers requests read from one stream. Open documents shadow
// workspace files when a batch reads its sources.
type Bridge struct {
	opts Options

	mu   sync.Mutex
	docs map[string]document
}

// New creates a Bridge.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MarkerAttribute == "" {
		opts.MarkerAttribute = identity.MarkerAttribute
	}
	return &Bridge{opts: opts, docs: make(map[string]document)}
}

// Serve handles messages from r until EOF, an exit notification or ctx
// ends. Requests are answered in the order they arrive.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := ReadMessage(br)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &RPCError{Code: CodeParseError, Message: err.Error()}}
			if err := WriteMessage(w, resp); err != nil {
				return err
			}
			continue
		}
		if req.Method == MethodExit {
			return nil
		}

		result, rpcErr := b.handle(ctx, &req)
		if req.IsNotification() {
			if rpcErr != nil {
				b.opts.Logger.Warn("notification failed", "method", req.Method, "error", rpcErr.Message)
			}
			continue
		}
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
		if err := WriteMessage(w, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, req *Request) (any, *RPCError) {
	b.opts.Logger.Debug("bridge request", "method", req.Method)
	switch req.Method {
	case MethodEncode:
		var p identity.TemplateNode
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := identity.Encode(p)
		if err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		return EncodeResult{Identifier: id}, nil

	case MethodDecode:
		var p DecodeParams
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		node, err := identity.Decode(p.Identifier)
		if err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		return node, nil

	case MethodProcess:
		var p ProcessParams
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		return b.process(ctx, p)

	case MethodInstrument:
		var p InstrumentParams
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		contents, err := b.sources([]string{p.Document.Path})
		if err != nil {
			return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		text, ok := contents[p.Document.Path]
		if !ok {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "unknown document " + p.Document.Path}
		}
		out, n, err := transform.Instrument(p.Document.Path, text, b.opts.MarkerAttribute)
		if err != nil {
			return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		return InstrumentResult{Text: out, Elements: n}, nil

	case MethodDidOpen:
		var p DidOpenParams
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.docs[p.Document.Path] = document{version: p.Document.Version, text: p.Document.Text}
		b.mu.Unlock()
		return nil, nil

	case MethodDidChange:
		var p DidChangeParams
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		if len(p.ContentChanges) == 0 {
			return nil, nil
		}
		// Full-text sync: the last change holds the whole document.
		b.mu.Lock()
		b.docs[p.Document.Path] = document{version: p.Document.Version, text: p.ContentChanges[len(p.ContentChanges)-1].Text}
		b.mu.Unlock()
		return nil, nil

	case MethodDidClose:
		var p DidCloseParams
		if err := unmarshal(req.Params, &p); err != nil {
			return nil, err
		}
		b.mu.Lock()
		delete(b.docs, p.Document.Path)
		b.mu.Unlock()
		return nil, nil

	case MethodShutdown:
		return nil, nil
	}
	return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
}

func unmarshal(params json.RawMessage, v any) *RPCError {
	if len(params) == 0 {
		return &RPCError{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (b *Bridge) process(ctx context.Context, p ProcessParams) (any, *RPCError) {
	contents, err := b.sources(workspace.Sources(p.Batch))
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
	for path, text := range p.Contents {
		contents[path] = text
	}

	res := b.opts.Engine.Run(ctx, p.Batch, contents)
	if p.Write && len(res.Diffs) > 0 {
		if b.opts.Workspace == nil {
			return nil, &RPCError{Code: CodeInvalidRequest, Message: "no workspace open; cannot write", Data: res}
		}
		if err := b.opts.Workspace.Write(res.Diffs); err != nil {
			return nil, &RPCError{Code: CodeInternalError, Message: err.Error(), Data: res}
		}
	}
	return res, nil
}

// sources returns open documents, falling back to workspace files.
func (b *Bridge) sources(paths []string) (map[string]string, error) {
	contents := make(map[string]string, len(paths))
	var rest []string
	b.mu.Lock()
	for _, p := range paths {
		if doc, ok := b.docs[p]; ok {
			contents[p] = doc.text
		} else {
			rest = append(rest, p)
		}
	}
	b.mu.Unlock()

	if len(rest) == 0 || b.opts.Workspace == nil {
		return contents, nil
	}
	files, err := b.opts.Workspace.Read(rest)
	if err != nil {
		return nil, err
	}
	for p, text := range files {
		contents[p] = text
	}
	return contents, nil
}
