package bridge

import (
	"encoding/json"

	"codesync/internal/engine"
)

// JSON-RPC 2.0 Types

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Methods
const (
	MethodEncode     = "identity/encode"
	MethodDecode     = "identity/decode"
	MethodProcess    = "batch/process"
	MethodInstrument = "document/instrument"
	MethodDidOpen    = "document/didOpen"
	MethodDidChange  = "document/didChange"
	MethodDidClose   = "document/didClose"
	MethodShutdown   = "shutdown"
	MethodExit       = "exit"
)

type EncodeResult struct {
	Identifier string `json:"identifier"`
}

type DecodeParams struct {
	Identifier string `json:"identifier"`
}

type ProcessParams struct {
	Batch engine.Batch `json:"batch"`
	// Contents overrides open documents and workspace files.
	Contents map[string]string `json:"contents,omitempty"`
	Write    bool              `json:"write,omitempty"`
}

// Document Synchronization Types

type DocumentIdentifier struct {
	Path string `json:"path"`
}

type DocumentItem struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Text    string `json:"text"`
}

type VersionedDocumentIdentifier struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

type ContentChangeEvent struct {
	Text string `json:"text"`
}

type DidOpenParams struct {
	Document DocumentItem `json:"document"`
}

type DidChangeParams struct {
	Document       VersionedDocumentIdentifier `json:"document"`
	ContentChanges []ContentChangeEvent        `json:"contentChanges"`
}

type DidCloseParams struct {
	Document DocumentIdentifier `json:"document"`
}

type InstrumentParams struct {
	Document DocumentIdentifier `json:"document"`
}

type InstrumentResult struct {
	Text     string `json:"text"`
	Elements int    `json:"elements"`
}
