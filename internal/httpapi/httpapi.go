// Package httpapi serves the sync engine over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codesync/internal/engine"
	"codesync/internal/identity"
	"codesync/internal/journal"
	"codesync/internal/transform"
	"codesync/internal/workspace"
)

const maxBody = 32 << 20

// Options wires a Service. Journal and Workspace are optional.
type Options struct {
	Engine          *engine.Engine
	Journal         *journal.Journal
	Workspace       *workspace.Workspace
	MarkerAttribute string
	Logger          *slog.Logger
}

// Service holds the HTTP handlers.
type Service struct {
	opts Options
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MarkerAttribute == "" {
		opts.MarkerAttribute = identity.MarkerAttribute
	}
	return &Service{opts: opts}
}

// BatchRequest is the body of POST /v1/batches.
type BatchRequest struct {
	Batch    engine.Batch      `json:"batch"`
	Contents map[string]string `json:"contents,omitempty"`
	Write    bool              `json:"write,omitempty"`
}

// InstrumentRequest is the body of POST /v1/instrument.
type InstrumentRequest struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// Handler returns the router with middleware applied.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the endpoints on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Post("/v1/batches", s.handleProcess)
	r.Get("/v1/batches", s.handleRecent)
	r.Get("/v1/batches/{batch_id}", s.handleBatch)
	r.Post("/v1/identifiers", s.handleEncode)
	r.Get("/v1/identifiers/{identifier}", s.handleDecode)
	r.Post("/v1/instrument", s.handleInstrument)
}

func (s *Service) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleProcess applies a batch.
// POST /v1/batches
func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}

	contents := req.Contents
	if contents == nil {
		if s.opts.Workspace == nil {
			writeError(w, http.StatusBadRequest, "contents required: no workspace open")
			return
		}
		var err error
		if contents, err = s.opts.Workspace.Read(workspace.Sources(req.Batch)); err != nil {
			s.opts.Logger.Error("Failed to read sources", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to read sources")
			return
		}
	}

	res := s.opts.Engine.Run(r.Context(), req.Batch, contents)
	if req.Write && len(res.Diffs) > 0 {
		if s.opts.Workspace == nil {
			writeError(w, http.StatusBadRequest, "write requested: no workspace open")
			return
		}
		if err := s.opts.Workspace.Write(res.Diffs); err != nil {
			s.opts.Logger.Error("Failed to write diffs", "batch_id", res.BatchID, "error", err)
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "result": res})
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRecent lists recorded batches.
// GET /v1/batches?limit=N
func (s *Service) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "batch journal is disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	list, err := s.opts.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.opts.Logger.Error("Failed to list batches", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list batches")
		return
	}
	if list == nil {
		list = []journal.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleBatch returns one recorded batch.
// GET /v1/batches/{batch_id}
func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "batch journal is disabled")
		return
	}
	res, err := s.opts.Journal.Get(r.Context(), chi.URLParam(r, "batch_id"))
	if errors.Is(err, journal.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.opts.Logger.Error("Failed to load batch", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEncode encodes an element location.
// POST /v1/identifiers
func (s *Service) handleEncode(w http.ResponseWriter, r *http.Request) {
	var node identity.TemplateNode
	if !decode(w, r, &node) {
		return
	}
	id, err := identity.Encode(node)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identifier": id})
}

// handleDecode decodes an identifier.
// GET /v1/identifiers/{identifier}
func (s *Service) handleDecode(w http.ResponseWriter, r *http.Request) {
	node, err := identity.Decode(chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleInstrument stamps identifiers on a file.
// POST /v1/instrument
func (s *Service) handleInstrument(w http.ResponseWriter, r *http.Request) {
	var req InstrumentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path required")
		return
	}
	content := req.Content
	if content == "" {
		if s.opts.Workspace == nil {
			writeError(w, http.StatusBadRequest, "content required: no workspace open")
			return
		}
		files, err := s.opts.Workspace.Read([]string{req.Path})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read file")
			return
		}
		c, ok := files[req.Path]
		if !ok {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		content = c
	}
	out, n, err := transform.Instrument(req.Path, content, s.opts.MarkerAttribute)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": out, "elements": n})
}
