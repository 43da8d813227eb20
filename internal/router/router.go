// Package router groups edit requests by the file their target lives in.
package router

import (
	"errors"
	"log/slog"

	ignore "github.com/sabhiram/go-gitignore"

	"codesync/internal/identity"
	"codesync/internal/syntax"
	"codesync/internal/transform"
)

// FailureKind classifies a failure reported alongside a batch result.
type FailureKind string

const (
	KindDecode      FailureKind = "decode_error"
	KindParse       FailureKind = "parse_error"
	KindUnlocatable FailureKind = "unlocatable_node"
	KindConflict    FailureKind = "transform_conflict"
	KindMissing     FailureKind = "missing_source"
	KindProtected   FailureKind = "protected_path"
	KindSuperseded  FailureKind = "superseded"
	KindCanceled    FailureKind = "canceled"
)

// Failure is one request or file that could not be processed. Target is
// empty for file-level failures.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Path    string      `json:"path,omitempty"`
	Target  string      `json:"target,omitempty"`
	Message string      `json:"message"`
}

// Classify maps an error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, identity.ErrDecode):
		return KindDecode
	case errors.Is(err, syntax.ErrParse):
		return KindParse
	case errors.Is(err, transform.ErrUnlocatable):
		return KindUnlocatable
	default:
		return KindConflict
	}
}

// Group holds the effective requests for one file, in arrival order.
type Group struct {
	Path     string
	Requests []transform.Targeted
}

// Options configures a Router.
type Options struct {
	// Protect lists gitignore-style patterns of paths that must not be
	// edited.
	Protect []string
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Router decodes and groups requests.
type Router struct {
	opts    Options
	protect *ignore.GitIgnore
}

// New creates a Router.
func New(opts Options) *Router {
	opts.defaults()
	r := &Router{opts: opts}
	if len(opts.Protect) > 0 {
		r.protect = ignore.CompileIgnoreLines(opts.Protect...)
	}
	return r
}

// Protected reports whether path matches the protect list.
func (r *Router) Protected(path string) bool {
	return r.protect != nil && r.protect.MatchesPath(path)
}

// Route decodes every target and groups the requests by path, groups in
// order of first arrival. A request whose target fails to decode is
// reported and dropped. Several requests for the same target collapse to
// the last one, which keeps its own place in the arrival order.
func (r *Router) Route(requests []transform.Request) ([]*Group, []Failure) {
	last := make(map[string]int, len(requests))
	for i, req := range requests {
		last[req.Target] = i
	}

	var (
		groups   []*Group
		failures []Failure
		byPath   = make(map[string]*Group)
	)
	for i, req := range requests {
		if last[req.Target] != i {
			continue
		}
		node, err := identity.Decode(req.Target)
		if err != nil {
			failures = append(failures, Failure{Kind: KindDecode, Target: req.Target, Message: err.Error()})
			r.opts.Logger.Debug("dropping request", "op", req.Op, "error", err)
			continue
		}
		if r.Protected(node.Path) {
			failures = append(failures, Failure{
				Kind:    KindProtected,
				Path:    node.Path,
				Target:  req.Target,
				Message: "path is protected",
			})
			continue
		}
		g, ok := byPath[node.Path]
		if !ok {
			g = &Group{Path: node.Path}
			byPath[node.Path] = g
			groups = append(groups, g)
		}
		g.Requests = append(g.Requests, transform.Targeted{Request: req, Node: node})
	}
	return groups, failures
}

// Route groups requests without a protect list.
func Route(requests []transform.Request) ([]*Group, []Failure) {
	return New(Options{}).Route(requests)
}
