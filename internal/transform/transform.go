// Package transform applies structured edit requests to a markup tree.
package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"codesync/internal/identity"
	"codesync/internal/markup"
	"codesync/internal/position"
)

// Operation is the closed set of edits a request can carry.
type Operation string

const (
	OpSetAttribute   Operation = "set_attribute"
	OpAddClass       Operation = "add_class"
	OpReplaceClasses Operation = "replace_classes"
	OpRemoveElement  Operation = "remove_element"
	OpMoveElement    Operation = "move_element"
	OpInsertElement  Operation = "insert_element"
)

var (
	// ErrUnlocatable is returned when a request's target is not in the tree.
	ErrUnlocatable = errors.New("node not found")
	// ErrConflict is returned when an edit cannot be applied consistently.
	ErrConflict = errors.New("transform conflict")
)

// Destination places an element among the element children of Parent.
// Index counts element children only; an index past the end appends.
type Destination struct {
	Parent string `json:"parent,omitempty"`
	Index  int    `json:"index,omitempty"`
}

// Payload carries the operation arguments. Which fields are read depends on
// the operation.
type Payload struct {
	Name        string              `json:"name,omitempty"`
	Value       string              `json:"value,omitempty"`
	Classes     string              `json:"classes,omitempty"`
	Destination *Destination        `json:"destination,omitempty"`
	Element     *markup.ElementSpec `json:"element,omitempty"`
}

// Request is a single edit keyed by an encoded identifier. For
// insert_element the target is the destination parent unless the
// destination names one.
type Request struct {
	Target  string    `json:"target"`
	Op      Operation `json:"op"`
	Payload Payload   `json:"payload,omitzero"`
}

// Validate checks that the payload carries what the operation reads.
func (r Request) Validate() error {
	if r.Target == "" {
		return errors.New("missing target")
	}
	switch r.Op {
	case OpSetAttribute:
		if r.Payload.Name == "" {
			return errors.New("set_attribute needs a name")
		}
	case OpAddClass, OpReplaceClasses:
	case OpRemoveElement:
	case OpMoveElement:
		if r.Payload.Destination == nil || r.Payload.Destination.Parent == "" {
			return errors.New("move_element needs a destination parent")
		}
	case OpInsertElement:
		if r.Payload.Element == nil || r.Payload.Element.Tag == "" {
			return errors.New("insert_element needs an element with a tag")
		}
	default:
		return fmt.Errorf("unknown operation %q", r.Op)
	}
	return nil
}

// Targeted is a request together with its decoded target.
type Targeted struct {
	Request Request
	Node    identity.TemplateNode
}

// RequestError is the failure of one request.
type RequestError struct {
	Target string
	Op     Operation
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, short(e.Target), e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func short(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

// Options configures Apply.
type Options struct {
	// Commit is the revision of the parsed content. Requests pinned to
	// another revision are logged and still attempted.
	Commit string
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Apply runs requests against tree in ascending source order. Each request
// succeeds or fails on its own; a failed request leaves the tree untouched.
func Apply(tree *markup.Tree, requests []Targeted, opts Options) (int, []*RequestError) {
	opts.defaults()

	ordered := make([]Targeted, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		return position.Less(ordered[i].Node.StartTag.Start, ordered[j].Node.StartTag.Start)
	})

	applied := 0
	var failed []*RequestError
	for _, r := range ordered {
		if opts.Commit != "" && r.Node.Commit != "" && r.Node.Commit != opts.Commit {
			opts.Logger.Warn("stale identifier",
				"path", tree.Path, "target", short(r.Request.Target),
				"identifier_commit", r.Node.Commit, "current_commit", opts.Commit)
		}
		if err := apply(tree, r); err != nil {
			failed = append(failed, &RequestError{Target: r.Request.Target, Op: r.Request.Op, Err: err})
			opts.Logger.Debug("request failed", "path", tree.Path, "op", r.Request.Op, "error", err)
			continue
		}
		applied++
	}
	return applied, failed
}

func apply(tree *markup.Tree, r Targeted) error {
	if err := r.Request.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	id, err := Locate(tree, r.Node)
	if err != nil {
		return err
	}

	p := r.Request.Payload
	switch r.Request.Op {
	case OpSetAttribute:
		return setAttribute(tree, id, p.Name, p.Value)
	case OpAddClass:
		return addClasses(tree, id, p.Classes)
	case OpReplaceClasses:
		return replaceClasses(tree, id, p.Classes)
	case OpRemoveElement:
		return remove(tree, id)
	case OpMoveElement:
		parent, err := destination(tree, r.Node.Path, p.Destination.Parent)
		if err != nil {
			return err
		}
		return move(tree, id, parent, p.Destination.Index)
	case OpInsertElement:
		parent, index := id, 0
		if d := p.Destination; d != nil {
			index = d.Index
			if d.Parent != "" {
				if parent, err = destination(tree, r.Node.Path, d.Parent); err != nil {
					return err
				}
			}
		}
		return insert(tree, parent, index, *p.Element)
	}
	return fmt.Errorf("%w: unknown operation %q", ErrConflict, r.Request.Op)
}

func destination(tree *markup.Tree, path, target string) (markup.NodeID, error) {
	node, err := identity.Decode(target)
	if err != nil {
		return markup.None, fmt.Errorf("destination: %w", err)
	}
	if node.Path != path {
		return markup.None, fmt.Errorf("%w: destination %s is in another file", ErrConflict, node.Path)
	}
	id, err := Locate(tree, node)
	if err != nil {
		return markup.None, fmt.Errorf("destination: %w", err)
	}
	return id, nil
}

// Locate finds the attached element whose parsed open and close tags are
// exactly those of node. Spans are never shifted by edits, so every
// identifier taken from the parsed content keeps matching for the whole
// batch; anything else is stale and fails with ErrUnlocatable.
func Locate(tree *markup.Tree, node identity.TemplateNode) (markup.NodeID, error) {
	for id := markup.NodeID(0); int(id) < tree.Len(); id++ {
		n := tree.Node(id)
		if n.Synthetic() || (n.Kind != markup.KindElement && n.Kind != markup.KindFragment) {
			continue
		}
		if n.OpenTag != node.StartTag || n.CloseTag != node.EndTag {
			continue
		}
		if !tree.Attached(id) {
			return markup.None, fmt.Errorf("%w: element at %s was removed", ErrUnlocatable, node.StartTag.Start)
		}
		return id, nil
	}
	return markup.None, fmt.Errorf("%w: no element at %s in %s", ErrUnlocatable, node.StartTag, node.Path)
}

// ElementAt returns the innermost attached element whose span contains loc.
// It resolves a cursor position, not an identifier.
func ElementAt(tree *markup.Tree, loc position.Location) (markup.NodeID, error) {
	best := markup.None
	for _, id := range tree.Elements() {
		span := tree.Node(id).Span()
		if !span.Contains(loc) {
			continue
		}
		if best == markup.None || position.CompareSpans(span, tree.Node(best).Span()) > 0 {
			best = id
		}
	}
	if best == markup.None {
		return markup.None, fmt.Errorf("%w: no element at %s in %s", ErrUnlocatable, loc, tree.Path)
	}
	return best, nil
}
