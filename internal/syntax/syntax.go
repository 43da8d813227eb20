// Package syntax wraps the tree-sitter grammars used for component source:
// grammar selection by file extension, parsing, syntax error reporting and
// the query table.
package syntax

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"codesync/internal/position"
)

// Language names a grammar.
type Language string

const (
	TSX        Language = "tsx"
	TypeScript Language = "typescript"
	JavaScript Language = "javascript"
)

var extensions = map[string]Language{
	".tsx": TSX,
	".ts":  TypeScript,
	".mts": TypeScript,
	".cts": TypeScript,
	".jsx": JavaScript,
	".js":  JavaScript,
	".mjs": JavaScript,
	".cjs": JavaScript,
}

// ErrParse matches every *ParseError.
var ErrParse = errors.New("syntax error")

// ParseError reports the first syntax error found in a file.
type ParseError struct {
	Path     string
	Location position.Location
	Near     string
}

func (e *ParseError) Error() string {
	if e.Near != "" {
		return fmt.Sprintf("%s:%s: syntax error near %q", e.Path, e.Location, e.Near)
	}
	return fmt.Sprintf("%s:%s: syntax error", e.Path, e.Location)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// LanguageFor returns the grammar for fileName.
func LanguageFor(fileName string) (Language, bool) {
	lang, ok := extensions[strings.ToLower(filepath.Ext(fileName))]
	return lang, ok
}

// HasMarkup reports whether the grammar accepts JSX.
func (l Language) HasMarkup() bool {
	return l == TSX || l == JavaScript
}

func (l Language) grammar() *tree_sitter.Language {
	switch l {
	case TSX:
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())
	case TypeScript:
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	default:
		return tree_sitter.NewLanguage(tree_sitter_javascript.Language())
	}
}

// Document is a parsed source file. Nodes obtained from it are valid until
// Close.
type Document struct {
	Path   string
	Lang   Language
	Source []byte
	tree   *tree_sitter.Tree
}

// Parse parses src with the grammar selected by path. It returns (nil, nil)
// when the extension has no grammar.
func Parse(path string, src []byte) (*Document, error) {
	lang, ok := LanguageFor(path)
	if !ok {
		return nil, nil
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang.grammar()); err != nil {
		return nil, fmt.Errorf("set %s grammar: %w", lang, err)
	}

	// The C parser must not see the caller's buffer.
	buf := make([]byte, len(src))
	copy(buf, src)

	tree := parser.Parse(buf, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse %s: parser returned no tree", path)
	}
	doc := &Document{Path: path, Lang: lang, Source: buf, tree: tree}

	root := tree.RootNode()
	if root.HasError() {
		perr := &ParseError{Path: path, Location: Loc(root.StartPosition())}
		if bad := firstError(root); bad != nil {
			perr.Location = Loc(bad.StartPosition())
			perr.Near = near(doc.Text(bad))
		}
		doc.Close()
		return nil, perr
	}
	return doc, nil
}

// Root returns the root node of the syntax tree.
func (d *Document) Root() *tree_sitter.Node {
	return d.tree.RootNode()
}

// Close releases the syntax tree.
func (d *Document) Close() {
	if d.tree != nil {
		d.tree.Close()
		d.tree = nil
	}
}

// Text returns the source text of n.
func (d *Document) Text(n *tree_sitter.Node) string {
	return string(d.Source[n.StartByte():n.EndByte()])
}

// Match maps capture names to the captured nodes.
type Match map[string]*tree_sitter.Node

// Query runs the named query from Queries over the whole document.
func (d *Document) Query(name string) ([]Match, error) {
	src, ok := Queries[name]
	if !ok {
		return nil, fmt.Errorf("unknown query %q", name)
	}
	q, qerr := tree_sitter.NewQuery(d.Lang.grammar(), src)
	if qerr != nil {
		return nil, fmt.Errorf("compile %s query for %s: %v", name, d.Lang, qerr)
	}
	defer q.Close()

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	names := q.CaptureNames()
	var out []Match
	matches := qc.Matches(q, d.Root(), d.Source)
	for m := matches.Next(); m != nil; m = matches.Next() {
		match := make(Match, len(m.Captures))
		for _, c := range m.Captures {
			n := c.Node
			match[names[c.Index]] = &n
		}
		out = append(out, match)
	}
	return out, nil
}

// Loc converts a tree-sitter point to a Location.
func Loc(p tree_sitter.Point) position.Location {
	return position.Location{Line: int(p.Row) + 1, Column: int(p.Column)}
}

// SpanOf returns the span of n.
func SpanOf(n *tree_sitter.Node) position.Span {
	return position.Span{Start: Loc(n.StartPosition()), End: Loc(n.EndPosition())}
}

// Children returns the direct children of n, named or not.
func Children(n *tree_sitter.Node) []*tree_sitter.Node {
	count := n.ChildCount()
	out := make([]*tree_sitter.Node, 0, count)
	for i := uint(0); i < count; i++ {
		if c := n.Child(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// NamedChildren returns the named children of n.
func NamedChildren(n *tree_sitter.Node) []*tree_sitter.Node {
	count := n.NamedChildCount()
	out := make([]*tree_sitter.Node, 0, count)
	for i := uint(0); i < count; i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func firstError(n *tree_sitter.Node) *tree_sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for _, c := range Children(n) {
		if c.HasError() || c.IsMissing() {
			if bad := firstError(c); bad != nil {
				return bad
			}
		}
	}
	return nil
}

func near(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
