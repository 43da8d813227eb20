// Package fonts maintains font declarations in a font module and the
// matching fontFamily entries in a tailwind-style theme config.
//
// Both files are edited through byte splices located with tree-sitter, so
// everything the merger does not touch keeps its formatting.
package fonts

import (
	"errors"
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"codesync/internal/syntax"
)

const (
	googleModule = "next/font/google"
	localModule  = "next/font/local"
)

var (
	// ErrConflict is returned when a change would leave two declarations
	// under one name or redefine a declaration as another kind of font.
	ErrConflict = errors.New("font declaration conflict")
	// ErrNoTheme is returned when a config file has no theme object.
	ErrNoTheme = errors.New("no theme object")
	// ErrUnsupported is returned for files that are not script modules.
	ErrUnsupported = errors.New("unsupported file")
)

// Kind tells which loader a declaration uses.
type Kind string

const (
	KindGoogle Kind = "google"
	KindLocal  Kind = "local"
)

// Source is one locator of a local font.
type Source struct {
	Path   string `json:"path" yaml:"path"`
	Weight string `json:"weight,omitempty" yaml:"weight,omitempty"`
	Style  string `json:"style,omitempty" yaml:"style,omitempty"`
}

// Declaration is an exported font constant such as
// `export const inter = Inter({ subsets: ["latin"] })`.
type Declaration struct {
	Name     string   `json:"name" yaml:"name"`
	Family   string   `json:"family,omitempty" yaml:"family,omitempty"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Weights  []string `json:"weights,omitempty" yaml:"weights,omitempty"`
	Styles   []string `json:"styles,omitempty" yaml:"styles,omitempty"`
	Subsets  []string `json:"subsets,omitempty" yaml:"subsets,omitempty"`
	Variable string   `json:"variable,omitempty" yaml:"variable,omitempty"`
	Sources  []Source `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Validate checks that d names what AddFont needs.
func (d Declaration) Validate() error {
	if !isIdentifier(d.Name) {
		return fmt.Errorf("invalid declaration name %q", d.Name)
	}
	switch d.Kind {
	case KindGoogle:
		if !isIdentifier(d.Family) {
			return fmt.Errorf("google font %s needs a family constructor, got %q", d.Name, d.Family)
		}
	case KindLocal:
		if len(d.Sources) == 0 {
			return fmt.Errorf("local font %s needs at least one source", d.Name)
		}
		for _, s := range d.Sources {
			if s.Path == "" {
				return fmt.Errorf("local font %s has a source without a path", d.Name)
			}
		}
	default:
		return fmt.Errorf("unknown font kind %q", d.Kind)
	}
	return nil
}

// binding is an imported name.
type binding struct {
	module   string
	imported string // "default" for a default import
	stmt     *tree_sitter.Node
	spec     *tree_sitter.Node
}

// found is a declaration together with the nodes it was read from.
type found struct {
	Declaration
	ctor    string
	stmt    *tree_sitter.Node
	args    *tree_sitter.Node
	object  *tree_sitter.Node
	single  bool // src is a single locator
	folded  bool // top-level weight/style were folded into the single source
	srcPair *tree_sitter.Node
}

type module struct {
	doc      *syntax.Document
	imports  map[string]binding
	stmts    []*tree_sitter.Node
	declared []*found
}

func open(file, src string) (*module, error) {
	if _, ok := syntax.LanguageFor(file); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, file)
	}
	doc, err := syntax.Parse(file, []byte(src))
	if err != nil {
		return nil, err
	}
	m := &module{doc: doc, imports: make(map[string]binding)}
	if err := m.readImports(); err != nil {
		doc.Close()
		return nil, err
	}
	if err := m.readDeclarations(); err != nil {
		doc.Close()
		return nil, err
	}
	return m, nil
}

func (m *module) close() { m.doc.Close() }

func (m *module) source() string { return string(m.doc.Source) }

func (m *module) readImports() error {
	matches, err := m.doc.Query("imports")
	if err != nil {
		return err
	}
	for _, match := range matches {
		stmt := match["import"]
		mod, _ := unquote(m.doc, match["source"])
		m.stmts = append(m.stmts, stmt)
		for _, c := range syntax.NamedChildren(stmt) {
			if c.Kind() != "import_clause" {
				continue
			}
			for _, part := range syntax.NamedChildren(c) {
				switch part.Kind() {
				case "identifier":
					m.imports[m.doc.Text(part)] = binding{module: mod, imported: "default", stmt: stmt, spec: part}
				case "named_imports":
					for _, spec := range syntax.NamedChildren(part) {
						if spec.Kind() != "import_specifier" {
							continue
						}
						name := m.doc.Text(spec.ChildByFieldName("name"))
						local := name
						if alias := spec.ChildByFieldName("alias"); alias != nil {
							local = m.doc.Text(alias)
						}
						m.imports[local] = binding{module: mod, imported: name, stmt: stmt, spec: spec}
					}
				}
			}
		}
	}
	return nil
}

func (m *module) readDeclarations() error {
	matches, err := m.doc.Query("declarations")
	if err != nil {
		return err
	}
	for _, match := range matches {
		ctor := m.doc.Text(match["ctor"])
		b, ok := m.imports[ctor]
		if !ok {
			continue
		}
		f := &found{ctor: ctor, stmt: match["decl"], args: match["args"]}
		f.Name = m.doc.Text(match["name"])
		switch b.module {
		case googleModule:
			f.Kind, f.Family = KindGoogle, b.imported
		case localModule:
			f.Kind = KindLocal
		default:
			continue
		}
		for _, a := range syntax.NamedChildren(match["args"]) {
			if a.Kind() == "object" {
				f.object = a
				break
			}
		}
		m.readOptions(f)
		m.declared = append(m.declared, f)
	}
	return nil
}

func (m *module) readOptions(f *found) {
	if f.object == nil {
		return
	}
	f.Weights = stringsOf(m.doc, value(property(m.doc, f.object, "weight")))
	f.Styles = stringsOf(m.doc, value(property(m.doc, f.object, "style")))
	f.Subsets = stringsOf(m.doc, value(property(m.doc, f.object, "subsets")))
	if v, ok := unquote(m.doc, value(property(m.doc, f.object, "variable"))); ok {
		f.Variable = v
	}
	if f.Kind != KindLocal {
		return
	}

	f.srcPair = property(m.doc, f.object, "src")
	v := value(f.srcPair)
	if path, ok := unquote(m.doc, v); ok {
		f.single = true
		s := Source{Path: path}
		if len(f.Weights) == 1 {
			s.Weight, f.folded = f.Weights[0], true
		}
		if len(f.Styles) == 1 {
			s.Style, f.folded = f.Styles[0], true
		}
		f.Sources = []Source{s}
		return
	}
	if v == nil || v.Kind() != "array" {
		return
	}
	for _, el := range syntax.NamedChildren(v) {
		if path, ok := unquote(m.doc, el); ok {
			f.Sources = append(f.Sources, Source{Path: path})
			continue
		}
		if el.Kind() != "object" {
			continue
		}
		var s Source
		s.Path, _ = unquote(m.doc, value(property(m.doc, el, "path")))
		s.Weight, _ = unquote(m.doc, value(property(m.doc, el, "weight")))
		s.Style, _ = unquote(m.doc, value(property(m.doc, el, "style")))
		f.Sources = append(f.Sources, s)
	}
}

func (m *module) lookup(name string) *found {
	for _, f := range m.declared {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Declarations lists the font declarations exported by a font module.
func Declarations(file, src string) ([]Declaration, error) {
	m, err := open(file, src)
	if err != nil {
		return nil, err
	}
	defer m.close()
	out := make([]Declaration, 0, len(m.declared))
	for _, f := range m.declared {
		out = append(out, f.Declaration)
	}
	return out, nil
}
