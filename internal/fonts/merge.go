package fonts

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"codesync/internal/markup"
	"codesync/internal/syntax"
)

// AddFont declares decl in the font module src. An existing declaration of
// the same name is merged: local fonts gain the locators they lack, google
// fonts gain missing weights, styles and subsets. Merging what is already
// present returns src unchanged.
func AddFont(file, src string, decl Declaration) (string, error) {
	if err := decl.Validate(); err != nil {
		return "", err
	}
	m, err := open(file, src)
	if err != nil {
		return "", err
	}
	defer m.close()

	var e edits
	if f := m.lookup(decl.Name); f != nil {
		err = m.merge(&e, f, decl)
	} else {
		err = m.declare(&e, decl)
	}
	if err != nil {
		return "", err
	}
	if e.empty() {
		return src, nil
	}
	return e.apply(src), nil
}

// RemoveFont deletes the declaration named name. The import of its
// constructor goes too once no other declaration uses it. Removing an
// absent declaration is a no-op.
func RemoveFont(file, src, name string) (string, error) {
	m, err := open(file, src)
	if err != nil {
		return "", err
	}
	defer m.close()

	f := m.lookup(name)
	if f == nil {
		return src, nil
	}
	var e edits
	removeStatement(&e, src, int(f.stmt.StartByte()), int(f.stmt.EndByte()))

	for _, other := range m.declared {
		if other != f && other.ctor == f.ctor {
			return e.apply(src), nil
		}
	}
	m.unimport(&e, m.imports[f.ctor])
	return e.apply(src), nil
}

func (m *module) merge(e *edits, f *found, decl Declaration) error {
	if f.Kind != decl.Kind {
		return fmt.Errorf("%w: %s is a %s font, not %s", ErrConflict, f.Name, f.Kind, decl.Kind)
	}
	if f.object == nil {
		return fmt.Errorf("%w: %s has no options object", ErrConflict, f.Name)
	}

	if f.Kind == KindGoogle {
		if f.Family != decl.Family {
			return fmt.Errorf("%w: %s loads %s, not %s", ErrConflict, f.Name, f.Family, decl.Family)
		}
		for _, field := range []struct {
			key       string
			have, add []string
		}{
			{"subsets", f.Subsets, decl.Subsets},
			{"weight", f.Weights, decl.Weights},
			{"style", f.Styles, decl.Styles},
		} {
			if merged, changed := union(field.have, field.add); changed {
				arr := stringArray(merged)
				m.setProperty(e, f.object, field.key, func(string) string { return arr })
			}
		}
	} else {
		list := append([]Source(nil), f.Sources...)
		for _, s := range decl.Sources {
			if !containsSource(list, s) {
				list = append(list, s)
			}
		}
		if len(list) > len(f.Sources) {
			m.setProperty(e, f.object, "src", func(indent string) string { return renderSources(list, indent) })
			if f.single && f.folded {
				// The folded weight and style now live on the first source.
				for _, key := range []string{"weight", "style"} {
					if p := property(m.doc, f.object, key); p != nil {
						removeItem(e, m.source(), int(p.StartByte()), int(p.EndByte()))
					}
				}
			}
		}
	}

	if f.Variable == "" && decl.Variable != "" {
		v := markup.Quote(decl.Variable)
		m.setProperty(e, f.object, "variable", func(string) string { return v })
	}
	return nil
}

func containsSource(list []Source, s Source) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}

func (m *module) setProperty(e *edits, obj *tree_sitter.Node, key string, render func(indent string) string) {
	if p := property(m.doc, obj, key); p != nil {
		v := value(p)
		e.replace(int(v.StartByte()), int(v.EndByte()), render(lineIndent(m.source(), int(p.StartByte()))))
		return
	}
	insertProperty(e, m.doc, obj, key, render)
}

func (m *module) declare(e *edits, decl Declaration) error {
	var ctor string
	var err error
	switch decl.Kind {
	case KindGoogle:
		ctor, err = m.ensureImport(e, googleModule, decl.Family)
	case KindLocal:
		ctor, err = m.ensureImport(e, localModule, "default")
	}
	if err != nil {
		return err
	}

	src := m.source()
	text := renderDeclaration(ctor, decl) + "\n"
	switch {
	case src == "" || strings.HasSuffix(src, "\n"):
		text = "\n" + text
	default:
		text = "\n\n" + text
	}
	e.insert(len(src), text)
	return nil
}

// ensureImport returns the local name bound to imported from mod, adding
// the import when it is missing.
func (m *module) ensureImport(e *edits, mod, imported string) (string, error) {
	for local, b := range m.imports {
		if b.module == mod && b.imported == imported {
			return local, nil
		}
	}

	local := imported
	if imported == "default" {
		local = "localFont"
	}
	if b, ok := m.imports[local]; ok {
		return "", fmt.Errorf("%w: %s is already imported from %s", ErrConflict, local, b.module)
	}

	if imported != "default" {
		for _, stmt := range m.stmts {
			if named := namedImports(stmt); named != nil && m.moduleOf(stmt) == mod {
				specs := importSpecifiers(named)
				if len(specs) > 0 {
					e.insert(int(specs[len(specs)-1].EndByte()), ", "+imported)
				} else {
					e.replace(int(named.StartByte()), int(named.EndByte()), "{ "+imported+" }")
				}
				return local, nil
			}
		}
	}

	line := fmt.Sprintf("import { %s } from %s;", imported, markup.Quote(mod))
	if imported == "default" {
		line = fmt.Sprintf("import %s from %s;", local, markup.Quote(mod))
	}
	if n := len(m.stmts); n > 0 {
		e.insert(int(m.stmts[n-1].EndByte()), "\n"+line)
		return local, nil
	}
	if len(m.doc.Source) > 0 {
		line += "\n"
	}
	e.insert(0, line+"\n")
	return local, nil
}

func (m *module) moduleOf(stmt *tree_sitter.Node) string {
	mod, _ := unquote(m.doc, stmt.ChildByFieldName("source"))
	return mod
}

func namedImports(stmt *tree_sitter.Node) *tree_sitter.Node {
	for _, c := range syntax.NamedChildren(stmt) {
		if c.Kind() != "import_clause" {
			continue
		}
		for _, part := range syntax.NamedChildren(c) {
			if part.Kind() == "named_imports" {
				return part
			}
		}
	}
	return nil
}

func importSpecifiers(named *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for _, c := range syntax.NamedChildren(named) {
		if c.Kind() == "import_specifier" {
			out = append(out, c)
		}
	}
	return out
}

// unimport drops b from its import statement, or the statement itself when
// b is its only binding.
func (m *module) unimport(e *edits, b binding) {
	if b.stmt == nil {
		return
	}
	count := 0
	for _, other := range m.imports {
		if other.stmt != nil && other.stmt.StartByte() == b.stmt.StartByte() {
			count++
		}
	}
	src := m.source()
	if count <= 1 {
		removeStatement(e, src, int(b.stmt.StartByte()), int(b.stmt.EndByte()))
		return
	}
	removeItem(e, src, int(b.spec.StartByte()), int(b.spec.EndByte()))
}

func renderDeclaration(ctor string, d Declaration) string {
	var fields []string
	if d.Kind == KindLocal {
		fields = append(fields, "src: "+renderSources(d.Sources, "  "))
	}
	if len(d.Subsets) > 0 {
		fields = append(fields, "subsets: "+stringArray(d.Subsets))
	}
	if len(d.Weights) > 0 {
		fields = append(fields, "weight: "+stringArray(d.Weights))
	}
	if len(d.Styles) > 0 {
		fields = append(fields, "style: "+stringArray(d.Styles))
	}
	if d.Variable != "" {
		fields = append(fields, "variable: "+markup.Quote(d.Variable))
	}

	head := fmt.Sprintf("export const %s = %s(", d.Name, ctor)
	if len(fields) == 0 {
		return head + "{});"
	}
	var b strings.Builder
	b.WriteString(head + "{\n")
	for _, f := range fields {
		b.WriteString("  " + f + ",\n")
	}
	b.WriteString("});")
	return b.String()
}

func renderSources(list []Source, indent string) string {
	var b strings.Builder
	b.WriteString("[\n")
	for _, s := range list {
		parts := []string{"path: " + markup.Quote(s.Path)}
		if s.Weight != "" {
			parts = append(parts, "weight: "+markup.Quote(s.Weight))
		}
		if s.Style != "" {
			parts = append(parts, "style: "+markup.Quote(s.Style))
		}
		b.WriteString(indent + "  { " + strings.Join(parts, ", ") + " },\n")
	}
	b.WriteString(indent + "]")
	return b.String()
}
