package fonts

import (
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"codesync/internal/markup"
	"codesync/internal/syntax"
)

// edit replaces src[start:end] with text.
type edit struct {
	start, end int
	text       string
	seq        int
}

type edits struct {
	list []edit
}

func (e *edits) replace(start, end int, text string) {
	e.list = append(e.list, edit{start: start, end: end, text: text, seq: len(e.list)})
}

func (e *edits) insert(at int, text string) { e.replace(at, at, text) }

func (e *edits) empty() bool { return len(e.list) == 0 }

// apply splices every edit into src. Inserts at the same offset land in
// the order they were recorded.
func (e *edits) apply(src string) string {
	sorted := make([]edit, len(e.list))
	copy(sorted, e.list)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start > sorted[j].start
		}
		return sorted[i].seq > sorted[j].seq
	})
	for _, ed := range sorted {
		src = src[:ed.start] + ed.text + src[ed.end:]
	}
	return src
}

// unquote returns the content of a string or substitution-free template
// literal node.
func unquote(doc *syntax.Document, n *tree_sitter.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	text := doc.Text(n)
	switch n.Kind() {
	case "string":
		return text[1 : len(text)-1], true
	case "template_string":
		if strings.Contains(text, "${") {
			return "", false
		}
		return text[1 : len(text)-1], true
	}
	return "", false
}

// stringsOf reads a string or an array of strings.
func stringsOf(doc *syntax.Document, n *tree_sitter.Node) []string {
	if n == nil {
		return nil
	}
	if s, ok := unquote(doc, n); ok {
		return []string{s}
	}
	if n.Kind() != "array" {
		return nil
	}
	var out []string
	for _, c := range syntax.NamedChildren(n) {
		if s, ok := unquote(doc, c); ok {
			out = append(out, s)
		}
	}
	return out
}

func keyText(doc *syntax.Document, n *tree_sitter.Node) string {
	if s, ok := unquote(doc, n); ok {
		return s
	}
	return doc.Text(n)
}

// members returns the named children of an object literal, comments
// excluded.
func members(obj *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for _, c := range syntax.NamedChildren(obj) {
		if c.Kind() != "comment" {
			out = append(out, c)
		}
	}
	return out
}

// property returns the pair keyed key in the object literal obj.
func property(doc *syntax.Document, obj *tree_sitter.Node, key string) *tree_sitter.Node {
	if obj == nil {
		return nil
	}
	for _, c := range members(obj) {
		if c.Kind() != "pair" {
			continue
		}
		if keyText(doc, c.ChildByFieldName("key")) == key {
			return c
		}
	}
	return nil
}

func value(pair *tree_sitter.Node) *tree_sitter.Node {
	if pair == nil {
		return nil
	}
	return pair.ChildByFieldName("value")
}

func objectValue(pair *tree_sitter.Node) *tree_sitter.Node {
	if v := value(pair); v != nil && v.Kind() == "object" {
		return v
	}
	return nil
}

// lineIndent returns the whitespace that starts the line holding offset.
func lineIndent(src string, offset int) string {
	start := strings.LastIndexByte(src[:offset], '\n') + 1
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return src[start:end]
}

// insertProperty adds key: value as the last member of obj. render receives
// the indentation of the new member.
func insertProperty(e *edits, doc *syntax.Document, obj *tree_sitter.Node, key string, render func(indent string) string) {
	src := string(doc.Source)
	ms := members(obj)
	if len(ms) == 0 {
		indent := lineIndent(src, int(obj.StartByte()))
		inner := indent + "  "
		e.replace(int(obj.StartByte()), int(obj.EndByte()), "{\n"+inner+propertyKey(key)+": "+render(inner)+",\n"+indent+"}")
		return
	}
	last := ms[len(ms)-1]
	if last.StartPosition().Row == obj.StartPosition().Row {
		indent := lineIndent(src, int(last.StartByte()))
		e.insert(int(last.EndByte()), ", "+propertyKey(key)+": "+render(indent))
		return
	}
	indent := lineIndent(src, int(last.StartByte()))
	e.insert(int(last.EndByte()), ",\n"+indent+propertyKey(key)+": "+render(indent))
}

// removeItem deletes a list member spanning src[start:end] together with
// its separator. A member alone on its line takes the line with it.
func removeItem(e *edits, src string, start, end int) {
	after := end
	for after < len(src) && (src[after] == ' ' || src[after] == '\t') {
		after++
	}
	comma := after < len(src) && src[after] == ','
	if comma {
		after++
	}

	ls := strings.LastIndexByte(src[:start], '\n') + 1
	if strings.TrimSpace(src[ls:start]) == "" {
		le := after
		for le < len(src) && (src[le] == ' ' || src[le] == '\t') {
			le++
		}
		if le == len(src) || src[le] == '\n' || src[le] == '\r' {
			if le < len(src) && src[le] == '\r' {
				le++
			}
			if le < len(src) && src[le] == '\n' {
				le++
			}
			e.replace(ls, le, "")
			return
		}
	}

	if comma {
		for after < len(src) && (src[after] == ' ' || src[after] == '\t') {
			after++
		}
		e.replace(start, after, "")
		return
	}
	before := start
	for before > 0 && (src[before-1] == ' ' || src[before-1] == '\t' || src[before-1] == '\n' || src[before-1] == '\r') {
		before--
	}
	if before > 0 && src[before-1] == ',' {
		e.replace(before-1, end, "")
		return
	}
	e.replace(start, end, "")
}

// removeStatement deletes the lines holding src[start:end]. A blank line
// left between two remaining blocks collapses into one.
func removeStatement(e *edits, src string, start, end int) {
	ls := strings.LastIndexByte(src[:start], '\n') + 1
	le := end
	if i := strings.IndexByte(src[end:], '\n'); i >= 0 && strings.TrimSpace(src[end:end+i]) == "" {
		le = end + i + 1
	}
	prevBlank := ls >= 2 && src[ls-1] == '\n' && strings.TrimSpace(lastLine(src[:ls-1])) == ""
	nextBlank := le == len(src) || strings.TrimSpace(firstLine(src[le:])) == ""
	if prevBlank && nextBlank && ls >= 1 {
		ls = strings.LastIndexByte(src[:ls-1], '\n') + 1
	}
	e.replace(ls, le, "")
}

func lastLine(s string) string {
	return s[strings.LastIndexByte(s, '\n')+1:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func propertyKey(key string) string {
	if isIdentifier(key) {
		return key
	}
	return markup.Quote(key)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func stringArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = markup.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// union appends the values of add missing from base.
func union(base, add []string) ([]string, bool) {
	seen := make(map[string]bool, len(base))
	for _, v := range base {
		seen[v] = true
	}
	out := append([]string(nil), base...)
	changed := false
	for _, v := range add {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
			changed = true
		}
	}
	return out, changed
}
