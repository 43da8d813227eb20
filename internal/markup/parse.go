package markup

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"codesync/internal/position"
	"codesync/internal/syntax"
)

// Supported reports whether fileName can carry markup.
func Supported(fileName string) bool {
	lang, ok := syntax.LanguageFor(fileName)
	return ok && lang.HasMarkup()
}

// Parse builds a Tree from content. It returns (nil, nil) for files that
// cannot carry markup; callers pass those through untouched. Syntax errors
// are reported as *syntax.ParseError.
func Parse(fileName, content string) (*Tree, error) {
	if !Supported(fileName) {
		return nil, nil
	}
	doc, err := syntax.Parse(fileName, []byte(content))
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	b := &builder{doc: doc, t: &Tree{Path: fileName, src: content}}
	root := b.t.add(&Node{Kind: KindDocument, Parent: None, start: 0, end: len(content)})
	b.embedded(root, doc.Root())
	return b.t, nil
}

type builder struct {
	doc *syntax.Document
	t   *Tree
}

func isElement(kind string) bool {
	return kind == "jsx_element" || kind == "jsx_self_closing_element"
}

// embedded attaches every outermost element below ts to parent, which is a
// document or an expression node.
func (b *builder) embedded(parent NodeID, ts *tree_sitter.Node) {
	for _, c := range syntax.Children(ts) {
		if isElement(c.Kind()) {
			b.attach(parent, b.element(c))
			continue
		}
		b.embedded(parent, c)
	}
}

func (b *builder) attach(parent, id NodeID) {
	p := b.t.nodes[parent]
	n := b.t.nodes[id]
	n.Parent = parent
	prev := p.start
	if p.Kind == KindElement || p.Kind == KindFragment {
		prev = p.openEnd
	}
	if len(p.Children) > 0 {
		prev = b.t.nodes[p.Children[len(p.Children)-1]].end
	}
	n.gap = b.t.src[prev:n.start]
	p.Children = append(p.Children, id)
}

func (b *builder) element(ts *tree_sitter.Node) NodeID {
	n := &Node{
		Kind:   KindElement,
		Parent: None,
		start:  int(ts.StartByte()),
		end:    int(ts.EndByte()),
	}
	id := b.t.add(n)

	open := ts
	if ts.Kind() == "jsx_self_closing_element" {
		n.selfClosing = true
	} else if o := ts.ChildByFieldName("open_tag"); o != nil {
		open = o
	}
	n.openStart, n.openEnd = int(open.StartByte()), int(open.EndByte())
	n.OpenTag = syntax.SpanOf(open)

	name := open.ChildByFieldName("name")
	if name != nil {
		n.Tag = b.doc.Text(name)
		n.attrInsert = int(name.EndByte())
	} else {
		n.Kind = KindFragment
		n.attrInsert = n.openStart + 1
	}
	b.attributes(id, open)

	if n.selfClosing {
		n.closeStart, n.closeEnd = n.openEnd, n.openEnd
		n.CloseTag = position.Span{Start: n.OpenTag.End, End: n.OpenTag.End}
		return id
	}

	n.closeStart, n.closeEnd = n.end, n.end
	n.CloseTag = position.Span{Start: syntax.Loc(ts.EndPosition()), End: syntax.Loc(ts.EndPosition())}
	if c := ts.ChildByFieldName("close_tag"); c != nil {
		n.closeStart, n.closeEnd = int(c.StartByte()), int(c.EndByte())
		n.CloseTag = syntax.SpanOf(c)
	}

	for _, c := range syntax.Children(ts) {
		switch c.Kind() {
		case "jsx_opening_element", "jsx_closing_element":
			continue
		case "jsx_element", "jsx_self_closing_element":
			b.attach(id, b.element(c))
		case "jsx_expression":
			b.attach(id, b.expression(c))
		default:
			b.attach(id, b.text(c))
		}
	}

	last := n.openEnd
	if len(n.Children) > 0 {
		last = b.t.nodes[n.Children[len(n.Children)-1]].end
	}
	n.tail = b.t.src[last:n.closeStart]
	return id
}

func (b *builder) expression(ts *tree_sitter.Node) NodeID {
	n := &Node{
		Kind:   KindExpression,
		Parent: None,
		Text:   b.doc.Text(ts),
		start:  int(ts.StartByte()),
		end:    int(ts.EndByte()),
	}
	id := b.t.add(n)
	b.embedded(id, ts)
	return id
}

func (b *builder) text(ts *tree_sitter.Node) NodeID {
	return b.t.add(&Node{
		Kind:   KindText,
		Parent: None,
		Text:   b.doc.Text(ts),
		start:  int(ts.StartByte()),
		end:    int(ts.EndByte()),
	})
}

func (b *builder) attributes(owner NodeID, open *tree_sitter.Node) {
	n := b.t.nodes[owner]
	for _, c := range syntax.Children(open) {
		var a *Attribute
		switch c.Kind() {
		case "jsx_attribute":
			a = b.attribute(owner, c)
		case "jsx_expression":
			a = &Attribute{Value: b.doc.Text(c), ValueKind: ValueSpread}
		default:
			continue
		}
		a.start, a.end = int(c.StartByte()), int(c.EndByte())
		n.Attrs = append(n.Attrs, a)
		n.attrInsert = a.end
	}
}

func (b *builder) attribute(owner NodeID, ts *tree_sitter.Node) *Attribute {
	named := syntax.NamedChildren(ts)
	a := &Attribute{ValueKind: ValueNone}
	if len(named) == 0 {
		return a
	}
	a.Name = b.doc.Text(named[0])
	if len(named) < 2 {
		return a
	}

	v := named[len(named)-1]
	text := b.doc.Text(v)
	switch v.Kind() {
	case "string":
		a.ValueKind = ValueString
		a.Value = text[1 : len(text)-1]
	case "jsx_expression":
		a.ValueKind = ValueExpression
		a.Value = strings.TrimSuffix(strings.TrimPrefix(text, "{"), "}")
		if inner := syntax.NamedChildren(v); len(inner) > 0 {
			a.ExprKind = inner[0].Kind()
		}
		a.expr = b.value(owner, v)
	default:
		a.ValueKind = ValueRaw
		a.Value = text
		a.expr = b.value(owner, v)
	}
	return a
}

// value builds an expression node for an attribute value that holds
// elements, such as icon={<Icon />} or render={() => <div />}. The node
// hangs off owner without being one of its children. It returns 0 when the
// value holds no element.
func (b *builder) value(owner NodeID, ts *tree_sitter.Node) NodeID {
	id := b.t.add(&Node{
		Kind:   KindExpression,
		Parent: None,
		Text:   b.doc.Text(ts),
		start:  int(ts.StartByte()),
		end:    int(ts.EndByte()),
	})
	if isElement(ts.Kind()) {
		b.attach(id, b.element(ts))
	} else {
		b.embedded(id, ts)
	}
	if len(b.t.nodes[id].Children) == 0 {
		return 0
	}
	b.t.nodes[id].Parent = owner
	return id
}
