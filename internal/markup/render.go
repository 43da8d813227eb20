package markup

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Serialize emits the source text of t. Regions that were not edited are
// copied byte for byte from the parsed content.
func Serialize(t *Tree) string {
	if !t.nodes[t.Root()].touched {
		return t.src
	}
	var b strings.Builder
	b.Grow(len(t.src) + 64)
	t.render(&b, t.Root())
	return b.String()
}

// Render returns the text of a single node as it would be serialized.
func (t *Tree) Render(id NodeID) string {
	var b strings.Builder
	t.render(&b, id)
	return b.String()
}

func (t *Tree) render(b *strings.Builder, id NodeID) {
	n := t.nodes[id]
	if n.synthetic {
		t.renderSynthetic(b, n)
		return
	}
	if !n.touched {
		b.WriteString(t.src[n.start:n.end])
		return
	}

	switch n.Kind {
	case KindDocument, KindExpression:
		// Embedded roots never move, so splice them back in place.
		cursor := n.start
		for _, c := range n.Children {
			cn := t.nodes[c]
			b.WriteString(t.src[cursor:cn.start])
			t.render(b, c)
			cursor = cn.end
		}
		b.WriteString(t.src[cursor:n.end])
	case KindElement, KindFragment:
		expand := n.selfClosing && len(n.Children) > 0
		t.renderOpenTag(b, n, expand)
		for _, c := range n.Children {
			b.WriteString(t.nodes[c].gap)
			t.render(b, c)
		}
		b.WriteString(n.tail)
		if expand {
			b.WriteString("</" + n.Tag + ">")
		} else {
			b.WriteString(t.src[n.closeStart:n.closeEnd])
		}
	default:
		b.WriteString(t.src[n.start:n.end])
	}
}

func (t *Tree) renderOpenTag(b *strings.Builder, n *Node, expand bool) {
	if !n.dirty && !expand && !t.valuesTouched(n) {
		b.WriteString(t.src[n.openStart:n.openEnd])
		return
	}

	cursor := n.openStart
	for _, a := range n.Attrs {
		if a.start < 0 {
			continue
		}
		if a.removed {
			// Drop the whitespace that separated the attribute too.
			ws := a.start
			for ws > cursor && isSpace(t.src[ws-1]) {
				ws--
			}
			b.WriteString(t.src[cursor:ws])
			cursor = a.end
			continue
		}
		b.WriteString(t.src[cursor:a.start])
		if a.dirty {
			writeAttr(b, a)
		} else {
			t.renderParsedAttr(b, a)
		}
		cursor = a.end
	}
	if cursor < n.attrInsert {
		b.WriteString(t.src[cursor:n.attrInsert])
		cursor = n.attrInsert
	}
	for _, a := range n.Attrs {
		if a.start < 0 && !a.removed {
			b.WriteByte(' ')
			writeAttr(b, a)
		}
	}

	rest := t.src[cursor:n.openEnd]
	if expand {
		rest = strings.TrimRight(strings.TrimSuffix(rest, "/>"), " \t\r\n") + ">"
	}
	b.WriteString(rest)
}

// valuesTouched reports whether an element inside one of n's attribute
// values was edited.
func (t *Tree) valuesTouched(n *Node) bool {
	for _, a := range n.Attrs {
		if a.expr > 0 && !a.removed && t.nodes[a.expr].touched {
			return true
		}
	}
	return false
}

func (t *Tree) renderParsedAttr(b *strings.Builder, a *Attribute) {
	if a.expr == 0 || !t.nodes[a.expr].touched {
		b.WriteString(t.src[a.start:a.end])
		return
	}
	v := t.nodes[a.expr]
	b.WriteString(t.src[a.start:v.start])
	t.render(b, a.expr)
	b.WriteString(t.src[v.end:a.end])
}

func (t *Tree) renderSynthetic(b *strings.Builder, n *Node) {
	if n.Kind == KindText {
		writeText(b, n.Text)
		return
	}
	b.WriteString("<" + n.Tag)
	for _, a := range n.Attrs {
		if !a.removed {
			b.WriteByte(' ')
			writeAttr(b, a)
		}
	}
	if len(n.Children) == 0 {
		b.WriteString(" />")
		return
	}
	b.WriteByte('>')
	for _, c := range n.Children {
		b.WriteString(t.nodes[c].gap)
		t.render(b, c)
	}
	b.WriteString("</" + n.Tag + ">")
}

func writeAttr(b *strings.Builder, a *Attribute) {
	if a.ValueKind == ValueSpread {
		b.WriteString(a.Value)
		return
	}
	b.WriteString(a.Name)
	switch a.ValueKind {
	case ValueNone:
	case ValueString:
		if strings.ContainsRune(a.Value, '"') {
			b.WriteString("={" + Quote(a.Value) + "}")
		} else {
			b.WriteString(`="` + a.Value + `"`)
		}
	case ValueExpression:
		b.WriteString("={" + a.Value + "}")
	case ValueRaw:
		b.WriteString("=" + a.Value)
	}
}

func writeText(b *strings.Builder, s string) {
	if strings.ContainsAny(s, "{}<>") {
		b.WriteString("{" + Quote(s) + "}")
		return
	}
	b.WriteString(s)
}

// Quote returns s as a double-quoted JavaScript string literal.
func Quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
