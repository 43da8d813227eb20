// Package markup parses component source into an editable arena of JSX
// nodes and serializes it back.
//
// Nodes live in a slice addressed by NodeID; each node stores its parent's
// NodeID and an ordered list of child NodeIDs. Nodes keep the byte ranges
// they were parsed from, so serialization copies every untouched region
// verbatim and only re-emits what was edited.
package markup

import (
	"fmt"

	"codesync/internal/identity"
	"codesync/internal/position"
)

// NodeID addresses a node in a Tree.
type NodeID int

// None is the parent of the root and of detached nodes.
const None NodeID = -1

// Kind is the syntactic kind of a node.
type Kind int

const (
	KindDocument Kind = iota
	KindElement
	KindFragment
	KindText
	KindExpression
)

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindElement:
		return "element"
	case KindFragment:
		return "fragment"
	case KindText:
		return "text"
	case KindExpression:
		return "expression"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ValueKind describes how an attribute value is written.
type ValueKind int

const (
	// ValueNone is a bare attribute such as `disabled`.
	ValueNone ValueKind = iota
	// ValueString is a quoted literal; Value holds the text between quotes.
	ValueString
	// ValueExpression is `{...}`; Value holds the text between the braces.
	ValueExpression
	// ValueRaw is any other value (an element used as a value); Value is verbatim.
	ValueRaw
	// ValueSpread is `{...props}`; Value holds the whole text.
	ValueSpread
)

// Attribute is a single JSX attribute.
type Attribute struct {
	Name      string
	Value     string
	ValueKind ValueKind
	// ExprKind is the grammar kind of the expression inside braces, e.g.
	// "call_expression" or "template_string".
	ExprKind string

	start, end int
	// expr is the expression node holding elements written inside the
	// value, 0 when there are none. The root is never a value.
	expr    NodeID
	dirty   bool
	removed bool
}

// dropValue cuts the elements inside a's value off the tree.
func (t *Tree) dropValue(a *Attribute) {
	if a.expr > 0 {
		t.nodes[a.expr].Parent = None
		a.expr = 0
	}
}

// Node is a single arena entry.
type Node struct {
	Kind     Kind
	Tag      string
	Parent   NodeID
	Children []NodeID
	Attrs    []*Attribute
	// Text holds the source of text and expression nodes.
	Text string

	// OpenTag and CloseTag are the parsed tag spans. CloseTag of a
	// self-closing element is the zero-width span at OpenTag.End.
	OpenTag  position.Span
	CloseTag position.Span

	start, end           int
	openStart, openEnd   int
	closeStart, closeEnd int
	attrInsert           int
	selfClosing          bool
	synthetic            bool

	gap  string
	tail string

	dirty     bool
	reordered bool
	touched   bool
}

// Synthetic reports whether the node was created after parsing.
func (n *Node) Synthetic() bool { return n.synthetic }

// Span returns the parsed span of the whole element.
func (n *Node) Span() position.Span {
	return position.Span{Start: n.OpenTag.Start, End: n.CloseTag.End}
}

// Tree is a parsed file.
type Tree struct {
	Path  string
	src   string
	nodes []*Node
}

// Root returns the document node.
func (t *Tree) Root() NodeID { return 0 }

// Source returns the text the tree was parsed from.
func (t *Tree) Source() string { return t.src }

// Node returns the node addressed by id.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Len returns the number of nodes ever allocated in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) add(n *Node) NodeID {
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// Attached reports whether id is reachable from the root.
func (t *Tree) Attached(id NodeID) bool {
	for id != None {
		if id == t.Root() {
			return true
		}
		id = t.nodes[id].Parent
	}
	return false
}

// Contains reports whether descendant lies in the subtree rooted at ancestor.
func (t *Tree) Contains(ancestor, descendant NodeID) bool {
	for id := descendant; id != None; id = t.nodes[id].Parent {
		if id == ancestor {
			return true
		}
	}
	return false
}

// Walk visits attached nodes depth-first in document order. Elements
// written inside an attribute value are visited before the owner's
// children. Returning false from fn skips the node's descendants.
func (t *Tree) Walk(fn func(id NodeID, n *Node) bool) {
	var visit func(NodeID)
	visit = func(id NodeID) {
		n := t.nodes[id]
		if !fn(id, n) {
			return
		}
		for _, a := range n.Attrs {
			if a.expr > 0 && !a.removed {
				visit(a.expr)
			}
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(t.Root())
}

// Elements returns the attached parsed elements and fragments in document
// order.
func (t *Tree) Elements() []NodeID {
	var out []NodeID
	t.Walk(func(id NodeID, n *Node) bool {
		if (n.Kind == KindElement || n.Kind == KindFragment) && !n.synthetic {
			out = append(out, id)
		}
		return true
	})
	return out
}

// ElementChildren returns the element and fragment children of id.
func (t *Tree) ElementChildren(id NodeID) []NodeID {
	var out []NodeID
	for _, c := range t.nodes[id].Children {
		if k := t.nodes[c].Kind; k == KindElement || k == KindFragment {
			out = append(out, c)
		}
	}
	return out
}

// ChildIndex converts an index over element children of parent into an index
// over all of its children. Indexes past the last element append.
func (t *Tree) ChildIndex(parent NodeID, elementIndex int) int {
	p := t.nodes[parent]
	if elementIndex < 0 {
		elementIndex = 0
	}
	seen := 0
	for i, c := range p.Children {
		if k := t.nodes[c].Kind; k == KindElement || k == KindFragment {
			if seen == elementIndex {
				return i
			}
			seen++
		}
	}
	return len(p.Children)
}

// TemplateNode returns the identity of a parsed element.
func (t *Tree) TemplateNode(id NodeID, path, commit string) (identity.TemplateNode, error) {
	n := t.Node(id)
	if n == nil || n.synthetic || (n.Kind != KindElement && n.Kind != KindFragment) {
		return identity.TemplateNode{}, fmt.Errorf("node %d has no source position", id)
	}
	return identity.TemplateNode{
		Path:     path,
		StartTag: n.OpenTag,
		EndTag:   n.CloseTag,
		Commit:   commit,
	}, nil
}

// touch marks id and its ancestors as needing re-emission.
func (t *Tree) touch(id NodeID) {
	for id != None {
		n := t.nodes[id]
		n.touched = true
		id = n.Parent
	}
}

// Attr returns the live attribute named name on id, or nil.
func (t *Tree) Attr(id NodeID, name string) *Attribute {
	for _, a := range t.nodes[id].Attrs {
		if !a.removed && a.Name == name {
			return a
		}
	}
	return nil
}

// Attributes returns the live attributes of id in source order.
func (t *Tree) Attributes(id NodeID) []*Attribute {
	var out []*Attribute
	for _, a := range t.nodes[id].Attrs {
		if !a.removed {
			out = append(out, a)
		}
	}
	return out
}

// SetAttribute replaces the value of name on id, creating the attribute
// after the existing ones when absent.
func (t *Tree) SetAttribute(id NodeID, name, value string, kind ValueKind) error {
	n := t.nodes[id]
	if n.Kind != KindElement {
		return fmt.Errorf("set attribute %q on %s", name, n.Kind)
	}
	if a := t.Attr(id, name); a != nil {
		if a.Value == value && a.ValueKind == kind {
			return nil
		}
		a.Value, a.ValueKind, a.ExprKind = value, kind, ""
		a.dirty = true
		t.dropValue(a)
	} else {
		n.Attrs = append(n.Attrs, &Attribute{Name: name, Value: value, ValueKind: kind, start: -1, end: -1, dirty: true})
	}
	n.dirty = true
	t.touch(id)
	return nil
}

// RemoveAttribute deletes name from id. It reports whether it was present.
func (t *Tree) RemoveAttribute(id NodeID, name string) bool {
	a := t.Attr(id, name)
	if a == nil {
		return false
	}
	a.removed = true
	t.dropValue(a)
	t.nodes[id].dirty = true
	t.touch(id)
	return true
}

// Detach removes id from its parent's children. Only children of elements
// and fragments can be detached.
func (t *Tree) Detach(id NodeID) error {
	n := t.nodes[id]
	if n.Parent == None {
		return fmt.Errorf("node %d is not attached", id)
	}
	p := t.nodes[n.Parent]
	if p.Kind != KindElement && p.Kind != KindFragment {
		return fmt.Errorf("node %d is embedded in a %s", id, p.Kind)
	}
	for i, c := range p.Children {
		if c == id {
			p.Children = append(p.Children[:i:i], p.Children[i+1:]...)
			break
		}
	}
	p.reordered = true
	t.touch(n.Parent)
	n.Parent = None
	return nil
}

// InsertChild inserts the detached node id into parent at index over all
// children.
func (t *Tree) InsertChild(parent NodeID, index int, id NodeID) error {
	p := t.nodes[parent]
	if p.Kind != KindElement && p.Kind != KindFragment {
		return fmt.Errorf("cannot insert into a %s", p.Kind)
	}
	n := t.nodes[id]
	if n.Parent != None {
		return fmt.Errorf("node %d is still attached", id)
	}
	if t.Contains(id, parent) {
		return fmt.Errorf("node %d cannot be inserted into its own subtree", id)
	}
	if index < 0 || index > len(p.Children) {
		index = len(p.Children)
	}

	n.gap = t.siblingGap(parent, index)
	p.Children = append(p.Children, None)
	copy(p.Children[index+1:], p.Children[index:])
	p.Children[index] = id
	n.Parent = parent
	p.reordered = true
	t.touch(parent)
	return nil
}

// siblingGap picks the whitespace to put before a node inserted at index.
func (t *Tree) siblingGap(parent NodeID, index int) string {
	p := t.nodes[parent]
	var gap string
	switch {
	case index < len(p.Children):
		gap = t.nodes[p.Children[index]].gap
	case len(p.Children) > 0:
		gap = t.nodes[p.Children[len(p.Children)-1]].gap
	}
	for _, r := range gap {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return ""
		}
	}
	return gap
}

// ElementSpec describes an element to synthesize.
type ElementSpec struct {
	Tag        string        `json:"tag"`
	Attributes []AttrSpec    `json:"attributes,omitempty"`
	Text       string        `json:"text,omitempty"`
	Children   []ElementSpec `json:"children,omitempty"`
}

// AttrSpec is a literal attribute of a synthesized element.
type AttrSpec struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewElement allocates a detached element built from spec.
func (t *Tree) NewElement(spec ElementSpec) (NodeID, error) {
	if spec.Tag == "" {
		return None, fmt.Errorf("element spec has no tag")
	}
	n := &Node{Kind: KindElement, Tag: spec.Tag, Parent: None, synthetic: true, start: -1, end: -1}
	for _, a := range spec.Attributes {
		n.Attrs = append(n.Attrs, &Attribute{Name: a.Name, Value: a.Value, ValueKind: ValueString, start: -1, end: -1, dirty: true})
	}
	id := t.add(n)
	if spec.Text != "" {
		text := t.add(&Node{Kind: KindText, Text: spec.Text, Parent: id, synthetic: true, start: -1, end: -1})
		n.Children = append(n.Children, text)
	}
	for _, cs := range spec.Children {
		c, err := t.NewElement(cs)
		if err != nil {
			return None, err
		}
		t.nodes[c].Parent = id
		n.Children = append(n.Children, c)
	}
	return id, nil
}
