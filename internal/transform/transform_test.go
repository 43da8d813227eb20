package transform

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"codesync/internal/identity"
	"codesync/internal/markup"
	"codesync/internal/position"

	"github.com/google/go-cmp/cmp"
)

func mustParse(t *testing.T, name, src string) *markup.Tree {
	t.Helper()
	tree, err := markup.Parse(name, src)
	if err != nil || tree == nil {
		t.Fatalf("Parse(%s) = %v, %v", name, tree, err)
	}
	return tree
}

func findTag(t *testing.T, tree *markup.Tree, tag string) markup.NodeID {
	t.Helper()
	for _, id := range tree.Elements() {
		if tree.Node(id).Tag == tag {
			return id
		}
	}
	t.Fatalf("no <%s> in tree", tag)
	return markup.None
}

// target returns the encoded identifier and decoded node of the first <tag>.
func target(t *testing.T, tree *markup.Tree, tag string) (string, identity.TemplateNode) {
	t.Helper()
	node, err := tree.TemplateNode(findTag(t, tree, tag), tree.Path, "")
	if err != nil {
		t.Fatal(err)
	}
	enc, err := identity.Encode(node)
	if err != nil {
		t.Fatal(err)
	}
	return enc, node
}

func request(t *testing.T, tree *markup.Tree, tag string, op Operation, p Payload) Targeted {
	t.Helper()
	enc, node := target(t, tree, tag)
	return Targeted{Request: Request{Target: enc, Op: op, Payload: p}, Node: node}
}

func run(t *testing.T, name, src string, build func(tree *markup.Tree) []Targeted) (string, int, []*RequestError) {
	t.Helper()
	tree := mustParse(t, name, src)
	applied, failed := Apply(tree, build(tree), Options{})
	return markup.Serialize(tree), applied, failed
}

func TestAddClass(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		classes string
		want    string
	}{
		{
			name:    "literal",
			src:     "export default () => <div className=\"a b\">hi</div>;\n",
			classes: "c",
			want:    "export default () => <div className=\"a b c\">hi</div>;\n",
		},
		{
			name:    "duplicate token",
			src:     "export default () => <div className=\"a b\">hi</div>;\n",
			classes: "b",
			want:    "export default () => <div className=\"a b\">hi</div>;\n",
		},
		{
			name:    "absent",
			src:     "export default () => <div id=\"x\">hi</div>;\n",
			classes: "flex",
			want:    "export default () => <div id=\"x\" className=\"flex\">hi</div>;\n",
		},
		{
			name:    "class attribute",
			src:     "export default () => <div class=\"a\" />;\n",
			classes: "b",
			want:    "export default () => <div class=\"a b\" />;\n",
		},
		{
			name:    "string in braces",
			src:     "export default () => <div className={\"a\"} />;\n",
			classes: "b",
			want:    "export default () => <div className=\"a b\" />;\n",
		},
		{
			name:    "call",
			src:     "export default () => <div className={cn(\"a\", open && \"b\")} />;\n",
			classes: "c",
			want:    "export default () => <div className={cn(\"a\", open && \"b\", \"c\")} />;\n",
		},
		{
			name:    "template",
			src:     "export default () => <div className={`a ${b}`} />;\n",
			classes: "c",
			want:    "export default () => <div className={`a ${b} c`} />;\n",
		},
		{
			name:    "member expression",
			src:     "export default () => <div className={styles.box} />;\n",
			classes: "p-2",
			want:    "export default () => <div className={`${styles.box} p-2`} />;\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied, failed := run(t, "c.jsx", tt.src, func(tree *markup.Tree) []Targeted {
				return []Targeted{request(t, tree, "div", OpAddClass, Payload{Classes: tt.classes})}
			})
			if applied != 1 || len(failed) != 0 {
				t.Fatalf("applied=%d failed=%v", applied, failed)
			}
			if got != tt.want {
				t.Errorf("unexpected output:\n%s", cmp.Diff(tt.want, got))
			}
		})
	}
}

func TestAddClassResolvesConflicts(t *testing.T) {
	src := "export default () => <div className=\"p-2\">hi</div>;\n"
	got, _, failed := run(t, "c.jsx", src, func(tree *markup.Tree) []Targeted {
		return []Targeted{request(t, tree, "div", OpAddClass, Payload{Classes: "p-4"})}
	})
	if len(failed) != 0 {
		t.Fatal(failed)
	}
	if !strings.Contains(got, `className="p-4"`) {
		t.Errorf("p-4 should replace p-2, got %s", got)
	}
}

func TestMergeClasses(t *testing.T) {
	tests := []struct {
		existing, added, want string
	}{
		{"a b", "c", "a b c"},
		{"  a   b ", "a", "a b"},
		{"", "flex", "flex"},
		{"p-2", "p-4", "p-4"},
	}
	for _, tt := range tests {
		t.Run(tt.existing+"+"+tt.added, func(t *testing.T) {
			if got := MergeClasses(tt.existing, tt.added); got != tt.want {
				t.Errorf("MergeClasses(%q, %q) = %q, want %q", tt.existing, tt.added, got, tt.want)
			}
		})
	}
}

func TestSetAttributeAndReplaceClasses(t *testing.T) {
	src := `export default () => (
  <section id='a' className="x y">
    <h1 title={cn("t")}>Title</h1>
  </section>
);
`
	got, applied, failed := run(t, "s.jsx", src, func(tree *markup.Tree) []Targeted {
		return []Targeted{
			request(t, tree, "section", OpSetAttribute, Payload{Name: "id", Value: "b"}),
			request(t, tree, "section", OpReplaceClasses, Payload{Classes: " grid  gap-2 "}),
			request(t, tree, "h1", OpSetAttribute, Payload{Name: "title", Value: "u"}),
			request(t, tree, "h1", OpSetAttribute, Payload{Name: "data-new", Value: `say "hi"`}),
		}
	})
	if applied != 4 || len(failed) != 0 {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	want := `export default () => (
  <section id="b" className="grid gap-2">
    <h1 title={cn("t", "u")} data-new={"say \"hi\""}>Title</h1>
  </section>
);
`
	if got != want {
		t.Errorf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

const list = `export default () => (
  <div>
    <section>
      <a />
    </section>
    <b />
    <c />
  </div>
);
`

func TestTwoMovesInOneBatch(t *testing.T) {
	got, applied, failed := run(t, "list.jsx", list, func(tree *markup.Tree) []Targeted {
		section, _ := target(t, tree, "section")
		dest := &Destination{Parent: section, Index: 0}
		// Arrival order is the reverse of source order.
		return []Targeted{
			request(t, tree, "c", OpMoveElement, Payload{Destination: dest}),
			request(t, tree, "b", OpMoveElement, Payload{Destination: dest}),
		}
	})
	if applied != 2 || len(failed) != 0 {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	want := `export default () => (
  <div>
    <section>
      <c />
      <b />
      <a />
    </section>
  </div>
);
`
	if got != want {
		t.Errorf("unexpected output:\n%s", cmp.Diff(want, got))
	}
	for _, tag := range []string{"<a />", "<b />", "<c />"} {
		if n := strings.Count(got, tag); n != 1 {
			t.Errorf("%s appears %d times", tag, n)
		}
	}
}

func TestMoveIndexPastEndAppends(t *testing.T) {
	got, _, failed := run(t, "list.jsx", list, func(tree *markup.Tree) []Targeted {
		div, _ := target(t, tree, "div")
		return []Targeted{request(t, tree, "section", OpMoveElement, Payload{Destination: &Destination{Parent: div, Index: 99}})}
	})
	if len(failed) != 0 {
		t.Fatal(failed)
	}
	want := `export default () => (
  <div>
    <b />
    <c />
    <section>
      <a />
    </section>
  </div>
);
`
	if got != want {
		t.Errorf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

func TestMoveIntoOwnSubtreeConflicts(t *testing.T) {
	got, applied, failed := run(t, "list.jsx", list, func(tree *markup.Tree) []Targeted {
		a, _ := target(t, tree, "a")
		return []Targeted{request(t, tree, "section", OpMoveElement, Payload{Destination: &Destination{Parent: a}})}
	})
	if applied != 0 || len(failed) != 1 || !errors.Is(failed[0], ErrConflict) {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	if got != list {
		t.Errorf("failed move changed the output:\n%s", cmp.Diff(list, got))
	}
}

func TestRemoveThenTargetIsUnlocatable(t *testing.T) {
	got, applied, failed := run(t, "list.jsx", list, func(tree *markup.Tree) []Targeted {
		return []Targeted{
			request(t, tree, "b", OpRemoveElement, Payload{}),
			request(t, tree, "b", OpSetAttribute, Payload{Name: "id", Value: "x"}),
		}
	})
	if applied != 1 || len(failed) != 1 {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	if !errors.Is(failed[0], ErrUnlocatable) {
		t.Errorf("expected ErrUnlocatable, got %v", failed[0])
	}
	if want := strings.Replace(list, "    <b />\n", "", 1); got != want {
		t.Errorf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

func TestInsertElement(t *testing.T) {
	got, _, failed := run(t, "list.jsx", list, func(tree *markup.Tree) []Targeted {
		return []Targeted{request(t, tree, "div", OpInsertElement, Payload{
			Destination: &Destination{Index: 1},
			Element: &markup.ElementSpec{
				Tag:        "p",
				Attributes: []markup.AttrSpec{{Name: "className", Value: "note"}},
				Text:       "new",
			},
		})}
	})
	if len(failed) != 0 {
		t.Fatal(failed)
	}
	want := strings.Replace(list, "    <b />\n", "    <p className=\"note\">new</p>\n    <b />\n", 1)
	if got != want {
		t.Errorf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}

func TestConflicts(t *testing.T) {
	src := `export default ({ open }) => (
  <>
    {open && <p>x</p>}
  </>
);
`
	tests := []struct {
		name string
		tag  string
		op   Operation
		p    Payload
	}{
		{"attribute on fragment", "", OpSetAttribute, Payload{Name: "id", Value: "x"}},
		{"remove from expression", "p", OpRemoveElement, Payload{}},
		{"move without destination", "p", OpMoveElement, Payload{}},
		{"unknown operation", "p", Operation("rename"), Payload{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied, failed := run(t, "f.jsx", src, func(tree *markup.Tree) []Targeted {
				return []Targeted{request(t, tree, tt.tag, tt.op, tt.p)}
			})
			if applied != 0 || len(failed) != 1 || !errors.Is(failed[0], ErrConflict) {
				t.Fatalf("applied=%d failed=%v", applied, failed)
			}
			if got != src {
				t.Errorf("failed request changed the output")
			}
		})
	}
}

func TestCrossFileDestinationConflicts(t *testing.T) {
	other, err := identity.Encode(identity.TemplateNode{
		Path:     "other.jsx",
		StartTag: position.Span{Start: position.Location{Line: 1, Column: 0}, End: position.Location{Line: 1, Column: 5}},
		EndTag:   position.Span{Start: position.Location{Line: 1, Column: 5}, End: position.Location{Line: 1, Column: 5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _, failed := run(t, "list.jsx", list, func(tree *markup.Tree) []Targeted {
		return []Targeted{request(t, tree, "b", OpMoveElement, Payload{Destination: &Destination{Parent: other}})}
	})
	if len(failed) != 1 || !errors.Is(failed[0], ErrConflict) {
		t.Fatalf("failed=%v", failed)
	}
}

func TestStaleCommitIsAdvisory(t *testing.T) {
	var logs bytes.Buffer
	tree := mustParse(t, "list.jsx", list)
	r := request(t, tree, "b", OpSetAttribute, Payload{Name: "id", Value: "x"})
	r.Node.Commit = "000000000000"

	applied, failed := Apply(tree, []Targeted{r}, Options{
		Commit: "111111111111",
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if applied != 1 || len(failed) != 0 {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	if !strings.Contains(logs.String(), "stale identifier") {
		t.Errorf("expected a stale identifier warning, got %q", logs.String())
	}
}

func TestLocate(t *testing.T) {
	src := `export default () => (
  <main>
    <ul>
      <li>one</li>
    </ul>
  </main>
);
`
	tree := mustParse(t, "l.jsx", src)
	li := findTag(t, tree, "li")
	main := findTag(t, tree, "main")

	_, exact := target(t, tree, "li")
	if got, err := Locate(tree, exact); err != nil || got != li {
		t.Errorf("exact lookup = %d, %v; want %d", got, err, li)
	}

	tests := []struct {
		name  string
		shift func(n *identity.TemplateNode)
	}{
		{"same start, other end", func(n *identity.TemplateNode) {
			n.StartTag.Start = tree.Node(main).OpenTag.Start
			n.EndTag.End = position.Location{Line: 99, Column: 0}
		}},
		{"inside another element", func(n *identity.TemplateNode) { n.StartTag.Start.Column++ }},
		{"outside every element", func(n *identity.TemplateNode) {
			n.StartTag.Start = position.Location{Line: 1, Column: 0}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := exact
			tt.shift(&node)
			if got, err := Locate(tree, node); !errors.Is(err, ErrUnlocatable) {
				t.Errorf("Locate = %d, %v; want ErrUnlocatable", got, err)
			}
		})
	}
}

func TestStaleIdentifierDoesNotHitNeighbour(t *testing.T) {
	old := `export default () => (
  <section>
    <p>gone</p>
    <div>keep</div>
  </section>
);
`
	current := strings.Replace(old, "    <p>gone</p>\n", "", 1)
	_, stale := target(t, mustParse(t, "s.jsx", old), "p")

	tree := mustParse(t, "s.jsx", current)
	enc, err := identity.Encode(stale)
	if err != nil {
		t.Fatal(err)
	}
	applied, failed := Apply(tree, []Targeted{{Request: Request{Target: enc, Op: OpRemoveElement}, Node: stale}}, Options{})
	if applied != 0 || len(failed) != 1 || !errors.Is(failed[0], ErrUnlocatable) {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	if got := markup.Serialize(tree); got != current {
		t.Errorf("stale request changed the output:\n%s", cmp.Diff(current, got))
	}
}

func TestElementAt(t *testing.T) {
	src := `export default () => (
  <main>
    <ul>
      <li>one</li>
    </ul>
  </main>
);
`
	tree := mustParse(t, "l.jsx", src)
	tests := []struct {
		loc  position.Location
		want string
	}{
		{position.Location{Line: 4, Column: 10}, "li"},
		{position.Location{Line: 3, Column: 4}, "ul"},
		{position.Location{Line: 6, Column: 3}, "main"},
	}
	for _, tt := range tests {
		got, err := ElementAt(tree, tt.loc)
		if err != nil {
			t.Fatalf("ElementAt(%s): %v", tt.loc, err)
		}
		if tag := tree.Node(got).Tag; tag != tt.want {
			t.Errorf("ElementAt(%s) = <%s>, want <%s>", tt.loc, tag, tt.want)
		}
	}
	if _, err := ElementAt(tree, position.Location{Line: 1, Column: 0}); !errors.Is(err, ErrUnlocatable) {
		t.Errorf("expected ErrUnlocatable, got %v", err)
	}
}

func TestDiffMinimalityOnLargeFile(t *testing.T) {
	var b strings.Builder
	b.WriteString("export default function List() {\n  return (\n    <ul className=\"list\">\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "      <li  key=\"%d\" className='item-%d'>Item   %d</li>\n", i, i, i)
	}
	b.WriteString("    </ul>\n  );\n}\n")
	src := b.String()
	if len(src) < 5000 {
		t.Fatalf("fixture too small: %d", len(src))
	}

	tree := mustParse(t, "big.jsx", src)
	var li markup.NodeID = markup.None
	for _, id := range tree.Elements() {
		if a := tree.Attr(id, "className"); a != nil && a.Value == "item-150" {
			li = id
		}
	}
	node, err := tree.TemplateNode(li, "big.jsx", "")
	if err != nil {
		t.Fatal(err)
	}
	enc, _ := identity.Encode(node)
	applied, failed := Apply(tree, []Targeted{{
		Request: Request{Target: enc, Op: OpAddClass, Payload: Payload{Classes: "font-bold"}},
		Node:    node,
	}}, Options{})
	if applied != 1 || len(failed) != 0 {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}

	want := strings.Replace(src, `className='item-150'`, `className="item-150 font-bold"`, 1)
	if got := markup.Serialize(tree); got != want {
		t.Errorf("edit leaked outside the attribute:\n%s", cmp.Diff(want, got))
	}
}

func TestStampRoundTrip(t *testing.T) {
	tree := mustParse(t, "list.jsx", list)
	n, err := Stamp(tree, "list.jsx", "abc", "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("stamped %d elements, want 5", n)
	}
	for _, id := range tree.Elements() {
		a := tree.Attr(id, identity.MarkerAttribute)
		if a == nil {
			t.Fatalf("<%s> was not stamped", tree.Node(id).Tag)
		}
		node, err := identity.Decode(a.Value)
		if err != nil {
			t.Fatal(err)
		}
		if node.Path != "list.jsx" || node.Commit != "abc" {
			t.Errorf("decoded %+v", node)
		}
		if got, err := Locate(tree, node); err != nil || got != id {
			t.Errorf("identifier of <%s> resolves to %d, %v", tree.Node(id).Tag, got, err)
		}
	}
}

func TestInstrument(t *testing.T) {
	out, n, err := Instrument("list.jsx", list, "data-id")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || strings.Count(out, "data-id=") != 5 {
		t.Errorf("stamped %d elements:\n%s", n, out)
	}
	if _, err := markup.Parse("list.jsx", out); err != nil {
		t.Errorf("instrumented output does not parse: %v", err)
	}

	same, n, err := Instrument("theme.css", "body {}", "")
	if err != nil || n != 0 || same != "body {}" {
		t.Errorf("unsupported file = %q, %d, %v", same, n, err)
	}
}

func TestElementsInsideAttributeValues(t *testing.T) {
	src := "export default () => <Button icon={<Icon name=\"x\" />} render={() => <div>r</div>}>Go</Button>;\n"

	out, n, err := Instrument("b.jsx", src, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || strings.Count(out, identity.MarkerAttribute+"=") != 3 {
		t.Errorf("stamped %d elements:\n%s", n, out)
	}

	tree := mustParse(t, "b.jsx", src)
	for _, tag := range []string{"Button", "Icon", "div"} {
		_, node := target(t, tree, tag)
		if got, err := Locate(tree, node); err != nil || got != findTag(t, tree, tag) {
			t.Errorf("Locate(<%s>) = %d, %v", tag, got, err)
		}
	}

	got, applied, failed := run(t, "b.jsx", src, func(tree *markup.Tree) []Targeted {
		return []Targeted{
			request(t, tree, "Icon", OpSetAttribute, Payload{Name: "name", Value: "y"}),
			request(t, tree, "div", OpAddClass, Payload{Classes: "row"}),
		}
	})
	if applied != 2 || len(failed) != 0 {
		t.Fatalf("applied=%d failed=%v", applied, failed)
	}
	want := "export default () => <Button icon={<Icon name=\"y\" />} render={() => <div className=\"row\">r</div>}>Go</Button>;\n"
	if got != want {
		t.Errorf("unexpected output:\n%s", cmp.Diff(want, got))
	}
}
