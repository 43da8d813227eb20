package transform

import (
	"fmt"
	"strings"

	"codesync/internal/markup"
)

func element(tree *markup.Tree, id markup.NodeID) error {
	if tree.Node(id).Kind != markup.KindElement {
		return fmt.Errorf("%w: %s carries no attributes", ErrConflict, tree.Node(id).Kind)
	}
	return nil
}

func setAttribute(tree *markup.Tree, id markup.NodeID, name, value string) error {
	if err := element(tree, id); err != nil {
		return err
	}
	// A composed expression keeps its logic and gains the value; anything
	// else is overwritten with a string literal.
	if a := tree.Attr(id, name); a != nil && a.ValueKind == markup.ValueExpression {
		if _, ok := literal(a); !ok {
			if appended, ok := appendExpression(a, value); ok {
				return setExpression(tree, id, name, appended, a.ExprKind)
			}
		}
	}
	return tree.SetAttribute(id, name, value, markup.ValueString)
}

func setExpression(tree *markup.Tree, id markup.NodeID, name, expr, kind string) error {
	if err := tree.SetAttribute(id, name, expr, markup.ValueExpression); err != nil {
		return err
	}
	tree.Attr(id, name).ExprKind = kind
	return nil
}

// literal returns the string held by a plain attribute value, including a
// string literal wrapped in braces.
func literal(a *markup.Attribute) (string, bool) {
	switch a.ValueKind {
	case markup.ValueString:
		return a.Value, true
	case markup.ValueNone:
		return "", true
	case markup.ValueExpression:
		v := strings.TrimSpace(a.Value)
		if a.ExprKind == "string" && len(v) >= 2 {
			return v[1 : len(v)-1], true
		}
		if a.ExprKind == "template_string" && len(v) >= 2 && !strings.Contains(v, "${") {
			return v[1 : len(v)-1], true
		}
	}
	return "", false
}

// appendExpression extends an expression that already composes values:
// a call such as cn(...) gains an argument, a template literal gains a
// trailing word, a concatenation gains an operand.
func appendExpression(a *markup.Attribute, value string) (string, bool) {
	v := strings.TrimSpace(a.Value)
	switch a.ExprKind {
	case "call_expression":
		if !strings.HasSuffix(v, ")") {
			return "", false
		}
		head := strings.TrimRight(v[:len(v)-1], " \t\r\n")
		if strings.HasSuffix(head, ",") {
			head = strings.TrimSuffix(head, ",")
		}
		if strings.HasSuffix(head, "(") {
			return head + markup.Quote(value) + ")", true
		}
		return head + ", " + markup.Quote(value) + ")", true
	case "template_string":
		if !strings.HasSuffix(v, "`") {
			return "", false
		}
		return v[:len(v)-1] + " " + escapeTemplate(value) + "`", true
	case "binary_expression":
		if !strings.Contains(v, "+") {
			return "", false
		}
		return v + " + " + markup.Quote(" "+value), true
	}
	return "", false
}

func escapeTemplate(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "`", "\\`")
	return strings.ReplaceAll(s, "${", "\\${")
}

// classAttribute returns the attribute holding the class list.
func classAttribute(tree *markup.Tree, id markup.NodeID) string {
	if tree.Attr(id, "className") == nil && tree.Attr(id, "class") != nil {
		return "class"
	}
	return "className"
}

func addClasses(tree *markup.Tree, id markup.NodeID, classes string) error {
	if err := element(tree, id); err != nil {
		return err
	}
	name := classAttribute(tree, id)
	a := tree.Attr(id, name)
	if a == nil {
		return tree.SetAttribute(id, name, MergeClasses("", classes), markup.ValueString)
	}
	if existing, ok := literal(a); ok {
		return tree.SetAttribute(id, name, MergeClasses(existing, classes), markup.ValueString)
	}
	if a.ValueKind == markup.ValueExpression {
		if appended, ok := appendExpression(a, classes); ok {
			return setExpression(tree, id, name, appended, a.ExprKind)
		}
		wrapped := "`${" + strings.TrimSpace(a.Value) + "} " + escapeTemplate(classes) + "`"
		return setExpression(tree, id, name, wrapped, "template_string")
	}
	return fmt.Errorf("%w: %s has an unsupported value", ErrConflict, name)
}

func replaceClasses(tree *markup.Tree, id markup.NodeID, classes string) error {
	if err := element(tree, id); err != nil {
		return err
	}
	return tree.SetAttribute(id, classAttribute(tree, id), strings.Join(strings.Fields(classes), " "), markup.ValueString)
}

// detachable reports why id cannot leave its parent, if it cannot.
func detachable(tree *markup.Tree, id markup.NodeID) error {
	n := tree.Node(id)
	if n.Parent == markup.None {
		return fmt.Errorf("%w: element is not attached", ErrUnlocatable)
	}
	if k := tree.Node(n.Parent).Kind; k != markup.KindElement && k != markup.KindFragment {
		return fmt.Errorf("%w: element is embedded in a %s", ErrConflict, k)
	}
	return nil
}

func container(tree *markup.Tree, id markup.NodeID) error {
	if k := tree.Node(id).Kind; k != markup.KindElement && k != markup.KindFragment {
		return fmt.Errorf("%w: cannot hold children in a %s", ErrConflict, k)
	}
	return nil
}

func remove(tree *markup.Tree, id markup.NodeID) error {
	if err := detachable(tree, id); err != nil {
		return err
	}
	return tree.Detach(id)
}

func move(tree *markup.Tree, id, parent markup.NodeID, index int) error {
	if err := detachable(tree, id); err != nil {
		return err
	}
	if err := container(tree, parent); err != nil {
		return err
	}
	if tree.Contains(id, parent) {
		return fmt.Errorf("%w: cannot move an element into itself", ErrConflict)
	}
	if err := tree.Detach(id); err != nil {
		return err
	}
	return tree.InsertChild(parent, tree.ChildIndex(parent, index), id)
}

func insert(tree *markup.Tree, parent markup.NodeID, index int, spec markup.ElementSpec) error {
	if err := container(tree, parent); err != nil {
		return err
	}
	id, err := tree.NewElement(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return tree.InsertChild(parent, tree.ChildIndex(parent, index), id)
}
