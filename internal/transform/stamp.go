package transform

import (
	"fmt"

	"codesync/internal/identity"
	"codesync/internal/markup"
	"codesync/util"
)

// Stamp sets attr on every parsed element to the encoded identifier of that
// element. Fragments cannot carry attributes and are skipped.
func Stamp(tree *markup.Tree, path, commit, attr string) (int, error) {
	if attr == "" {
		attr = identity.MarkerAttribute
	}
	stamped := 0
	for _, id := range tree.Elements() {
		if tree.Node(id).Kind != markup.KindElement {
			continue
		}
		node, err := tree.TemplateNode(id, path, commit)
		if err != nil {
			return stamped, err
		}
		encoded, err := identity.Encode(node)
		if err != nil {
			return stamped, fmt.Errorf("encode <%s> at %s: %w", tree.Node(id).Tag, node.StartTag.Start, err)
		}
		if err := tree.SetAttribute(id, attr, encoded, markup.ValueString); err != nil {
			return stamped, err
		}
		stamped++
	}
	return stamped, nil
}

// Instrument returns content with every element stamped. The identifiers
// point into content itself, not into the returned text, so the result is
// meant for rendering and is never written back. Files that cannot carry
// markup are returned unchanged.
func Instrument(path, content, attr string) (string, int, error) {
	tree, err := markup.Parse(path, content)
	if err != nil {
		return "", 0, err
	}
	if tree == nil {
		return content, 0, nil
	}
	n, err := Stamp(tree, path, util.ContentRevision(content), attr)
	if err != nil {
		return "", 0, err
	}
	return markup.Serialize(tree), n, nil
}
