package fonts

import (
	"errors"
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"codesync/internal/syntax"
)

// ThemeEntry is one key of the theme's fontFamily object.
type ThemeEntry struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values" yaml:"values"`
}

// themeScope returns the object fontFamily belongs in: theme.extend when
// present, theme otherwise.
func themeScope(doc *syntax.Document) (*tree_sitter.Node, error) {
	matches, err := doc.Query("theme")
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		if keyText(doc, match["key"]) != "theme" {
			continue
		}
		theme := match["object"]
		if extend := objectValue(property(doc, theme, "extend")); extend != nil {
			return extend, nil
		}
		return theme, nil
	}
	return nil, ErrNoTheme
}

func openTheme(file, src string) (*syntax.Document, *tree_sitter.Node, error) {
	if _, ok := syntax.LanguageFor(file); !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupported, file)
	}
	doc, err := syntax.Parse(file, []byte(src))
	if err != nil {
		return nil, nil, err
	}
	scope, err := themeScope(doc)
	if err != nil {
		doc.Close()
		return nil, nil, fmt.Errorf("%s: %w", file, err)
	}
	return doc, scope, nil
}

// ThemeEntries lists the fontFamily entries of a theme config.
func ThemeEntries(file, src string) ([]ThemeEntry, error) {
	doc, scope, err := openTheme(file, src)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	families := objectValue(property(doc, scope, "fontFamily"))
	if families == nil {
		return nil, nil
	}
	var out []ThemeEntry
	for _, c := range members(families) {
		if c.Kind() != "pair" {
			continue
		}
		out = append(out, ThemeEntry{
			Key:    keyText(doc, c.ChildByFieldName("key")),
			Values: stringsOf(doc, value(c)),
		})
	}
	return out, nil
}

// AddThemeEntry makes fontFamily carry entry. An existing key gains the
// values it lacks; keys are never duplicated.
func AddThemeEntry(file, src string, entry ThemeEntry) (string, error) {
	if entry.Key == "" || len(entry.Values) == 0 {
		return "", errors.New("theme entry needs a key and at least one value")
	}
	doc, scope, err := openTheme(file, src)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	var e edits
	families := property(doc, scope, "fontFamily")
	switch {
	case families == nil:
		arr := stringArray(entry.Values)
		insertProperty(&e, doc, scope, "fontFamily", func(indent string) string {
			return "{\n" + indent + "  " + propertyKey(entry.Key) + ": " + arr + ",\n" + indent + "}"
		})
	case objectValue(families) == nil:
		return "", fmt.Errorf("%w: fontFamily is not an object literal", ErrConflict)
	default:
		obj := objectValue(families)
		existing := property(doc, obj, entry.Key)
		if existing == nil {
			arr := stringArray(entry.Values)
			insertProperty(&e, doc, obj, entry.Key, func(string) string { return arr })
			break
		}
		v := value(existing)
		have := stringsOf(doc, v)
		if have == nil && v.Kind() != "array" {
			return "", fmt.Errorf("%w: fontFamily.%s is not a string list", ErrConflict, entry.Key)
		}
		if merged, changed := union(have, entry.Values); changed {
			e.replace(int(v.StartByte()), int(v.EndByte()), stringArray(merged))
		}
	}
	if e.empty() {
		return src, nil
	}
	return e.apply(src), nil
}

// RemoveThemeEntry deletes key from fontFamily. Removing an absent key is a
// no-op.
func RemoveThemeEntry(file, src, key string) (string, error) {
	doc, scope, err := openTheme(file, src)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	pair := property(doc, objectValue(property(doc, scope, "fontFamily")), key)
	if pair == nil {
		return src, nil
	}
	var e edits
	removeItem(&e, src, int(pair.StartByte()), int(pair.EndByte()))
	return e.apply(src), nil
}
